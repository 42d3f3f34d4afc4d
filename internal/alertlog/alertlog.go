// Package alertlog provides append-only SQL persistence for rule alerts.
package alertlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// Alert row ids are assigned by the database; FindRecentAlerts orders by id
// descending so the most recently inserted alert comes first.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    from_business_id TEXT NOT NULL,
    to_business_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS alerts (
    id BIGSERIAL PRIMARY KEY,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    from_business_id TEXT NOT NULL,
    to_business_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`

// SQLLog implements domain.AlertLog using database/sql.
type SQLLog struct {
	db     *sql.DB
	driver string
}

// New creates a new alert log based on configuration.
func New(cfg domain.StoreConfig) (*SQLLog, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg.SQLitePath)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log := &SQLLog{db: db, driver: cfg.Driver}

	schema := schemaSQLite
	if cfg.Driver == "postgres" {
		schema = schemaPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return log, nil
}

// InsertAlert appends one alert and returns the assigned row id.
func (l *SQLLog) InsertAlert(ctx context.Context, alert domain.Alert) (int64, error) {
	const columns = `(type, severity, from_business_id, to_business_id, amount, timestamp)`

	if l.driver == "postgres" {
		query := `INSERT INTO alerts ` + columns + ` VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
		var id int64
		err := l.db.QueryRowContext(ctx, query,
			string(alert.Type), string(alert.Severity),
			alert.From, alert.To, alert.Amount, alert.Timestamp.UTC(),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert alert: %w", err)
		}
		return id, nil
	}

	query := `INSERT INTO alerts ` + columns + ` VALUES (?, ?, ?, ?, ?, ?)`
	res, err := l.db.ExecContext(ctx, query,
		string(alert.Type), string(alert.Severity),
		alert.From, alert.To, alert.Amount, alert.Timestamp.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// FindRecentAlerts returns up to limit alerts, most-recent-id-first.
func (l *SQLLog) FindRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, type, severity, from_business_id, to_business_id, amount, timestamp
		FROM alerts
		ORDER BY id DESC
		LIMIT ?
	`
	if l.driver == "postgres" {
		query = `
		SELECT id, type, severity, from_business_id, to_business_id, amount, timestamp
		FROM alerts
		ORDER BY id DESC
		LIMIT $1
	`
	}

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var alertType, severity string
		var ts time.Time
		if err := rows.Scan(&a.ID, &alertType, &severity, &a.From, &a.To, &a.Amount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Type = domain.AlertType(alertType)
		a.Severity = domain.Severity(severity)
		a.Timestamp = ts.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (l *SQLLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *SQLLog) Close() error {
	return l.db.Close()
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "./kestrel.db"
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func openPostgres(cfg domain.StoreConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}
