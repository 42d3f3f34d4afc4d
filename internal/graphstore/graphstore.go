// Package graphstore provides the SQL-backed durable transaction graph.
package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.GraphStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new graph store based on configuration.
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateBusiness registers a business node. Re-registering an existing id
// is a no-op.
func (s *SQLStore) CreateBusiness(ctx context.Context, b domain.Business) error {
	if b.ID == "" {
		return fmt.Errorf("%w: business id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO businesses (id, name, industry)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query), b.ID, b.Name, b.Industry)
	return err
}

// CreateEdge records one transaction, creating endpoint businesses as
// needed so edges never dangle.
func (s *SQLStore) CreateEdge(ctx context.Context, tx domain.Transaction) error {
	if tx.From == "" || tx.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrInvalidInput)
	}

	if err := s.CreateBusiness(ctx, domain.Business{ID: tx.From}); err != nil {
		return err
	}
	if err := s.CreateBusiness(ctx, domain.Business{ID: tx.To}); err != nil {
		return err
	}

	query := `
		INSERT INTO edges (id, from_business_id, to_business_id, amount, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		uuid.New().String(), tx.From, tx.To, tx.Amount, tx.Timestamp.UTC(),
	)
	return err
}

// GetAllNodes returns every business currently in the graph.
func (s *SQLStore) GetAllNodes(ctx context.Context) ([]domain.GraphNode, error) {
	query := `SELECT id, name, industry FROM businesses ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	var nodes []domain.GraphNode
	for rows.Next() {
		var node domain.GraphNode
		if err := rows.Scan(&node.ID, &node.Label, &node.Industry); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// GetAllEdges returns the aggregated edge set, one row per ordered pair.
func (s *SQLStore) GetAllEdges(ctx context.Context) ([]domain.GraphEdge, error) {
	query := `
		SELECT from_business_id, to_business_id, COUNT(*), SUM(amount)
		FROM edges
		GROUP BY from_business_id, to_business_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.GraphEdge
	for rows.Next() {
		var edge domain.GraphEdge
		if err := rows.Scan(&edge.Source, &edge.Target, &edge.TransactionCount, &edge.TransactionAmount); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// FindFilteredEdges returns individual transactions matching the filter.
// Any subset of filter fields may be zero.
func (s *SQLStore) FindFilteredEdges(ctx context.Context, filter domain.EdgeFilter) ([]domain.Transaction, error) {
	var conditions []string
	var args []any

	if filter.From != "" {
		conditions = append(conditions, "from_business_id = ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "to_business_id = ?")
		args = append(args, filter.To)
	}
	if filter.Start != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.End.UTC())
	}
	if filter.MinAmount != nil {
		conditions = append(conditions, "amount >= ?")
		args = append(args, *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		conditions = append(conditions, "amount <= ?")
		args = append(args, *filter.MaxAmount)
	}

	query := `SELECT from_business_id, to_business_id, amount, timestamp FROM edges`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filtered edges: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var ts time.Time
		if err := rows.Scan(&tx.From, &tx.To, &tx.Amount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Timestamp = ts.UTC()
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
