package domain

import (
	"context"
	"time"
)

// GraphStore is the durable transaction graph consumed by the analytics
// engine. The engine only reads it, except for CreateEdge on ingest.
type GraphStore interface {
	// GetAllNodes returns every business currently in the graph.
	GetAllNodes(ctx context.Context) ([]GraphNode, error)

	// GetAllEdges returns the aggregated edge set, one entry per ordered
	// (source, target) pair.
	GetAllEdges(ctx context.Context) ([]GraphEdge, error)

	// FindFilteredEdges returns individual transactions matching the filter.
	// Any subset of filter fields may be zero.
	FindFilteredEdges(ctx context.Context, filter EdgeFilter) ([]Transaction, error)

	// CreateEdge records a transaction, creating endpoint businesses as
	// needed.
	CreateEdge(ctx context.Context, tx Transaction) error

	// CreateBusiness registers a business node.
	CreateBusiness(ctx context.Context, b Business) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// EdgeFilter narrows FindFilteredEdges results. Zero-valued fields are
// ignored; nil pointers mean unbounded.
type EdgeFilter struct {
	From      string
	To        string
	Start     *time.Time
	End       *time.Time
	MinAmount *float64
	MaxAmount *float64
}

// AlertLog is the append-only alert persistence collaborator.
type AlertLog interface {
	// InsertAlert appends an alert and returns the assigned row id.
	InsertAlert(ctx context.Context, alert Alert) (int64, error)

	// FindRecentAlerts returns up to limit alerts, most-recent-id-first.
	FindRecentAlerts(ctx context.Context, limit int) ([]Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for SQL-backed store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
