package graphstore

// Schema definitions for the transaction graph.
// Compatible with both SQLite and PostgreSQL.

const schemaBusinesses = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    industry TEXT NOT NULL DEFAULT ''
);
`

const schemaEdges = `
CREATE TABLE IF NOT EXISTS edges (
    id TEXT PRIMARY KEY,
    from_business_id TEXT NOT NULL,
    to_business_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_edges_pair ON edges(from_business_id, to_business_id);
CREATE INDEX IF NOT EXISTS idx_edges_pair_ts ON edges(from_business_id, to_business_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_edges_timestamp ON edges(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBusinesses,
		schemaEdges,
	}
}
