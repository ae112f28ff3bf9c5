package repository

// Schema definitions for the Heron report database.
// Compatible with both SQLite and PostgreSQL.

const schemaPasses = `
CREATE TABLE IF NOT EXISTS passes (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    store_size INTEGER NOT NULL,
    anomalies INTEGER NOT NULL,
    patterns INTEGER NOT NULL,
    summary TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at);
`

// schemaFindings holds one row per finding. position keeps the report order.
const schemaFindings = `
CREATE TABLE IF NOT EXISTS findings (
    pass_id TEXT NOT NULL REFERENCES passes(id),
    position INTEGER NOT NULL,
    family TEXT NOT NULL,
    kind TEXT NOT NULL,
    address TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    tx_hashes TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (pass_id, position)
);

CREATE INDEX IF NOT EXISTS idx_findings_address ON findings(address);
CREATE INDEX IF NOT EXISTS idx_findings_kind ON findings(pass_id, kind);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPasses,
		schemaFindings,
	}
}
