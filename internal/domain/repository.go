// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Repository persists exported pass reports. The transaction store itself is never persisted.
type Repository interface {
	// Pass operations
	SavePass(ctx context.Context, report *PassReport) error
	GetPass(ctx context.Context, passID string) (*PassSummary, error)
	ListPasses(ctx context.Context, limit int) ([]*PassSummary, error)

	// Findings of one pass, in export order
	ListFindings(ctx context.Context, passID string) ([]*StoredFinding, error)
	ListFindingsByAddress(ctx context.Context, address string, limit int) ([]*StoredFinding, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// FindingFamily separates the two detector suites.
type FindingFamily string

const (
	FamilyAnomaly FindingFamily = "anomaly"
	FamilyPattern FindingFamily = "pattern"
)

// StoredFinding is the flattened, persisted form of one finding.
type StoredFinding struct {
	PassID     string          `json:"passId"`
	Position   int             `json:"position"`
	Family     FindingFamily   `json:"family"`
	Kind       string          `json:"kind"`
	Address    string          `json:"address"`
	Severity   string          `json:"severity,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	TxHashes   []string        `json:"txHashes"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
