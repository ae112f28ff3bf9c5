// Package repository persists exported pass reports in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const defaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
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

	pool := poolSettings(cfg)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// poolSettings fills unset pool limits with per-driver defaults. SQLite gets a
// single connection: every pass is saved in one write transaction and WAL
// readers gain nothing from more. Postgres is sized for the API readers plus
// the exporter.
func poolSettings(cfg domain.RepositoryConfig) domain.RepositoryConfig {
	pool := domain.RepositoryConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	open, idle, lifetime := 10, 5, 30*time.Minute
	if cfg.Driver == "sqlite" {
		open, idle, lifetime = 1, 1, 0
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = open
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = idle
	}
	pool.MaxIdleConns = min(pool.MaxIdleConns, pool.MaxOpenConns)
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = lifetime
	}
	return pool
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePass stores the pass summary and all its findings in one transaction.
func (r *SQLRepository) SavePass(ctx context.Context, report *domain.PassReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: pass id is required", ErrInvalidInput)
	}

	summary, err := json.Marshal(report.Summary())
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	findings, err := report.StoredFindings()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO passes (
			id, started_at, finished_at, store_size, anomalies, patterns, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		report.ID, report.StartedAt, report.FinishedAt, report.StoreSize,
		len(report.Anomalies), len(report.Patterns), string(summary),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pass %s: %w", report.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO findings (
			pass_id, position, family, kind, address, severity,
			confidence, tx_hashes, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range findings {
		hashes, _ := json.Marshal(f.TxHashes)
		if _, err := stmt.ExecContext(ctx,
			f.PassID, f.Position, string(f.Family), f.Kind, f.Address, f.Severity,
			f.Confidence, string(hashes), string(f.Payload), f.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert finding %d: %w", f.Position, err)
		}
	}

	return tx.Commit()
}

// GetPass retrieves a pass summary by ID.
func (r *SQLRepository) GetPass(ctx context.Context, passID string) (*domain.PassSummary, error) {
	var summary string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT summary FROM passes WHERE id = ?`), passID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSummary(summary)
}

// ListPasses returns the most recent passes first.
func (r *SQLRepository) ListPasses(ctx context.Context, limit int) ([]*domain.PassSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT summary FROM passes
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []*domain.PassSummary
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, err
		}
		s, err := decodeSummary(summary)
		if err != nil {
			return nil, err
		}
		passes = append(passes, s)
	}
	return passes, rows.Err()
}

// ListFindings returns the findings of one pass in report order.
func (r *SQLRepository) ListFindings(ctx context.Context, passID string) ([]*domain.StoredFinding, error) {
	if passID == "" {
		return nil, fmt.Errorf("%w: pass id is required", ErrInvalidInput)
	}
	return r.queryFindings(ctx, `
		SELECT pass_id, position, family, kind, address, severity,
			   confidence, tx_hashes, payload, created_at
		FROM findings
		WHERE pass_id = ?
		ORDER BY position
	`, passID)
}

// ListFindingsByAddress returns the newest findings whose subject is address.
func (r *SQLRepository) ListFindingsByAddress(ctx context.Context, address string, limit int) ([]*domain.StoredFinding, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return r.queryFindings(ctx, `
		SELECT pass_id, position, family, kind, address, severity,
			   confidence, tx_hashes, payload, created_at
		FROM findings
		WHERE address = ?
		ORDER BY created_at DESC, position
		LIMIT ?
	`, address, limit)
}

func (r *SQLRepository) queryFindings(ctx context.Context, query string, args ...any) ([]*domain.StoredFinding, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []*domain.StoredFinding
	for rows.Next() {
		var (
			f       domain.StoredFinding
			family  string
			hashes  string
			payload string
		)
		if err := rows.Scan(
			&f.PassID, &f.Position, &family, &f.Kind, &f.Address, &f.Severity,
			&f.Confidence, &hashes, &payload, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		f.Family = domain.FindingFamily(family)
		f.Payload = []byte(payload)
		if err := json.Unmarshal([]byte(hashes), &f.TxHashes); err != nil {
			return nil, fmt.Errorf("failed to parse tx hashes of %s/%d: %w", f.PassID, f.Position, err)
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

func decodeSummary(raw string) (*domain.PassSummary, error) {
	var s domain.PassSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to parse pass summary: %w", err)
	}
	return &s, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
