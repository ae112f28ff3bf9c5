package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func testReport(id string, started time.Time) *domain.PassReport {
	whale := &domain.TransactionRecord{Hash: "0xaa", From: "0xwhale", To: domain.UniswapV2Router, Value: 2500, Timestamp: started, Seq: 1}
	small := &domain.TransactionRecord{Hash: "0xbb", From: "0xa", To: "0xsanctioned", Value: 1, Timestamp: started, Seq: 2}
	return &domain.PassReport{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(40 * time.Millisecond),
		StoreSize:  2,
		Anomalies: []domain.Anomaly{
			domain.LargeTransaction{
				Evidence: domain.Evidence{Address: "0xwhale", Severity: domain.SeverityStrong, Records: []*domain.TransactionRecord{whale}},
				Value:    2500,
			},
			domain.BlacklistedAddress{
				Evidence: domain.Evidence{Address: "0xsanctioned", Severity: domain.SeverityStrong, Records: []*domain.TransactionRecord{small}},
				Matched:  []string{"0xsanctioned"},
			},
		},
		Patterns: []domain.BusinessPattern{
			domain.DexTrading{
				Support:  domain.Support{Address: "0xwhale", Confidence: 1, Records: []*domain.TransactionRecord{whale}},
				Contract: domain.UniswapV2Router,
			},
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "heron-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	t0 := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetPass", func(t *testing.T) {
		if err := repo.SavePass(ctx, testReport("pass-001", t0)); err != nil {
			t.Fatalf("SavePass failed: %v", err)
		}

		got, err := repo.GetPass(ctx, "pass-001")
		if err != nil {
			t.Fatalf("GetPass failed: %v", err)
		}
		if got.ID != "pass-001" || got.Anomalies != 2 || got.Patterns != 1 {
			t.Errorf("unexpected summary %+v", got)
		}
		if got.BySeverity["strong"] != 2 || got.ByKind[string(domain.KindDexTrading)] != 1 {
			t.Errorf("unexpected aggregates %v / %v", got.ByKind, got.BySeverity)
		}
		if got.DurationMs != 40 {
			t.Errorf("expected duration 40ms, got %d", got.DurationMs)
		}
	})

	t.Run("DuplicatePass", func(t *testing.T) {
		if err := repo.SavePass(ctx, testReport("pass-001", t0)); err == nil {
			t.Error("expected error saving the same pass twice")
		}
		findings, err := repo.ListFindings(ctx, "pass-001")
		if err != nil {
			t.Fatalf("ListFindings failed: %v", err)
		}
		if len(findings) != 3 {
			t.Errorf("failed save must not add findings, got %d", len(findings))
		}
	})

	t.Run("ListFindings", func(t *testing.T) {
		findings, err := repo.ListFindings(ctx, "pass-001")
		if err != nil {
			t.Fatalf("ListFindings failed: %v", err)
		}
		if len(findings) != 3 {
			t.Fatalf("expected 3 findings, got %d", len(findings))
		}

		wantKinds := []string{"LargeTransaction", "BlacklistedAddress", "DexTrading"}
		for i, f := range findings {
			if f.Position != i || f.Kind != wantKinds[i] {
				t.Errorf("finding %d: got position %d kind %s", i, f.Position, f.Kind)
			}
		}
		if findings[0].Family != domain.FamilyAnomaly || findings[0].Severity != "strong" {
			t.Errorf("unexpected anomaly row %+v", findings[0])
		}
		if findings[2].Family != domain.FamilyPattern || findings[2].Confidence != 1 {
			t.Errorf("unexpected pattern row %+v", findings[2])
		}
		if len(findings[1].TxHashes) != 1 || findings[1].TxHashes[0] != "0xbb" {
			t.Errorf("unexpected tx hashes %v", findings[1].TxHashes)
		}

		var payload struct {
			Kind    string `json:"kind"`
			Payload struct {
				Matched []string `json:"matched"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(findings[1].Payload, &payload); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if payload.Kind != "BlacklistedAddress" || len(payload.Payload.Matched) != 1 {
			t.Errorf("unexpected payload %s", findings[1].Payload)
		}
	})

	t.Run("ListFindingsByAddress", func(t *testing.T) {
		if err := repo.SavePass(ctx, testReport("pass-002", t0.Add(time.Hour))); err != nil {
			t.Fatalf("SavePass failed: %v", err)
		}

		findings, err := repo.ListFindingsByAddress(ctx, "0xWHALE", 10)
		if err != nil {
			t.Fatalf("ListFindingsByAddress failed: %v", err)
		}
		if len(findings) != 4 {
			t.Fatalf("expected 4 findings across two passes, got %d", len(findings))
		}
		if findings[0].PassID != "pass-002" {
			t.Errorf("expected newest pass first, got %s", findings[0].PassID)
		}

		limited, err := repo.ListFindingsByAddress(ctx, "0xwhale", 1)
		if err != nil {
			t.Fatalf("ListFindingsByAddress failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("ListPasses", func(t *testing.T) {
		passes, err := repo.ListPasses(ctx, 0)
		if err != nil {
			t.Fatalf("ListPasses failed: %v", err)
		}
		if len(passes) != 2 {
			t.Fatalf("expected 2 passes, got %d", len(passes))
		}
		if passes[0].ID != "pass-002" || passes[1].ID != "pass-001" {
			t.Errorf("expected newest first, got %s, %s", passes[0].ID, passes[1].ID)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SavePass(ctx, &domain.PassReport{}); err == nil {
			t.Error("expected error for a pass without id")
		}
		if _, err := repo.ListFindingsByAddress(ctx, " ", 10); err == nil {
			t.Error("expected error for an empty address")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetPass(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		findings, err := repo.ListFindings(ctx, "nonexistent")
		if err != nil || len(findings) != 0 {
			t.Errorf("expected no findings, got %d (%v)", len(findings), err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT summary FROM passes WHERE id = ?", "SELECT summary FROM passes WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
}

func TestPoolSettings(t *testing.T) {
	tests := []struct {
		name     string
		cfg      domain.RepositoryConfig
		open     int
		idle     int
		lifetime time.Duration
	}{
		{"SQLiteDefaults", domain.RepositoryConfig{Driver: "sqlite"}, 1, 1, 0},
		{"PostgresDefaults", domain.RepositoryConfig{Driver: "postgres"}, 10, 5, 30 * time.Minute},
		{"Configured", domain.RepositoryConfig{Driver: "postgres", MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute}, 4, 2, time.Minute},
		{"IdleCappedByOpen", domain.RepositoryConfig{Driver: "postgres", MaxOpenConns: 3, MaxIdleConns: 8}, 3, 3, 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := poolSettings(tt.cfg)
			if got.MaxOpenConns != tt.open || got.MaxIdleConns != tt.idle || got.ConnMaxLifetime != tt.lifetime {
				t.Errorf("poolSettings = open %d idle %d lifetime %s", got.MaxOpenConns, got.MaxIdleConns, got.ConnMaxLifetime)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "heron", PostgresPassword: "secret"})
	for _, part := range []string{"host=localhost", "port=5432", "dbname=heron", "sslmode=disable", "application_name=heron"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q lacks %s", dsn, part)
		}
	}

	dsn = postgresDSN(domain.RepositoryConfig{PostgresHost: "db", PostgresPort: 6432, PostgresDB: "chain", PostgresSSLMode: "require"})
	for _, part := range []string{"host=db", "port=6432", "dbname=chain", "sslmode=require"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q lacks %s", dsn, part)
		}
	}
}
