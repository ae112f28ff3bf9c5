package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heron.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Detection.Anomaly.LargeValue.Hard != 1000 {
			t.Errorf("expected default large value, got %v", cfg.Detection.Anomaly.LargeValue)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
chain:
  name: sepolia
  lookback: 200
detection:
  pass_interval: 30s
  anomaly:
    frequency:
      window: 10m
      count: 20
      strong_count: 80
    unusual_time:
      location: UTC
      ranges:
        - name: weekend-night
          days: [0, 6]
          start_hour: 22
          end_hour: 4
          severity: strong
contracts:
  dex:
    - "0xAbC0000000000000000000000000000000000001"
blacklist:
  addresses: ["0xDEAD"]
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cfg.Chain.Name != "sepolia" || cfg.Chain.Lookback != 200 {
			t.Errorf("unexpected chain %+v", cfg.Chain)
		}
		if cfg.Chain.RPCURL != "http://localhost:8545" {
			t.Errorf("unset keys must keep defaults, got %q", cfg.Chain.RPCURL)
		}
		if cfg.Detection.PassInterval != 30*time.Second {
			t.Errorf("expected 30s pass interval, got %v", cfg.Detection.PassInterval)
		}
		freq := cfg.Detection.Anomaly.Frequency
		if freq.Window != 10*time.Minute || freq.Count != 20 || freq.StrongCount != 80 {
			t.Errorf("unexpected frequency %+v", freq)
		}

		ranges := cfg.Detection.Anomaly.UnusualTime.Ranges
		if len(ranges) != 1 || ranges[0].Severity != domain.SeverityStrong || ranges[0].Days[1] != time.Saturday {
			t.Errorf("unexpected ranges %+v", ranges)
		}
		if !cfg.Contracts.DEX.Contains("0xabc0000000000000000000000000000000000001") || len(cfg.Contracts.DEX) != 1 {
			t.Errorf("expected normalized DEX set, got %v", cfg.Contracts.DEX.Sorted())
		}
		if !cfg.Blacklist.Addresses.Contains("0xdead") {
			t.Errorf("expected blacklist member, got %v", cfg.Blacklist.Addresses.Sorted())
		}
	})

	t.Run("EnvSubstitution", func(t *testing.T) {
		t.Setenv("TEST_HERON_REDIS", "redis.internal:6379")
		path := writeConfig(t, `
cache:
  type: redis
  redis_addr: ${TEST_HERON_REDIS}
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Cache.RedisAddr != "redis.internal:6379" {
			t.Errorf("expected expanded address, got %q", cfg.Cache.RedisAddr)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv(EnvDebug, "true")
		t.Setenv(EnvRPCURL, "https://rpc.example.org")
		t.Setenv(EnvLogFormat, "TEXT")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
			t.Errorf("unexpected logging %+v", cfg.Logging)
		}
		if cfg.Chain.RPCURL != "https://rpc.example.org" {
			t.Errorf("unexpected rpc url %q", cfg.Chain.RPCURL)
		}
	})

	t.Run("InvalidDebugFlag", func(t *testing.T) {
		t.Setenv(EnvDebug, "maybe")
		if _, err := Load(""); err == nil {
			t.Error("expected error for invalid debug flag")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for a missing file")
		}
	})

	t.Run("BrokenYAML", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "chain: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		param  string
	}{
		{"Port", func(c *domain.Config) { c.Server.Port = 0 }, "server.port"},
		{"RPCURL", func(c *domain.Config) { c.Chain.RPCURL = "" }, "chain.rpc_url"},
		{"LogFormat", func(c *domain.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"Driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository.driver"},
		{"Bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }, "event_bus.type"},
		{"KafkaTopic", func(c *domain.Config) {
			c.Export.Kafka.Brokers = []string{"localhost:9092"}
			c.Export.Kafka.Topic = ""
		}, "export.kafka.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Param != tt.param {
				t.Errorf("expected param %s, got %s", tt.param, cfgErr.Param)
			}
		})
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}
