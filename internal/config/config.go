// Package config loads the Heron configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v2"
)

// Environment overrides applied after the file is read.
const (
	EnvDebug     = "HERON_DEBUG"
	EnvRPCURL    = "HERON_RPC_URL"
	EnvLogFormat = "HERON_LOG_FORMAT"
)

// Load reads path on top of domain.DefaultConfig. ${VAR} references in the
// file are expanded from the environment. An empty path yields the defaults.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		if debug {
			cfg.Logging.Level = "debug"
		}
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	return nil
}

// Validate checks the infrastructure settings. Detector thresholds are
// validated by the suites themselves.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Enabled && (cfg.Server.Port <= 0 || cfg.Server.Port > 65535) {
		errs = append(errs, domain.Misconfigured("server.port", "must be in 1..65535, got %d", cfg.Server.Port))
	}
	if cfg.Chain.RPCURL == "" {
		errs = append(errs, domain.Misconfigured("chain.rpc_url", "is required"))
	}
	if cfg.Chain.Concurrency < 0 {
		errs = append(errs, domain.Misconfigured("chain.concurrency", "must not be negative"))
	}
	if cfg.Detection.PassInterval < 0 {
		errs = append(errs, domain.Misconfigured("detection.pass_interval", "must not be negative"))
	}

	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, domain.Misconfigured("logging.format", "must be json or text, got %q", cfg.Logging.Format))
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, domain.Misconfigured("logging.level", "unknown level %q", cfg.Logging.Level))
	}
	switch cfg.Repository.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, domain.Misconfigured("repository.driver", "must be sqlite or postgres, got %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis":
	default:
		errs = append(errs, domain.Misconfigured("cache.type", "must be memory or redis, got %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		errs = append(errs, domain.Misconfigured("event_bus.type", "must be channel or nats, got %q", cfg.EventBus.Type))
	}
	if len(cfg.Export.Kafka.Brokers) > 0 && cfg.Export.Kafka.Topic == "" {
		errs = append(errs, domain.Misconfigured("export.kafka.topic", "is required when brokers are set"))
	}

	return errors.Join(errs...)
}
