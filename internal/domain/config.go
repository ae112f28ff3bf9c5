package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chain     ChainConfig     `yaml:"chain"`
	Detection DetectionConfig `yaml:"detection"`
	Contracts ContractsConfig `yaml:"contracts"`
	Blacklist BlacklistConfig `yaml:"blacklist"`

	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Export     ExportConfig     `yaml:"export"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ChainConfig controls the scan driver.
type ChainConfig struct {
	Name           string        `yaml:"name"`
	RPCURL         string        `yaml:"rpc_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StartBlock and EndBlock bound a fixed scan. Zero EndBlock with Follow set tracks the head.
	StartBlock uint64 `yaml:"start_block"`
	EndBlock   uint64 `yaml:"end_block"`
	// Lookback scans the last N blocks when StartBlock is zero.
	Lookback      uint64        `yaml:"lookback"`
	Follow        bool          `yaml:"follow"`
	Confirmations uint64        `yaml:"confirmations"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Concurrency   int           `yaml:"concurrency"`

	// CheckpointEvery publishes a checkpoint after this many scanned blocks.
	CheckpointEvery uint64 `yaml:"checkpoint_every"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig is the backoff policy for provider calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

// Band is a soft/hard threshold pair.
type Band struct {
	Soft float64 `yaml:"soft"`
	Hard float64 `yaml:"hard"`
}

// DetectionConfig holds the thresholds of both detector suites.
type DetectionConfig struct {
	Anomaly AnomalyConfig `yaml:"anomaly"`
	Pattern PatternConfig `yaml:"pattern"`

	// PassInterval schedules periodic passes; zero means checkpoint-driven only.
	PassInterval time.Duration `yaml:"pass_interval"`
	// Workers bounds how many detectors run at once inside a suite.
	Workers int `yaml:"workers"`
}

// AnomalyConfig holds anomaly detector thresholds.
type AnomalyConfig struct {
	LargeValue  Band              `yaml:"large_value"`
	Fee         FeeConfig         `yaml:"fee"`
	Frequency   FrequencyConfig   `yaml:"frequency"`
	Burst       BurstConfig       `yaml:"burst"`
	Structuring StructuringConfig `yaml:"structuring"`
	Operation   OperationConfig   `yaml:"operation"`
	UnusualTime UnusualTimeConfig `yaml:"unusual_time"`
}

// FeeConfig bounds fees in ether and as a fraction of value.
type FeeConfig struct {
	Absolute Band `yaml:"absolute"`
	Relative Band `yaml:"relative"`
}

// FrequencyConfig flags more than Count records per Window.
type FrequencyConfig struct {
	Window      time.Duration `yaml:"window"`
	Count       int           `yaml:"count"`
	StrongCount int           `yaml:"strong_count"`
}

// BurstConfig flags Count or more records per Interval.
type BurstConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Count       int           `yaml:"count"`
	StrongCount int           `yaml:"strong_count"`
}

// StructuringConfig sets the running-sum window. SumThreshold marks the strong grade.
type StructuringConfig struct {
	Window       time.Duration `yaml:"window"`
	SumThreshold float64       `yaml:"sum_threshold"`
}

// OperationConfig holds the method allow-list. Selectors are lower-case hex.
type OperationConfig struct {
	Allowed    AddressSet `yaml:"allowed"`
	MinHistory int        `yaml:"min_history"`
}

// UnusualTimeConfig describes unusual time ranges, evaluated in Location.
type UnusualTimeConfig struct {
	Location string      `yaml:"location"`
	Ranges   []TimeRange `yaml:"ranges"`
	// Expression is an optional CEL predicate over the record; when set it replaces Ranges.
	Expression string   `yaml:"expression"`
	Severity   Severity `yaml:"severity"`
}

// TimeRange covers [StartHour, EndHour) on the listed weekdays. EndHour below StartHour wraps past midnight.
type TimeRange struct {
	Name      string         `yaml:"name"`
	Days      []time.Weekday `yaml:"days"`
	StartHour int            `yaml:"start_hour"`
	EndHour   int            `yaml:"end_hour"`
	Severity  Severity       `yaml:"severity"`
}

// PatternConfig holds business pattern thresholds.
type PatternConfig struct {
	RegularPayment RegularPaymentConfig `yaml:"regular_payment"`
	BatchPayment   BatchPaymentConfig   `yaml:"batch_payment"`
	Whale          WhaleConfig          `yaml:"whale"`
	ActiveTrader   ActiveTraderConfig   `yaml:"active_trader"`
	Arbitrage      ArbitrageConfig      `yaml:"arbitrage"`
}

// RegularPaymentConfig bounds value and interval deviation in percent.
type RegularPaymentConfig struct {
	Tolerance      float64 `yaml:"tolerance"`
	MinOccurrences int     `yaml:"min_occurrences"`
}

// BatchPaymentConfig flags MinReceivers distinct receivers inside Window.
type BatchPaymentConfig struct {
	Window       time.Duration `yaml:"window"`
	MinReceivers int           `yaml:"min_receivers"`
}

// WhaleConfig holds the single and cumulative value thresholds.
type WhaleConfig struct {
	SingleValue     float64 `yaml:"single_value"`
	CumulativeValue float64 `yaml:"cumulative_value"`
}

// ActiveTraderConfig flags more than MinTrades DEX records.
type ActiveTraderConfig struct {
	MinTrades int `yaml:"min_trades"`
}

// ArbitrageConfig bounds the arbitrage window.
type ArbitrageConfig struct {
	Window       time.Duration `yaml:"window"`
	MinContracts int           `yaml:"min_contracts"`
}

// ContractsConfig holds the known contract and selector sets.
type ContractsConfig struct {
	DEX                    AddressSet `yaml:"dex"`
	NFT                    AddressSet `yaml:"nft"`
	NFTMethods             AddressSet `yaml:"nft_methods"`
	AddLiquidityMethods    AddressSet `yaml:"add_liquidity_methods"`
	RemoveLiquidityMethods AddressSet `yaml:"remove_liquidity_methods"`
}

// BlacklistConfig holds the static sanctions set and optional remote feed.
type BlacklistConfig struct {
	Addresses AddressSet    `yaml:"addresses"`
	FeedURL   string        `yaml:"feed_url"`
	TTL       time.Duration `yaml:"ttl"`
}

// ExportConfig selects where pass reports go.
type ExportConfig struct {
	CSVDir     string      `yaml:"csv_dir"`
	Repository bool        `yaml:"repository"`
	Bus        bool        `yaml:"bus"`
	Kafka      KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the Kafka exporter.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Known Ethereum mainnet routers and selectors.
const (
	UniswapV2Router = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	SushiSwapRouter = "0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f"

	SelectorAddLiquidity       = "0xe8e33700"
	SelectorAddLiquidityETH    = "0xf305d719"
	SelectorRemoveLiquidity    = "0xbaa2abde"
	SelectorRemoveLiquidityETH = "0x02751cec"
)

// DefaultConfig returns a configuration suitable for a local run against mainnet.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Chain: ChainConfig{
			Name:            "ethereum",
			RPCURL:          "http://localhost:8545",
			RequestTimeout:  15 * time.Second,
			Lookback:        50,
			Confirmations:   2,
			PollInterval:    12 * time.Second,
			Concurrency:     4,
			CheckpointEvery: 10,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Jitter:      100 * time.Millisecond,
			},
		},
		Detection: DetectionConfig{
			Anomaly: AnomalyConfig{
				LargeValue: Band{Soft: 100, Hard: 1000},
				Fee: FeeConfig{
					Absolute: Band{Soft: 0.05, Hard: 0.5},
					Relative: Band{Soft: 0.1, Hard: 0.5},
				},
				Frequency:   FrequencyConfig{Window: time.Hour, Count: 50, StrongCount: 200},
				Burst:       BurstConfig{Interval: time.Minute, Count: 5, StrongCount: 15},
				Structuring: StructuringConfig{Window: 24 * time.Hour, SumThreshold: 5000},
				Operation: OperationConfig{
					Allowed: NewAddressSet(
						"0xa9059cbb", // transfer
						"0x095ea7b3", // approve
						"0x23b872dd", // transferFrom
						"0x7ff36ab5", // swapExactETHForTokens
						"0x18cbafe5", // swapExactTokensForETH
						"0x38ed1739", // swapExactTokensForTokens
						"0xac9650d8", // multicall
						"0x3593564c", // execute
						"0xd0e30db0", // deposit
						"0x2e1a7d4d", // withdraw
					),
					MinHistory: 5,
				},
				UnusualTime: UnusualTimeConfig{
					Location: "UTC",
					Ranges: []TimeRange{
						{Name: "night", StartHour: 0, EndHour: 5, Severity: SeverityWeak},
					},
				},
			},
			Pattern: PatternConfig{
				RegularPayment: RegularPaymentConfig{Tolerance: 10, MinOccurrences: 3},
				BatchPayment:   BatchPaymentConfig{Window: 5 * time.Minute, MinReceivers: 5},
				Whale:          WhaleConfig{SingleValue: 1000, CumulativeValue: 10000},
				ActiveTrader:   ActiveTraderConfig{MinTrades: 10},
				Arbitrage:      ArbitrageConfig{Window: 5 * time.Minute, MinContracts: 2},
			},
			Workers: 8,
		},
		Contracts: ContractsConfig{
			DEX: NewAddressSet(UniswapV2Router, SushiSwapRouter),
			NFT: NewAddressSet(),
			NFTMethods: NewAddressSet(
				"0x80ac58cd", "0xd9b67a26", // ERC-721 / ERC-1155 interface ids
				"0x42842e0e", // safeTransferFrom
				"0xf242432a", // ERC-1155 safeTransferFrom
				"0x40c10f19", // mint
				// 0x23b872dd is omitted: ERC-721 transferFrom shares it with ERC-20.
			),
			AddLiquidityMethods:    NewAddressSet(SelectorAddLiquidity, SelectorAddLiquidityETH),
			RemoveLiquidityMethods: NewAddressSet(SelectorRemoveLiquidity, SelectorRemoveLiquidityETH),
		},
		Blacklist: BlacklistConfig{
			Addresses: NewAddressSet(),
			TTL:       time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Export: ExportConfig{
			CSVDir:     "./reports",
			Repository: true,
			Kafka:      KafkaConfig{Topic: "heron.findings", ClientID: "heron"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}
