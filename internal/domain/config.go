package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier selects the infrastructure profile
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Pipeline   PipelineConfig   `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// PipelineConfig holds batch pipeline settings.
type PipelineConfig struct {
	// Rule matrix CSV per module. Empty means the embedded defaults.
	APMatrixPath string `json:"apMatrixPath"`
	GLMatrixPath string `json:"glMatrixPath"`

	// SettingsPath points at a KEYNAME/KEYVALUE file seeded into rule_settings.
	SettingsPath string `json:"settingsPath"`

	// ScenariosPath points at the duplicate scenario CSV.
	ScenariosPath string `json:"scenariosPath"`

	// MasterDataPath points at a JSON file of vendors, accounts and
	// companies seeded into the repository.
	MasterDataPath string `json:"masterDataPath"`

	// UnusualPairsPath points at the Credit/Debit subcategory pair CSV.
	UnusualPairsPath string `json:"unusualPairsPath"`

	// VerifyAll verifies every AP invoice instead of flagged documents only.
	VerifyAll bool `json:"verifyAll"`

	// ArtifactRoot is the directory holding one folder of attachments per invoice.
	ArtifactRoot string `json:"artifactRoot"`

	// DuplicateWorkers is the pool size for duplicate groups. Zero means cores-1.
	DuplicateWorkers int `json:"duplicateWorkers"`

	// HistoryLookback bounds how far back invoice history is loaded.
	HistoryLookback time.Duration `json:"historyLookback"`

	// OCRCacheTTL is how long extracted document lines stay cached.
	OCRCacheTTL time.Duration `json:"ocrCacheTtl"`

	// ApprovalEnabled requests approval-matrix flags over the bus. Without
	// it APPROVAL_MATRIX is skipped.
	ApprovalEnabled bool `json:"approvalEnabled"`

	// ApprovalTimeout bounds the approval-matrix request.
	ApprovalTimeout time.Duration `json:"approvalTimeout"`

	// AsyncWorkers is the number of submitted batches run at once.
	AsyncWorkers int `json:"asyncWorkers"`
}

// Tier represents the infrastructure profile.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 2000,
			LocalTTL:     30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 256,
		},
		Pipeline: PipelineConfig{
			ArtifactRoot:    "./artifacts",
			HistoryLookback: 365 * 24 * time.Hour,
			OCRCacheTTL:     24 * time.Hour,
			ApprovalTimeout: 10 * time.Second,
			AsyncWorkers:    2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
		LocalTTL:       30 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Pipeline.ApprovalEnabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
