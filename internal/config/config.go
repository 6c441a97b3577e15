package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elghonerox/solarsentinel-depin/internal/faults"
)

// Config holds all application configuration
type Config struct {
	Ledger     LedgerConfig
	Operator   OperatorConfig
	Classifier ClassifierConfig
	Index      IndexConfig
	Reward     RewardConfig
	Server     ServerConfig
	Log        LogConfig
}

// LedgerConfig holds the Kafka ledger network configuration. Network selects
// between the plaintext test network and the SASL-authenticated production
// network. TopicID may be supplied to reuse a pre-existing topic; when empty
// the session creates one on first use.
type LedgerConfig struct {
	Brokers        []string
	Network        string
	TopicID        string
	TopicPrefix    string
	RewardTopic    string
	SubmitTimeout  time.Duration
	RequestTimeout time.Duration
}

// OperatorConfig identifies the session operator on the ledger network.
// Both fields are required; the process refuses to serve without them.
type OperatorConfig struct {
	AccountID  string
	Credential string
}

// ClassifierConfig points at the external AI classification service.
type ClassifierConfig struct {
	BaseURL string
	Timeout time.Duration
}

// IndexConfig holds the InfluxDB secondary index configuration. An empty URL
// disables the index; historical reads then degrade to empty results.
type IndexConfig struct {
	URL          string
	Org          string
	Token        string
	Bucket       string
	BatchSize    int
	BatchTimeout time.Duration
}

// RewardConfig holds reward issuance configuration. An empty TokenID degrades
// minting to simulated mode.
type RewardConfig struct {
	TokenID    string
	MintAmount float64
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Bind            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Ledger: LedgerConfig{
			Brokers:        getEnvStringSlice("LEDGER_BROKERS", []string{"localhost:9092"}),
			Network:        getEnv("LEDGER_NETWORK", "test"),
			TopicID:        getEnv("LEDGER_TOPIC_ID", ""),
			TopicPrefix:    getEnv("LEDGER_TOPIC_PREFIX", "solarsentinel-readings"),
			RewardTopic:    getEnv("LEDGER_REWARD_TOPIC", "solarsentinel-rewards"),
			SubmitTimeout:  getEnvDuration("LEDGER_SUBMIT_TIMEOUT", 30*time.Second),
			RequestTimeout: getEnvDuration("LEDGER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Operator: OperatorConfig{
			AccountID:  getEnv("OPERATOR_ACCOUNT_ID", ""),
			Credential: getEnv("OPERATOR_CREDENTIAL", ""),
		},
		Classifier: ClassifierConfig{
			BaseURL: getEnv("CLASSIFIER_URL", "http://localhost:5000"),
			Timeout: getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
		},
		Index: IndexConfig{
			URL:          getEnv("INFLUXDB_URL", ""),
			Org:          getEnv("INFLUXDB_ORG", "solarsentinel"),
			Token:        getEnv("INFLUX_TOKEN", ""),
			Bucket:       getEnv("INFLUXDB_BUCKET", "solar-ledger"),
			BatchSize:    getEnvInt("INFLUXDB_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("INFLUXDB_BATCH_TIMEOUT", 1*time.Second),
		},
		Reward: RewardConfig{
			TokenID:    getEnv("REWARD_TOKEN_ID", ""),
			MintAmount: getEnvFloat("REWARD_MINT_AMOUNT", 1.0),
		},
		Server: ServerConfig{
			Bind:            getEnv("SERVER_BIND", ":8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the process cannot start without. A missing
// operator identity or credential is fatal; a missing reward token is not.
func (c *Config) Validate() error {
	if len(c.Ledger.Brokers) == 0 {
		return faults.New(faults.Configuration, "set LEDGER_BROKERS", "ledger broker list is empty")
	}
	switch c.Ledger.Network {
	case "test", "production":
	default:
		return faults.New(faults.Configuration, "set LEDGER_NETWORK to test or production", "unknown ledger network "+strconv.Quote(c.Ledger.Network))
	}
	if strings.TrimSpace(c.Operator.AccountID) == "" {
		return faults.New(faults.Configuration, "set OPERATOR_ACCOUNT_ID", "operator account identity is required")
	}
	if strings.TrimSpace(c.Operator.Credential) == "" {
		return faults.New(faults.Configuration, "set OPERATOR_CREDENTIAL", "operator credential is required")
	}
	if c.Reward.MintAmount <= 0 {
		return faults.New(faults.Configuration, "set REWARD_MINT_AMOUNT to a positive value", "reward mint amount must be positive")
	}
	return nil
}

// IndexEnabled reports whether the secondary index is configured.
func (c *Config) IndexEnabled() bool {
	return strings.TrimSpace(c.Index.URL) != ""
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.Split(value, ",")
	}
	return defaultValue
}
