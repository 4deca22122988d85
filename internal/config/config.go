// Package config loads orchestrator configuration from a YAML file, with
// environment-variable overrides for values that should not live in a
// checked-in file (credentials, connection strings). It follows the
// struct-of-options-with-documented-defaults pattern used throughout the
// pack (registry.Config, sourcereg.Config): every section has a
// corresponding applyDefaults step, so a config file only needs to set
// what differs from the default deployment.
//
// Local development loads a .env file via github.com/joho/godotenv before
// reading the environment, grounded on codeready-toolchain-tarsy's use of
// godotenv for the same purpose.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/queryorch/orchestrator/internal/classifier/modelgateway"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

// Config is the orchestrator's top-level configuration.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Sources    []SourceConfig   `yaml:"sources"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Session    SessionConfig    `yaml:"session"`
	Model      modelgateway.Config `yaml:"model"`
	HTTPAddr   string           `yaml:"http_addr"`
	RegistryID string           `yaml:"registry_name"`
}

// RedisConfig names a shared Redis instance. Load requires Addr, but
// cmd/orchestrator does not connect to it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MongoConfig configures the durable session store and any document-kind
// adapters.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SourceConfig is one configured source, as read from YAML before being
// resolved into a model.Source plus a constructed adapter by the caller
// (internal/config intentionally does not import internal/adapter/* to
// avoid every adapter package becoming a hard dependency of config
// loading; cmd/orchestrator does that resolution).
type SourceConfig struct {
	ID           string            `yaml:"id"`
	Kind         string            `yaml:"kind"`
	URI          string            `yaml:"uri"`
	Capabilities []string          `yaml:"capabilities"`
	Options      map[string]string `yaml:"options"`
}

// ExecutorConfig configures internal/executor.
type ExecutorConfig struct {
	MaxParallelism    int           `yaml:"max_parallelism"`
	PerSourceRPS      float64       `yaml:"per_source_rps"`
	PerSourceBurst    int           `yaml:"per_source_burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	CancelGraceMillis int           `yaml:"cancel_grace_ms"`
}

// SessionConfig configures internal/sessionstore.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Load reads a YAML config file from path, loads envPath (if non-empty)
// into the process environment via godotenv, applies environment
// overrides, validates, and fills in defaults.
func Load(path, envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, orcherrors.Wrap(orcherrors.ConfigInvalid, "load env file", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, orcherrors.Wrap(orcherrors.ConfigInvalid, "read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, orcherrors.Wrap(orcherrors.ConfigInvalid, "parse config file", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment-specific secrets and connection
// strings live outside the checked-in YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATOR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ORCHESTRATOR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ORCHESTRATOR_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("ORCHESTRATOR_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Model.OpenAI.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RegistryID == "" {
		cfg.RegistryID = "orchestrator"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8090"
	}
	if cfg.Executor.MaxParallelism <= 0 {
		cfg.Executor.MaxParallelism = 8
	}
	if cfg.Executor.PerSourceRPS <= 0 {
		cfg.Executor.PerSourceRPS = 5
	}
	if cfg.Executor.PerSourceBurst <= 0 {
		cfg.Executor.PerSourceBurst = 2
	}
	if cfg.Executor.MaxAttempts <= 0 {
		cfg.Executor.MaxAttempts = 3
	}
	if cfg.Executor.InitialBackoff <= 0 {
		cfg.Executor.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Executor.MaxBackoff <= 0 {
		cfg.Executor.MaxBackoff = 10 * time.Second
	}
	if cfg.Executor.CancelGraceMillis <= 0 {
		cfg.Executor.CancelGraceMillis = 2000
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = 24 * time.Hour
	}
	if cfg.Session.CleanupInterval <= 0 {
		cfg.Session.CleanupInterval = 15 * time.Minute
	}
}

// validate enforces the ConfigInvalid conditions spec §7 lists: missing
// required fields, or two sources sharing an id.
func validate(cfg Config) error {
	if cfg.Redis.Addr == "" {
		return orcherrors.New(orcherrors.ConfigInvalid, "redis.addr is required")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.ID == "" {
			return orcherrors.New(orcherrors.ConfigInvalid, "source entry missing id")
		}
		if seen[s.ID] {
			return orcherrors.Newf(orcherrors.ConfigInvalid, "duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Kind == "" {
			return orcherrors.Newf(orcherrors.ConfigInvalid, "source %q missing kind", s.ID)
		}
	}
	return nil
}

// CancelGrace returns Executor.CancelGraceMillis as a time.Duration.
func (c ExecutorConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMillis) * time.Millisecond
}
