// Package config loads daemon and CLI configuration with viper: built-in
// defaults, then an optional YAML file, then DEVGUARD_* environment values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	strs "devguard/pkg/platform/strings"
)

// EnvPrefix is prepended to every environment override, e.g.
// DEVGUARD_AUDIT_DIR for audit.dir.
const EnvPrefix = "DEVGUARD"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig captures the operator HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	JWTSigningKey   string        `mapstructure:"jwt_signing_key"`
	JWTIssuer       string        `mapstructure:"jwt_issuer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuditConfig struct {
	Dir                 string `mapstructure:"dir"`
	ShadowRetentionDays int    `mapstructure:"shadow_retention_days"`
	PublicRetentionDays int    `mapstructure:"public_retention_days"`
	// KeyEnv names the environment variable holding the shadow key.
	KeyEnv            string        `mapstructure:"key_env"`
	KeySalt           string        `mapstructure:"key_salt"`
	AllowEphemeralKey bool          `mapstructure:"allow_ephemeral_key"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	ReadConcurrency   int           `mapstructure:"read_concurrency"`
	Forward           ForwardConfig `mapstructure:"forward"`
}

// ForwardConfig controls export of public records to Kafka.
type ForwardConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BufferSize  int           `mapstructure:"buffer_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type WorkflowConfig struct {
	DefinitionsDir     string          `mapstructure:"definitions_dir"`
	GateManifest       string          `mapstructure:"gate_manifest"`
	DefaultStepTimeout time.Duration   `mapstructure:"default_step_timeout"`
	CommandTimeout     time.Duration   `mapstructure:"command_timeout"`
	RetryBackoff       []time.Duration `mapstructure:"retry_backoff"`
	LeaseTTL           time.Duration   `mapstructure:"lease_ttl"`
	HistoryCapacity    int             `mapstructure:"history_capacity"`
	// StateDir holds file leases and run history when Redis and Postgres
	// are not configured. Empty keeps both in process memory.
	StateDir string `mapstructure:"state_dir"`
	// DeviceTool is the vendor binary command steps are run through.
	DeviceTool string `mapstructure:"device_tool"`
	DeviceFlag string `mapstructure:"device_flag"`
}

// RedisConfig enables shared device leases when URL is set.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig enables durable run history when DSN is set.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	ClientID          string   `mapstructure:"client_id"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_signing_key", "")
	v.SetDefault("server.jwt_issuer", "devguard")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("audit.dir", "./data/audit")
	v.SetDefault("audit.shadow_retention_days", 365)
	v.SetDefault("audit.public_retention_days", 30)
	v.SetDefault("audit.key_env", "DEVGUARD_SHADOW_KEY")
	v.SetDefault("audit.key_salt", "")
	v.SetDefault("audit.allow_ephemeral_key", false)
	v.SetDefault("audit.retention_interval", 24*time.Hour)
	v.SetDefault("audit.read_concurrency", 4)
	v.SetDefault("audit.forward.enabled", false)
	v.SetDefault("audit.forward.buffer_size", 1024)
	v.SetDefault("audit.forward.send_timeout", 5*time.Second)

	v.SetDefault("workflow.definitions_dir", "./workflows")
	v.SetDefault("workflow.gate_manifest", "./config/gates.yaml")
	v.SetDefault("workflow.default_step_timeout", 30*time.Second)
	v.SetDefault("workflow.command_timeout", 60*time.Second)
	v.SetDefault("workflow.retry_backoff", []string{"1s", "2s", "5s"})
	v.SetDefault("workflow.lease_ttl", 30*time.Minute)
	v.SetDefault("workflow.history_capacity", 10000)
	v.SetDefault("workflow.state_dir", "./data/state")
	v.SetDefault("workflow.device_tool", "adb")
	v.SetDefault("workflow.device_flag", "-s")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "devguard.audit.public")
	v.SetDefault("kafka.client_id", "devguard")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration. An explicit path must exist; without one,
// devguard.yaml is looked up in . and ./config and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("devguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Audit.Dir == "" {
		errs = append(errs, errors.New("audit.dir is required"))
	}
	if c.Audit.KeyEnv == "" {
		errs = append(errs, errors.New("audit.key_env is required"))
	}
	if c.Audit.ShadowRetentionDays < 0 || c.Audit.PublicRetentionDays < 0 {
		errs = append(errs, errors.New("audit retention days cannot be negative"))
	}
	if c.Audit.RetentionInterval <= 0 {
		errs = append(errs, errors.New("audit.retention_interval must be positive"))
	}
	if c.Workflow.DefinitionsDir == "" {
		errs = append(errs, errors.New("workflow.definitions_dir is required"))
	}
	for _, d := range c.Workflow.RetryBackoff {
		if d < 0 {
			errs = append(errs, errors.New("workflow.retry_backoff entries cannot be negative"))
			break
		}
	}
	if c.Audit.Forward.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when audit.forward.enabled is set"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// splitList accepts brokers given either as a list or as one
// comma-separated environment value.
func splitList(in []string) []string {
	var parts []string
	for _, item := range in {
		parts = append(parts, strings.Split(item, ",")...)
	}
	return strs.DedupeAndTrim(parts)
}
