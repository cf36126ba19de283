// Package config loads server configuration from an optional YAML file,
// then applies environment overrides so deployments can keep secrets and
// endpoints out of the file.
package config

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Environment string            `yaml:"environment"`
	Addr        string            `yaml:"addr"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Batcher     BatcherConfig     `yaml:"batcher"`
	Accumulator AccumulatorConfig `yaml:"accumulator"`
	Audit       AuditConfig       `yaml:"audit"`
	Schemas     []SchemaConfig    `yaml:"schemas"`
	Issuers     []IssuerConfig    `yaml:"issuers"`
}

// DatabaseConfig selects Postgres persistence. An empty URL keeps every
// store in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig enables the anchor record cache when URL is set.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	Acks    string `yaml:"acks"`
}

type BatcherConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Threshold      int           `yaml:"threshold"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"`
	// LedgerConfirmAfter is the number of polls before the in-memory ledger
	// confirms a transaction.
	LedgerConfirmAfter int `yaml:"ledger_confirm_after"`
}

type AccumulatorConfig struct {
	Retention time.Duration `yaml:"retention"`
}

type AuditConfig struct {
	// Buffer > 0 makes audit writes asynchronous.
	Buffer int `yaml:"buffer"`
}

// SchemaConfig declares a credential schema.
type SchemaConfig struct {
	ID         string            `yaml:"id"`
	Attributes []AttributeConfig `yaml:"attributes"`
}

type AttributeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// IssuerConfig declares an issuer and its signing keys.
type IssuerConfig struct {
	ID   string      `yaml:"id"`
	Keys []KeyConfig `yaml:"keys"`
}

// KeyConfig is an Ed25519 key given as a base58 encoded 32-byte seed.
type KeyConfig struct {
	ID      string `yaml:"id"`
	Seed    string `yaml:"seed"`
	Revoked bool   `yaml:"revoked"`
}

// DecodeSeed returns the raw seed bytes.
func (k KeyConfig) DecodeSeed() ([]byte, error) {
	seed, err := base58.Decode(k.Seed)
	if err != nil {
		return nil, fmt.Errorf("key %s: seed is not base58: %w", k.ID, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key %s: seed must decode to %d bytes, got %d", k.ID, ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

// Default returns a development configuration with in-memory stores.
func Default() Config {
	return Config{
		Environment: "development",
		Addr:        ":8080",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CacheTTL:     24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic: "veritas.credentials",
			Acks:  "all",
		},
		Batcher: BatcherConfig{
			Interval:           30 * time.Second,
			Threshold:          500,
			AttemptTimeout:     2 * time.Minute,
			PollInterval:       2 * time.Second,
			InitialBackoff:     time.Second,
			MaxBackoff:         time.Minute,
			MaxAttempts:        8,
			LedgerConfirmAfter: 1,
		},
		Accumulator: AccumulatorConfig{
			Retention: 90 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Buffer: 1024,
		},
	}
}

// FromEnv loads the file named by VERITAS_CONFIG, if any, and applies
// environment overrides.
func FromEnv() (Config, error) {
	return Load(os.Getenv("VERITAS_CONFIG"))
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("VERITAS_ENV", &c.Environment)
	str("VERITAS_ADDR", &c.Addr)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)

	durations := map[string]*time.Duration{
		"VERITAS_BATCH_INTERVAL":    &c.Batcher.Interval,
		"VERITAS_BACKOFF_INITIAL":   &c.Batcher.InitialBackoff,
		"VERITAS_BACKOFF_MAX":       &c.Batcher.MaxBackoff,
		"VERITAS_WITNESS_RETENTION": &c.Accumulator.Retention,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"VERITAS_BATCH_THRESHOLD":     &c.Batcher.Threshold,
		"VERITAS_LEDGER_MAX_ATTEMPTS": &c.Batcher.MaxAttempts,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks bounds and declarations. Attribute types are checked when
// schemas are registered.
func (c Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr is required")
	}
	if c.Batcher.Interval <= 0 {
		problems = append(problems, "batcher.interval must be positive")
	}
	if c.Batcher.Threshold <= 0 {
		problems = append(problems, "batcher.threshold must be positive")
	}
	if c.Batcher.MaxAttempts <= 0 {
		problems = append(problems, "batcher.max_attempts must be positive")
	}
	if c.Batcher.InitialBackoff <= 0 || c.Batcher.MaxBackoff < c.Batcher.InitialBackoff {
		problems = append(problems, "batcher backoff bounds are invalid")
	}
	if c.Accumulator.Retention <= 0 {
		problems = append(problems, "accumulator.retention must be positive")
	}

	schemas := make(map[string]bool, len(c.Schemas))
	for _, s := range c.Schemas {
		if s.ID == "" {
			problems = append(problems, "schema id is required")
			continue
		}
		if schemas[s.ID] {
			problems = append(problems, "duplicate schema "+s.ID)
		}
		schemas[s.ID] = true
		if len(s.Attributes) == 0 {
			problems = append(problems, "schema "+s.ID+" declares no attributes")
		}
	}

	issuers := make(map[string]bool, len(c.Issuers))
	for _, iss := range c.Issuers {
		if iss.ID == "" {
			problems = append(problems, "issuer id is required")
			continue
		}
		if issuers[iss.ID] {
			problems = append(problems, "duplicate issuer "+iss.ID)
		}
		issuers[iss.ID] = true
		for _, k := range iss.Keys {
			if _, err := k.DecodeSeed(); err != nil {
				problems = append(problems, "issuer "+iss.ID+": "+err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsesPostgres reports whether stores should be backed by Postgres.
func (c Config) UsesPostgres() bool {
	return c.Database.URL != ""
}
