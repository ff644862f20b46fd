package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreNakama = "nakama"
	StoreMemory = "memory"

	DefaultPath = "data/subscriptions.yaml"
)

// Runtime environment keys that override file values.
const (
	EnvConfigPath         = "partylog_config_path"
	EnvStore              = "partylog_store"
	EnvCollection         = "partylog_collection"
	EnvCommitTimeout      = "partylog_commit_timeout"
	EnvMaxSessions        = "partylog_max_sessions"
	EnvMaxConflictRetries = "partylog_max_conflict_retries"
)

var ErrInvalidConfig = errors.New("invalid subscription config")

type Config struct {
	// Store selects the backing store: "nakama" storage objects or an
	// in-process "memory" map for local runs.
	Store              string        `yaml:"store"`
	Collection         string        `yaml:"collection"`
	CommitTimeout      time.Duration `yaml:"commit_timeout"`
	MaxSessions        int           `yaml:"max_sessions"`
	MaxConflictRetries int           `yaml:"max_conflict_retries"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store:              StoreNakama,
		Collection:         "subscriptions",
		CommitTimeout:      10 * time.Second,
		MaxSessions:        4096,
		MaxConflictRetries: 3,
	}
}

// Load reads a YAML file over the defaults. A missing file is reported with
// an error wrapping os.ErrNotExist together with the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("failed to read subscription config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Default(), fmt.Errorf("failed to unmarshal subscription config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Default(), err
	}
	return c, nil
}

// ApplyEnv overrides fields from the Nakama runtime environment.
func (c Config) ApplyEnv(env map[string]string) (Config, error) {
	if v, ok := env[EnvStore]; ok && v != "" {
		c.Store = v
	}
	if v, ok := env[EnvCollection]; ok && v != "" {
		c.Collection = v
	}
	if v, ok := env[EnvCommitTimeout]; ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvCommitTimeout, err)
		}
		c.CommitTimeout = d
	}
	if v, ok := env[EnvMaxSessions]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvMaxSessions, err)
		}
		c.MaxSessions = n
	}
	if v, ok := env[EnvMaxConflictRetries]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvMaxConflictRetries, err)
		}
		c.MaxConflictRetries = n
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreNakama, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: empty collection", ErrInvalidConfig)
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("%w: commit_timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("%w: max_sessions must be positive", ErrInvalidConfig)
	}
	if c.MaxConflictRetries < 0 {
		return fmt.Errorf("%w: max_conflict_retries must not be negative", ErrInvalidConfig)
	}
	return nil
}
