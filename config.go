package credsync

import (
	"errors"
	"time"

	"github.com/MrEthical07/credsync/internal/retry"
	"github.com/MrEthical07/credsync/record"
)

// Config is the full engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Sync      SyncConfig      `yaml:"sync" envPrefix:"SYNC_"`
	Lockout   LockoutConfig   `yaml:"lockout" envPrefix:"LOCKOUT_"`
	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Ephemeral EphemeralConfig `yaml:"ephemeral" envPrefix:"EPHEMERAL_"`
	Durable   DurableConfig   `yaml:"durable" envPrefix:"DURABLE_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
SYNC CONFIG
====================================
*/

// SyncConfig governs remote-tier retries and key layout.
type SyncConfig struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// RemoteTimeout bounds each individual remote call.
	RemoteTimeout time.Duration `yaml:"remote_timeout" env:"REMOTE_TIMEOUT"`
	KeyPrefix     string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the lockout state machine.
type LockoutConfig struct {
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
	// Duration of a lock. Zero locks until AdminUnlock.
	Duration time.Duration `yaml:"duration" env:"DURATION"`
	// Window restarts counting when a failure arrives this long after the
	// first one. Zero disables the window.
	Window                 time.Duration `yaml:"window" env:"WINDOW"`
	FailClosedWhenDegraded bool          `yaml:"fail_closed_when_degraded" env:"FAIL_CLOSED_WHEN_DEGRADED"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session token signing. Keys are read from the
// environment as base64 and never from config files.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SigningMethod string        `yaml:"signing_method" env:"SIGNING_METHOD"` // "ed25519" (default), "hs256" optional
	PrivateKey    []byte        `yaml:"-" env:"PRIVATE_KEY"`
	PublicKey     []byte        `yaml:"-" env:"PUBLIC_KEY"`
	Issuer        string        `yaml:"issuer" env:"ISSUER"`
	Audience      string        `yaml:"audience" env:"AUDIENCE"`
	Leeway        time.Duration `yaml:"leeway" env:"LEEWAY"`
}

/*
====================================
CACHE TIER CONFIG
====================================
*/

// EphemeralConfig sizes the ephemeral-local tier.
type EphemeralConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Size    int           `yaml:"size" env:"SIZE"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// DurableConfig configures the durable-local tier. An empty Path leaves the
// tier out. A non-empty SealPassphrase encrypts record fields at rest.
type DurableConfig struct {
	Path            string `yaml:"path" env:"PATH"`
	SealPassphrase  string `yaml:"-" env:"SEAL_PASSPHRASE"`
	SealSalt        string `yaml:"seal_salt" env:"SEAL_SALT"`
	SealMemory      uint32 `yaml:"seal_memory" env:"SEAL_MEMORY"` // in KB
	SealTime        uint32 `yaml:"seal_time" env:"SEAL_TIME"`
	SealParallelism uint8  `yaml:"seal_parallelism" env:"SEAL_PARALLELISM"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration every loader starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Sync: SyncConfig{
			MaxRetries:    retry.DefaultMaxRetries,
			BaseBackoff:   retry.DefaultBaseBackoff,
			MaxBackoff:    retry.DefaultMaxBackoff,
			RemoteTimeout: 3 * time.Second,
			KeyPrefix:     record.DefaultKeyPrefix,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           12 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "credsync",
		},
		Ephemeral: EphemeralConfig{
			Enabled: true,
			Size:    1024,
			TTL:     30 * time.Minute,
		},
		Durable: DurableConfig{
			SealMemory:      64 * 1024,
			SealTime:        1,
			SealParallelism: 4,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// Sync
	if c.Sync.MaxRetries < 0 {
		return errors.New("Sync MaxRetries must be >= 0")
	}
	if c.Sync.MaxRetries > 10 {
		return errors.New("Sync MaxRetries must be <= 10")
	}
	if c.Sync.BaseBackoff <= 0 {
		return errors.New("Sync BaseBackoff must be > 0")
	}
	if c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		return errors.New("Sync MaxBackoff must be >= BaseBackoff")
	}
	if c.Sync.RemoteTimeout <= 0 {
		return errors.New("Sync RemoteTimeout must be > 0")
	}
	if c.Sync.KeyPrefix == "" {
		return errors.New("Sync KeyPrefix must not be empty")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Duration < 0 {
		return errors.New("Lockout Duration must be >= 0")
	}
	if c.Lockout.Window < 0 {
		return errors.New("Lockout Window must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	switch c.Session.SigningMethod {
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported session signing method")
	}

	// Ephemeral
	if c.Ephemeral.Enabled {
		if c.Ephemeral.Size <= 0 {
			return errors.New("Ephemeral Size must be > 0")
		}
		if c.Ephemeral.TTL < 0 {
			return errors.New("Ephemeral TTL must be >= 0")
		}
	}

	// Durable
	if c.Durable.SealPassphrase != "" {
		if c.Durable.Path == "" {
			return errors.New("Durable SealPassphrase requires Path")
		}
		if len(c.Durable.SealSalt) < 16 {
			return errors.New("Durable SealSalt must be >= 16 bytes")
		}
		if c.Durable.SealMemory < 8*1024 {
			return errors.New("Durable SealMemory must be >= 8192 KB")
		}
		if c.Durable.SealTime < 1 || c.Durable.SealParallelism < 1 {
			return errors.New("Durable SealTime and SealParallelism must be >= 1")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func (c *Config) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Sync.MaxRetries,
		BaseDelay:  c.Sync.BaseBackoff,
		MaxDelay:   c.Sync.MaxBackoff,
	}
}
