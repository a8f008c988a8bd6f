package waypoint

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mode selects between durable production backends and the in-memory
// development backend.
type Mode string

const (
	// ModeProduction routes checkpoints through the configured table and
	// blob backends.
	ModeProduction Mode = "production"
	// ModeDevelopment keeps everything in a single in-process store.
	ModeDevelopment Mode = "development"
)

// Config holds configuration consumed by Waypoint. Waypoint does not own
// the backend clients themselves; callers construct them and pass the
// identifiers below through.
type Config struct {
	// Mode selects development or production behavior.
	Mode Mode `env:"WAYPOINT_MODE" envDefault:"production"`

	// Table is the backend table identifier: the Postgres/SQLite table
	// name, the Mongo collection, or the Redis key prefix.
	Table string `env:"WAYPOINT_TABLE" envDefault:"waypoint_checkpoints"`

	// Bucket is the blob-store namespace for oversized payloads.
	Bucket string `env:"WAYPOINT_BUCKET" envDefault:"waypoint-blobs"`

	// TTLDays is how long checkpoints live before becoming eligible for
	// background deletion.
	TTLDays int `env:"WAYPOINT_TTL_DAYS" envDefault:"90"`

	// SweepSchedule is a cron expression (or descriptor like "@every 1h")
	// controlling how often the janitor purges expired checkpoints.
	SweepSchedule string `env:"WAYPOINT_SWEEP_SCHEDULE" envDefault:"@every 1h"`

	// ThreadRetention is how long finished threads stay in the in-process
	// registry before the janitor drops them.
	ThreadRetention time.Duration `env:"WAYPOINT_THREAD_RETENTION" envDefault:"720h"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeProduction,
		Table:           "waypoint_checkpoints",
		Bucket:          "waypoint-blobs",
		TTLDays:         90,
		SweepSchedule:   "@every 1h",
		ThreadRetention: 30 * 24 * time.Hour,
	}
}

// LoadConfig reads configuration from WAYPOINT_* environment variables,
// falling back to the documented defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("waypoint: parse config from env: %w", err)
	}
	return cfg, nil
}

// TTL returns the configured checkpoint lifetime as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}
