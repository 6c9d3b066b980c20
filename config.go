package pivot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/pivot/dialect"
	sqldialect "github.com/syssam/pivot/dialect/sql"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "150ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("pivot: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds the connection settings for a loader-backed application.
//
// Example:
//
//	dialect: sqlite
//	dsn: "file:app.db?_pragma=foreign_keys(1)"
//	slow_query_threshold: 200ms
//	cache_ttl: 30s
type Config struct {
	// Dialect is one of dialect.Postgres, dialect.MySQL, dialect.SQLite.
	Dialect string `yaml:"dialect"`
	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`
	// SlowQueryThreshold enables the stats driver with slow-query logging
	// when positive.
	SlowQueryThreshold Duration `yaml:"slow_query_threshold"`
	// CacheTTL is the TTL handed to WithCache by callers that cache.
	CacheTTL Duration `yaml:"cache_ttl"`
	// Debug wraps the driver with statement logging. Takes precedence
	// over SlowQueryThreshold.
	Debug bool `yaml:"debug"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pivot: reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("pivot: parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the config for a known dialect and a non-empty DSN.
func (c *Config) Validate() error {
	switch c.Dialect {
	case dialect.Postgres, dialect.MySQL, dialect.SQLite:
	default:
		return NewValidationError("dialect", fmt.Errorf("unknown dialect %q", c.Dialect))
	}
	if c.DSN == "" {
		return NewValidationError("dsn", fmt.Errorf("empty data source name"))
	}
	return nil
}

// Open opens a driver per the config, wrapped with debug logging or
// slow-query stats when configured.
func (c *Config) Open() (dialect.Driver, error) {
	drv, err := sqldialect.Open(c.Dialect, c.DSN)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Debug:
		return sqldialect.NewDebugDriver(drv), nil
	case c.SlowQueryThreshold > 0:
		return sqldialect.NewStatsDriver(drv,
			sqldialect.WithSlowThreshold(time.Duration(c.SlowQueryThreshold)),
			sqldialect.WithSlowQueryLog(),
		), nil
	default:
		return drv, nil
	}
}
