package relationaldb

import (
	"fmt"
	"net/url"
	"time"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains database configuration settings
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file. ":memory:" keeps it in memory.
	Path string `mapstructure:"path"`

	// ConnectionString overrides the PostgreSQL settings below.
	ConnectionString string `mapstructure:"connection_string"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Database         string `mapstructure:"database"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	SSLMode          string `mapstructure:"ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// DefaultConfig returns an SQLite configuration under ./db.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		Path:            "./db/history.db",
		Host:            "localhost",
		Port:            5432,
		Database:        "rcld",
		Username:        "rcld",
		SSLMode:         "prefer",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		DefaultTimeout:  30 * time.Second,
	}
}

// PostgresConfig returns a PostgreSQL configuration with default pool settings.
func PostgresConfig() Config {
	c := DefaultConfig()
	c.Driver = DriverPostgres
	c.MaxOpenConns = 25
	c.MaxIdleConns = 5
	return c
}

// SQLiteConfig returns a configuration for the SQLite file at path.
func SQLiteConfig(path string) Config {
	c := DefaultConfig()
	c.Path = path
	return c
}

// Validate checks the configuration for common errors
func (c *Config) Validate() error {
	switch c.Driver {
	case "postgres", "postgresql":
		c.Driver = DriverPostgres
	case "sqlite", "sqlite3":
		c.Driver = DriverSQLite
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}

	if c.Driver == DriverSQLite {
		if c.Path == "" {
			return ErrMissingPath
		}
	} else if c.ConnectionString == "" {
		if c.Host == "" {
			return ErrMissingHost
		}
		if c.Port <= 0 || c.Port > 65535 {
			return ErrInvalidPort
		}
		if c.Database == "" {
			return ErrMissingDatabase
		}
		if c.Username == "" {
			return ErrMissingUsername
		}
		switch c.SSLMode {
		case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("invalid SSL mode: %s", c.SSLMode)
		}
	}

	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection pool sizes must be non-negative")
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return nil
}

// BuildConnectionString returns the data source name for the driver.
func (c *Config) BuildConnectionString() (string, error) {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == ":memory:" {
			return c.Path, nil
		}
		return "file:" + c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case DriverPostgres:
		if c.ConnectionString != "" {
			return c.ConnectionString, nil
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Database,
		}
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}
