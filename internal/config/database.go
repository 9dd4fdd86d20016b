package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	// DatabasePasswordEnv is read when no password file is configured
	DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

	// LockPasswordEnv is read when no lock password file is configured
	LockPasswordEnv = EnvPrefix + "_LOCK_PASSWORD"

	// DefaultLockTTL bounds how long a crashed run can hold the lock
	DefaultLockTTL = 30 * time.Minute
)

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	// MySQL connections use TLS unless it is disable.
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// LockConfig defines the optional Redis run lock
type LockConfig struct {
	Enabled bool `yaml:"enabled"`

	// Address is the Redis host:port
	Address string `yaml:"address"`

	DB int `yaml:"db,omitempty"`

	// PasswordFile is the path to a file containing the Redis password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// TTL is how long the lock is held before it must be refreshed (e.g., "30m")
	TTL string `yaml:"ttl,omitempty"`

	// KeyPrefix is prepended to the per-tenancy lock key
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from INVENTORY_MIRROR_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	return readSecret(d.PasswordFile, DatabasePasswordEnv, "database password")
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetMySQLDSN builds a go-sql-driver/mysql DSN. Times are parsed into time.Time in UTC.
func (d *DatabaseConfig) GetMySQLDSN() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	port := d.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", d.Host, port)
	cfg.DBName = d.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if d.SSLMode != "" && d.SSLMode != "disable" {
		cfg.TLSConfig = "true"
	}

	return cfg.FormatDSN(), nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return parseDurationOrZero(d.ConnMaxLifetime)
}

// GetPassword returns the Redis password from PasswordFile or INVENTORY_MIRROR_LOCK_PASSWORD.
// An unset password is allowed.
func (l *LockConfig) GetPassword() (string, error) {
	if l.PasswordFile == "" && os.Getenv(LockPasswordEnv) == "" {
		return "", nil
	}
	return readSecret(l.PasswordFile, LockPasswordEnv, "lock password")
}

// GetTTL returns the lock TTL
func (l *LockConfig) GetTTL() time.Duration {
	if d := parseDurationOrZero(l.TTL); d > 0 {
		return d
	}
	return DefaultLockTTL
}

// GetKeyPrefix returns the lock key prefix
func (l *LockConfig) GetKeyPrefix() string {
	if l.KeyPrefix == "" {
		return "inventory-mirror:run:"
	}
	return l.KeyPrefix
}

func (l *LockConfig) validate() error {
	if l == nil || !l.Enabled {
		return nil
	}
	if l.Address == "" {
		return fmt.Errorf("address is required when the lock is enabled")
	}
	if err := validateOptionalDuration(l.TTL); err != nil {
		return fmt.Errorf("ttl: %w", err)
	}
	return nil
}

func readSecret(passwordFile, envVar, what string) (string, error) {
	// Priority 1: Read from file if specified
	if passwordFile != "" {
		cleanPath := filepath.Clean(passwordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", passwordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	// Priority 2: Check environment variable
	if envPassword := os.Getenv(envVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf("no %s configured: set passwordFile or %s environment variable", what, envVar)
}
