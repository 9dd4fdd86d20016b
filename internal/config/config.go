// Package config provides configuration loading and management for the mirror synchronizer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/inventory-mirror/internal/telemetry"
)

// EnvPrefix is the prefix of every environment variable read by the application
const EnvPrefix = "INVENTORY_MIRROR"

const (
	// AuthInstancePrincipal authenticates with the instance principal of the host
	AuthInstancePrincipal = "instance_principal"

	// AuthConfigFile authenticates with a profile of an OCI config file
	AuthConfigFile = "config_file"
)

const (
	// DriverPostgres mirrors into PostgreSQL
	DriverPostgres = "postgres"

	// DriverMySQL mirrors into MySQL
	DriverMySQL = "mysql"

	// DriverMemory mirrors into process memory and persists nothing
	DriverMemory = "memory"
)

const (
	// HistoryStorageDatabase keeps run history in the migrated PostgreSQL tables
	HistoryStorageDatabase = "database"

	// HistoryStorageFile keeps the latest run report in a status file
	HistoryStorageFile = "file"
)

const (
	// DefaultSyncInterval is used by serve when sync.interval is not set
	DefaultSyncInterval = time.Hour

	// DefaultStatusDir is where file-based run history is written
	DefaultStatusDir = "./data/status"

	// DefaultRequestsPerSecond paces upstream calls when upstream.requestsPerSecond is not set
	DefaultRequestsPerSecond = 5.0
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// TenancyID is the OCID of the tenancy to mirror
	TenancyID string `yaml:"tenancyId"`

	// Regions are processed one after another in this order
	Regions []string `yaml:"regions"`

	Upstream  *UpstreamConfig   `yaml:"upstream,omitempty"`
	Retry     *RetryConfig      `yaml:"retry,omitempty"`
	Sync      *SyncConfig       `yaml:"sync"`
	Mirror    *MirrorConfig     `yaml:"mirror,omitempty"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	History   *HistoryConfig    `yaml:"history,omitempty"`
	Lock      *LockConfig       `yaml:"lock,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// UpstreamConfig defines how the OCI APIs are reached
type UpstreamConfig struct {
	// Auth is either instance_principal (default) or config_file
	Auth string `yaml:"auth,omitempty"`

	// ConfigFile is the OCI config file used with config_file auth.
	// Defaults to ~/.oci/config.
	ConfigFile string `yaml:"configFile,omitempty"`

	// Profile selects the config file profile. Defaults to DEFAULT.
	Profile string `yaml:"profile,omitempty"`

	// RequestsPerSecond paces every upstream call
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`

	// Burst is the number of calls allowed above the steady rate
	Burst int `yaml:"burst,omitempty"`
}

// RetryConfig tunes the backoff applied to throttled upstream calls
type RetryConfig struct {
	MaxAttempts     uint   `yaml:"maxAttempts,omitempty"`
	InitialInterval string `yaml:"initialInterval,omitempty"`
	MaxInterval     string `yaml:"maxInterval,omitempty"`
	MaxElapsedTime  string `yaml:"maxElapsedTime,omitempty"`
}

// SyncConfig defines what is mirrored and how often
type SyncConfig struct {
	// Interval between scheduled runs in serve mode (e.g., "30m", "1h")
	Interval string `yaml:"interval,omitempty"`

	// Kinds are processed in this order within each region
	Kinds []KindConfig `yaml:"kinds"`
}

// KindConfig selects one resource kind to mirror
type KindConfig struct {
	// Name is the resource kind, as listed by the kinds command
	Name string `yaml:"name"`

	// Parents are the parent resource ids of parent-scoped kinds
	Parents []string `yaml:"parents,omitempty"`

	// Lookback limits backup kinds to entries newer than this duration
	Lookback string `yaml:"lookback,omitempty"`
}

// MirrorConfig selects the mirror backend
type MirrorConfig struct {
	// Driver is postgres (default), mysql or memory
	Driver string `yaml:"driver,omitempty"`

	// TablePrefix is prepended to every mirror table name
	TablePrefix string `yaml:"tablePrefix,omitempty"`
}

// HistoryConfig selects where run reports are kept
type HistoryConfig struct {
	// Storage is database or file. Defaults to database with the postgres driver
	// and to file otherwise.
	Storage string `yaml:"storage,omitempty"`

	// StatusDir is the directory of the latest report files
	StatusDir string `yaml:"statusDir,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ApplyOverrides replaces the tenancy and regions with non-empty values from flags or env
func (c *Config) ApplyOverrides(tenancyID string, regions []string) error {
	if tenancyID != "" {
		c.TenancyID = tenancyID
	}
	if len(regions) > 0 {
		c.Regions = regions
	}
	return c.validate()
}

// GetSyncInterval returns the scheduled run interval
func (c *Config) GetSyncInterval() time.Duration {
	if c.Sync == nil || c.Sync.Interval == "" {
		return DefaultSyncInterval
	}
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return DefaultSyncInterval
	}
	return d
}

// GetMirrorDriver returns the mirror driver, defaulting to postgres
func (c *Config) GetMirrorDriver() string {
	if c.Mirror == nil || c.Mirror.Driver == "" {
		return DriverPostgres
	}
	return c.Mirror.Driver
}

// GetTablePrefix returns the configured mirror table prefix
func (c *Config) GetTablePrefix() string {
	if c.Mirror == nil {
		return ""
	}
	return c.Mirror.TablePrefix
}

// GetHistoryStorage returns where run reports are kept
func (c *Config) GetHistoryStorage() string {
	if c.History != nil && c.History.Storage != "" {
		return c.History.Storage
	}
	if c.GetMirrorDriver() == DriverPostgres {
		return HistoryStorageDatabase
	}
	return HistoryStorageFile
}

// GetStatusDir returns the directory of the latest report files
func (c *Config) GetStatusDir() string {
	if c.History == nil || c.History.StatusDir == "" {
		return DefaultStatusDir
	}
	return c.History.StatusDir
}

// GetAuth returns the upstream auth mode, defaulting to instance principal
func (u *UpstreamConfig) GetAuth() string {
	if u == nil || u.Auth == "" {
		return AuthInstancePrincipal
	}
	return u.Auth
}

// GetRequestsPerSecond returns the upstream pacing rate
func (u *UpstreamConfig) GetRequestsPerSecond() float64 {
	if u == nil || u.RequestsPerSecond <= 0 {
		return DefaultRequestsPerSecond
	}
	return u.RequestsPerSecond
}

// GetBurst returns the upstream burst size, at least 1
func (u *UpstreamConfig) GetBurst() int {
	if u == nil || u.Burst <= 0 {
		return 1
	}
	return u.Burst
}

// GetLookback returns the parsed lookback, or zero when unset
func (k *KindConfig) GetLookback() time.Duration {
	if k.Lookback == "" {
		return 0
	}
	d, err := time.ParseDuration(k.Lookback)
	if err != nil {
		return 0
	}
	return d
}

// KindNames returns the configured kind names in order
func (c *Config) KindNames() []string {
	if c.Sync == nil {
		return nil
	}
	names := make([]string, 0, len(c.Sync.Kinds))
	for _, k := range c.Sync.Kinds {
		names = append(names, k.Name)
	}
	return names
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.TenancyID == "" {
		return fmt.Errorf("tenancyId is required")
	}

	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region must be configured")
	}
	seenRegions := make(map[string]bool, len(c.Regions))
	for i, r := range c.Regions {
		if r == "" {
			return fmt.Errorf("regions[%d]: region is empty", i)
		}
		if seenRegions[r] {
			return fmt.Errorf("regions[%d]: duplicate region '%s'", i, r)
		}
		seenRegions[r] = true
	}

	if err := c.Upstream.validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := c.Retry.validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.Lock.validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (u *UpstreamConfig) validate() error {
	if u == nil {
		return nil
	}
	switch u.GetAuth() {
	case AuthInstancePrincipal, AuthConfigFile:
	default:
		return fmt.Errorf("auth must be %s or %s, got %s", AuthInstancePrincipal, AuthConfigFile, u.Auth)
	}
	if u.RequestsPerSecond < 0 {
		return fmt.Errorf("requestsPerSecond must not be negative")
	}
	if u.Burst < 0 {
		return fmt.Errorf("burst must not be negative")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r == nil {
		return nil
	}
	for name, value := range map[string]string{
		"initialInterval": r.InitialInterval,
		"maxInterval":     r.MaxInterval,
		"maxElapsedTime":  r.MaxElapsedTime,
	} {
		if err := validateOptionalDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s == nil || len(s.Kinds) == 0 {
		return fmt.Errorf("at least one kind must be configured")
	}

	if err := validateOptionalDuration(s.Interval); err != nil {
		return fmt.Errorf("interval must be a valid duration (e.g., '30m', '1h'): %w", err)
	}

	names := make(map[string]bool, len(s.Kinds))
	for i, k := range s.Kinds {
		if k.Name == "" {
			return fmt.Errorf("kinds[%d]: name is required", i)
		}
		if names[k.Name] {
			return fmt.Errorf("kinds[%d]: duplicate kind '%s'", i, k.Name)
		}
		names[k.Name] = true

		if err := validateOptionalDuration(k.Lookback); err != nil {
			return fmt.Errorf("kinds[%d] (%s): lookback: %w", i, k.Name, err)
		}
		for j, p := range k.Parents {
			if p == "" {
				return fmt.Errorf("kinds[%d] (%s): parents[%d] is empty", i, k.Name, j)
			}
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	driver := c.GetMirrorDriver()
	switch driver {
	case DriverPostgres, DriverMySQL:
		if c.Database == nil {
			return fmt.Errorf("mirror: database configuration is required for driver %s", driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("mirror: driver must be one of %s, %s or %s, got %s",
			DriverPostgres, DriverMySQL, DriverMemory, driver)
	}

	switch c.GetHistoryStorage() {
	case HistoryStorageDatabase:
		if driver != DriverPostgres {
			return fmt.Errorf("history: database storage requires the %s mirror driver", DriverPostgres)
		}
	case HistoryStorageFile:
	default:
		return fmt.Errorf("history: storage must be %s or %s, got %s",
			HistoryStorageDatabase, HistoryStorageFile, c.History.Storage)
	}

	if c.Database != nil && c.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("database: connMaxLifetime must be a valid duration: %w", err)
		}
	}
	return nil
}

func validateOptionalDuration(value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

// GetInitialInterval returns the first backoff wait, or zero to use the policy default
func (r *RetryConfig) GetInitialInterval() time.Duration {
	if r == nil {
		return 0
	}
	return parseDurationOrZero(r.InitialInterval)
}

// GetMaxInterval returns the backoff cap, or zero to use the policy default
func (r *RetryConfig) GetMaxInterval() time.Duration {
	if r == nil {
		return 0
	}
	return parseDurationOrZero(r.MaxInterval)
}

// GetMaxElapsedTime returns the total retry budget, or zero to use the policy default
func (r *RetryConfig) GetMaxElapsedTime() time.Duration {
	if r == nil {
		return 0
	}
	return parseDurationOrZero(r.MaxElapsedTime)
}

// GetMaxAttempts returns the attempt limit, or zero to use the policy default
func (r *RetryConfig) GetMaxAttempts() uint {
	if r == nil {
		return 0
	}
	return r.MaxAttempts
}

func parseDurationOrZero(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
