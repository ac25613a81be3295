package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"

	"github.com/espen/blobmigrate/internal/placement"
)

const (
	DefaultSettleWindow   = 24 * time.Hour
	DefaultSegmentSize    = "5G"
	DefaultPoolCapacity   = 10
	DefaultAddress        = ":5554"
	DefaultSwiftTimeout   = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMetadataTable  = "content"
	DefaultLogFormat      = "text"
	DefaultLogLevel       = "info"

	envPrefix = "BLOBMIGRATE_"

	// MaxSegmentSize is the largest single object Swift accepts
	MaxSegmentSize = 5 * 1024 * 1024 * 1024
)

// Keys accepted by Require
const (
	KeyLegacyRoot   = "legacy.root"
	KeySwiftAuthURL = "swift.auth_url"
	KeyMetadataDSN  = "metadata.dsn"
)

type Legacy struct {
	Root         string `yaml:"root"`
	SettleWindow string `yaml:"settle_window"`
	MarkMigrated bool   `yaml:"mark_migrated"`
}

// GetSettleWindow returns how old a file must be before it is migrated
func (l *Legacy) GetSettleWindow() time.Duration {
	return parseDuration(l.SettleWindow, DefaultSettleWindow)
}

type Swift struct {
	AuthURL        string `yaml:"auth_url"`
	Username       string `yaml:"username"`
	APIKey         string `yaml:"api_key"`
	Tenant         string `yaml:"tenant"`
	Domain         string `yaml:"domain"`
	Region         string `yaml:"region"`
	AuthVersion    int    `yaml:"auth_version"` // 0 autodetects from the URL
	Timeout        string `yaml:"timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
}

// GetTimeout returns the per-request timeout for object store calls
func (s *Swift) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, DefaultSwiftTimeout)
}

// GetConnectTimeout returns the dial timeout for object store connections
func (s *Swift) GetConnectTimeout() time.Duration {
	return parseDuration(s.ConnectTimeout, DefaultConnectTimeout)
}

type Placement struct {
	ContainerPrefix string `yaml:"container_prefix"`
	ShardSize       uint64 `yaml:"shard_size"`
}

// Scheme returns the placement scheme described by the configuration
func (p *Placement) Scheme() placement.Scheme {
	return placement.Scheme{ContainerPrefix: p.ContainerPrefix, ShardSize: p.ShardSize}
}

type Upload struct {
	SegmentSize string `yaml:"segment_size"` // human readable, e.g. "5G" or "512M"
	MaxSegments int    `yaml:"max_segments"`
}

// GetSegmentSize returns the segment ceiling in bytes
func (u *Upload) GetSegmentSize() int64 {
	n, err := parseSize(u.SegmentSize)
	if err != nil {
		n, _ = parseSize(DefaultSegmentSize)
	}
	return n
}

type Pool struct {
	Capacity int `yaml:"capacity"`
}

type Metadata struct {
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	IDColumn   string `yaml:"id_column"`
	MD5Column  string `yaml:"md5_column"`
	SizeColumn string `yaml:"size_column"`
}

type Server struct {
	Address string `yaml:"address"`
}

type MetricsAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled returns true if metrics authentication is configured
func (m *MetricsAuth) Enabled() bool {
	return m.Username != "" && m.Password != ""
}

type Log struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type Config struct {
	Legacy      Legacy      `yaml:"legacy"`
	Swift       Swift       `yaml:"swift"`
	Placement   Placement   `yaml:"placement"`
	Upload      Upload      `yaml:"upload"`
	Pool        Pool        `yaml:"pool"`
	Metadata    Metadata    `yaml:"metadata"`
	Server      Server      `yaml:"server"`
	MetricsAuth MetricsAuth `yaml:"metrics_auth"`
	Log         Log         `yaml:"log"`
}

// Default returns a configuration with every optional setting filled in.
func Default() *Config {
	return &Config{
		Legacy: Legacy{
			SettleWindow: DefaultSettleWindow.String(),
		},
		Swift: Swift{
			Timeout:        DefaultSwiftTimeout.String(),
			ConnectTimeout: DefaultConnectTimeout.String(),
		},
		Placement: Placement{
			ContainerPrefix: placement.DefaultContainerPrefix,
			ShardSize:       placement.DefaultShardSize,
		},
		Upload: Upload{
			SegmentSize: DefaultSegmentSize,
			MaxSegments: placement.MaxSegments,
		},
		Pool: Pool{Capacity: DefaultPoolCapacity},
		Metadata: Metadata{
			Table:      DefaultMetadataTable,
			IDColumn:   "id",
			MD5Column:  "md5",
			SizeColumn: "size",
		},
		Server: Server{Address: DefaultAddress},
		Log:    Log{Format: DefaultLogFormat, Level: DefaultLogLevel},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
// Environment variables:
//   - BLOBMIGRATE_LEGACY_ROOT: Legacy store root directory
//   - BLOBMIGRATE_SETTLE_WINDOW: Minimum file age before migration (default: "24h")
//   - BLOBMIGRATE_MARK_MIGRATED: Rename migrated files to *.migrated (default: "false")
//   - BLOBMIGRATE_SWIFT_AUTH_URL: Keystone or Swift auth endpoint
//   - BLOBMIGRATE_SWIFT_USERNAME, BLOBMIGRATE_SWIFT_API_KEY: Object store credentials
//   - BLOBMIGRATE_SWIFT_TENANT, BLOBMIGRATE_SWIFT_DOMAIN, BLOBMIGRATE_SWIFT_REGION: Keystone scope
//   - BLOBMIGRATE_SWIFT_AUTH_VERSION: 1, 2 or 3 (default: autodetect)
//   - BLOBMIGRATE_SWIFT_TIMEOUT: Object store request timeout (default: "60s")
//   - BLOBMIGRATE_CONTAINER_PREFIX: Container name prefix (default: "blobs_")
//   - BLOBMIGRATE_SHARD_SIZE: Ids per container (default: 500000)
//   - BLOBMIGRATE_SEGMENT_SIZE: Large object segment size (default: "5G")
//   - BLOBMIGRATE_POOL_CAPACITY: Idle object store connections kept (default: 10)
//   - BLOBMIGRATE_METADATA_DSN: PostgreSQL connection string
//   - BLOBMIGRATE_LISTEN_ADDRESS: Read-back server address (default: ":5554")
//   - BLOBMIGRATE_METRICS_USERNAME, BLOBMIGRATE_METRICS_PASSWORD: /metrics basic auth (optional)
//   - BLOBMIGRATE_LOG_FORMAT, BLOBMIGRATE_LOG_LEVEL: Logging (default: "text", "info")
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Legacy.Root = getEnvOrDefault("LEGACY_ROOT", c.Legacy.Root)
	c.Legacy.SettleWindow = getEnvOrDefault("SETTLE_WINDOW", c.Legacy.SettleWindow)
	if v := os.Getenv(envPrefix + "MARK_MIGRATED"); v != "" {
		c.Legacy.MarkMigrated = v == "true" || v == "1"
	}

	c.Swift.AuthURL = getEnvOrDefault("SWIFT_AUTH_URL", c.Swift.AuthURL)
	c.Swift.Username = getEnvOrDefault("SWIFT_USERNAME", c.Swift.Username)
	c.Swift.APIKey = getEnvOrDefault("SWIFT_API_KEY", c.Swift.APIKey)
	c.Swift.Tenant = getEnvOrDefault("SWIFT_TENANT", c.Swift.Tenant)
	c.Swift.Domain = getEnvOrDefault("SWIFT_DOMAIN", c.Swift.Domain)
	c.Swift.Region = getEnvOrDefault("SWIFT_REGION", c.Swift.Region)
	c.Swift.AuthVersion = int(parseEnvInt64("SWIFT_AUTH_VERSION", int64(c.Swift.AuthVersion)))
	c.Swift.Timeout = getEnvOrDefault("SWIFT_TIMEOUT", c.Swift.Timeout)

	c.Placement.ContainerPrefix = getEnvOrDefault("CONTAINER_PREFIX", c.Placement.ContainerPrefix)
	c.Placement.ShardSize = uint64(parseEnvInt64("SHARD_SIZE", int64(c.Placement.ShardSize)))
	c.Upload.SegmentSize = getEnvOrDefault("SEGMENT_SIZE", c.Upload.SegmentSize)
	c.Pool.Capacity = int(parseEnvInt64("POOL_CAPACITY", int64(c.Pool.Capacity)))

	c.Metadata.DSN = getEnvOrDefault("METADATA_DSN", c.Metadata.DSN)

	c.Server.Address = getEnvOrDefault("LISTEN_ADDRESS", c.Server.Address)
	c.MetricsAuth.Username = getEnvOrDefault("METRICS_USERNAME", c.MetricsAuth.Username)
	c.MetricsAuth.Password = getEnvOrDefault("METRICS_PASSWORD", c.MetricsAuth.Password)

	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func parseEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Legacy.SettleWindow); err != nil {
		return fmt.Errorf("legacy.settle_window: %w", err)
	}
	if c.Legacy.GetSettleWindow() < 0 {
		return fmt.Errorf("legacy.settle_window must not be negative")
	}
	if _, err := time.ParseDuration(c.Swift.Timeout); err != nil {
		return fmt.Errorf("swift.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Swift.ConnectTimeout); err != nil {
		return fmt.Errorf("swift.connect_timeout: %w", err)
	}
	if c.Swift.AuthVersion < 0 || c.Swift.AuthVersion > 3 {
		return fmt.Errorf("swift.auth_version must be 0, 1, 2 or 3")
	}
	if c.Placement.ContainerPrefix == "" {
		return fmt.Errorf("placement.container_prefix is required")
	}
	if c.Placement.ShardSize == 0 {
		return fmt.Errorf("placement.shard_size must be positive")
	}

	size, err := parseSize(c.Upload.SegmentSize)
	if err != nil {
		return fmt.Errorf("upload.segment_size: %w", err)
	}
	if size < 1 || size > MaxSegmentSize {
		return fmt.Errorf("upload.segment_size must be between 1B and 5G")
	}
	if c.Upload.MaxSegments < 1 || c.Upload.MaxSegments > placement.MaxSegments {
		return fmt.Errorf("upload.max_segments must be between 1 and %d", placement.MaxSegments)
	}
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be positive")
	}
	if c.Metadata.Table == "" || c.Metadata.IDColumn == "" || c.Metadata.MD5Column == "" || c.Metadata.SizeColumn == "" {
		return fmt.Errorf("metadata table and column names are required")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if (c.MetricsAuth.Username == "") != (c.MetricsAuth.Password == "") {
		return fmt.Errorf("metrics_auth needs both username and password")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Require reports an error for each named key that is unset. Commands call
// it with the settings they need; locate, for example, needs no backend.
func (c *Config) Require(keys ...string) error {
	var errs []error
	for _, key := range keys {
		var value string
		switch key {
		case KeyLegacyRoot:
			value = c.Legacy.Root
		case KeySwiftAuthURL:
			value = c.Swift.AuthURL
		case KeyMetadataDSN:
			value = c.Metadata.DSN
		default:
			return fmt.Errorf("unknown config key %q", key)
		}
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	return errors.Join(errs...)
}

// LogConfiguration logs the effective configuration, excluding secret values
func (c *Config) LogConfiguration(logger *slog.Logger) {
	logger.Info("configuration",
		"legacy_root", c.Legacy.Root,
		"settle_window", c.Legacy.GetSettleWindow().String(),
		"mark_migrated", c.Legacy.MarkMigrated,
		"swift_auth_url", c.Swift.AuthURL,
		"swift_username", c.Swift.Username,
		"swift_tenant", c.Swift.Tenant,
		"swift_region", c.Swift.Region,
		"container_prefix", c.Placement.ContainerPrefix,
		"shard_size", c.Placement.ShardSize,
		"segment_size", bytefmt.ByteSize(uint64(c.Upload.GetSegmentSize())),
		"max_segments", c.Upload.MaxSegments,
		"pool_capacity", c.Pool.Capacity,
		"metadata_table", c.Metadata.Table,
		"metadata_dsn_set", c.Metadata.DSN != "",
		"server_address", c.Server.Address,
		"metrics_auth_enabled", c.MetricsAuth.Enabled(),
	)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// parseSize accepts a plain byte count or a bytefmt quantity such as "5G".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
