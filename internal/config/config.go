package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7433"
	DefaultLogLevel    = "debug"
	DefaultDBFileName  = ".tally.db"
	DefaultBlobDirName = ".tally-blobs"
	ConfigFileName     = ".tally.toml"

	DefaultDatabaseDriver = "sqlite"
	DefaultBlobBackend    = "local"

	DefaultLogMaxSizeMB   = 50
	DefaultLogMaxBackups  = 5
	DefaultLogMaxAgeDays  = 28
	DefaultMaxNameLength  = 128
	DefaultGCBatchSize    = 500
	DefaultGCQueue        = "memory"
	DefaultGCRedisKey     = "tally:gc:orphaned"
	DefaultGCInterval     = time.Hour
	DefaultGCDrainPeriod  = 10 * time.Second
	DefaultMaxUploadBytes = int64(100 << 20)
	DefaultMultipartBytes = int64(8 << 20)

	configDirEnvKey          = "TALLY_CONFIG_DIR"
	trustProjectConfigEnvKey = "TALLY_TRUST_PROJECT_CONFIG"
)

// DefaultAllowedMediaTypes is the upload allow-list used when none is configured.
var DefaultAllowedMediaTypes = []string{
	"application/pdf",
	"image/gif",
	"image/jpeg",
	"image/png",
	"image/webp",
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	URL    string `toml:"url"`
}

// BlobStoreConfig selects where physical bytes live. S3 credentials are
// read from the environment only.
type BlobStoreConfig struct {
	Backend           string `toml:"backend"`
	Root              string `toml:"root"`
	S3Bucket          string `toml:"s3_bucket"`
	S3Prefix          string `toml:"s3_prefix"`
	S3Region          string `toml:"s3_region"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3PathStyle       bool   `toml:"s3_path_style"`
	S3AccessKeyID     string `toml:"-"`
	S3SecretAccessKey string `toml:"-"`
}

// AttachmentConfig defines caller-side limits for uploads.
type AttachmentConfig struct {
	MaxUploadBytes     int64    `toml:"max_upload_bytes"`
	MultipartMaxMemory int64    `toml:"multipart_max_memory"`
	AllowedMediaTypes  []string `toml:"allowed_media_types"`
	MaxNameLength      int      `toml:"max_name_length"`
}

// GCConfig tunes the blob garbage collector.
type GCConfig struct {
	Interval            string  `toml:"interval"`
	DrainInterval       string  `toml:"drain_interval"`
	BatchSize           int     `toml:"batch_size"`
	MaxDeletesPerSecond float64 `toml:"max_deletes_per_second"`
	Queue               string  `toml:"queue"`
	RedisAddr           string  `toml:"redis_addr"`
	RedisKey            string  `toml:"redis_key"`
}

// SweepInterval returns the parsed full-sweep period.
func (g GCConfig) SweepInterval() time.Duration {
	return parseDurationOr(g.Interval, DefaultGCInterval)
}

// DrainPeriod returns the parsed worklist drain period.
func (g GCConfig) DrainPeriod() time.Duration {
	return parseDurationOr(g.DrainInterval, DefaultGCDrainPeriod)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Config defines runtime configuration for tally.
type Config struct {
	APIURL        string `toml:"api_url"`
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`

	Database    DatabaseConfig   `toml:"database"`
	BlobStore   BlobStoreConfig  `toml:"blobstore"`
	Attachments AttachmentConfig `toml:"attachments"`
	GC          GCConfig         `toml:"gc"`
	Metrics     MetricsConfig    `toml:"metrics"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:        DefaultAPIURL,
		LogLevel:      DefaultLogLevel,
		LogMaxSizeMB:  DefaultLogMaxSizeMB,
		LogMaxBackups: DefaultLogMaxBackups,
		LogMaxAgeDays: DefaultLogMaxAgeDays,
		Database: DatabaseConfig{
			Driver: DefaultDatabaseDriver,
		},
		BlobStore: BlobStoreConfig{
			Backend: DefaultBlobBackend,
		},
		Attachments: AttachmentConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			MultipartMaxMemory: DefaultMultipartBytes,
			MaxNameLength:      DefaultMaxNameLength,
		},
		GC: GCConfig{
			Interval:      DefaultGCInterval.String(),
			DrainInterval: DefaultGCDrainPeriod.String(),
			BatchSize:     DefaultGCBatchSize,
			Queue:         DefaultGCQueue,
			RedisKey:      DefaultGCRedisKey,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, ConfigFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"log_level",
	"log_file",
	"log_max_size_mb",
	"log_max_backups",
	"log_max_age_days",
	"database.driver",
	"database.path",
	"database.url",
	"blobstore.backend",
	"blobstore.root",
	"blobstore.s3_bucket",
	"blobstore.s3_prefix",
	"blobstore.s3_region",
	"blobstore.s3_endpoint",
	"blobstore.s3_path_style",
	"attachments.max_upload_bytes",
	"attachments.multipart_max_memory",
	"attachments.allowed_media_types",
	"attachments.max_name_length",
	"gc.interval",
	"gc.drain_interval",
	"gc.batch_size",
	"gc.max_deletes_per_second",
	"gc.queue",
	"gc.redis_addr",
	"gc.redis_key",
	"metrics.enabled",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_file":
		return c.LogFile, nil
	case "log_max_size_mb":
		return strconv.Itoa(c.LogMaxSizeMB), nil
	case "log_max_backups":
		return strconv.Itoa(c.LogMaxBackups), nil
	case "log_max_age_days":
		return strconv.Itoa(c.LogMaxAgeDays), nil
	case "database.driver":
		return c.Database.Driver, nil
	case "database.path":
		return c.Database.Path, nil
	case "database.url":
		return c.Database.URL, nil
	case "blobstore.backend":
		return c.BlobStore.Backend, nil
	case "blobstore.root":
		return c.BlobStore.Root, nil
	case "blobstore.s3_bucket":
		return c.BlobStore.S3Bucket, nil
	case "blobstore.s3_prefix":
		return c.BlobStore.S3Prefix, nil
	case "blobstore.s3_region":
		return c.BlobStore.S3Region, nil
	case "blobstore.s3_endpoint":
		return c.BlobStore.S3Endpoint, nil
	case "blobstore.s3_path_style":
		return strconv.FormatBool(c.BlobStore.S3PathStyle), nil
	case "attachments.max_upload_bytes":
		return strconv.FormatInt(c.Attachments.MaxUploadBytes, 10), nil
	case "attachments.multipart_max_memory":
		return strconv.FormatInt(c.Attachments.MultipartMaxMemory, 10), nil
	case "attachments.allowed_media_types":
		return strings.Join(c.Attachments.AllowedMediaTypes, ","), nil
	case "attachments.max_name_length":
		return strconv.Itoa(c.Attachments.MaxNameLength), nil
	case "gc.interval":
		return c.GC.Interval, nil
	case "gc.drain_interval":
		return c.GC.DrainInterval, nil
	case "gc.batch_size":
		return strconv.Itoa(c.GC.BatchSize), nil
	case "gc.max_deletes_per_second":
		return strconv.FormatFloat(c.GC.MaxDeletesPerSecond, 'f', -1, 64), nil
	case "gc.queue":
		return c.GC.Queue, nil
	case "gc.redis_addr":
		return c.GC.RedisAddr, nil
	case "gc.redis_key":
		return c.GC.RedisKey, nil
	case "metrics.enabled":
		return strconv.FormatBool(c.Metrics.Enabled), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, ConfigFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, ConfigFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, ConfigFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if apiURL := os.Getenv("TALLY_API_URL"); apiURL != "" {
		c.APIURL = apiURL
	}
	if level := strings.TrimSpace(os.Getenv("TALLY_LOG_LEVEL")); level != "" {
		c.LogLevel = level
	}
	if dbPath := os.Getenv("TALLY_DB"); dbPath != "" {
		c.Database.Path = dbPath
	}
	if dbURL := os.Getenv("TALLY_DATABASE_URL"); dbURL != "" {
		c.Database.URL = dbURL
		if os.Getenv("TALLY_DB") == "" {
			c.Database.Driver = "postgres"
		}
	}
	if root := os.Getenv("TALLY_BLOB_ROOT"); root != "" {
		c.BlobStore.Root = root
	}
	c.BlobStore.S3AccessKeyID = strings.TrimSpace(os.Getenv("TALLY_S3_ACCESS_KEY_ID"))
	c.BlobStore.S3SecretAccessKey = strings.TrimSpace(os.Getenv("TALLY_S3_SECRET_ACCESS_KEY"))
	if raw := strings.TrimSpace(os.Getenv("TALLY_ATTACH_ALLOWED_MEDIA_TYPES")); raw != "" {
		c.Attachments.AllowedMediaTypes = splitCSV(raw)
	}
	if addr := strings.TrimSpace(os.Getenv("TALLY_REDIS_ADDR")); addr != "" {
		c.GC.RedisAddr = addr
	}
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.LogMaxBackups < 0 {
		c.LogMaxBackups = 0
	}
	if c.LogMaxAgeDays < 0 {
		c.LogMaxAgeDays = 0
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Path == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.Database.Path = filepath.Join(cwd, DefaultDBFileName)
		}
	}

	c.BlobStore.Backend = strings.ToLower(strings.TrimSpace(c.BlobStore.Backend))
	if c.BlobStore.Backend == "" {
		c.BlobStore.Backend = DefaultBlobBackend
	}
	if c.BlobStore.Root == "" && c.Database.Path != "" {
		c.BlobStore.Root = filepath.Join(filepath.Dir(c.Database.Path), DefaultBlobDirName)
	}

	if c.Attachments.MaxUploadBytes <= 0 {
		c.Attachments.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Attachments.MultipartMaxMemory <= 0 {
		c.Attachments.MultipartMaxMemory = DefaultMultipartBytes
	}
	if c.Attachments.MaxNameLength <= 0 {
		c.Attachments.MaxNameLength = DefaultMaxNameLength
	}
	c.Attachments.AllowedMediaTypes = normalizeConfiguredMediaTypes(c.Attachments.AllowedMediaTypes)
	if len(c.Attachments.AllowedMediaTypes) == 0 {
		c.Attachments.AllowedMediaTypes = append([]string(nil), DefaultAllowedMediaTypes...)
	}

	if c.GC.BatchSize <= 0 {
		c.GC.BatchSize = DefaultGCBatchSize
	}
	if c.GC.MaxDeletesPerSecond < 0 {
		c.GC.MaxDeletesPerSecond = 0
	}
	c.GC.Queue = strings.ToLower(strings.TrimSpace(c.GC.Queue))
	if c.GC.Queue == "" {
		c.GC.Queue = DefaultGCQueue
	}
	if c.GC.RedisKey == "" {
		c.GC.RedisKey = DefaultGCRedisKey
	}
}

// Validate reports settings that cannot be served.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.BlobStore.Backend {
	case "local":
	case "s3":
		if strings.TrimSpace(c.BlobStore.S3Bucket) == "" {
			return fmt.Errorf("blobstore.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported blobstore.backend %q", c.BlobStore.Backend)
	}
	switch c.GC.Queue {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.GC.RedisAddr) == "" {
			return fmt.Errorf("gc.redis_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("unsupported gc.queue %q", c.GC.Queue)
	}
	if _, err := time.ParseDuration(c.GC.Interval); c.GC.Interval != "" && err != nil {
		return fmt.Errorf("invalid gc.interval: %w", err)
	}
	if _, err := time.ParseDuration(c.GC.DrainInterval); c.GC.DrainInterval != "" && err != nil {
		return fmt.Errorf("invalid gc.drain_interval: %w", err)
	}
	return nil
}

// DatabaseTarget returns the file path or URL for the configured driver.
func (c *Config) DatabaseTarget() string {
	if c.Database.Driver == "postgres" {
		return c.Database.URL
	}
	return c.Database.Path
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "attachments.max_upload_bytes", "attachments.multipart_max_memory":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "attachments.max_name_length", "gc.batch_size", "log_max_size_mb":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return int64(parsed), nil
	case "log_max_backups", "log_max_age_days":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return int64(parsed), nil
	case "gc.max_deletes_per_second":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative number", key)
		}
		return parsed, nil
	case "gc.interval", "gc.drain_interval":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 30m", key)
		}
		return parsed.String(), nil
	case "blobstore.s3_path_style", "metrics.enabled":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "database.driver":
		value = strings.ToLower(value)
		if value != "sqlite" && value != "postgres" {
			return nil, fmt.Errorf("%s must be sqlite or postgres", key)
		}
		return value, nil
	case "blobstore.backend":
		value = strings.ToLower(value)
		if value != "local" && value != "s3" {
			return nil, fmt.Errorf("%s must be local or s3", key)
		}
		return value, nil
	case "gc.queue":
		value = strings.ToLower(value)
		if value != "memory" && value != "redis" {
			return nil, fmt.Errorf("%s must be memory or redis", key)
		}
		return value, nil
	case "attachments.allowed_media_types":
		return splitCSV(value), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func normalizeConfiguredMediaTypes(rawValues []string) []string {
	if len(rawValues) == 0 {
		return nil
	}
	out := make([]string, 0, len(rawValues))
	seen := map[string]struct{}{}
	for _, raw := range rawValues {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(parsed))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
