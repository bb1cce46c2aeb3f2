package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7433"
	DefaultDBFileName  = ".chatvault.db"
	DefaultLogLevel    = "info"
	ConfigFileName     = ".chatvault.toml"
	DefaultChunkDirRel = ".chatvault/chunks"

	BackendSQLite  = "sqlite"
	BackendLocalFS = "localfs"
	BackendBadger  = "badger"

	DefaultChunkSize                = 1 << 20
	DefaultMaxUploadBytes     int64 = 256 << 20
	DefaultMultipartMaxMemory int64 = 8 << 20
	DefaultCacheMaxEntries          = 256
	DefaultCacheTTL                 = 10 * time.Minute
	DefaultCacheMaxEntryBytes int64 = 32 << 20
	DefaultSubscriberBuffer         = 256

	maxChunkSize = 64 << 20

	configDirEnvKey = "CHATVAULT_CONFIG_DIR"
	apiURLEnvKey    = "CHATVAULT_API_URL"
	dbPathEnvKey    = "CHATVAULT_DB"
	logLevelEnvKey  = "CHATVAULT_LOG_LEVEL"
	backendEnvKey   = "CHATVAULT_STORAGE_BACKEND"
)

// StorageConfig selects where chunk payloads live. Blob metadata and the
// message log always stay in the SQLite database.
type StorageConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	ChunkSize int    `toml:"chunk_size"`
}

// UploadConfig bounds multipart uploads.
type UploadConfig struct {
	MaxUploadBytes     int64 `toml:"max_upload_bytes"`
	MultipartMaxMemory int64 `toml:"multipart_max_memory"`
}

// CacheConfig tunes the download cache.
type CacheConfig struct {
	MaxEntries    int           `toml:"max_entries"`
	TTL           time.Duration `toml:"ttl"`
	MaxEntryBytes int64         `toml:"max_entry_bytes"`
}

// BrokerConfig tunes event fan-out.
type BrokerConfig struct {
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Config defines runtime configuration for chatvault.
type Config struct {
	APIURL   string        `toml:"api_url"`
	DBPath   string        `toml:"db_path"`
	LogLevel string        `toml:"log_level"`
	Storage  StorageConfig `toml:"storage"`
	Uploads  UploadConfig  `toml:"uploads"`
	Cache    CacheConfig   `toml:"cache"`
	Broker   BrokerConfig  `toml:"broker"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		DBPath:   "",
		LogLevel: DefaultLogLevel,
		Storage: StorageConfig{
			Backend:   BackendSQLite,
			ChunkSize: DefaultChunkSize,
		},
		Uploads: UploadConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			MultipartMaxMemory: DefaultMultipartMaxMemory,
		},
		Cache: CacheConfig{
			MaxEntries:    DefaultCacheMaxEntries,
			TTL:           DefaultCacheTTL,
			MaxEntryBytes: DefaultCacheMaxEntryBytes,
		},
		Broker: BrokerConfig{
			SubscriberBuffer: DefaultSubscriberBuffer,
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

var allowedKeys = []string{
	"api_url",
	"db_path",
	"log_level",
	"storage.backend",
	"storage.dir",
	"storage.chunk_size",
	"uploads.max_upload_bytes",
	"uploads.multipart_max_memory",
	"cache.max_entries",
	"cache.ttl",
	"cache.max_entry_bytes",
	"broker.subscriber_buffer",
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
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "storage.backend":
		return c.Storage.Backend, nil
	case "storage.dir":
		return c.Storage.Dir, nil
	case "storage.chunk_size":
		return strconv.Itoa(c.Storage.ChunkSize), nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "uploads.multipart_max_memory":
		return strconv.FormatInt(c.Uploads.MultipartMaxMemory, 10), nil
	case "cache.max_entries":
		return strconv.Itoa(c.Cache.MaxEntries), nil
	case "cache.ttl":
		return c.Cache.TTL.String(), nil
	case "cache.max_entry_bytes":
		return strconv.FormatInt(c.Cache.MaxEntryBytes, 10), nil
	case "broker.subscriber_buffer":
		return strconv.Itoa(c.Broker.SubscriberBuffer), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// ChunkDir returns the directory used by the file-based chunk backends.
func (c *Config) ChunkDir() string {
	if dir := strings.TrimSpace(c.Storage.Dir); dir != "" {
		return dir
	}
	return filepath.Join(filepath.Dir(c.DBPath), DefaultChunkDirRel)
}

// Path returns the path to the config file.
func Path() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(configDirEnvKey)); dir != "" {
		return filepath.Join(dir, ConfigFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
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

// Load reads the config file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}

	if apiURL := os.Getenv(apiURLEnvKey); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if level := strings.TrimSpace(os.Getenv(logLevelEnvKey)); level != "" {
		cfg.LogLevel = level
	}
	if backend := strings.TrimSpace(os.Getenv(backendEnvKey)); backend != "" {
		cfg.Storage.Backend = backend
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "storage.backend":
		backend := strings.ToLower(value)
		if !isKnownBackend(backend) {
			return nil, fmt.Errorf("%s must be one of %s, %s, %s", key, BackendSQLite, BackendLocalFS, BackendBadger)
		}
		return backend, nil
	case "storage.chunk_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 || parsed > maxChunkSize {
			return nil, fmt.Errorf("%s must be between 1 and %d", key, maxChunkSize)
		}
		return parsed, nil
	case "uploads.max_upload_bytes", "uploads.multipart_max_memory", "cache.max_entry_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "cache.max_entries", "broker.subscriber_buffer":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "cache.ttl":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 10m", key)
		}
		return parsed.String(), nil
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

func isKnownBackend(backend string) bool {
	switch backend {
	case BackendSQLite, BackendLocalFS, BackendBadger:
		return true
	default:
		return false
	}
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if !isKnownBackend(c.Storage.Backend) {
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.ChunkSize <= 0 {
		c.Storage.ChunkSize = DefaultChunkSize
	}
	if c.Storage.ChunkSize > maxChunkSize {
		return fmt.Errorf("storage.chunk_size %d exceeds %d", c.Storage.ChunkSize, maxChunkSize)
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Uploads.MultipartMaxMemory <= 0 {
		c.Uploads.MultipartMaxMemory = DefaultMultipartMaxMemory
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxEntryBytes <= 0 {
		c.Cache.MaxEntryBytes = DefaultCacheMaxEntryBytes
	}
	if c.Broker.SubscriberBuffer <= 0 {
		c.Broker.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return nil
}
