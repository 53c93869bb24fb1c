// Package config loads and persists the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Data        DataConfig        `yaml:"data"`
	Search      SearchConfig      `yaml:"search"`
	Upload      UploadConfig      `yaml:"upload"`
	Offline     OfflineConfig     `yaml:"offline"`
	Requisition RequisitionConfig `yaml:"requisition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DataConfig struct {
	DBPath       string `yaml:"db_path"`
	StorageKey   string `yaml:"storage_key"`
	PreloadPath  string `yaml:"preload_path"`
	WatchPreload bool   `yaml:"watch_preload"`
	PreloadLabel string `yaml:"preload_label"`
}

type SearchConfig struct {
	MaxRows        int           `yaml:"max_rows"`
	Debounce       time.Duration `yaml:"debounce"`
	LookupDebounce time.Duration `yaml:"lookup_debounce"`
}

type UploadConfig struct {
	MaxSizeMB  int           `yaml:"max_size_mb"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type OfflineConfig struct {
	CacheVersion       string        `yaml:"cache_version"`
	Origin             string        `yaml:"origin"`
	SkipWaiting        bool          `yaml:"skip_waiting"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	InstallConcurrency int           `yaml:"install_concurrency"`
	Manifest           []string      `yaml:"manifest"`
}

type RequisitionConfig struct {
	Lines             int    `yaml:"lines"`
	LookupColumn      string `yaml:"lookup_column"`
	DescriptionColumn string `yaml:"description_column"`
	IDMaxLength       int    `yaml:"id_max_length"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, also writes JSON logs to a rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxDays    int    `yaml:"max_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultManifest is the page shell stored by the offline cache on install.
var DefaultManifest = []string{
	"./",
	"./index.html",
	"./styles.css",
	"./app.js",
	"./manifest.json",
	"./icon-192.png",
	"./icon-512.png",
	"https://cdnjs.cloudflare.com/ajax/libs/xlsx/0.18.5/xlsx.full.min.js",
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Data: DataConfig{
			DBPath:       "./data/ewmsearch.db",
			StorageKey:   "ewmSearchData",
			WatchPreload: true,
			PreloadLabel: "Dados do Sistema (Automático)",
		},
		Search: SearchConfig{
			MaxRows:        500,
			Debounce:       200 * time.Millisecond,
			LookupDebounce: 300 * time.Millisecond,
		},
		Upload: UploadConfig{MaxSizeMB: 20, RateLimit: 30, RateWindow: time.Minute},
		Offline: OfflineConfig{
			CacheVersion:       "ewm-search-v2",
			SkipWaiting:        true,
			FetchTimeout:       30 * time.Second,
			InstallConcurrency: 4,
			Manifest:           slices.Clone(DefaultManifest),
		},
		Requisition: RequisitionConfig{
			Lines:             10,
			LookupColumn:      "Material",
			DescriptionColumn: "Texto breve material",
			IDMaxLength:       7,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxDays:    30,
			MaxBackups: 5,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Data.DBPath == "" {
		errs = append(errs, errors.New("data.db_path is required"))
	}
	if c.Search.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("search.max_rows must be positive: %d", c.Search.MaxRows))
	}
	if c.Search.Debounce < 0 || c.Search.LookupDebounce < 0 {
		errs = append(errs, errors.New("search debounce windows must not be negative"))
	}
	if c.Upload.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size_mb must be positive: %d", c.Upload.MaxSizeMB))
	}
	if c.Offline.CacheVersion == "" {
		errs = append(errs, errors.New("offline.cache_version is required"))
	}
	if c.Offline.Origin != "" {
		if u, err := url.Parse(c.Offline.Origin); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("offline.origin must be an absolute URL: %q", c.Offline.Origin))
		}
	}
	if c.Requisition.Lines <= 0 {
		errs = append(errs, fmt.Errorf("requisition.lines must be positive: %d", c.Requisition.Lines))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error: %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json: %q", c.Logging.Format))
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxDays < 0 || c.Logging.MaxBackups < 0 {
		errs = append(errs, errors.New("logging rotation limits must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Offline.Manifest = slices.Clone(c.Offline.Manifest)
	return &cp
}

// ConfigManager guards the configuration and its file.
type ConfigManager struct {
	path   string
	getenv func(string) string

	mu  sync.RWMutex
	cfg *Config
}

// NewConfigManager creates a manager for the file at path.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, getenv: os.Getenv, cfg: DefaultConfig()}
}

// Path returns the configuration file path.
func (cm *ConfigManager) Path() string { return cm.path }

// Load reads the file, writing the defaults first when it does not exist.
// ${VAR} and ${VAR:-default} references are expanded before parsing.
func (cm *ConfigManager) Load() error {
	data, err := os.ReadFile(cm.path)
	if errors.Is(err, os.ErrNotExist) {
		cm.mu.Lock()
		cm.cfg = DefaultConfig()
		cm.mu.Unlock()
		return cm.Save()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(interpolateEnv(data, cm.getenv), cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", cm.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cm.path, err)
	}

	cm.mu.Lock()
	cm.cfg = cfg
	cm.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg.clone()
}

// Save writes the current configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	data, err := yaml.Marshal(cm.cfg)
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(cm.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(cm.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Update applies dotted-key updates such as "search.max_rows", validates the
// result and persists it. Nothing changes when any key or value is rejected.
func (cm *ConfigManager) Update(updates map[string]any) error {
	cm.mu.RLock()
	next := cm.cfg.clone()
	cm.mu.RUnlock()

	for key, val := range updates {
		if err := apply(next, key, val); err != nil {
			return err
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.cfg = next
	cm.mu.Unlock()
	return cm.Save()
}

func apply(c *Config, key string, val any) error {
	var err error
	switch key {
	case "server.host":
		c.Server.Host, err = cast.ToStringE(val)
	case "server.port":
		c.Server.Port, err = cast.ToIntE(val)
	case "data.db_path":
		c.Data.DBPath, err = cast.ToStringE(val)
	case "data.storage_key":
		c.Data.StorageKey, err = cast.ToStringE(val)
	case "data.preload_path":
		c.Data.PreloadPath, err = cast.ToStringE(val)
	case "data.watch_preload":
		c.Data.WatchPreload, err = cast.ToBoolE(val)
	case "data.preload_label":
		c.Data.PreloadLabel, err = cast.ToStringE(val)
	case "search.max_rows":
		c.Search.MaxRows, err = cast.ToIntE(val)
	case "search.debounce":
		c.Search.Debounce, err = cast.ToDurationE(val)
	case "search.lookup_debounce":
		c.Search.LookupDebounce, err = cast.ToDurationE(val)
	case "upload.max_size_mb":
		c.Upload.MaxSizeMB, err = cast.ToIntE(val)
	case "upload.rate_limit":
		c.Upload.RateLimit, err = cast.ToIntE(val)
	case "upload.rate_window":
		c.Upload.RateWindow, err = cast.ToDurationE(val)
	case "offline.cache_version":
		c.Offline.CacheVersion, err = cast.ToStringE(val)
	case "offline.origin":
		c.Offline.Origin, err = cast.ToStringE(val)
	case "offline.skip_waiting":
		c.Offline.SkipWaiting, err = cast.ToBoolE(val)
	case "offline.fetch_timeout":
		c.Offline.FetchTimeout, err = cast.ToDurationE(val)
	case "offline.install_concurrency":
		c.Offline.InstallConcurrency, err = cast.ToIntE(val)
	case "offline.manifest":
		c.Offline.Manifest, err = cast.ToStringSliceE(val)
	case "requisition.lines":
		c.Requisition.Lines, err = cast.ToIntE(val)
	case "requisition.lookup_column":
		c.Requisition.LookupColumn, err = cast.ToStringE(val)
	case "requisition.description_column":
		c.Requisition.DescriptionColumn, err = cast.ToStringE(val)
	case "requisition.id_max_length":
		c.Requisition.IDMaxLength, err = cast.ToIntE(val)
	case "logging.level":
		c.Logging.Level, err = cast.ToStringE(val)
	case "logging.format":
		c.Logging.Format, err = cast.ToStringE(val)
	case "logging.file":
		c.Logging.File, err = cast.ToStringE(val)
	case "logging.max_size_mb":
		c.Logging.MaxSizeMB, err = cast.ToIntE(val)
	case "logging.max_days":
		c.Logging.MaxDays, err = cast.ToIntE(val)
	case "logging.max_backups":
		c.Logging.MaxBackups, err = cast.ToIntE(val)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// interpolateEnv expands ${VAR} and ${VAR:-default}. Unset variables without
// a default expand to the empty string.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v := getenv(string(sub[1])); v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}
