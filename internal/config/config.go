package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Registry RegistryConfig `json:"registry"`
	Scoring  ScoringConfig  `json:"scoring"`
	Store    StoreConfig    `json:"store"`
	Log      LogConfig      `json:"log"`

	// IANA zone calendar days are counted in
	Timezone string `json:"timezone"`
}

// RegistryConfig says where the exercise catalog comes from
type RegistryConfig struct {
	Source         string   `json:"source"` // embedded, file or s3
	Path           string   `json:"path,omitempty"`
	S3             S3Config `json:"s3"`
	ReloadInterval Duration `json:"reload_interval"`
}

// S3Config holds the object location and optional static credentials
type S3Config struct {
	Bucket          string `json:"bucket,omitempty"`
	Key             string `json:"key,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// ScoringConfig holds calculator limits
type ScoringConfig struct {
	MaxCombinedMultiplier float64  `json:"max_combined_multiplier"`
	MaxActivityDuration   Duration `json:"max_activity_duration"`
	MaxHeartRate          float64  `json:"max_heart_rate"`
	StatsWindow           Duration `json:"stats_window"`
}

// StoreConfig selects the persistence backend. With the redis driver, user
// state lives in Redis and the activity log stays in SQLite at Path.
type StoreConfig struct {
	Driver string      `json:"driver"` // memory, sqlite or redis
	Path   string      `json:"path,omitempty"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// LogConfig holds logging preferences
type LogConfig struct {
	Debug bool   `json:"debug"`
	Dir   string `json:"dir,omitempty"`
}

// Duration is a time.Duration written as "5m" in JSON
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourceS3       = "s3"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Registry: RegistryConfig{
			Source:         SourceEmbedded,
			ReloadInterval: Duration{5 * time.Minute},
		},
		Scoring: ScoringConfig{
			MaxCombinedMultiplier: 1.5,
			MaxActivityDuration:   Duration{8 * time.Hour},
			MaxHeartRate:          185,
			StatsWindow:           Duration{7 * 24 * time.Hour},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Timezone: "Asia/Jerusalem",
	}
}

// Load reads the configuration from path, or ~/.sweatbot/config.json when
// path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := getConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills zero values from DefaultConfig
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Registry.Source == "" {
		c.Registry.Source = defaults.Registry.Source
	}
	if c.Registry.ReloadInterval.Duration == 0 {
		c.Registry.ReloadInterval = defaults.Registry.ReloadInterval
	}
	if c.Scoring.MaxCombinedMultiplier == 0 {
		c.Scoring.MaxCombinedMultiplier = defaults.Scoring.MaxCombinedMultiplier
	}
	if c.Scoring.MaxActivityDuration.Duration == 0 {
		c.Scoring.MaxActivityDuration = defaults.Scoring.MaxActivityDuration
	}
	if c.Scoring.MaxHeartRate == 0 {
		c.Scoring.MaxHeartRate = defaults.Scoring.MaxHeartRate
	}
	if c.Scoring.StatsWindow.Duration == 0 {
		c.Scoring.StatsWindow = defaults.Scoring.StatsWindow
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from SWEATBOT_* environment variables
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"SWEATBOT_REGISTRY_SOURCE":      &c.Registry.Source,
		"SWEATBOT_REGISTRY_PATH":        &c.Registry.Path,
		"SWEATBOT_S3_BUCKET":            &c.Registry.S3.Bucket,
		"SWEATBOT_S3_KEY":               &c.Registry.S3.Key,
		"SWEATBOT_S3_REGION":            &c.Registry.S3.Region,
		"SWEATBOT_S3_ENDPOINT":          &c.Registry.S3.Endpoint,
		"SWEATBOT_S3_ACCESS_KEY_ID":     &c.Registry.S3.AccessKeyID,
		"SWEATBOT_S3_SECRET_ACCESS_KEY": &c.Registry.S3.SecretAccessKey,
		"SWEATBOT_STORE_DRIVER":         &c.Store.Driver,
		"SWEATBOT_STORE_PATH":           &c.Store.Path,
		"SWEATBOT_REDIS_ADDR":           &c.Store.Redis.Addr,
		"SWEATBOT_REDIS_USERNAME":       &c.Store.Redis.Username,
		"SWEATBOT_REDIS_PASSWORD":       &c.Store.Redis.Password,
		"SWEATBOT_REDIS_PREFIX":         &c.Store.Redis.Prefix,
		"SWEATBOT_TIMEZONE":             &c.Timezone,
		"SWEATBOT_LOG_DIR":              &c.Log.Dir,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"SWEATBOT_RELOAD_INTERVAL":       &c.Registry.ReloadInterval,
		"SWEATBOT_MAX_ACTIVITY_DURATION": &c.Scoring.MaxActivityDuration,
		"SWEATBOT_STATS_WINDOW":          &c.Scoring.StatsWindow,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			dst.Duration = d
		}
	}

	floats := map[string]*float64{
		"SWEATBOT_MAX_MULTIPLIER": &c.Scoring.MaxCombinedMultiplier,
		"SWEATBOT_MAX_HEART_RATE": &c.Scoring.MaxHeartRate,
	}
	for name, dst := range floats {
		if v, ok := os.LookupEnv(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}

	if v, ok := os.LookupEnv("SWEATBOT_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SWEATBOT_REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = n
	}
	if v, ok := os.LookupEnv("SWEATBOT_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SWEATBOT_DEBUG: %w", err)
		}
		c.Log.Debug = b
	}
	return nil
}

// Save writes the configuration to ~/.sweatbot/config.json
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes the configuration to path
func SaveTo(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	// may hold S3 and Redis credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	example.Registry.Path = filepath.Join(filepath.Dir(path), "registry.yaml")
	example.Store.Redis.Addr = "localhost:6379"
	return Save(&example)
}

// Validate checks the config for values the engine can't run with
func (c *Config) Validate() error {
	switch c.Registry.Source {
	case SourceEmbedded:
	case SourceFile:
		if c.Registry.Path == "" {
			return errors.New("registry.path is required when registry.source is \"file\"")
		}
	case SourceS3:
		if c.Registry.S3.Bucket == "" || c.Registry.S3.Key == "" {
			return errors.New("registry.s3.bucket and registry.s3.key are required when registry.source is \"s3\"")
		}
		if (c.Registry.S3.AccessKeyID == "") != (c.Registry.S3.SecretAccessKey == "") {
			return errors.New("registry.s3.access_key_id and secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("registry.source must be one of %s, got %q",
			strings.Join([]string{SourceEmbedded, SourceFile, SourceS3}, ", "), c.Registry.Source)
	}
	if c.Registry.ReloadInterval.Duration < 0 {
		return fmt.Errorf("registry.reload_interval must not be negative, got %s", c.Registry.ReloadInterval)
	}

	if c.Scoring.MaxCombinedMultiplier < 1 {
		return fmt.Errorf("scoring.max_combined_multiplier must be at least 1, got %v", c.Scoring.MaxCombinedMultiplier)
	}
	if c.Scoring.MaxActivityDuration.Duration <= 0 {
		return fmt.Errorf("scoring.max_activity_duration must be positive, got %s", c.Scoring.MaxActivityDuration)
	}
	if c.Scoring.MaxHeartRate <= 0 {
		return fmt.Errorf("scoring.max_heart_rate must be positive, got %v", c.Scoring.MaxHeartRate)
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required when store.driver is \"redis\"")
		}
	default:
		return fmt.Errorf("store.driver must be one of %s, got %q",
			strings.Join([]string{DriverMemory, DriverSQLite, DriverRedis}, ", "), c.Store.Driver)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone, UTC if it doesn't load
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sweatbot"), nil
}
