package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the promptrank service
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig holds the retrieval engine options
type EngineConfig struct {
	DataBasePath     string          `yaml:"dataBasePath"`
	MaxResults       int             `yaml:"maxResults"`
	SynonymCap       int             `yaml:"synonymCap"`
	ValidateSynonyms bool            `yaml:"validateSynonyms"`
	Prefilter        PrefilterConfig `yaml:"prefilter"`
}

// PrefilterConfig bounds and weights the candidate prefilter
type PrefilterConfig struct {
	Min            int     `yaml:"min"`
	Max            int     `yaml:"max"`
	Family         string  `yaml:"family"`
	WTag           float64 `yaml:"wTag"`
	WTitle         float64 `yaml:"wTitle"`
	WSynMultiplier float64 `yaml:"wSynMultiplier"`
	CapQuery       int     `yaml:"capQuery"`
}

// StorageConfig selects the persisted snapshot store
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// FetchConfig tunes corpus resource fetching
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
	MaxBytes  int64         `yaml:"maxBytes"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			DataBasePath: "./assets/engine",
			MaxResults:   20,
			SynonymCap:   6,
			Prefilter: PrefilterConfig{
				Min:            200,
				Max:            1000,
				WTag:           2,
				WTitle:         1,
				WSynMultiplier: 0.8,
				CapQuery:       64,
			},
		},
		Storage: StorageConfig{
			Driver: "bolt",
			Path:   "./data/promptrank.db",
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			UserAgent: "promptrank/1.0",
			MaxBytes:  64 << 20,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the environment
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	e := &c.Engine
	e.DataBasePath = GetStringEnv("PROMPTRANK_DATA_PATH", e.DataBasePath)
	e.MaxResults = GetIntEnv("PROMPTRANK_MAX_RESULTS", e.MaxResults)
	e.SynonymCap = GetIntEnv("PROMPTRANK_SYNONYM_CAP", e.SynonymCap)
	e.ValidateSynonyms = GetBoolEnv("PROMPTRANK_VALIDATE_SYNONYMS", e.ValidateSynonyms)

	p := &e.Prefilter
	p.Min = GetIntEnv("PREFILTER_MIN", p.Min)
	p.Max = GetIntEnv("PREFILTER_MAX", p.Max)
	p.Family = GetStringEnv("PREFILTER_FAMILY", p.Family)
	p.WTag = GetFloatEnv("PREFILTER_W_TAG", p.WTag)
	p.WTitle = GetFloatEnv("PREFILTER_W_TITLE", p.WTitle)
	p.WSynMultiplier = GetFloatEnv("PREFILTER_W_SYN", p.WSynMultiplier)
	p.CapQuery = GetIntEnv("PREFILTER_CAP_QUERY", p.CapQuery)

	c.Storage.Driver = GetStringEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = GetStringEnv("STORAGE_PATH", c.Storage.Path)

	c.Fetch.Timeout = GetDurationEnv("FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.UserAgent = GetStringEnv("FETCH_USER_AGENT", c.Fetch.UserAgent)
	c.Fetch.MaxBytes = int64(GetIntEnv("FETCH_MAX_BYTES", int(c.Fetch.MaxBytes)))

	c.Server.Addr = GetStringEnv("SERVER_ADDR", c.Server.Addr)

	c.Log.Level = GetStringEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetStringEnv("LOG_FORMAT", c.Log.Format)
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
