package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/promptrank/internal/config"
)

var envKeys = []string{
	"PROMPTRANK_DATA_PATH",
	"PROMPTRANK_MAX_RESULTS",
	"PROMPTRANK_SYNONYM_CAP",
	"PROMPTRANK_VALIDATE_SYNONYMS",
	"PREFILTER_MIN",
	"PREFILTER_MAX",
	"PREFILTER_FAMILY",
	"PREFILTER_W_TAG",
	"PREFILTER_W_TITLE",
	"PREFILTER_W_SYN",
	"PREFILTER_CAP_QUERY",
	"STORAGE_DRIVER",
	"STORAGE_PATH",
	"FETCH_TIMEOUT",
	"FETCH_USER_AGENT",
	"FETCH_MAX_BYTES",
	"SERVER_ADDR",
	"LOG_LEVEL",
	"LOG_FORMAT",
}

func clearEnvVars(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	clearEnvVars(t)

	cfg := config.Load()

	assert.Equal(t, "./assets/engine", cfg.Engine.DataBasePath)
	assert.Equal(t, 20, cfg.Engine.MaxResults)
	assert.Equal(t, 6, cfg.Engine.SynonymCap)
	assert.False(t, cfg.Engine.ValidateSynonyms)

	assert.Equal(t, 200, cfg.Engine.Prefilter.Min)
	assert.Equal(t, 1000, cfg.Engine.Prefilter.Max)
	assert.Equal(t, "", cfg.Engine.Prefilter.Family)
	assert.Equal(t, 2.0, cfg.Engine.Prefilter.WTag)
	assert.Equal(t, 1.0, cfg.Engine.Prefilter.WTitle)
	assert.Equal(t, 0.8, cfg.Engine.Prefilter.WSynMultiplier)
	assert.Equal(t, 64, cfg.Engine.Prefilter.CapQuery)

	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "./data/promptrank.db", cfg.Storage.Path)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnvVars(t)
	envVars := map[string]string{
		"PROMPTRANK_DATA_PATH":         "https://cdn.example.com/engine",
		"PROMPTRANK_MAX_RESULTS":       "5",
		"PROMPTRANK_SYNONYM_CAP":       "3",
		"PROMPTRANK_VALIDATE_SYNONYMS": "true",
		"PREFILTER_MIN":                "10",
		"PREFILTER_MAX":                "50",
		"PREFILTER_FAMILY":             "career",
		"PREFILTER_W_TAG":              "2.5",
		"PREFILTER_W_SYN":              "0.5",
		"STORAGE_DRIVER":               "file",
		"STORAGE_PATH":                 "/tmp/promptrank",
		"FETCH_TIMEOUT":                "5s",
		"SERVER_ADDR":                  ":9090",
		"LOG_FORMAT":                   "json",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg := config.Load()

	assert.Equal(t, "https://cdn.example.com/engine", cfg.Engine.DataBasePath)
	assert.Equal(t, 5, cfg.Engine.MaxResults)
	assert.Equal(t, 3, cfg.Engine.SynonymCap)
	assert.True(t, cfg.Engine.ValidateSynonyms)
	assert.Equal(t, 10, cfg.Engine.Prefilter.Min)
	assert.Equal(t, 50, cfg.Engine.Prefilter.Max)
	assert.Equal(t, "career", cfg.Engine.Prefilter.Family)
	assert.Equal(t, 2.5, cfg.Engine.Prefilter.WTag)
	assert.Equal(t, 0.5, cfg.Engine.Prefilter.WSynMultiplier)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/promptrank", cfg.Storage.Path)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PROMPTRANK_MAX_RESULTS", "lots")
	t.Setenv("PREFILTER_W_TAG", "heavy")
	t.Setenv("FETCH_TIMEOUT", "soon")
	t.Setenv("PROMPTRANK_VALIDATE_SYNONYMS", "maybe")

	cfg := config.Load()

	assert.Equal(t, 20, cfg.Engine.MaxResults)
	assert.Equal(t, 2.0, cfg.Engine.Prefilter.WTag)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.False(t, cfg.Engine.ValidateSynonyms)
}

func TestLoadFile(t *testing.T) {
	clearEnvVars(t)
	path := filepath.Join(t.TempDir(), "promptrank.yaml")
	err := os.WriteFile(path, []byte(`
engine:
  dataBasePath: ./corpus
  maxResults: 8
  prefilter:
    min: 40
    family: writing
storage:
  driver: file
fetch:
  timeout: 2m
`), 0644)
	require.NoError(t, err)

	t.Setenv("PROMPTRANK_MAX_RESULTS", "12")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "./corpus", cfg.Engine.DataBasePath)
	assert.Equal(t, 12, cfg.Engine.MaxResults)
	assert.Equal(t, 40, cfg.Engine.Prefilter.Min)
	assert.Equal(t, 1000, cfg.Engine.Prefilter.Max)
	assert.Equal(t, "writing", cfg.Engine.Prefilter.Family)
	assert.Equal(t, 0.8, cfg.Engine.Prefilter.WSynMultiplier)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "./data/promptrank.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Minute, cfg.Fetch.Timeout)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [not, a, map]"), 0644))
	_, err = config.LoadFile(path)
	assert.Error(t, err)
}
