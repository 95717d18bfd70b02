package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doctrans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyLegacy, "")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, "placeholder", cfg.Translator.Engine)
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.Pipeline.RunTimeout))
	assert.Equal(t, time.Duration(0), time.Duration(cfg.Pipeline.Gate))
	assert.Len(t, cfg.Pipeline.Languages, 3)
	assert.Equal(t, "en", cfg.Pipeline.DefaultSource)
	assert.Equal(t, "es", cfg.Pipeline.DefaultTarget)
	assert.Empty(t, cfg.Translator.APIKey)
}

func TestLoad_FileThenFlags(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyLegacy, "")

	path := writeConfig(t, `
server:
  http_port: 9000
log:
  level: debug
  format: json
translator:
  engine: libretranslate
  url: http://mt:5000
  chunk_size: 2048
pipeline:
  extended_formats: true
  language_suffix: true
  gate: 3s
  run_timeout: 2m
  languages:
    - code: en
      name: English
    - code: fr
      name: French
  default_target: fr
jobs:
  max_age: 30m
`)

	cfg, err := Load([]string{"-config", path, "-mt-engine", "argos", "-log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "argos", cfg.Translator.Engine)
	assert.Equal(t, "http://mt:5000", cfg.Translator.URL)
	assert.Equal(t, 2048, cfg.Translator.ChunkSize)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Pipeline.ExtendedFormats)
	assert.True(t, cfg.Pipeline.LanguageSuffix)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.Pipeline.Gate))
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Pipeline.RunTimeout))
	require.Len(t, cfg.Pipeline.Languages, 2)
	assert.Equal(t, "fr", cfg.Pipeline.Languages[1].Code)
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.Jobs.MaxAge))
	// Untouched values keep their defaults.
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIKeyLegacy, "legacy-key")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Translator.APIKey)

	t.Setenv(EnvAPIKey, "primary-key")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "primary-key", cfg.Translator.APIKey)
}

func TestLoad_FileKeyWinsOverEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	path := writeConfig(t, "translator:\n  api_key: file-key\n")

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Translator.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		args []string
	}{
		{name: "unknown engine", args: []string{"-mt-engine", "babelfish"}},
		{name: "bad log level", args: []string{"-log-level", "loud"}},
		{name: "bad duration", yaml: "pipeline:\n  gate: soon\n"},
		{name: "bad log format", yaml: "log:\n  format: xml\n"},
		{name: "single language", yaml: "pipeline:\n  languages:\n    - code: en\n      name: English\n"},
		{name: "unknown default target", yaml: "pipeline:\n  default_target: de\n"},
		{name: "pool without script", yaml: "translator:\n  worker_pool:\n    enabled: true\n"},
		{name: "unknown flag", args: []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if tt.yaml != "" {
				args = append([]string{"-config", writeConfig(t, tt.yaml)}, args...)
			}
			_, err := Load(args)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.Log.Format = "text"
	assert.IsType(t, &logrus.TextFormatter{}, cfg.NewLogger().Formatter)
}
