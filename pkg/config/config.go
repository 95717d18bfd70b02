// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then command-line flags, then the API key environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dasmlab/doctrans/pkg/translate"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables holding the LLM API key, in lookup order.
const (
	EnvAPIKey       = "DOCTRANS_API_KEY"
	EnvAPIKeyLegacy = "API_KEY"
)

// Duration reads YAML values like "10m" or "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Translator TranslatorConfig `yaml:"translator"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Jobs       JobsConfig       `yaml:"jobs"`
}

type ServerConfig struct {
	HTTPPort       int   `yaml:"http_port"`
	GRPCPort       int   `yaml:"grpc_port"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// HealthInterval is how often the translator is probed for the gRPC
	// health status.
	HealthInterval Duration `yaml:"health_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

type TranslatorConfig struct {
	Engine            string `yaml:"engine"`
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	ChunkSize         int    `yaml:"chunk_size"`
	KeepSourceOnError bool   `yaml:"keep_source_on_error"`
	// PreWarm loads the on-device models for these pairs at startup,
	// e.g. "en_to_es".
	PreWarm    []string         `yaml:"prewarm"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig enables Python model workers for the ondevice engine.
type WorkerPoolConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PythonPath string `yaml:"python_path"`
	ScriptPath string `yaml:"script_path"`
	SocketDir  string `yaml:"socket_dir"`
	Workers    int    `yaml:"workers"`
}

type PipelineConfig struct {
	ExtendedFormats bool                 `yaml:"extended_formats"`
	LanguageSuffix  bool                 `yaml:"language_suffix"`
	StrictFormulas  bool                 `yaml:"strict_formulas"`
	Gate            Duration             `yaml:"gate"`
	RunTimeout      Duration             `yaml:"run_timeout"`
	Languages       []translate.Language `yaml:"languages"`
	DefaultSource   string               `yaml:"default_source"`
	DefaultTarget   string               `yaml:"default_target"`
}

type JobsConfig struct {
	MaxConcurrent   int      `yaml:"max_concurrent"`
	MaxAge          Duration `yaml:"max_age"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			GRPCPort:       50051,
			MaxUploadBytes: 50 << 20,
			HealthInterval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Translator: TranslatorConfig{
			Engine:    string(translate.EnginePlaceholder),
			URL:       "http://localhost:5000",
			ChunkSize: translate.DefaultChunkSize,
		},
		Pipeline: PipelineConfig{
			RunTimeout:    Duration(10 * time.Minute),
			Languages:     translate.DefaultLanguages(),
			DefaultSource: "en",
			DefaultTarget: "es",
		},
		Jobs: JobsConfig{
			MaxConcurrent:   4,
			MaxAge:          Duration(time.Hour),
			CleanupInterval: Duration(5 * time.Minute),
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from args (without the program name).
// Flags override the file named by -config, which overrides the defaults.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("doctrans", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	port := fs.Int("port", 0, "HTTP server port")
	grpcPort := fs.Int("grpc-port", 0, "gRPC health server port")
	mtEngine := fs.String("mt-engine", "", "Translation engine: libretranslate, argos, llm, ondevice or placeholder")
	mtURL := fs.String("mt-url", "", "Base URL for translation engine API")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := LoadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	// Only flags given on the command line win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.HTTPPort = *port
		case "grpc-port":
			cfg.Server.GRPCPort = *grpcPort
		case "mt-engine":
			cfg.Translator.Engine = *mtEngine
		case "mt-url":
			cfg.Translator.URL = *mtURL
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if cfg.Translator.APIKey == "" {
		cfg.Translator.APIKey = apiKeyFromEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apiKeyFromEnv() string {
	for _, name := range []string{EnvAPIKey, EnvAPIKeyLegacy} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	if _, err := translate.ParseEngineType(c.Translator.Engine); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if len(c.Pipeline.Languages) < 2 {
		errs = append(errs, errors.New("pipeline.languages needs at least two entries"))
	}
	known := make(map[string]bool, len(c.Pipeline.Languages))
	for _, l := range c.Pipeline.Languages {
		if l.Code == "" {
			errs = append(errs, errors.New("pipeline.languages: empty code"))
		}
		known[l.Code] = true
	}
	if c.Pipeline.DefaultSource != "" && c.Pipeline.DefaultSource != "auto" && !known[c.Pipeline.DefaultSource] {
		errs = append(errs, fmt.Errorf("pipeline.default_source %q is not a configured language", c.Pipeline.DefaultSource))
	}
	if c.Pipeline.DefaultTarget != "" && !known[c.Pipeline.DefaultTarget] {
		errs = append(errs, fmt.Errorf("pipeline.default_target %q is not a configured language", c.Pipeline.DefaultTarget))
	}
	if c.Translator.WorkerPool.Enabled && c.Translator.WorkerPool.ScriptPath == "" {
		errs = append(errs, errors.New("translator.worker_pool.script_path is required when the pool is enabled"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the logger described by c.Log.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
