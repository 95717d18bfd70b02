package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// EngineType represents the type of translation engine to use.
type EngineType string

const (
	// EngineLibreTranslate uses LibreTranslate as the backend.
	EngineLibreTranslate EngineType = "libretranslate"
	// EngineArgos uses Argos Translate as the backend.
	EngineArgos EngineType = "argos"
	// EngineLLM uses an OpenAI-compatible chat model.
	EngineLLM EngineType = "llm"
	// EngineOnDevice uses per-pair local models through a ModelCache.
	EngineOnDevice EngineType = "ondevice"
	// EnginePlaceholder uppercases text; for development and tests.
	EnginePlaceholder EngineType = "placeholder"
)

// Config holds configuration for creating a Translator instance.
type Config struct {
	// Engine specifies which translation engine to use.
	Engine EngineType
	// BaseURL is the engine API base URL (libretranslate, argos, llm).
	BaseURL string
	// APIKey authenticates against the engine when it requires one.
	APIKey string
	// Model names the chat model for the llm engine.
	Model string

	// ModelCache serves the ondevice engine. When nil, a cache is created
	// over Loader, or over the placeholder when Loader is nil too.
	ModelCache *ModelCache
	Loader     ModelLoader

	// ChunkSize and KeepSourceOnError configure the chunking wrapper.
	ChunkSize         int
	KeepSourceOnError bool

	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
}

// NewTranslator creates the configured engine wrapped with request metrics
// and chunking.
func NewTranslator(ctx context.Context, cfg Config) (Translator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	cfg.Logger.WithFields(logrus.Fields{
		"engine":   cfg.Engine,
		"base_url": cfg.BaseURL,
	}).Info("Creating translator instance")

	var backend Translator
	switch cfg.Engine {
	case EngineLibreTranslate:
		backend = NewLibreTranslateClient(cfg.BaseURL, cfg.APIKey, cfg.Logger)
	case EngineArgos:
		backend = NewArgosClient(cfg.BaseURL, cfg.Logger)
	case EngineLLM:
		llm, err := NewLLMTranslator(ctx, LLMConfig{
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		backend = llm
	case EngineOnDevice:
		cache := cfg.ModelCache
		if cache == nil {
			loader := cfg.Loader
			if loader == nil {
				cfg.Logger.Warn("No model loader configured, on-device engine uses the placeholder model")
				loader = NewPlaceholderTranslator()
			}
			cache = NewModelCache(loader, nil, cfg.Logger)
		}
		backend = NewOnDeviceTranslator(cache, cfg.Logger)
	case EnginePlaceholder:
		backend = NewPlaceholderTranslator()
	default:
		cfg.Logger.WithField("engine", cfg.Engine).Error("Unknown translation engine")
		return nil, fmt.Errorf("unknown translation engine: %s", cfg.Engine)
	}

	return NewChunkedTranslator(Instrument(backend, cfg.Engine), ChunkOptions{
		MaxChunkSize:      cfg.ChunkSize,
		KeepSourceOnError: cfg.KeepSourceOnError,
		Logger:            cfg.Logger,
	}), nil
}

// ParseEngineType parses a string into an EngineType, ignoring case.
func ParseEngineType(s string) (EngineType, error) {
	switch e := EngineType(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineLibreTranslate, EngineArgos, EngineLLM, EngineOnDevice, EnginePlaceholder:
		return e, nil
	default:
		return "", fmt.Errorf("unknown engine type: %s (supported: libretranslate, argos, llm, ondevice, placeholder)", s)
	}
}
