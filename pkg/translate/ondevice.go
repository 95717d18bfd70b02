package translate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrModelNotAvailable is returned for language pairs without a model.
var ErrModelNotAvailable = errors.New("translation model not available")

// DefaultModelID is the multilingual model used for every known pair.
const DefaultModelID = "Xenova/nllb-200-distilled-600M"

// defaultModels maps language pairs to model identifiers.
var defaultModels = map[string]string{
	PairKey("en", "es"): DefaultModelID,
	PairKey("en", "ar"): DefaultModelID,
	PairKey("es", "en"): DefaultModelID,
	PairKey("ar", "en"): DefaultModelID,
}

// PairKey returns the cache key of a language pair, e.g. "en_to_es".
func PairKey(sourceLang, targetLang string) string {
	return sourceLang + "_to_" + targetLang
}

// ModelLoader turns a model identifier into a ready translator.
type ModelLoader interface {
	LoadModel(ctx context.Context, modelID, sourceLang, targetLang string) (Translator, error)
	CheckHealth(ctx context.Context) error
}

// Model is a loaded per-pair model.
type Model struct {
	ID       string
	Pair     string
	LoadedAt time.Time

	translator Translator
}

type cacheEntry struct {
	ready chan struct{}
	model *Model
	err   error
}

// ModelCache holds loaded models for the lifetime of the process, keyed by
// language pair. It is safe for concurrent use; concurrent requests for the
// same pair share one load. Failed loads are not cached.
type ModelCache struct {
	loader ModelLoader
	models map[string]string
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewModelCache creates a cache over loader. models maps PairKey values to
// model identifiers; nil selects the built-in table.
func NewModelCache(loader ModelLoader, models map[string]string, logger *logrus.Logger) *ModelCache {
	if models == nil {
		models = defaultModels
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelCache{
		loader:  loader,
		models:  models,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// ModelID returns the model configured for a pair.
func (c *ModelCache) ModelID(sourceLang, targetLang string) (string, bool) {
	id, ok := c.models[PairKey(sourceLang, targetLang)]
	return id, ok
}

// Get returns the model for a pair, loading it on first use.
func (c *ModelCache) Get(ctx context.Context, sourceLang, targetLang string) (*Model, error) {
	pair := PairKey(sourceLang, targetLang)
	modelID, ok := c.models[pair]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrModelNotAvailable, pair)
	}

	c.mu.Lock()
	entry, found := c.entries[pair]
	if !found {
		entry = &cacheEntry{ready: make(chan struct{})}
		c.entries[pair] = entry
	}
	c.mu.Unlock()

	if found {
		select {
		case <-entry.ready:
			return entry.model, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	startTime := time.Now()
	translator, err := c.loader.LoadModel(ctx, modelID, sourceLang, targetLang)
	if err != nil {
		entry.err = fmt.Errorf("load model %s for %s: %w", modelID, pair, err)
		c.mu.Lock()
		delete(c.entries, pair)
		c.mu.Unlock()
	} else {
		entry.model = &Model{ID: modelID, Pair: pair, LoadedAt: time.Now(), translator: translator}
		c.logger.WithFields(logrus.Fields{
			"pair":        pair,
			"model":       modelID,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Info("Translation model loaded")
	}
	close(entry.ready)

	return entry.model, entry.err
}

// Loaded reports whether a pair's model is loaded.
func (c *ModelCache) Loaded(sourceLang, targetLang string) bool {
	c.mu.Lock()
	entry, ok := c.entries[PairKey(sourceLang, targetLang)]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-entry.ready:
		return entry.err == nil
	default:
		return false
	}
}

// Pairs returns the configured pair keys, sorted.
func (c *ModelCache) Pairs() []string {
	pairs := make([]string, 0, len(c.models))
	for p := range c.models {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

// OnDeviceTranslator translates with per-pair models held in a ModelCache.
type OnDeviceTranslator struct {
	cache  *ModelCache
	logger *logrus.Logger
}

// NewOnDeviceTranslator creates a translator backed by cache. The cache is
// shared, so several translators can reuse loaded models.
func NewOnDeviceTranslator(cache *ModelCache, logger *logrus.Logger) *OnDeviceTranslator {
	if logger == nil {
		logger = logrus.New()
	}
	return &OnDeviceTranslator{cache: cache, logger: logger}
}

func (t *OnDeviceTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	model, err := t.cache.Get(ctx, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	return model.translator.Translate(ctx, text, sourceLang, targetLang)
}

// CheckHealth reports the health of the model loader.
func (t *OnDeviceTranslator) CheckHealth(ctx context.Context) error {
	return t.cache.loader.CheckHealth(ctx)
}

// SupportedLanguages returns every language that appears in a known pair.
func (t *OnDeviceTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	var langs []string
	for _, pair := range t.cache.Pairs() {
		if src, tgt, ok := strings.Cut(pair, "_to_"); ok {
			langs = append(langs, src, tgt)
		}
	}
	return sortedCodes(langs...), nil
}

// IsModelAvailable reports whether a model exists for the pair.
func (t *OnDeviceTranslator) IsModelAvailable(sourceLang, targetLang string) bool {
	_, ok := t.cache.ModelID(sourceLang, targetLang)
	return ok
}

// SupportedPairs returns the pair keys with a model, e.g. "en_to_es".
func (t *OnDeviceTranslator) SupportedPairs() []string {
	return t.cache.Pairs()
}

// PreWarm loads the model for a pair ahead of the first translation.
func (t *OnDeviceTranslator) PreWarm(ctx context.Context, sourceLang, targetLang string) error {
	_, err := t.cache.Get(ctx, sourceLang, targetLang)
	if err != nil {
		t.logger.WithError(err).WithField("pair", PairKey(sourceLang, targetLang)).Warn("Model pre-warm failed")
	}
	return err
}
