package translate

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestLanguageMapper_ToBackendCode(t *testing.T) {
	lm := NewLanguageMapper()

	for in, want := range map[string]string{
		"EN":    "en",
		"fr-CA": "fr",
		"en_US": "en",
		" es ":  "es",
		"ar":    "ar",
	} {
		assert.Equal(t, want, lm.ToBackendCode(in), in)
	}
}

func TestLanguageMapper_CodeForName(t *testing.T) {
	lm := NewLanguageMapper()

	for in, want := range map[string]string{
		"English":  "en",
		"spanish":  "es",
		"ARABIC":   "ar",
		"French":   "fr",
		"German":   "de",
		"Chinese":  "zh",
		"Japanese": "ja",
		"Klingon":  DefaultLanguageCode,
		"":         DefaultLanguageCode,
	} {
		assert.Equal(t, want, lm.CodeForName(in), in)
	}
}

func TestLanguageMapper_NameForCode(t *testing.T) {
	lm := NewLanguageMapper()

	assert.Equal(t, "Spanish", lm.NameForCode("es"))
	assert.Equal(t, "Arabic", lm.NameForCode("AR-EG"))
	assert.Equal(t, "pt", lm.NameForCode("pt"))
}

func TestDefaultLanguages(t *testing.T) {
	assert.Equal(t, []Language{
		{Code: "en", Name: "English"},
		{Code: "es", Name: "Spanish"},
		{Code: "ar", Name: "Arabic"},
	}, DefaultLanguages())
}

func TestParseEngineType(t *testing.T) {
	for in, want := range map[string]EngineType{
		"libretranslate": EngineLibreTranslate,
		"LibreTranslate": EngineLibreTranslate,
		"ARGOS":          EngineArgos,
		"llm":            EngineLLM,
		"OnDevice":       EngineOnDevice,
		"placeholder":    EnginePlaceholder,
	} {
		got, err := ParseEngineType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseEngineType("babelfish")
	assert.Error(t, err)
}

func TestNewTranslator(t *testing.T) {
	ctx := context.Background()

	tr, err := NewTranslator(ctx, Config{Engine: EnginePlaceholder, Logger: quietLogger()})
	require.NoError(t, err)
	out, err := tr.Translate(ctx, "The value __FORMULA_0__ holds.", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "THE VALUE __FORMULA_0__ HOLDS.", out)

	tr, err = NewTranslator(ctx, Config{Engine: EngineOnDevice, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = tr.Translate(ctx, "hello", "en", "fr")
	assert.ErrorIs(t, err, ErrModelNotAvailable)

	_, err = NewTranslator(ctx, Config{Engine: EngineLLM, Logger: quietLogger()})
	assert.ErrorContains(t, err, "API key")

	_, err = NewTranslator(ctx, Config{Engine: "babelfish", Logger: quietLogger()})
	assert.Error(t, err)
}
