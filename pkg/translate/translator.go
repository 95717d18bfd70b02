// Package translate provides the translation engines used by the document
// pipeline behind a single Translator interface.
package translate

import (
	"context"
	"sort"
	"strings"
)

// Translator defines the interface for machine translation backends.
// Engines (LibreTranslate, Argos, LLM, on-device models) are interchangeable
// behind it; the pipeline never depends on a concrete engine.
type Translator interface {
	// Translate translates text from source language to target language.
	// sourceLang and targetLang are ISO 639-1 codes (e.g., "en", "es").
	// Formula placeholders in text must come back untouched.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// CheckHealth verifies that the translation backend is ready and operational.
	CheckHealth(ctx context.Context) error

	// SupportedLanguages returns the ISO 639-1 codes supported by this backend.
	SupportedLanguages(ctx context.Context) ([]string, error)
}

// Language is a selectable language.
type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// DefaultLanguages is the language list offered when none is configured.
func DefaultLanguages() []Language {
	return []Language{
		{Code: "en", Name: "English"},
		{Code: "es", Name: "Spanish"},
		{Code: "ar", Name: "Arabic"},
	}
}

// languageNames maps display names to ISO 639-1 codes.
var languageNames = map[string]string{
	"english":  "en",
	"spanish":  "es",
	"arabic":   "ar",
	"french":   "fr",
	"german":   "de",
	"chinese":  "zh",
	"japanese": "ja",
}

// DefaultLanguageCode is returned for display names that are not known.
const DefaultLanguageCode = "en"

// LanguageMapper handles conversion between different language code formats.
// Callers use BCP 47 tags like "EN" and "fr-CA" or display names like
// "Spanish", while backends use ISO 639-1 codes like "en" and "fr".
type LanguageMapper struct{}

// NewLanguageMapper creates a new language mapper instance.
func NewLanguageMapper() *LanguageMapper {
	return &LanguageMapper{}
}

// ToBackendCode converts a language tag to backend format.
// Examples:
//   - "EN" -> "en"
//   - "fr-CA" -> "fr"
//   - "en_US" -> "en"
func (lm *LanguageMapper) ToBackendCode(tag string) string {
	lang := strings.ToLower(strings.TrimSpace(tag))
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		lang = lang[:idx]
	}
	return lang
}

// CodeForName returns the ISO 639-1 code for a display name such as
// "Spanish". Unknown names map to DefaultLanguageCode.
func (lm *LanguageMapper) CodeForName(name string) string {
	if code, ok := languageNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return code
	}
	return DefaultLanguageCode
}

// IsLanguageName reports whether name is a known display name.
func (lm *LanguageMapper) IsLanguageName(name string) bool {
	_, ok := languageNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// NameForCode returns the English display name for a code, or the code
// itself when it is not known.
func (lm *LanguageMapper) NameForCode(code string) string {
	code = lm.ToBackendCode(code)
	for name, c := range languageNames {
		if c == code {
			return strings.ToUpper(name[:1]) + name[1:]
		}
	}
	return code
}

// sortedCodes returns the distinct codes of langs in ascending order.
func sortedCodes(langs ...string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
