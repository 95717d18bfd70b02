package translate

import (
	"context"
	"strings"
)

// PlaceholderTranslator stands in for a real model: it returns the input
// uppercased. Formula placeholders are already uppercase and pass through.
type PlaceholderTranslator struct{}

// NewPlaceholderTranslator creates a placeholder translator.
func NewPlaceholderTranslator() *PlaceholderTranslator {
	return &PlaceholderTranslator{}
}

func (p *PlaceholderTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.ToUpper(text), nil
}

func (p *PlaceholderTranslator) CheckHealth(ctx context.Context) error {
	return nil
}

func (p *PlaceholderTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	codes := make([]string, 0, 3)
	for _, l := range DefaultLanguages() {
		codes = append(codes, l.Code)
	}
	return codes, nil
}

// LoadModel satisfies ModelLoader; every model is the placeholder.
func (p *PlaceholderTranslator) LoadModel(ctx context.Context, modelID, sourceLang, targetLang string) (Translator, error) {
	return p, nil
}
