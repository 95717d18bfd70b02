package translate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLibreTranslateURL is the default base URL for LibreTranslate API.
	DefaultLibreTranslateURL = "http://localhost:5000"
	// DefaultLibreTranslateTimeout is the default timeout for HTTP requests.
	// Large documents are sent in chunks, but a single chunk can still be slow.
	DefaultLibreTranslateTimeout = 5 * time.Minute
)

// LibreTranslateClient implements the Translator interface using LibreTranslate.
// LibreTranslate is a self-hosted, open-source machine translation API.
type LibreTranslateClient struct {
	client jsonClient
	apiKey string
	logger *logrus.Logger
}

// NewLibreTranslateClient creates a new LibreTranslate client.
// apiKey is optional and only needed for instances that require one.
func NewLibreTranslateClient(baseURL, apiKey string, logger *logrus.Logger) *LibreTranslateClient {
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &LibreTranslateClient{
		client: newJSONClient(baseURL, DefaultLibreTranslateTimeout, logger),
		apiKey: apiKey,
		logger: logger,
	}
}

// libreTranslateRequest represents a LibreTranslate /translate request.
type libreTranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreTranslateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type libreLanguage struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Translate translates text from source language to target language.
func (c *LibreTranslateClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	fields := logrus.Fields{
		"engine":      EngineLibreTranslate,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"text_length": len(text),
	}
	c.logger.WithFields(fields).Debug("Translating text with LibreTranslate")

	var resp libreTranslateResponse
	startTime := time.Now()
	err := c.client.do(ctx, http.MethodPost, "/translate", &libreTranslateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
		APIKey: c.apiKey,
	}, &resp)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Error("LibreTranslate request failed")
		return "", fmt.Errorf("libretranslate: %w", err)
	}

	c.logger.WithFields(fields).WithField("duration_ms", time.Since(startTime).Milliseconds()).
		Debug("Translation completed successfully")

	return resp.TranslatedText, nil
}

// CheckHealth uses the /languages endpoint as a readiness probe.
func (c *LibreTranslateClient) CheckHealth(ctx context.Context) error {
	if err := c.client.do(ctx, http.MethodGet, "/languages", nil, nil); err != nil {
		return fmt.Errorf("libretranslate health check failed: %w", err)
	}
	return nil
}

// SupportedLanguages returns the language codes LibreTranslate reports.
func (c *LibreTranslateClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	var languages []libreLanguage
	if err := c.client.do(ctx, http.MethodGet, "/languages", nil, &languages); err != nil {
		return nil, fmt.Errorf("libretranslate languages: %w", err)
	}

	codes := make([]string, 0, len(languages))
	for _, lang := range languages {
		codes = append(codes, lang.Code)
	}

	c.logger.WithField("count", len(codes)).Debug("Fetched supported languages")
	return codes, nil
}
