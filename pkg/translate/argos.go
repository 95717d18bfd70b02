package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultArgosURL is the default base URL for an Argos Translate HTTP service.
	DefaultArgosURL = "http://127.0.0.1:5000"
	// DefaultArgosTimeout is the default timeout for HTTP requests.
	DefaultArgosTimeout = 2 * time.Minute
)

// argosLanguages is what Argos Translate ships packages for. The service has
// no listing endpoint.
var argosLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko",
	"ar", "hi", "tr", "pl", "nl", "sv", "da", "fi", "cs", "el",
}

// ArgosClient implements the Translator interface against Argos Translate
// wrapped in a small HTTP service.
type ArgosClient struct {
	client jsonClient
	logger *logrus.Logger
}

// NewArgosClient creates a new Argos Translate client.
func NewArgosClient(baseURL string, logger *logrus.Logger) *ArgosClient {
	if baseURL == "" {
		baseURL = DefaultArgosURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &ArgosClient{
		client: newJSONClient(baseURL, DefaultArgosTimeout, logger),
		logger: logger,
	}
}

type argosTranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type argosTranslateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Translate translates text from source language to target language.
func (c *ArgosClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	fields := logrus.Fields{
		"engine":      EngineArgos,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"text_length": len(text),
	}
	c.logger.WithFields(fields).Debug("Translating text with Argos")

	var resp argosTranslateResponse
	err := c.client.do(ctx, http.MethodPost, "/translate", &argosTranslateRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, &resp)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Error("Argos request failed")
		return "", fmt.Errorf("argos: %w", err)
	}

	return resp.TranslatedText, nil
}

// CheckHealth probes /health. A service without that endpoint (404) is
// considered healthy as long as it answers.
func (c *ArgosClient) CheckHealth(ctx context.Context) error {
	err := c.client.do(ctx, http.MethodGet, "/health", nil, nil)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		c.logger.Debug("Argos has no health endpoint, treating reachable service as healthy")
		return nil
	}
	if err != nil {
		return fmt.Errorf("argos health check failed: %w", err)
	}
	return nil
}

// SupportedLanguages returns the languages Argos ships packages for.
func (c *ArgosClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	return append([]string(nil), argosLanguages...), nil
}
