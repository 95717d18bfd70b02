package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibreTranslateClient_Translate(t *testing.T) {
	var got libreTranslateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(libreTranslateResponse{TranslatedText: "hola"})
	}))
	defer srv.Close()

	c := NewLibreTranslateClient(srv.URL+"/", "secret", quietLogger())
	out, err := c.Translate(context.Background(), "hello", "en", "es")
	require.NoError(t, err)

	assert.Equal(t, "hola", out)
	assert.Equal(t, libreTranslateRequest{Q: "hello", Source: "en", Target: "es", Format: "text", APIKey: "secret"}, got)
}

func TestLibreTranslateClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"language not supported"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewLibreTranslateClient(srv.URL, "", quietLogger())
	_, err := c.Translate(context.Background(), "hello", "en", "xx")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "language not supported")
}

func TestLibreTranslateClient_LanguagesAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/languages", r.URL.Path)
		_, _ = w.Write([]byte(`[{"code":"en","name":"English"},{"code":"ar","name":"Arabic"}]`))
	}))
	defer srv.Close()

	c := NewLibreTranslateClient(srv.URL, "", quietLogger())
	require.NoError(t, c.CheckHealth(context.Background()))

	codes, err := c.SupportedLanguages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ar"}, codes)
}

func TestArgosClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/translate":
			var req argosTranslateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ar", req.TargetLang)
			_ = json.NewEncoder(w).Encode(argosTranslateResponse{TranslatedText: "مرحبا"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewArgosClient(srv.URL, quietLogger())
	out, err := c.Translate(context.Background(), "hello", "en", "ar")
	require.NoError(t, err)
	assert.Equal(t, "مرحبا", out)

	// No /health endpoint: reachable counts as healthy.
	assert.NoError(t, c.CheckHealth(context.Background()))

	srv.Close()
	assert.Error(t, c.CheckHealth(context.Background()))
}
