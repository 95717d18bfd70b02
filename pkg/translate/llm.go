package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
)

// DefaultLLMModel is used when no model name is configured.
const DefaultLLMModel = "gpt-4o-mini"

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("model returned no translated text")

const llmSystemPrompt = `You are a high-precision document translator.
Translate the user's text from %s to %s.
Preserve the original structure: line breaks, paragraphs and page markers such as "[Page 1]".
Tokens of the form __FORMULA_N__ are placeholders and must be copied unchanged.
Return ONLY the translated text. Do not add explanations, notes or markdown code fences.`

// LLMConfig configures the generative model engine.
type LLMConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Logger  *logrus.Logger
}

// LLMTranslator translates through an OpenAI-compatible chat model.
type LLMTranslator struct {
	chat   model.BaseChatModel
	model  string
	mapper *LanguageMapper
	logger *logrus.Logger
}

// NewLLMTranslator creates the chat model client.
func NewLLMTranslator(ctx context.Context, cfg LLMConfig) (*LLMTranslator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm engine requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}

	chatCfg := &openai.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = cfg.BaseURL
	}

	chat, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newLLMTranslator(chat, cfg.Model, cfg.Logger), nil
}

func newLLMTranslator(chat model.BaseChatModel, modelName string, logger *logrus.Logger) *LLMTranslator {
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMTranslator{
		chat:   chat,
		model:  modelName,
		mapper: NewLanguageMapper(),
		logger: logger,
	}
}

// Translate sends text with a fixed instruction prompt. Languages are named
// by display name in the prompt.
func (t *LLMTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	source := "the detected language"
	if sourceLang != "" && sourceLang != "auto" {
		source = t.mapper.NameForCode(sourceLang)
	}
	target := t.mapper.NameForCode(targetLang)

	startTime := time.Now()
	msg, err := t.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(llmSystemPrompt, source, target)),
		schema.UserMessage(text),
	})
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"engine": EngineLLM,
			"model":  t.model,
		}).Error("Chat model request failed")
		return "", fmt.Errorf("llm: %w", err)
	}

	out := stripCodeFence(msg.Content)
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyCompletion
	}

	t.logger.WithFields(logrus.Fields{
		"engine":      EngineLLM,
		"model":       t.model,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Chat model translation completed")

	return out, nil
}

// CheckHealth only checks that a model is configured; probing the remote
// API would spend tokens.
func (t *LLMTranslator) CheckHealth(ctx context.Context) error {
	if t.chat == nil {
		return errors.New("llm engine not initialised")
	}
	return nil
}

func (t *LLMTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	codes := make([]string, 0, len(languageNames))
	for _, code := range languageNames {
		codes = append(codes, code)
	}
	return sortedCodes(codes...), nil
}

// stripCodeFence removes a markdown fence wrapped around the whole answer.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return s
	}
	inner := strings.TrimSuffix(trimmed[3:], "```")
	// Drop the info string (e.g. "text") on the opening line.
	if idx := strings.IndexByte(inner, '\n'); idx >= 0 {
		inner = inner[idx+1:]
	}
	return strings.TrimRight(inner, "\n")
}
