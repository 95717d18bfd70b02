package translate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// DefaultChunkSize is the largest piece of text sent to a backend at once.
const DefaultChunkSize = 10 * 1024

var (
	paragraphBreakRe = regexp.MustCompile(`\n[ \t]*\n\s*`)
	sentenceEndRe    = regexp.MustCompile(`[.!?]+\s+`)
)

// ProgressFunc is called after each chunk with the number of chunks done.
type ProgressFunc func(done, total int)

// ChunkOptions tunes a ChunkedTranslator.
type ChunkOptions struct {
	// MaxChunkSize in bytes; zero selects DefaultChunkSize.
	MaxChunkSize int
	// KeepSourceOnError keeps a chunk untranslated when the backend fails
	// on it instead of failing the whole text.
	KeepSourceOnError bool
	Logger            *logrus.Logger
}

// ChunkedTranslator splits large texts at paragraph and sentence boundaries,
// translates the chunks in order and concatenates the results. Whitespace
// between chunks is never sent to the backend, so separators come back
// exactly as they were.
type ChunkedTranslator struct {
	next              Translator
	maxChunkSize      int
	keepSourceOnError bool
	logger            *logrus.Logger
}

// NewChunkedTranslator wraps next.
func NewChunkedTranslator(next Translator, opts ChunkOptions) *ChunkedTranslator {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &ChunkedTranslator{
		next:              next,
		maxChunkSize:      opts.MaxChunkSize,
		keepSourceOnError: opts.KeepSourceOnError,
		logger:            opts.Logger,
	}
}

func (c *ChunkedTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return c.TranslateWithProgress(ctx, text, sourceLang, targetLang, nil)
}

// TranslateWithProgress translates chunk by chunk, reporting progress after
// each one.
func (c *ChunkedTranslator) TranslateWithProgress(ctx context.Context, text, sourceLang, targetLang string, progress ProgressFunc) (string, error) {
	chunks := SplitChunks(text, c.maxChunkSize)
	total := len(chunks)
	startTime := time.Now()

	if total > 1 {
		c.logger.WithFields(logrus.Fields{
			"text_length":  len(text),
			"chunk_size":   c.maxChunkSize,
			"total_chunks": total,
		}).Info("Translating large text in chunks")
	}

	var out strings.Builder
	out.Grow(len(text))
	kept := 0

	for i, chunk := range chunks {
		lead, core, trail := splitSurroundingSpace(chunk)
		if core == "" {
			out.WriteString(chunk)
		} else {
			translated, err := c.next.Translate(ctx, core, sourceLang, targetLang)
			if err != nil {
				if !c.keepSourceOnError || ctx.Err() != nil {
					return "", fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
				}
				c.logger.WithError(err).WithFields(logrus.Fields{
					"chunk":        i + 1,
					"total_chunks": total,
				}).Warn("Chunk translation failed, keeping source text")
				translated = core
				kept++
			}
			out.WriteString(lead)
			out.WriteString(translated)
			out.WriteString(trail)
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	if total > 1 {
		c.logger.WithFields(logrus.Fields{
			"original_length":   len(text),
			"translated_length": out.Len(),
			"chunks":            total,
			"kept_source":       kept,
			"duration_ms":       time.Since(startTime).Milliseconds(),
		}).Info("Chunked translation completed")
	}

	return out.String(), nil
}

func (c *ChunkedTranslator) CheckHealth(ctx context.Context) error {
	return c.next.CheckHealth(ctx)
}

func (c *ChunkedTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	return c.next.SupportedLanguages(ctx)
}

// SplitChunks splits text into pieces of at most maxSize bytes, preferring
// paragraph breaks, then sentence ends, then whitespace. Concatenating the
// result yields text unchanged.
func SplitChunks(text string, maxSize int) []string {
	if maxSize <= 0 || len(text) <= maxSize {
		return []string{text}
	}

	var pieces []string
	for _, para := range splitAfter(text, paragraphBreakRe) {
		if len(para) <= maxSize {
			pieces = append(pieces, para)
			continue
		}
		for _, sentence := range splitAfter(para, sentenceEndRe) {
			if len(sentence) <= maxSize {
				pieces = append(pieces, sentence)
				continue
			}
			pieces = append(pieces, hardSplit(sentence, maxSize)...)
		}
	}

	var chunks []string
	var current strings.Builder
	for _, p := range pieces {
		if current.Len() > 0 && current.Len()+len(p) > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitAfter cuts s after every match of re.
func splitAfter(s string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		out = append(out, s[start:loc[1]])
		start = loc[1]
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// hardSplit cuts s into pieces of at most maxSize bytes at whitespace when
// possible, and never inside a UTF-8 sequence.
func hardSplit(s string, maxSize int) []string {
	var out []string
	for len(s) > maxSize {
		cut := maxSize
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if i := strings.LastIndexAny(s[:cut], " \t\n"); i > 0 {
			cut = i + 1
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func splitSurroundingSpace(s string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(s, unicode.IsSpace)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsSpace)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
