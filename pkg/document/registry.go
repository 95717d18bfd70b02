// Package document extracts translatable text from uploaded documents and
// rebuilds documents from translated text.
//
// Formats are registered in a Registry as Handler implementations. Dispatch
// uses the declared MIME type first and falls back to the file extension.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dasmlab/doctrans/pkg/formula"
	"github.com/sirupsen/logrus"
)

// Handler extracts and rebuilds one document format.
type Handler interface {
	// Format returns the format handled.
	Format() Format
	// MIMETypes returns the MIME types routed to this handler.
	MIMETypes() []string
	// Extensions returns the lowercase file extensions (with dot) routed to
	// this handler. The first one is the canonical extension.
	Extensions() []string
	// OutputMIMEType is the MIME type of rebuilt documents.
	OutputMIMEType() string
	// Extract returns the plain text of the file.
	Extract(ctx context.Context, file *File) (string, Metadata, error)
	// Rebuild serializes translated text into the handler's format.
	// original is the uploaded file the text was extracted from.
	Rebuild(ctx context.Context, original *File, translated string) ([]byte, error)
}

// Options tunes a Registry.
type Options struct {
	// Extended additionally registers md, json and csv through the text path.
	Extended bool
	// LanguageSuffix names artifacts <name>_<lang>_translated.<ext>.
	LanguageSuffix bool
	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Registry maps formats to handlers.
type Registry struct {
	handlers       []Handler
	byFormat       map[Format]Handler
	byMIME         map[string]Handler
	byExt          map[string]Handler
	languageSuffix bool
	logger         *logrus.Logger
}

// NewRegistry creates a registry with the built-in handlers registered.
func NewRegistry(opts Options) *Registry {
	r := NewEmptyRegistry(opts)
	r.Register(NewTextHandler())
	r.Register(NewPDFHandler(opts.Logger))
	r.Register(NewDocxHandler())
	if opts.Extended {
		r.Register(NewMarkdownHandler())
		r.Register(NewJSONHandler())
		r.Register(NewCSVHandler())
	}
	return r
}

// NewEmptyRegistry creates a registry with no handlers.
func NewEmptyRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Registry{
		byFormat:       make(map[Format]Handler),
		byMIME:         make(map[string]Handler),
		byExt:          make(map[string]Handler),
		languageSuffix: opts.LanguageSuffix,
		logger:         opts.Logger,
	}
}

// Register adds a handler. A later registration for the same format, MIME
// type or extension replaces the earlier one.
func (r *Registry) Register(h Handler) {
	if _, exists := r.byFormat[h.Format()]; !exists {
		r.handlers = append(r.handlers, h)
	} else {
		for i, existing := range r.handlers {
			if existing.Format() == h.Format() {
				r.handlers[i] = h
			}
		}
	}
	r.byFormat[h.Format()] = h
	for _, m := range h.MIMETypes() {
		r.byMIME[normalizeMIME(m)] = h
	}
	for _, ext := range h.Extensions() {
		r.byExt[strings.ToLower(ext)] = h
	}
}

// Formats returns the registered formats in registration order.
func (r *Registry) Formats() []Format {
	formats := make([]Format, 0, len(r.handlers))
	for _, h := range r.handlers {
		formats = append(formats, h.Format())
	}
	return formats
}

// Extensions returns every accepted extension.
func (r *Registry) Extensions() []string {
	var exts []string
	for _, h := range r.handlers {
		exts = append(exts, h.Extensions()...)
	}
	return exts
}

// Detect returns the handler for a file: MIME type first, extension second.
func (r *Registry) Detect(file *File) (Handler, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: no file", ErrUnsupportedFormat)
	}
	if h, ok := r.byMIME[normalizeMIME(file.MIMEType)]; ok {
		return h, nil
	}
	if h, ok := r.byExt[strings.ToLower(filepath.Ext(file.Name))]; ok {
		return h, nil
	}

	declared := file.MIMEType
	if declared == "" {
		declared = file.Name
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, declared)
}

// Extract detects the format, extracts the text and replaces formulas with
// placeholders.
func (r *Registry) Extract(ctx context.Context, file *File) (*Content, error) {
	h, err := r.Detect(file)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	text, meta, err := h.Extract(ctx, file)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"file":   file.Name,
			"format": h.Format(),
		}).Error("Extraction failed")
		return nil, fmt.Errorf("extract %s: %w", h.Format(), err)
	}

	if meta.DetectedLanguage == "" {
		meta.DetectedLanguage = DetectLanguage(text)
	}

	clean, formulas := formula.Strip(text)

	r.logger.WithFields(logrus.Fields{
		"file":        file.Name,
		"format":      h.Format(),
		"text_length": len(clean),
		"formulas":    len(formulas),
		"pages":       meta.PageCount,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Extracted document")

	return &Content{
		Format:   h.Format(),
		Text:     clean,
		Formulas: formulas,
		Metadata: meta,
	}, nil
}

// Rebuild serializes translated text into the original file's format. When
// the format-specific rebuild fails, the translated text is returned as a
// plain-text artifact. The fallback writes the translated bytes as they are,
// invalid UTF-8 included, and fails only when ctx is done.
func (r *Registry) Rebuild(ctx context.Context, original *File, translated, targetLang string) (*Artifact, error) {
	h, err := r.Detect(original)
	if err != nil {
		// Nothing to rebuild into; the text fallback still applies.
		return r.fallbackArtifact(ctx, original, translated, targetLang, err)
	}

	content, err := h.Rebuild(ctx, original, translated)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"file":   original.Name,
			"format": h.Format(),
		}).Warn("Rebuild failed, falling back to plain text")
		return r.fallbackArtifact(ctx, original, translated, targetLang, err)
	}

	ext := filepath.Ext(original.Name)
	if !hasExtension(h, ext) {
		ext = h.Extensions()[0]
	}

	return &Artifact{
		Content:  content,
		FileName: r.artifactName(original.Name, targetLang, ext),
		MIMEType: h.OutputMIMEType(),
	}, nil
}

func (r *Registry) fallbackArtifact(ctx context.Context, original *File, translated, targetLang string, cause error) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("plain text fallback after %v: %w", cause, err)
	}

	name := ""
	if original != nil {
		name = original.Name
	}

	return &Artifact{
		Content:        []byte(translated),
		FileName:       r.artifactName(name, targetLang, ".txt"),
		MIMEType:       MIMEText,
		Fallback:       true,
		FallbackReason: cause.Error(),
	}, nil
}

func hasExtension(h Handler, ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range h.Extensions() {
		if e == ext {
			return true
		}
	}
	return false
}

func (r *Registry) artifactName(original, targetLang, ext string) string {
	lang := ""
	if r.languageSuffix {
		lang = targetLang
	}
	return ArtifactName(original, lang, ext)
}

// ArtifactName derives the download name of a translated document:
// <name>_translated<ext>, or <name>_<lang>_translated<ext> when lang is set.
// ext includes the leading dot.
func ArtifactName(original, lang, ext string) string {
	base := filepath.Base(original)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if lang != "" {
		return fmt.Sprintf("%s_%s_translated%s", base, lang, ext)
	}
	return fmt.Sprintf("%s_translated%s", base, ext)
}
