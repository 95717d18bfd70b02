// Package pipeline runs the document translation state machine: a selected
// file is extracted, its text translated with formulas held back as
// placeholders, and a document of the same format rebuilt from the result.
//
// A Pipeline holds the shared collaborators (format registry, translator,
// language list, gate). Each upload gets its own Run, which owns the state,
// progress and artifact of that upload. Runs are safe for concurrent use:
// the HTTP layer polls Snapshot while the run executes in its own goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/dasmlab/doctrans/pkg/formula"
	"github.com/dasmlab/doctrans/pkg/translate"
	"github.com/sirupsen/logrus"
)

// DefaultRunTimeout bounds a run so that a hung backend cannot block a job
// forever.
const DefaultRunTimeout = 10 * time.Minute

// SourceAuto asks for the source language to be detected.
const SourceAuto = "auto"

// Progress checkpoints of a run.
const (
	progressExtracting  = 10
	progressExtracted   = 30
	progressTranslating = 40
	progressTranslated  = 80
	progressRestored    = 85
	progressRebuilding  = 90
	progressDone        = 100
)

// Config wires a Pipeline.
type Config struct {
	Registry   *document.Registry
	Translator translate.Translator
	// Languages offered for selection; defaults to translate.DefaultLanguages.
	Languages []translate.Language
	// DefaultSource and DefaultTarget preselect languages for new runs.
	// They default to the first and second configured language.
	DefaultSource string
	DefaultTarget string
	// Gate runs between Start and extraction; defaults to NoGate.
	Gate Gate
	// StrictFormulas fails a run when the translation lost formula
	// placeholders. Otherwise the loss is recorded as a warning.
	StrictFormulas bool
	// RunTimeout defaults to DefaultRunTimeout.
	RunTimeout time.Duration
	Logger     *logrus.Logger
}

// Pipeline creates runs that share one configuration.
type Pipeline struct {
	cfg    Config
	mapper *translate.LanguageMapper
	logger *logrus.Logger
}

// progressTranslator is implemented by translators that report chunk progress.
type progressTranslator interface {
	TranslateWithProgress(ctx context.Context, text, sourceLang, targetLang string, progress translate.ProgressFunc) (string, error)
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline requires a document registry")
	}
	if cfg.Translator == nil {
		return nil, errors.New("pipeline requires a translator")
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = translate.DefaultLanguages()
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = cfg.Languages[0].Code
	}
	if cfg.DefaultTarget == "" {
		cfg.DefaultTarget = cfg.Languages[0].Code
		if len(cfg.Languages) > 1 {
			cfg.DefaultTarget = cfg.Languages[1].Code
		}
	}
	if cfg.Gate == nil {
		cfg.Gate = NoGate{}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Pipeline{
		cfg:    cfg,
		mapper: translate.NewLanguageMapper(),
		logger: cfg.Logger,
	}, nil
}

// Languages returns the configured language options.
func (p *Pipeline) Languages() []translate.Language {
	return append([]translate.Language(nil), p.cfg.Languages...)
}

// Registry returns the document format registry.
func (p *Pipeline) Registry() *document.Registry {
	return p.cfg.Registry
}

// resolveLanguage turns a tag like "fr-CA" or a display name like
// "Spanish" into a backend code.
func (p *Pipeline) resolveLanguage(value string) string {
	code := p.mapper.ToBackendCode(value)
	if code == SourceAuto || p.knownLanguage(code) {
		return code
	}
	for _, l := range p.cfg.Languages {
		if strings.EqualFold(l.Name, strings.TrimSpace(value)) {
			return l.Code
		}
	}
	if p.mapper.IsLanguageName(value) {
		return p.mapper.CodeForName(value)
	}
	return code
}

func (p *Pipeline) knownLanguage(code string) bool {
	for _, l := range p.cfg.Languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

// NewRun creates an idle run.
func (p *Pipeline) NewRun(id string) *Run {
	now := time.Now()
	return &Run{
		id:         id,
		p:          p,
		logger:     p.logger.WithField("job_id", id),
		state:      StateIdle,
		sourceLang: p.cfg.DefaultSource,
		targetLang: p.cfg.DefaultTarget,
		createdAt:  now,
		updatedAt:  now,
	}
}

// Select attaches a file to the run. Unsupported or empty files return a
// validation error and leave the run unchanged. Allowed while idle or
// before the run starts.
func (r *Run) Select(file *document.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle && r.state != StateFileSelected {
		return newError(KindValidation, r.state, fmt.Errorf("%w: cannot select a file while %s", ErrInvalidTransition, r.state))
	}
	if file == nil || len(file.Data) == 0 {
		return newError(KindValidation, r.state, errors.New("file is empty"))
	}

	h, err := r.p.cfg.Registry.Detect(file)
	if err != nil {
		return newError(KindValidation, r.state, fmt.Errorf("please upload a supported document (%s): %w",
			strings.Join(r.p.cfg.Registry.Extensions(), ", "), err))
	}

	r.file = file
	r.format = h.Format()
	r.metadata = document.Metadata{}
	r.artifact = nil
	r.err = nil
	r.warnings = nil
	r.progress = 0
	r.transition(StateFileSelected, "Ready to translate")

	r.logger.WithFields(logrus.Fields{
		"file":   file.Name,
		"format": r.format,
		"bytes":  len(file.Data),
	}).Info("File selected")
	return nil
}

// SetLanguages selects the language pair. An empty code keeps the current
// value; the source may be SourceAuto.
func (r *Run) SetLanguages(sourceLang, targetLang string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle && r.state != StateFileSelected {
		return newError(KindValidation, r.state, fmt.Errorf("%w: languages are fixed once the run started", ErrInvalidTransition))
	}

	src, tgt := r.sourceLang, r.targetLang
	if sourceLang != "" {
		src = r.p.resolveLanguage(sourceLang)
	}
	if targetLang != "" {
		tgt = r.p.resolveLanguage(targetLang)
	}

	if src != SourceAuto && !r.p.knownLanguage(src) {
		return newError(KindValidation, r.state, fmt.Errorf("unsupported source language %q", src))
	}
	if !r.p.knownLanguage(tgt) {
		return newError(KindValidation, r.state, fmt.Errorf("unsupported target language %q", tgt))
	}
	if src == tgt {
		return newError(KindValidation, r.state, fmt.Errorf("source and target language are both %q", src))
	}

	r.sourceLang, r.targetLang = src, tgt
	r.updatedAt = time.Now()
	return nil
}

// SwapLanguages exchanges source and target.
func (r *Run) SwapLanguages() error {
	r.mu.RLock()
	src, tgt := r.sourceLang, r.targetLang
	r.mu.RUnlock()

	if src == SourceAuto {
		return newError(KindValidation, r.State(), errors.New("cannot swap an auto-detected source language"))
	}
	return r.SetLanguages(tgt, src)
}

// Start moves a run with a selected file into execution and returns
// immediately. ctx bounds the whole run (together with the configured run
// timeout) and should outlive the request that started it.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.state.InFlight():
		state := r.state
		r.mu.Unlock()
		return newError(KindValidation, state, ErrBusy)
	case r.file == nil:
		state := r.state
		r.mu.Unlock()
		return newError(KindValidation, state, ErrNoFile)
	case r.state != StateFileSelected:
		state := r.state
		r.mu.Unlock()
		return newError(KindValidation, state, fmt.Errorf("%w: reset the run before starting again", ErrInvalidTransition))
	}

	r.startedAt = time.Now()
	r.completedAt = time.Time{}
	r.progress = 0
	r.done = make(chan struct{})
	r.transition(StateAwaitingGate, "Preparing")

	file, src, tgt, done := r.file, r.sourceLang, r.targetLang, r.done
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"file":        file.Name,
		"source_lang": src,
		"target_lang": tgt,
	}).Info("Starting translation run")

	go r.execute(ctx, file, src, tgt, done)
	return nil
}

// Wait blocks until the started run finishes and returns its error.
func (r *Run) Wait(ctx context.Context) error {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done == nil {
		return newError(KindValidation, r.State(), fmt.Errorf("%w: run not started", ErrInvalidTransition))
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return r.err
	}
	return nil
}

// Execute starts the run and waits for it.
func (r *Run) Execute(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// Reset returns a finished or not yet started run to idle, dropping its
// file and artifact. A run in flight cannot be reset.
func (r *Run) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.InFlight() {
		return ErrBusy
	}

	r.file = nil
	r.format = ""
	r.metadata = document.Metadata{}
	r.artifact = nil
	r.err = nil
	r.warnings = nil
	r.progress = 0
	r.done = nil
	r.startedAt = time.Time{}
	r.completedAt = time.Time{}
	r.state = StateIdle
	r.message = ""
	r.updatedAt = time.Now()
	return nil
}

func (r *Run) execute(parent context.Context, file *document.File, src, tgt string, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithTimeout(parent, r.p.cfg.RunTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Error("Translation run panicked")
			r.fail(newError(KindUnknown, r.State(), fmt.Errorf("internal error: %v", rec)))
		}
	}()

	if err := r.run(ctx, file, src, tgt); err != nil {
		r.fail(err)
	}
}

func (r *Run) run(ctx context.Context, file *document.File, src, tgt string) *Error {
	cfg := r.p.cfg
	format := string(r.Format())

	if err := cfg.Gate.Wait(ctx, func(remaining time.Duration) {
		r.setMessage(fmt.Sprintf("Starting in %ds", int(remaining.Seconds())))
	}); err != nil {
		return newError(KindUnknown, StateAwaitingGate, fmt.Errorf("waiting to start: %w", err))
	}

	// Extraction
	if err := r.advance(StateExtracting, progressExtracting, "Extracting text"); err != nil {
		return err
	}
	stageStart := time.Now()
	content, err := cfg.Registry.Extract(ctx, file)
	if err != nil {
		return newError(KindExtraction, StateExtracting, err)
	}
	stageDuration.WithLabelValues(string(StateExtracting), format).Observe(time.Since(stageStart).Seconds())
	formulasPreserved.Observe(float64(len(content.Formulas)))

	r.mu.Lock()
	r.metadata = content.Metadata
	r.mu.Unlock()
	r.setProgress(progressExtracted, "Text extracted")

	if src == SourceAuto && content.Metadata.DetectedLanguage != "" && content.Metadata.DetectedLanguage != document.LanguageAuto {
		src = content.Metadata.DetectedLanguage
	}

	// Translation
	if err := r.advance(StateTranslating, progressTranslating, "Translating"); err != nil {
		return err
	}
	stageStart = time.Now()
	translated := content.Text
	if src == tgt {
		// Only reachable through detection; SetLanguages rejects equal codes.
		r.logger.WithField("language", src).Info("Detected source matches target, skipping translation")
		r.addWarning(fmt.Sprintf("Document is already in %q; text was not translated", tgt))
	} else {
		translated, err = r.translate(ctx, content.Text, src, tgt)
		if err != nil {
			return newError(KindTranslation, StateTranslating, err)
		}
	}
	stageDuration.WithLabelValues(string(StateTranslating), format).Observe(time.Since(stageStart).Seconds())
	r.setProgress(progressTranslated, "Translation finished")

	restored, missing := formula.Restore(translated, content.Formulas)
	if len(missing) > 0 {
		unrestoredPlaceholdersTotal.Add(float64(len(missing)))
		lost := fmt.Errorf("%d formula placeholder(s) lost in translation: %s", len(missing), strings.Join(missing, ", "))
		if cfg.StrictFormulas {
			return newError(KindTranslation, StateTranslating, lost)
		}
		r.logger.WithField("missing", missing).Warn("Formula placeholders not restored")
		r.addWarning(lost.Error())
	}
	r.setProgress(progressRestored, "Formulas restored")

	// Rebuild
	if err := r.advance(StateRebuilding, progressRebuilding, "Rebuilding document"); err != nil {
		return err
	}
	stageStart = time.Now()
	artifact, err := cfg.Registry.Rebuild(ctx, file, restored, tgt)
	if err != nil {
		return newError(KindRebuild, StateRebuilding, err)
	}
	stageDuration.WithLabelValues(string(StateRebuilding), format).Observe(time.Since(stageStart).Seconds())
	if artifact.Fallback {
		rebuildFallbacksTotal.WithLabelValues(format).Inc()
		r.addWarning(fmt.Sprintf("could not rebuild the %s document, delivering plain text instead: %s", format, artifact.FallbackReason))
	}

	r.complete(artifact)
	return nil
}

func (r *Run) translate(ctx context.Context, text, src, tgt string) (string, error) {
	tr := r.p.cfg.Translator
	pt, ok := tr.(progressTranslator)
	if !ok {
		return tr.Translate(ctx, text, src, tgt)
	}
	span := progressTranslated - progressTranslating
	return pt.TranslateWithProgress(ctx, text, src, tgt, func(done, total int) {
		if total > 1 {
			r.setProgress(progressTranslating+span*done/total, fmt.Sprintf("Translating (%d/%d)", done, total))
		}
	})
}

func (r *Run) complete(artifact *document.Artifact) {
	r.mu.Lock()
	r.artifact = artifact
	r.completedAt = time.Now()
	r.progress = progressDone
	r.transition(StateCompleted, "Translation complete")
	duration := r.completedAt.Sub(r.startedAt)
	format := r.format
	r.mu.Unlock()

	runsTotal.WithLabelValues(string(format), "completed").Inc()
	r.logger.WithFields(logrus.Fields{
		"artifact":    artifact.FileName,
		"bytes":       len(artifact.Content),
		"fallback":    artifact.Fallback,
		"duration_ms": duration.Milliseconds(),
	}).Info("Translation run completed")
}

func (r *Run) fail(err *Error) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.err = err
	r.completedAt = time.Now()
	r.transition(StateError, err.Message())
	format := r.format
	r.mu.Unlock()

	runsTotal.WithLabelValues(string(format), "error").Inc()
	r.logger.WithError(err.Err).WithFields(logrus.Fields{
		"kind":  err.Kind,
		"state": err.State,
	}).Error("Translation run failed")
}

// advance moves to the next stage and raises progress.
func (r *Run) advance(to State, progress int, message string) *Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(r.state, to) {
		return newError(KindUnknown, r.state, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to))
	}
	r.transition(to, message)
	if progress > r.progress {
		r.progress = progress
	}
	return nil
}

// transition sets the state; the caller holds r.mu.
func (r *Run) transition(to State, message string) {
	r.state = to
	r.message = message
	r.updatedAt = time.Now()
}

// setProgress raises progress; lower values are ignored.
func (r *Run) setProgress(progress int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress > r.progress {
		r.progress = progress
	}
	if message != "" {
		r.message = message
	}
	r.updatedAt = time.Now()
}

func (r *Run) setMessage(message string) {
	r.mu.Lock()
	r.message = message
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) addWarning(w string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	r.mu.Unlock()
}
