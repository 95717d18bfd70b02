package service

import (
	"context"
	"testing"
	"time"

	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/dasmlab/doctrans/pkg/translate"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// blockingTranslator holds every translation until release is closed.
type blockingTranslator struct {
	release chan struct{}
}

func (b *blockingTranslator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	select {
	case <-b.release:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
func (b *blockingTranslator) CheckHealth(ctx context.Context) error { return nil }
func (b *blockingTranslator) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "es"}, nil
}

func newTestQueue(t *testing.T, tr translate.Translator, maxConcurrent int) *JobQueue {
	t.Helper()
	logger := quietLogger()
	p, err := pipeline.New(pipeline.Config{
		Registry:   document.NewRegistry(document.Options{Logger: logger}),
		Translator: tr,
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewJobQueue(p, NewJobProcessor(ctx, maxConcurrent, logger), logger)
}

func txt(content string) *document.File {
	return &document.File{Name: "doc.txt", Data: []byte(content)}
}

func TestJobQueue_CreateAndGet(t *testing.T) {
	q := newTestQueue(t, translate.NewPlaceholderTranslator(), 1)

	run, err := q.CreateJob(txt("hello"), "", "ar")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID())

	got, err := q.GetJob(run.ID())
	require.NoError(t, err)
	assert.Same(t, run, got)

	snap := got.Snapshot()
	assert.Equal(t, pipeline.StateFileSelected, snap.State)
	assert.Equal(t, "en", snap.SourceLang)
	assert.Equal(t, "ar", snap.TargetLang)
}

func TestJobQueue_CreateRejectsInvalidInput(t *testing.T) {
	q := newTestQueue(t, translate.NewPlaceholderTranslator(), 1)

	_, err := q.CreateJob(&document.File{Name: "x.exe", Data: []byte{1}}, "", "")
	assert.True(t, pipeline.IsValidation(err))

	_, err = q.CreateJob(txt("hello"), "en", "klingon")
	assert.True(t, pipeline.IsValidation(err))

	assert.Empty(t, q.ListJobs())
}

func TestJobQueue_GetUnknown(t *testing.T) {
	q := newTestQueue(t, translate.NewPlaceholderTranslator(), 1)

	_, err := q.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.StartJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, q.DeleteJob("missing"), ErrJobNotFound)
}

func TestJobQueue_StartRunsToCompletion(t *testing.T) {
	q := newTestQueue(t, translate.NewPlaceholderTranslator(), 1)

	run, err := q.CreateJob(txt("hello"), "", "")
	require.NoError(t, err)

	_, err = q.StartJob(run.ID())
	require.NoError(t, err)
	require.NoError(t, run.Wait(context.Background()))

	artifact, ok := run.Artifact()
	require.True(t, ok)
	assert.Equal(t, "HELLO", string(artifact.Content))
}

func TestJobProcessor_Capacity(t *testing.T) {
	tr := &blockingTranslator{release: make(chan struct{})}
	q := newTestQueue(t, tr, 1)

	first, err := q.CreateJob(txt("one"), "", "")
	require.NoError(t, err)
	second, err := q.CreateJob(txt("two"), "", "")
	require.NoError(t, err)

	_, err = q.StartJob(first.ID())
	require.NoError(t, err)

	_, err = q.StartJob(second.ID())
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Equal(t, pipeline.StateFileSelected, second.State())

	close(tr.release)
	require.NoError(t, first.Wait(context.Background()))

	// The slot is released once the first run finished.
	assert.Eventually(t, func() bool {
		_, err := q.StartJob(second.ID())
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, second.Wait(context.Background()))
}

func TestJobQueue_DeleteInFlight(t *testing.T) {
	tr := &blockingTranslator{release: make(chan struct{})}
	q := newTestQueue(t, tr, 2)

	run, err := q.CreateJob(txt("hello"), "", "")
	require.NoError(t, err)
	_, err = q.StartJob(run.ID())
	require.NoError(t, err)

	assert.ErrorIs(t, q.DeleteJob(run.ID()), pipeline.ErrBusy)

	close(tr.release)
	require.NoError(t, run.Wait(context.Background()))
	require.NoError(t, q.DeleteJob(run.ID()))

	_, err = q.GetJob(run.ID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobQueue_CleanupOldJobs(t *testing.T) {
	tr := &blockingTranslator{release: make(chan struct{})}
	q := newTestQueue(t, tr, 2)

	idle, err := q.CreateJob(txt("idle"), "", "")
	require.NoError(t, err)
	busy, err := q.CreateJob(txt("busy"), "", "")
	require.NoError(t, err)
	_, err = q.StartJob(busy.ID())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, q.CleanupOldJobs(time.Millisecond))

	_, err = q.GetJob(idle.ID())
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.GetJob(busy.ID())
	assert.NoError(t, err)

	close(tr.release)
	require.NoError(t, busy.Wait(context.Background()))
}

func TestJobQueue_ListJobsNewestFirst(t *testing.T) {
	q := newTestQueue(t, translate.NewPlaceholderTranslator(), 1)

	first, err := q.CreateJob(txt("a"), "", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := q.CreateJob(txt("b"), "", "")
	require.NoError(t, err)

	jobs := q.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID(), jobs[0].ID)
	assert.Equal(t, first.ID(), jobs[1].ID)
}
