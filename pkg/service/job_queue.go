// Package service keeps the translation jobs of the HTTP API: one pipeline
// run per uploaded document, addressed by a generated job ID.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobQueue manages translation jobs.
type JobQueue struct {
	pipeline  *pipeline.Pipeline
	processor *JobProcessor
	logger    *logrus.Logger

	jobs   map[string]*pipeline.Run
	jobsMu sync.RWMutex
}

// NewJobQueue creates a job queue backed by p. Jobs are started through
// processor.
func NewJobQueue(p *pipeline.Pipeline, processor *JobProcessor, logger *logrus.Logger) *JobQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &JobQueue{
		pipeline:  p,
		processor: processor,
		logger:    logger,
		jobs:      make(map[string]*pipeline.Run),
	}
}

// Pipeline returns the pipeline jobs run on.
func (q *JobQueue) Pipeline() *pipeline.Pipeline {
	return q.pipeline
}

// CreateJob registers a job for file with the given language pair. Empty
// language codes keep the pipeline defaults. Nothing is stored when the
// file or languages are rejected.
func (q *JobQueue) CreateJob(file *document.File, sourceLang, targetLang string) (*pipeline.Run, error) {
	jobID := uuid.New().String()
	run := q.pipeline.NewRun(jobID)

	if err := run.Select(file); err != nil {
		return nil, err
	}
	if err := run.SetLanguages(sourceLang, targetLang); err != nil {
		return nil, err
	}

	q.jobsMu.Lock()
	q.jobs[jobID] = run
	count := len(q.jobs)
	q.jobsMu.Unlock()
	jobsGauge.Set(float64(count))

	snap := run.Snapshot()
	q.logger.WithFields(logrus.Fields{
		"job_id":      jobID,
		"file":        snap.FileName,
		"format":      snap.Format,
		"source_lang": snap.SourceLang,
		"target_lang": snap.TargetLang,
	}).Info("Created translation job")

	return run, nil
}

// GetJob retrieves a job by ID.
func (q *JobQueue) GetJob(jobID string) (*pipeline.Run, error) {
	q.jobsMu.RLock()
	defer q.jobsMu.RUnlock()

	run, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return run, nil
}

// StartJob starts a created job.
func (q *JobQueue) StartJob(jobID string) (*pipeline.Run, error) {
	run, err := q.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if err := q.processor.Start(run); err != nil {
		return run, err
	}
	return run, nil
}

// DeleteJob resets and forgets a job. Jobs in flight cannot be deleted.
func (q *JobQueue) DeleteJob(jobID string) error {
	run, err := q.GetJob(jobID)
	if err != nil {
		return err
	}
	if err := run.Reset(); err != nil {
		return err
	}

	q.jobsMu.Lock()
	delete(q.jobs, jobID)
	count := len(q.jobs)
	q.jobsMu.Unlock()
	jobsGauge.Set(float64(count))

	q.logger.WithField("job_id", jobID).Info("Deleted translation job")
	return nil
}

// ListJobs returns snapshots of all jobs, newest first.
func (q *JobQueue) ListJobs() []pipeline.Snapshot {
	q.jobsMu.RLock()
	snaps := make([]pipeline.Snapshot, 0, len(q.jobs))
	for _, run := range q.jobs {
		snaps = append(snaps, run.Snapshot())
	}
	q.jobsMu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// CleanupOldJobs removes jobs that have not changed for maxAge. Jobs in
// flight are kept regardless of age.
func (q *JobQueue) CleanupOldJobs(maxAge time.Duration) int {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()

	now := time.Now()
	removed := 0

	for id, run := range q.jobs {
		if run.State().InFlight() {
			continue
		}
		if now.Sub(run.UpdatedAt()) > maxAge {
			delete(q.jobs, id)
			removed++
		}
	}
	jobsGauge.Set(float64(len(q.jobs)))

	if removed > 0 {
		q.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(q.jobs),
		}).Info("Cleaned up old translation jobs")
	}
	return removed
}

// RunCleanup calls CleanupOldJobs every interval until ctx is done.
func (q *JobQueue) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.CleanupOldJobs(maxAge)
		}
	}
}
