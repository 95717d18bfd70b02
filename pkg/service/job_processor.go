package service

import (
	"context"
	"errors"

	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentJobs bounds the runs executing at the same time.
const DefaultMaxConcurrentJobs = 4

// ErrAtCapacity is returned when every run slot is taken.
var ErrAtCapacity = errors.New("too many translation jobs running")

var (
	jobsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctrans_jobs",
			Help: "Translation jobs currently held in memory",
		},
	)

	runningJobsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctrans_jobs_running",
			Help: "Translation jobs currently executing",
		},
	)

	rejectedJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doctrans_jobs_rejected_total",
			Help: "Job starts rejected because all run slots were taken",
		},
	)
)

// JobProcessor starts pipeline runs, at most maxConcurrent at a time.
type JobProcessor struct {
	ctx    context.Context
	slots  *semaphore.Weighted
	logger *logrus.Logger
}

// NewJobProcessor creates a processor. ctx is the parent of every run and
// should be cancelled on shutdown.
func NewJobProcessor(ctx context.Context, maxConcurrent int, logger *logrus.Logger) *JobProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &JobProcessor{
		ctx:    ctx,
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
		logger: logger,
	}
}

// Start takes a run slot and starts run. The slot is released when the
// run finishes.
func (p *JobProcessor) Start(run *pipeline.Run) error {
	if !p.slots.TryAcquire(1) {
		rejectedJobsTotal.Inc()
		p.logger.WithField("job_id", run.ID()).Warn("Rejecting job start, all run slots taken")
		return ErrAtCapacity
	}

	if err := run.Start(p.ctx); err != nil {
		p.slots.Release(1)
		return err
	}

	runningJobsGauge.Inc()
	go func() {
		defer func() {
			runningJobsGauge.Dec()
			p.slots.Release(1)
		}()
		// The run's own error is recorded on the run.
		_ = run.Wait(context.Background())
	}()
	return nil
}
