package pipeline

import (
	"sync"
	"time"

	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/sirupsen/logrus"
)

// Run is one document's trip through the pipeline.
type Run struct {
	id     string
	p      *Pipeline
	logger *logrus.Entry

	mu          sync.RWMutex
	state       State
	progress    int
	message     string
	err         *Error
	file        *document.File
	format      document.Format
	sourceLang  string
	targetLang  string
	metadata    document.Metadata
	artifact    *document.Artifact
	warnings    []string
	done        chan struct{}
	createdAt   time.Time
	updatedAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// ErrorInfo is the user-facing view of a run failure.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	State   State  `json:"state"`
	Message string `json:"message"`
}

// ArtifactInfo describes a finished artifact without its content.
type ArtifactInfo struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	ID          string            `json:"job_id"`
	State       State             `json:"status"`
	Progress    int               `json:"progress"`
	Message     string            `json:"message,omitempty"`
	Error       *ErrorInfo        `json:"error,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
	Format      document.Format   `json:"format,omitempty"`
	SourceLang  string            `json:"source_lang"`
	TargetLang  string            `json:"target_lang"`
	Metadata    document.Metadata `json:"metadata"`
	Artifact    *ArtifactInfo     `json:"artifact,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Format returns the detected format of the selected file.
func (r *Run) Format() document.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.format
}

// UpdatedAt returns the time of the last change.
func (r *Run) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

// Artifact returns the rebuilt document once the run completed.
func (r *Run) Artifact() (*document.Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateCompleted || r.artifact == nil {
		return nil, false
	}
	return r.artifact, true
}

// Snapshot returns a copy of the run's observable state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		ID:         r.id,
		State:      r.state,
		Progress:   r.progress,
		Message:    r.message,
		Format:     r.format,
		SourceLang: r.sourceLang,
		TargetLang: r.targetLang,
		Metadata:   r.metadata,
		Warnings:   append([]string(nil), r.warnings...),
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
	if r.file != nil {
		s.FileName = r.file.Name
	}
	if r.err != nil {
		s.Error = &ErrorInfo{Kind: r.err.Kind, State: r.err.State, Message: r.err.Message()}
	}
	if r.artifact != nil {
		s.Artifact = &ArtifactInfo{
			FileName: r.artifact.FileName,
			MIMEType: r.artifact.MIMEType,
			Size:     len(r.artifact.Content),
			Fallback: r.artifact.Fallback,
		}
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		s.StartedAt = &t
	}
	if !r.completedAt.IsZero() {
		t := r.completedAt
		s.CompletedAt = &t
	}
	return s
}
