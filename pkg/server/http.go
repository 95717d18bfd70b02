// Package server exposes translation jobs over HTTP: upload, start, status,
// Server-Sent Events progress and artifact download.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/dasmlab/doctrans/pkg/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxUploadBytes bounds uploaded documents.
	DefaultMaxUploadBytes = 50 << 20
	// DefaultEventInterval is how often SSE streams poll a job.
	DefaultEventInterval = time.Second
)

// HealthFunc reports whether the translation backend is usable.
type HealthFunc func(ctx context.Context) error

// Options tunes an HTTPServer.
type Options struct {
	Port           int
	MaxUploadBytes int64
	EventInterval  time.Duration
	Health         HealthFunc
}

// HTTPServer provides the job API.
type HTTPServer struct {
	jobQueue *service.JobQueue
	logger   *logrus.Logger
	opts     Options
	server   *http.Server
}

// NewHTTPServer creates a new HTTP server for the job API.
func NewHTTPServer(jobQueue *service.JobQueue, logger *logrus.Logger, opts Options) *HTTPServer {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = DefaultEventInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &HTTPServer{
		jobQueue: jobQueue,
		logger:   logger,
		opts:     opts,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/languages", s.handleLanguages)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleJobStatus)
				r.Delete("/", s.handleDeleteJob)
				r.Put("/languages", s.handleSetLanguages)
				r.Post("/start", s.handleStartJob)
				r.Get("/events", s.handleJobEvents)
				r.Get("/artifact", s.handleArtifact)
			})
		})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"port": s.opts.Port,
	}).Info("Starting HTTP server for translation jobs")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

type languagesResponse struct {
	Languages []languageOption  `json:"languages"`
	Formats   []document.Format `json:"formats"`
	Accept    []string          `json:"accept"`
}

type languageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *HTTPServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	p := s.jobQueue.Pipeline()
	resp := languagesResponse{
		Formats: p.Registry().Formats(),
		Accept:  p.Registry().Extensions(),
	}
	for _, l := range p.Languages() {
		resp.Languages = append(resp.Languages, languageOption{Code: l.Code, Name: l.Name})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.jobQueue.ListJobs(),
	})
}

// handleCreateJob accepts a multipart upload with a "file" part and optional
// source, target and start fields.
func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes))
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	file := &document.File{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}

	run, err := s.jobQueue.CreateJob(file, r.FormValue("source"), r.FormValue("target"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if start, _ := strconv.ParseBool(r.FormValue("start")); start {
		if _, err := s.jobQueue.StartJob(run.ID()); err != nil {
			// The client never learns the ID, so do not keep the job.
			if derr := s.jobQueue.DeleteJob(run.ID()); derr != nil {
				s.logger.WithError(derr).WithField("job_id", run.ID()).Warn("Failed to drop job that could not start")
			}
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, run.Snapshot())
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+run.ID())
	s.writeJSON(w, http.StatusCreated, run.Snapshot())
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.jobQueue.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run.Snapshot())
}

type languagesRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Swap   bool   `json:"swap"`
}

func (s *HTTPServer) handleSetLanguages(w http.ResponseWriter, r *http.Request) {
	run, err := s.jobQueue.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	var req languagesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.Swap {
		err = run.SwapLanguages()
	} else {
		err = run.SetLanguages(req.Source, req.Target)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run.Snapshot())
}

// handleStartJob starts a job. Optional source and target form or query
// values change the language pair first.
func (s *HTTPServer) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if source, target := r.FormValue("source"), r.FormValue("target"); source != "" || target != "" {
		run, err := s.jobQueue.GetJob(jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if err := run.SetLanguages(source, target); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	run, err := s.jobQueue.StartJob(jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobQueue.DeleteJob(chi.URLParam(r, "jobID")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	run, err := s.jobQueue.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	artifact, ok := run.Artifact()
	if !ok {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no artifact available", run.State()))
		return
	}

	w.Header().Set("Content-Type", artifact.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Content)))
	if artifact.Fallback {
		w.Header().Set("X-Doctrans-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Content); err != nil {
		s.logger.WithError(err).WithField("job_id", run.ID()).Warn("Failed to write artifact")
	}
}

// handleJobEvents streams job snapshots as Server-Sent Events until the job
// reaches a terminal state or the client disconnects.
func (s *HTTPServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	run, err := s.jobQueue.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ticker := time.NewTicker(s.opts.EventInterval)
	defer ticker.Stop()

	last := run.Snapshot()
	s.sendSSEEvent(w, "status", last)
	if last.State.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap := run.Snapshot()
			if snap.State == last.State && snap.Progress == last.Progress && snap.Message == last.Message {
				continue
			}
			s.sendSSEEvent(w, "status", snap)
			last = snap
			if snap.State.Terminal() {
				return
			}
		}
	}
}

// sendSSEEvent writes one event: "event: <type>\ndata: <json>\n\n".
func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, snap pipeline.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal SSE event")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// writeServiceError maps job and pipeline errors to status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	var pe *pipeline.Error
	if errors.As(err, &pe) {
		msg = pe.Message()
	}

	switch {
	case errors.Is(err, service.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAtCapacity):
		status = http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrInvalidTransition):
		status = http.StatusConflict
	case pipeline.IsValidation(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeError(w, status, msg)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}
