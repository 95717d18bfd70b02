package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPythonPath     = "python3"
	defaultWorkerScript   = "/app/scripts/translate_worker.py"
	defaultWorkers        = 2
	defaultAcquireTimeout = 10 * time.Second
	workerRequestTimeout  = 5 * time.Minute
	workerSocketWait      = 5 * time.Second
)

// ErrPoolClosed is returned by a pool after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPoolConfig configures the on-device model workers.
type WorkerPoolConfig struct {
	// PythonPath defaults to python3.
	PythonPath string
	// ScriptPath is the worker script; it is started with --socket <path>.
	ScriptPath string
	// SocketDir defaults to <tmp>/doctrans-workers.
	SocketDir string
	// Workers defaults to 2.
	Workers int
	// AcquireTimeout bounds the wait for a free worker. Defaults to 10s.
	AcquireTimeout time.Duration
	Logger         *logrus.Logger
}

// WorkerPool manages Python model workers reachable over Unix domain sockets.
// Each request opens a connection, writes one JSON request and reads one
// JSON response.
type WorkerPool struct {
	cfg      WorkerPoolConfig
	logger   *logrus.Logger
	metrics  *MetricsCollector
	workers  map[int]*poolWorker
	workerMu sync.RWMutex
	ready    chan *poolWorker
	waiting  atomic.Int32
	closed   atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type poolWorker struct {
	id         int
	process    *exec.Cmd
	socketPath string
	logger     *logrus.Entry

	mu       sync.Mutex
	busy     bool
	dead     bool
	lastUsed time.Time
}

// workerRequest is one line of the worker protocol. Op is empty for a
// translation and "load" to warm a model.
type workerRequest struct {
	Op         string `json:"op,omitempty"`
	Model      string `json:"model,omitempty"`
	Text       string `json:"text,omitempty"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type workerResponse struct {
	Success        bool   `json:"success"`
	TranslatedText string `json:"translated_text,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Total   int
	Running int
	Busy    int
	Waiting int
	IdleFor map[int]time.Duration
}

// NewWorkerPool starts cfg.Workers worker processes. It fails when none of
// them comes up.
func NewWorkerPool(cfg WorkerPoolConfig) (*WorkerPool, error) {
	pool, err := newWorkerPool(cfg)
	if err != nil {
		return nil, err
	}

	started := 0
	for i := 0; i < pool.cfg.Workers; i++ {
		if err := pool.startWorker(i); err != nil {
			pool.logger.WithError(err).WithField("worker_id", i).Warn("Failed to start worker")
			continue
		}
		started++
	}
	if started == 0 {
		pool.Close()
		return nil, fmt.Errorf("no worker could be started with %s %s", pool.cfg.PythonPath, pool.cfg.ScriptPath)
	}

	return pool, nil
}

func newWorkerPool(cfg WorkerPoolConfig) (*WorkerPool, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PythonPath == "" {
		cfg.PythonPath = defaultPythonPath
	}
	if cfg.ScriptPath == "" {
		cfg.ScriptPath = defaultWorkerScript
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = filepath.Join(os.TempDir(), "doctrans-workers")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	pool := &WorkerPool{
		cfg:      cfg,
		logger:   cfg.Logger,
		workers:  make(map[int]*poolWorker),
		ready:    make(chan *poolWorker, cfg.Workers),
		shutdown: make(chan struct{}),
	}
	pool.metrics = NewMetricsCollector(pool, string(EngineOnDevice))

	pool.wg.Add(1)
	go pool.updateMetricsLoop()

	return pool, nil
}

// startWorker launches the worker process and waits for its socket.
func (p *WorkerPool) startWorker(id int) error {
	socketPath := filepath.Join(p.cfg.SocketDir, fmt.Sprintf("worker-%d.sock", id))
	_ = os.Remove(socketPath)

	cmd := exec.Command(p.cfg.PythonPath, p.cfg.ScriptPath, "--socket", socketPath)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker %d: %w", id, err)
	}

	deadline := time.Now().Add(workerSocketWait)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("worker %d socket not created within %s", id, workerSocketWait)
		}
		time.Sleep(50 * time.Millisecond)
	}

	w := p.attachWorker(id, socketPath, cmd)
	p.metrics.RecordWorkerStart(id)
	go p.monitor(w)
	return nil
}

// attachWorker registers a worker listening on socketPath and makes it
// available. process may be nil for externally managed workers.
func (p *WorkerPool) attachWorker(id int, socketPath string, process *exec.Cmd) *poolWorker {
	w := &poolWorker{
		id:         id,
		process:    process,
		socketPath: socketPath,
		logger:     p.logger.WithField("worker_id", id),
		lastUsed:   time.Now(),
	}

	p.workerMu.Lock()
	p.workers[id] = w
	p.workerMu.Unlock()

	p.offer(w)
	w.logger.Info("Worker started")
	return w
}

// offer makes w available. Dead workers waiting in the channel can fill it
// after restarts, in which case the hand-off completes in the background.
func (p *WorkerPool) offer(w *poolWorker) {
	select {
	case p.ready <- w:
	default:
		go func() {
			select {
			case p.ready <- w:
			case <-p.shutdown:
			}
		}()
	}
}

// monitor waits for the worker process and restarts it when it dies.
func (p *WorkerPool) monitor(w *poolWorker) {
	err := w.process.Wait()

	w.mu.Lock()
	w.dead = true
	w.mu.Unlock()

	if p.closed.Load() {
		return
	}
	w.logger.WithError(err).Warn("Worker process exited, restarting")
	p.metrics.RecordWorkerRestart(w.id)

	select {
	case <-p.shutdown:
		return
	case <-time.After(time.Second):
	}
	if err := p.startWorker(w.id); err != nil {
		w.logger.WithError(err).Error("Failed to restart worker")
	}
}

func (p *WorkerPool) updateMetricsLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.metrics.UpdateMetrics()
			p.updateWorkerMemory()
		}
	}
}

// updateWorkerMemory reads the resident set size of each worker from /proc.
func (p *WorkerPool) updateWorkerMemory() {
	p.workerMu.RLock()
	defer p.workerMu.RUnlock()

	for _, w := range p.workers {
		if w.process == nil || w.process.Process == nil {
			continue
		}
		if rss := processRSS(w.process.Process.Pid); rss > 0 {
			p.metrics.UpdateWorkerMemory(w.id, rss)
		}
	}
}

// processRSS returns VmRSS in bytes, or 0 when unavailable (non-Linux).
func processRSS(pid int) int64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				return kb * 1024
			}
		}
	}
	return 0
}

// acquire takes a live worker, discarding dead ones.
func (p *WorkerPool) acquire(ctx context.Context) (*poolWorker, error) {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	waitStart := time.Now()
	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	for {
		select {
		case w := <-p.ready:
			w.mu.Lock()
			if w.dead {
				w.mu.Unlock()
				continue
			}
			w.busy = true
			w.lastUsed = time.Now()
			w.mu.Unlock()
			p.metrics.RecordQueueWait(time.Since(waitStart))
			return w, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.shutdown:
			return nil, ErrPoolClosed
		case <-timeout.C:
			return nil, fmt.Errorf("timeout waiting for available worker")
		}
	}
}

func (p *WorkerPool) release(w *poolWorker) {
	w.mu.Lock()
	w.busy = false
	dead := w.dead
	w.mu.Unlock()
	if !dead && !p.closed.Load() {
		p.offer(w)
	}
}

// call runs one request on a free worker.
func (p *WorkerPool) call(ctx context.Context, req *workerRequest) (*workerResponse, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	dialStart := time.Now()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", w.socketPath)
	p.metrics.RecordSocketConnection(w.id, time.Since(dialStart), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(workerRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp workerResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("worker connection closed")
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("worker error: %s", resp.Error)
	}
	return &resp, nil
}

// Translate translates with the worker's default model.
func (p *WorkerPool) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return p.translate(ctx, "", text, sourceLang, targetLang)
}

func (p *WorkerPool) translate(ctx context.Context, modelID, text, sourceLang, targetLang string) (string, error) {
	resp, err := p.call(ctx, &workerRequest{
		Model:      modelID,
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err != nil {
		return "", err
	}
	return resp.TranslatedText, nil
}

// LoadModel asks a worker to load modelID and returns a translator bound to it.
func (p *WorkerPool) LoadModel(ctx context.Context, modelID, sourceLang, targetLang string) (Translator, error) {
	if _, err := p.call(ctx, &workerRequest{
		Op:         "load",
		Model:      modelID,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}); err != nil {
		return nil, err
	}
	return &pooledModel{pool: p, modelID: modelID}, nil
}

// CheckHealth reports an error when no worker is alive.
func (p *WorkerPool) CheckHealth(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.Stats().Running == 0 {
		return errors.New("no live translation worker")
	}
	return nil
}

// SupportedLanguages returns the languages of the NLLB models the workers serve.
func (p *WorkerPool) SupportedLanguages(ctx context.Context) ([]string, error) {
	return append([]string(nil), argosLanguages...), nil
}

// Stats returns the current pool counters.
func (p *WorkerPool) Stats() PoolStats {
	p.workerMu.RLock()
	defer p.workerMu.RUnlock()

	stats := PoolStats{
		Total:   len(p.workers),
		Waiting: int(p.waiting.Load()),
		IdleFor: make(map[int]time.Duration, len(p.workers)),
	}
	for id, w := range p.workers {
		w.mu.Lock()
		if !w.dead {
			stats.Running++
		}
		if w.busy {
			stats.Busy++
		} else {
			stats.IdleFor[id] = time.Since(w.lastUsed)
		}
		w.mu.Unlock()
	}
	return stats
}

// Close stops the workers and removes their sockets.
func (p *WorkerPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.shutdown)

	p.workerMu.Lock()
	for _, w := range p.workers {
		if w.process != nil && w.process.Process != nil {
			_ = w.process.Process.Kill()
		}
		_ = os.Remove(w.socketPath)
	}
	p.workerMu.Unlock()

	p.wg.Wait()
	return nil
}

// pooledModel is a Translator bound to one model served by the pool.
type pooledModel struct {
	pool    *WorkerPool
	modelID string
}

func (m *pooledModel) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return m.pool.translate(ctx, m.modelID, text, sourceLang, targetLang)
}

func (m *pooledModel) CheckHealth(ctx context.Context) error {
	return m.pool.CheckHealth(ctx)
}

func (m *pooledModel) SupportedLanguages(ctx context.Context) ([]string, error) {
	return m.pool.SupportedLanguages(ctx)
}
