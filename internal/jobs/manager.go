// Package jobs owns the job lifecycle: creation, progress accounting,
// cancellation, persistence, and artifact downloads. All mutation of a Job
// flows through the Manager, which serializes writes per job id.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/store"
)

// Stable error codes carried on failed jobs.
const (
	CodeNoUsableContent = "no_usable_content"
	CodeBlockedByRobots = "blocked_by_robots"
	CodeTimeout         = "timeout"
	CodeComposeError    = "compose_error"
	CodeStoreError      = "store_error"
	CodeInternal        = "internal"
)

// Manager API errors.
var (
	ErrNotFound        = errors.New("job not found")
	ErrNotReady        = errors.New("artifact not ready")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

type jobEntry struct {
	mu              sync.Mutex
	job             generator.Job
	logs            *ring
	cancelRequested bool
}

// Manager tracks jobs in memory and mirrors every material change to the
// artifact store as status.json.
type Manager struct {
	store    generator.ArtifactStore
	clock    generator.Clock
	idGen    generator.IDGenerator
	logger   *zap.Logger
	ringSize int

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// NewManager constructs a Manager.
func NewManager(st generator.ArtifactStore, clock generator.Clock, idGen generator.IDGenerator, ringSize int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    st,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		ringSize: ringSize,
		jobs:     make(map[string]*jobEntry),
	}
}

// Create validates the request and records a new job in pending state.
// Validation failures surface synchronously; the job never exists.
func (m *Manager) Create(ctx context.Context, req generator.JobRequest) (generator.Job, error) {
	if err := req.Validate(); err != nil {
		return generator.Job{}, fmt.Errorf("invalid request: %w", err)
	}
	id, err := m.idGen.NewID()
	if err != nil {
		return generator.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	job := generator.Job{
		ID:      id,
		Request: req,
		State:   generator.JobStatePending,
		Progress: generator.Progress{
			Phase:   generator.PhaseInitializing,
			Message: "Generation job created",
		},
		CreatedAt: float64(m.clock.Now().UnixMilli()) / 1000,
	}
	entry := &jobEntry{job: job, logs: newRing(m.ringSize)}

	m.mu.Lock()
	m.jobs[id] = entry
	m.mu.Unlock()

	m.persist(ctx, entry)
	m.logger.Info("job created",
		zap.String("job_id", id), zap.String("url", req.URL),
		zap.Int("max_pages", req.MaxPages), zap.Int("max_depth", req.MaxDepth))
	return job, nil
}

// Get returns the current view of a job. Jobs unknown to this process are
// looked up in the artifact store so a restarted instance still answers.
func (m *Manager) Get(ctx context.Context, jobID string) (View, error) {
	if entry := m.entry(jobID); entry != nil {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return viewOf(entry.job, entry.logs.snapshot()), nil
	}

	raw, err := m.store.GetStatus(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return View{}, ErrNotFound
		}
		return View{}, fmt.Errorf("read status: %w", err)
	}
	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		return View{}, fmt.Errorf("decode status: %w", err)
	}
	return v, nil
}

// Cancel requests cancellation. Terminal jobs are not reopened.
func (m *Manager) Cancel(_ context.Context, jobID string) error {
	entry := m.entry(jobID)
	if entry == nil {
		return ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.job.State.Terminal() {
		return ErrAlreadyTerminal
	}
	entry.cancelRequested = true
	m.logger.Info("cancellation requested", zap.String("job_id", jobID))
	return nil
}

// CancelRequested is polled by the orchestrator at checkpoints.
func (m *Manager) CancelRequested(jobID string) bool {
	entry := m.entry(jobID)
	if entry == nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.cancelRequested
}

// Download returns artifact bytes for a completed job.
func (m *Manager) Download(ctx context.Context, jobID string, kind generator.ArtifactKind) ([]byte, error) {
	view, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if view.Status != generator.JobStateCompleted {
		return nil, ErrNotReady
	}
	data, err := m.store.GetArtifact(ctx, jobID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Start transitions pending -> running.
func (m *Manager) Start(ctx context.Context, jobID string) error {
	return m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		if job.State != generator.JobStatePending {
			return fmt.Errorf("start from %s: %w", job.State, ErrAlreadyTerminal)
		}
		job.State = generator.JobStateRunning
		job.Progress.Message = "Job started"
		return nil
	})
}

// SetPhase records the current pipeline phase.
func (m *Manager) SetPhase(ctx context.Context, jobID string, phase generator.Phase, message string) {
	_ = m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		job.Progress.Phase = phase
		if message != "" {
			job.Progress.Message = message
		}
		return nil
	})
}

// Report applies a progress delta: counters, current page, and fraction.
// The fraction is clamped so observed progress never decreases.
func (m *Manager) Report(ctx context.Context, jobID string, fraction float64, mutate func(*generator.Progress)) {
	_ = m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		if mutate != nil {
			mutate(&job.Progress)
		}
		if fraction > 1 {
			fraction = 1
		}
		if fraction > job.Progress.Fraction {
			job.Progress.Fraction = fraction
		}
		return nil
	})
}

// Log appends one processing-log line to the job's bounded ring buffer.
func (m *Manager) Log(ctx context.Context, jobID, line string) {
	_ = m.update(ctx, jobID, func(_ *generator.Job, logs *ring) error {
		logs.append(line)
		return nil
	})
}

// Complete flips the job to completed. The orchestrator must have written
// both artifact blobs before calling this; the status flip is what makes
// them visible to readers.
func (m *Manager) Complete(ctx context.Context, jobID string, llmURL, fullURL string, sizeKB float64) error {
	return m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		if job.State.Terminal() {
			return ErrAlreadyTerminal
		}
		job.State = generator.JobStateCompleted
		job.LLMTxtURL = llmURL
		job.LLMSFullTxtURL = fullURL
		job.TotalSizeKB = sizeKB
		job.Progress.Fraction = 1
		job.Progress.Message = fmt.Sprintf("Generated %.1fKB of content", sizeKB)
		m.stamp(job)
		return nil
	})
}

// Fail flips the job to failed with a stable error code.
func (m *Manager) Fail(ctx context.Context, jobID, code, message string) error {
	return m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		if job.State.Terminal() {
			return ErrAlreadyTerminal
		}
		job.State = generator.JobStateFailed
		job.ErrorCode = code
		job.Progress.Message = message
		m.stamp(job)
		return nil
	})
}

// Cancelled flips the job to cancelled.
func (m *Manager) Cancelled(ctx context.Context, jobID string) error {
	return m.update(ctx, jobID, func(job *generator.Job, _ *ring) error {
		if job.State.Terminal() {
			return ErrAlreadyTerminal
		}
		job.State = generator.JobStateCancelled
		job.Progress.Message = "Job cancelled"
		m.stamp(job)
		return nil
	})
}

func (m *Manager) stamp(job *generator.Job) {
	at := float64(m.clock.Now().UnixMilli()) / 1000
	job.CompletedAt = &at
}

func (m *Manager) entry(jobID string) *jobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID]
}

func (m *Manager) update(ctx context.Context, jobID string, fn func(*generator.Job, *ring) error) error {
	entry := m.entry(jobID)
	if entry == nil {
		return ErrNotFound
	}
	entry.mu.Lock()
	if err := fn(&entry.job, entry.logs); err != nil {
		entry.mu.Unlock()
		return err
	}
	entry.mu.Unlock()

	m.persist(ctx, entry)
	return nil
}

// persist mirrors the job view to status.json. Persistence failures are
// logged, not fatal: the in-memory view remains authoritative for this
// process and the next material change retries.
func (m *Manager) persist(ctx context.Context, entry *jobEntry) {
	entry.mu.Lock()
	view := viewOf(entry.job, entry.logs.snapshot())
	entry.mu.Unlock()

	raw, err := json.Marshal(view)
	if err != nil {
		m.logger.Error("marshal status failed", zap.String("job_id", view.JobID), zap.Error(err))
		return
	}
	if err := m.store.PutStatus(ctx, view.JobID, raw); err != nil {
		m.logger.Warn("persist status failed", zap.String("job_id", view.JobID), zap.Error(err))
	}
}
