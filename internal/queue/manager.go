// Package queue owns the job list and the single background worker that feeds
// pending jobs through the listing pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pipeline"
)

// Store is the durable job store the manager writes through to.
type Store interface {
	Add(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, job *domain.Job) error
	Remove(ctx context.Context, id string) error
	RemoveByStatus(ctx context.Context, statuses ...domain.JobStatus) (int64, error)
	LoadAll(ctx context.Context) ([]domain.Job, error)
}

// Runner executes the pipeline for one folder.
type Runner interface {
	Run(ctx context.Context, folder string, narrate pipeline.Narrator) pipeline.Result
}

// State is the queue-level state, distinct from any job's status.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Options configures a Manager.
type Options struct {
	MaxAttempts int
	EventBuffer int
	// StoreRetryInterval is the first wait before re-saving a job result the
	// store rejected. It doubles up to maxStoreRetryInterval.
	StoreRetryInterval time.Duration
}

const maxStoreRetryInterval = 30 * time.Second

// Stats counts jobs per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Paused     int `json:"paused"`
	Skipped    int `json:"skipped"`
	Total      int `json:"total"`
}

// Manager serializes every job mutation under one mutex and persists each
// change before releasing it.
type Manager struct {
	store  Store
	runner Runner
	opts   Options
	logger *slog.Logger
	bus    *Bus

	// ctx bounds the worker's lifetime. The in-flight job is never cancelled.
	ctx context.Context

	mu      sync.Mutex
	wake    *sync.Cond
	jobs    []domain.Job
	running bool
	paused  bool
	done    chan struct{}

	now   func() time.Time
	newID func() string
}

// New loads the persisted jobs, recovering any left in processing, and
// returns an idle Manager. Cancelling ctx stops the worker after its current job.
// A nil runner gives a Manager that can edit the queue but never starts a worker.
func New(ctx context.Context, store Store, runner Runner, opts Options, logger *slog.Logger) (*Manager, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.StoreRetryInterval <= 0 {
		opts.StoreRetryInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	jobs, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	m := &Manager{
		store:  store,
		runner: runner,
		opts:   opts,
		logger: logger.With("component", "queue"),
		bus:    NewBus(),
		ctx:    ctx,
		jobs:   jobs,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  NewJobID,
	}
	m.wake = sync.NewCond(&m.mu)

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.wake.Broadcast()
		m.mu.Unlock()
	})

	m.logger.Info("queue loaded", "jobs", len(jobs))
	return m, nil
}

// NewJobID returns an 8 character upper-case hex id.
func NewJobID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// Subscribe returns a channel of queue events. Call cancel when done listening.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = m.opts.EventBuffer
	}
	return m.bus.Subscribe(buffer)
}

// AddFolder queues a folder as a new pending job. It does not start the worker.
func (m *Manager) AddFolder(ctx context.Context, path string) (domain.Job, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.Job{}, &domain.ValidationError{Field: "folder_path", Message: "is required"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("add folder %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	for m.indexOf(id) >= 0 {
		id = m.newID()
	}

	job := domain.NewJob(id, abs, m.opts.MaxAttempts, m.now())
	if err := m.store.Add(ctx, &job); err != nil {
		return domain.Job{}, fmt.Errorf("add folder %s: %w", path, err)
	}
	m.jobs = append(m.jobs, job)

	m.logger.Info("job added", "job_id", job.ID, "folder", job.FolderName)
	m.publishJob(EventJobAdded, job)
	return job.Clone(), nil
}

// AddBatch adds each folder in order. Jobs added before a failure stay queued.
func (m *Manager) AddBatch(ctx context.Context, paths []string) ([]domain.Job, error) {
	added := make([]domain.Job, 0, len(paths))
	var errs []error
	for _, p := range paths {
		job, err := m.AddFolder(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, job)
	}
	return added, errors.Join(errs...)
}

// Start launches the worker if it is not running. It leaves the pause flag
// alone: a worker started on a paused queue waits for Resume.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked()
}

func (m *Manager) startLocked() {
	if m.running || m.ctx.Err() != nil {
		return
	}
	if m.runner == nil {
		m.logger.Warn("worker not started: no pipeline configured")
		return
	}
	m.running = true
	m.done = make(chan struct{})
	go m.work(m.done)
	m.logger.Info("worker started")
}

// Pause stops the worker from picking up another job. The in-flight job finishes.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.logger.Info("queue paused")
}

// Resume clears the pause flag, restarting the worker if it had exited.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.wake.Broadcast()
	m.startLocked()
	m.logger.Info("queue resumed")
}

// State reports the queue-level state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.paused:
		return StatePaused
	case !m.running:
		return StateIdle
	default:
		return StateRunning
	}
}

// IsProcessing reports whether the worker goroutine is alive.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// IsPaused reports whether the pause flag is set.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Wait blocks until the worker exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFailed resets every failed job that has attempts left and returns how many moved.
func (m *Manager) RetryFailed(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		n    int
		errs []error
	)
	for i := range m.jobs {
		if !m.jobs[i].CanRetry() {
			continue
		}
		if err := m.resetLocked(ctx, i); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		m.logger.Info("failed jobs reset", "count", n)
	}
	return n, errors.Join(errs...)
}

// RetryJob resets one failed job. It returns false if the job is missing, not
// failed, out of attempts, or could not be persisted.
func (m *Manager) RetryJob(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 || !m.jobs[i].CanRetry() {
		return false
	}
	if err := m.resetLocked(ctx, i); err != nil {
		m.logger.Error("retry job", "job_id", id, "error", err)
		return false
	}
	return true
}

func (m *Manager) resetLocked(ctx context.Context, i int) error {
	job, err := m.jobs[i].WithStatus(domain.JobStatusPending)
	if err != nil {
		return err
	}
	job.ErrorType = nil
	job.ErrorMessage = nil
	job.CompletedAt = nil
	return m.commitLocked(ctx, i, job)
}

// SkipJob moves a pending job to skipped.
func (m *Manager) SkipJob(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.JobStatusSkipped)
}

// HoldJob parks a pending job so the worker passes over it.
func (m *Manager) HoldJob(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.JobStatusPaused)
}

// ReleaseJob returns a held job to pending.
func (m *Manager) ReleaseJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("release job %s: %w", id, domain.ErrNotFound)
	}
	if m.jobs[i].Status != domain.JobStatusPaused {
		return &domain.TransitionError{JobID: id, From: m.jobs[i].Status, To: domain.JobStatusPending}
	}
	job, err := m.jobs[i].WithStatus(domain.JobStatusPending)
	if err != nil {
		return err
	}
	return m.commitLocked(ctx, i, job)
}

func (m *Manager) transition(ctx context.Context, id string, to domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	job, err := m.jobs[i].WithStatus(to)
	if err != nil {
		return err
	}
	if err := m.commitLocked(ctx, i, job); err != nil {
		return err
	}
	m.logger.Info("job status changed", "job_id", id, "status", to)
	return nil
}

// RemoveJob deletes a pending, failed or skipped job.
func (m *Manager) RemoveJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("remove job %s: %w", id, domain.ErrNotFound)
	}
	if !m.jobs[i].Removable() {
		return fmt.Errorf("remove job %s in status %s: %w", id, m.jobs[i].Status, domain.ErrConflict)
	}
	if err := m.store.Remove(ctx, id); err != nil {
		return err
	}
	m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
	return nil
}

// ClearCompleted removes every completed and skipped job.
func (m *Manager) ClearCompleted(ctx context.Context) (int, error) {
	return m.removeWhere(ctx, domain.JobStatusCompleted, domain.JobStatusSkipped)
}

// ClearAll removes every job except the one being processed.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	var statuses []domain.JobStatus
	for _, s := range domain.AllJobStatuses {
		if s != domain.JobStatusProcessing {
			statuses = append(statuses, s)
		}
	}
	return m.removeWhere(ctx, statuses...)
}

func (m *Manager) removeWhere(ctx context.Context, statuses ...domain.JobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.RemoveByStatus(ctx, statuses...); err != nil {
		return 0, err
	}

	drop := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		drop[s] = true
	}
	kept := m.jobs[:0]
	removed := 0
	for _, j := range m.jobs {
		if drop[j.Status] {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	m.jobs = kept
	return removed, nil
}

// Stats counts the in-memory jobs per status.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	s := Stats{Total: len(m.jobs)}
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			s.Pending++
		case domain.JobStatusProcessing:
			s.Processing++
		case domain.JobStatusCompleted:
			s.Completed++
		case domain.JobStatusFailed:
			s.Failed++
		case domain.JobStatusPaused:
			s.Paused++
		case domain.JobStatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Jobs returns a copy of every job in creation order.
func (m *Manager) Jobs() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, len(m.jobs))
	for i, j := range m.jobs {
		out[i] = j.Clone()
	}
	return out
}

// Job returns one job by id.
func (m *Manager) Job(id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return m.jobs[i].Clone(), nil
}

// JobByFolder finds the job queued for a folder path.
func (m *Manager) JobByFolder(path string) (domain.Job, bool) {
	clean := filepath.Clean(path)
	if abs, err := filepath.Abs(clean); err == nil {
		clean = abs
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.FolderPath == clean {
			return j.Clone(), true
		}
	}
	return domain.Job{}, false
}

// commitLocked persists job and only then replaces the in-memory copy at i.
func (m *Manager) commitLocked(ctx context.Context, i int, job domain.Job) error {
	if err := m.store.Update(ctx, &job); err != nil {
		return err
	}
	m.jobs[i] = job
	return nil
}

func (m *Manager) indexOf(id string) int {
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) publishJob(t EventType, job domain.Job) {
	c := job.Clone()
	m.bus.Publish(Event{Type: t, JobID: job.ID, Job: &c, Message: job.FolderName})
}
