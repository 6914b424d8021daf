package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pipeline"
)

type memStore struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	order     []string
	failWrite bool
	// failResults fails that many writes of a finished (completed or failed) job.
	failResults int
}

func newMemStore(jobs ...domain.Job) *memStore {
	s := &memStore{jobs: make(map[string]domain.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j.Clone()
		s.order = append(s.order, j.ID)
	}
	return s
}

func (s *memStore) Add(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *memStore) Update(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("disk full")
	}
	if s.failResults > 0 && (job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed) {
		s.failResults--
		return errors.New("database is locked")
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) RemoveByStatus(_ context.Context, statuses ...domain.JobStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		for _, st := range statuses {
			if j.Status == st {
				delete(s.jobs, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *memStore) LoadAll(context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, id := range s.order {
		j, ok := s.jobs[id]
		if !ok {
			continue
		}
		if j.Status == domain.JobStatusProcessing {
			j.Status = domain.JobStatusPending
			s.jobs[id] = j
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *memStore) get(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// gateRunner blocks each run until the test releases it.
type gateRunner struct {
	mu      sync.Mutex
	results map[string]pipeline.Result
	gate    chan struct{}
	folders []string
	// onRun is called before the run blocks on gate.
	onRun func()
}

func (r *gateRunner) Run(_ context.Context, folder string, narrate pipeline.Narrator) pipeline.Result {
	r.mu.Lock()
	r.folders = append(r.folders, filepath.Base(folder))
	res, ok := r.results[filepath.Base(folder)]
	hook := r.onRun
	r.mu.Unlock()

	narrate(slog.LevelInfo, "working on "+filepath.Base(folder))
	if hook != nil {
		hook()
	}
	if r.gate != nil {
		<-r.gate
	}
	if !ok {
		return pipeline.Result{Success: true, OfferID: "OFF-" + filepath.Base(folder), Price: "9.99",
			Status: pipeline.StatusDraft, Timing: domain.Timing{"total": 0.1}}
	}
	return res
}

func (r *gateRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.folders...)
}

func newManager(t *testing.T, store *memStore, runner Runner) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := New(ctx, store, runner, Options{MaxAttempts: 3}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func waitFor(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestManager_ProcessesFIFOAndCompletes(t *testing.T) {
	store := newMemStore()
	runner := &gateRunner{results: map[string]pipeline.Result{
		"b": {Success: false, ErrorType: domain.ErrorKindNoImages, ErrorMessage: "no images found in folder",
			Status: pipeline.StatusError, Timing: domain.Timing{"discover": 0.01}},
	}}
	m := newManager(t, store, runner)
	events, cancel := m.Subscribe(256)
	defer cancel()

	dir := t.TempDir()
	jobs, err := m.AddBatch(context.Background(), []string{
		filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c"),
	})
	if err != nil || len(jobs) != 3 {
		t.Fatalf("AddBatch: %v (%d jobs)", err, len(jobs))
	}

	m.Start()
	done := waitFor(t, events, EventQueueComplete)
	waitIdle(t, m)

	if got := runner.ran(); fmt.Sprint(got) != "[a b c]" {
		t.Errorf("run order = %v, want FIFO", got)
	}
	if done.Total != 3 || done.Done != 3 {
		t.Errorf("queue_complete = %d/%d", done.Done, done.Total)
	}
	if m.State() != StateIdle {
		t.Errorf("State = %s, want idle", m.State())
	}

	a, _ := m.Job(jobs[0].ID)
	if a.Status != domain.JobStatusCompleted || a.OfferID == nil || *a.OfferID != "OFF-a" || *a.Price != "9.99" {
		t.Errorf("unexpected completed job: %+v", a)
	}
	if a.Attempts != 1 || a.StartedAt == nil || a.CompletedAt == nil {
		t.Errorf("attempts/timestamps not recorded: %+v", a)
	}

	b := store.get(jobs[1].ID)
	if b.Status != domain.JobStatusFailed || *b.ErrorType != domain.ErrorKindNoImages || b.Timing["discover"] != 0.01 {
		t.Errorf("failure not persisted: %+v", b)
	}
	if b.CompletedAt == nil {
		t.Error("completed_at must be stamped on failure")
	}
}

func TestManager_SingleInFlightAndStatsSum(t *testing.T) {
	store := newMemStore()
	runner := &gateRunner{gate: make(chan struct{})}
	m := newManager(t, store, runner)

	var violations int
	var mu sync.Mutex
	runner.onRun = func() {
		s := m.Stats()
		mu.Lock()
		defer mu.Unlock()
		if s.Processing != 1 {
			violations++
		}
		if s.Pending+s.Processing+s.Completed+s.Failed+s.Paused+s.Skipped != s.Total {
			violations++
		}
	}

	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		if _, err := m.AddFolder(context.Background(), filepath.Join(dir, fmt.Sprintf("f%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	m.Start()
	m.Start()
	for i := 0; i < 4; i++ {
		runner.gate <- struct{}{}
	}
	waitIdle(t, m)

	if violations != 0 {
		t.Errorf("%d invariant violations", violations)
	}
	if s := m.Stats(); s.Completed != 4 || s.Total != 4 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestManager_PauseLetsInFlightJobFinish(t *testing.T) {
	store := newMemStore()
	runner := &gateRunner{gate: make(chan struct{})}
	m := newManager(t, store, runner)
	events, cancel := m.Subscribe(256)
	defer cancel()

	dir := t.TempDir()
	first, _ := m.AddFolder(context.Background(), filepath.Join(dir, "first"))
	second, _ := m.AddFolder(context.Background(), filepath.Join(dir, "second"))

	m.Start()
	waitFor(t, events, EventJobStarted)
	m.Pause()
	runner.gate <- struct{}{}
	waitFor(t, events, EventJobCompleted)

	if j, _ := m.Job(first.ID); j.Status != domain.JobStatusCompleted {
		t.Errorf("in-flight job status = %s, want completed", j.Status)
	}
	time.Sleep(50 * time.Millisecond)
	if j, _ := m.Job(second.ID); j.Status != domain.JobStatusPending {
		t.Errorf("second job status = %s, want pending while paused", j.Status)
	}
	if m.State() != StatePaused {
		t.Errorf("State = %s, want paused", m.State())
	}

	m.Resume()
	runner.gate <- struct{}{}
	waitFor(t, events, EventQueueComplete)
	if j, _ := m.Job(second.ID); j.Status != domain.JobStatusCompleted {
		t.Errorf("second job status = %s, want completed", j.Status)
	}
}

func TestManager_ResumeRestartsIdleWorker(t *testing.T) {
	m := newManager(t, newMemStore(), &gateRunner{})
	if _, err := m.AddFolder(context.Background(), filepath.Join(t.TempDir(), "x")); err != nil {
		t.Fatal(err)
	}
	m.Pause()
	m.Resume()
	waitIdle(t, m)
	if s := m.Stats(); s.Completed != 1 {
		t.Errorf("expected the job to run after resume, stats %+v", s)
	}
}

func TestManager_StartDoesNotClearPause(t *testing.T) {
	store := newMemStore()
	runner := &gateRunner{gate: make(chan struct{})}
	m := newManager(t, store, runner)
	events, cancel := m.Subscribe(256)
	defer cancel()

	dir := t.TempDir()
	m.AddFolder(context.Background(), filepath.Join(dir, "first"))
	m.Start()
	waitFor(t, events, EventJobStarted)
	m.Pause()
	runner.gate <- struct{}{}
	waitFor(t, events, EventJobCompleted)

	second, err := m.AddFolder(context.Background(), filepath.Join(dir, "second"))
	if err != nil {
		t.Fatal(err)
	}
	m.Start()
	time.Sleep(50 * time.Millisecond)

	if j, _ := m.Job(second.ID); j.Status != domain.JobStatusPending {
		t.Errorf("second job status = %s, want pending until resume", j.Status)
	}
	if !m.IsPaused() || m.State() != StatePaused {
		t.Errorf("paused = %v state = %s, want paused", m.IsPaused(), m.State())
	}

	m.Resume()
	runner.gate <- struct{}{}
	waitFor(t, events, EventQueueComplete)
	if j, _ := m.Job(second.ID); j.Status != domain.JobStatusCompleted {
		t.Errorf("second job status = %s, want completed after resume", j.Status)
	}
}

func TestManager_StartOnPausedIdleQueueWaitsForResume(t *testing.T) {
	m := newManager(t, newMemStore(), &gateRunner{})
	job, _ := m.AddFolder(context.Background(), filepath.Join(t.TempDir(), "x"))

	m.Pause()
	m.Start()
	time.Sleep(50 * time.Millisecond)
	if j, _ := m.Job(job.ID); j.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending while paused", j.Status)
	}

	m.Resume()
	waitIdle(t, m)
	if j, _ := m.Job(job.ID); j.Status != domain.JobStatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
}

func TestManager_RetriesResultWriteWithoutSecondWorker(t *testing.T) {
	store := newMemStore()
	store.failResults = 2
	runner := &gateRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := New(ctx, store, runner, Options{MaxAttempts: 3, StoreRetryInterval: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events, unsub := m.Subscribe(256)
	defer unsub()

	var violations int
	var mu sync.Mutex
	check := func() {
		mu.Lock()
		defer mu.Unlock()
		if s := m.Stats(); s.Processing > 1 {
			violations++
		}
	}
	runner.onRun = check

	dir := t.TempDir()
	first, _ := m.AddFolder(context.Background(), filepath.Join(dir, "a"))
	second, _ := m.AddFolder(context.Background(), filepath.Join(dir, "b"))

	m.Start()
	for {
		e := waitFor(t, events, EventJobLog)
		if e.Level == "error" {
			break
		}
	}
	// A start request while the result is unsaved must not launch another worker.
	m.Start()
	check()
	if !m.IsProcessing() {
		t.Error("worker should keep running while it retries the write")
	}

	waitFor(t, events, EventQueueComplete)
	waitIdle(t, m)

	if violations != 0 {
		t.Errorf("%d times more than one job was processing", violations)
	}
	for _, id := range []string{first.ID, second.ID} {
		if j := store.get(id); j.Status != domain.JobStatusCompleted || j.Attempts != 1 {
			t.Errorf("job %s = %s attempts %d, want completed once", id, j.Status, j.Attempts)
		}
	}
	if s := m.Stats(); s.Completed != 2 || s.Processing != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestManager_UnsavedResultStopsOnCancel(t *testing.T) {
	store := newMemStore()
	store.failResults = 1000
	ctx, cancel := context.WithCancel(context.Background())
	m, err := New(ctx, store, &gateRunner{}, Options{StoreRetryInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events, unsub := m.Subscribe(256)
	defer unsub()

	job, _ := m.AddFolder(context.Background(), filepath.Join(t.TempDir(), "a"))
	m.Start()
	for {
		if e := waitFor(t, events, EventJobLog); e.Level == "error" {
			break
		}
	}
	cancel()
	waitIdle(t, m)

	if j := store.get(job.ID); j.Status != domain.JobStatusProcessing {
		t.Errorf("store status = %s, want processing for reload recovery", j.Status)
	}
	m.Start()
	if m.IsProcessing() {
		t.Error("Start after cancel must be a no-op")
	}
}

func failedJob(id string, attempts int) domain.Job {
	j := domain.NewJob(id, "/inbox/"+id, 3, time.Now())
	j.Status = domain.JobStatusFailed
	j.Attempts = attempts
	j.ErrorType = domain.Ptr(domain.ErrorKindAPI)
	j.ErrorMessage = domain.Ptr("500")
	return j
}

func TestManager_RetryEligibility(t *testing.T) {
	store := newMemStore(failedJob("RETRY001", 1), failedJob("RETRY002", 3), failedJob("RETRY003", 2))
	m := newManager(t, store, &gateRunner{})

	n, err := m.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d jobs, want 2", n)
	}

	reset := store.get("RETRY001")
	if reset.Status != domain.JobStatusPending || reset.ErrorType != nil || reset.ErrorMessage != nil {
		t.Errorf("retry did not clear failure: %+v", reset)
	}
	if reset.Attempts != 1 {
		t.Errorf("retry must not touch attempts, got %d", reset.Attempts)
	}
	exhausted := store.get("RETRY002")
	if exhausted.Status != domain.JobStatusFailed || exhausted.ErrorType == nil {
		t.Errorf("exhausted job changed: %+v", exhausted)
	}

	if m.RetryJob(context.Background(), "RETRY002") {
		t.Error("RetryJob must refuse exhausted job")
	}
	if m.RetryJob(context.Background(), "RETRY001") {
		t.Error("RetryJob must refuse a pending job")
	}
	if m.RetryJob(context.Background(), "NOPE") {
		t.Error("RetryJob must refuse unknown id")
	}
}

func TestManager_SkipHoldAndRemove(t *testing.T) {
	pending := domain.NewJob("PEND0001", "/inbox/p", 3, time.Now())
	done := domain.NewJob("DONE0001", "/inbox/d", 3, time.Now())
	done.Status = domain.JobStatusCompleted
	store := newMemStore(pending, done, failedJob("FAIL0001", 1))
	m := newManager(t, store, &gateRunner{})
	ctx := context.Background()

	if err := m.SkipJob(ctx, "DONE0001"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("skip completed: expected ErrInvalidTransition, got %v", err)
	}
	if err := m.SkipJob(ctx, "MISSING1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("skip missing: expected ErrNotFound, got %v", err)
	}
	if err := m.HoldJob(ctx, "PEND0001"); err != nil {
		t.Fatalf("HoldJob: %v", err)
	}
	if s := m.Stats(); s.Paused != 1 {
		t.Errorf("expected one held job, got %+v", s)
	}
	if err := m.ReleaseJob(ctx, "PEND0001"); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}
	if err := m.SkipJob(ctx, "PEND0001"); err != nil {
		t.Fatalf("SkipJob: %v", err)
	}

	if err := m.RemoveJob(ctx, "DONE0001"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("remove completed: expected ErrConflict, got %v", err)
	}
	if err := m.RemoveJob(ctx, "FAIL0001"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}

	n, err := m.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if n != 2 || len(m.Jobs()) != 0 {
		t.Errorf("cleared %d, remaining %d", n, len(m.Jobs()))
	}
	if len(store.jobs) != 0 {
		t.Errorf("store still has %d jobs", len(store.jobs))
	}
}

func TestManager_RecoversProcessingOnLoad(t *testing.T) {
	stuck := domain.NewJob("STUCK001", "/inbox/stuck", 3, time.Now())
	stuck.Status = domain.JobStatusProcessing
	stuck.Attempts = 1
	m := newManager(t, newMemStore(stuck), &gateRunner{})

	j, err := m.Job("STUCK001")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobStatusPending || j.Attempts != 1 {
		t.Errorf("unexpected recovered job: %+v", j)
	}
}

func TestManager_StoreFailureKeepsMemoryConsistent(t *testing.T) {
	store := newMemStore(domain.NewJob("JOB00001", "/inbox/a", 3, time.Now()))
	m := newManager(t, store, &gateRunner{})
	store.failWrite = true

	if _, err := m.AddFolder(context.Background(), "/inbox/b"); err == nil {
		t.Error("expected AddFolder to fail")
	}
	if len(m.Jobs()) != 1 {
		t.Errorf("failed add must not reach memory, have %d jobs", len(m.Jobs()))
	}

	m.Start()
	waitIdle(t, m)
	if j, _ := m.Job("JOB00001"); j.Status != domain.JobStatusPending || j.Attempts != 0 {
		t.Errorf("failed claim must leave job untouched: %+v", j)
	}
}

func TestManager_JobLogEvents(t *testing.T) {
	m := newManager(t, newMemStore(), &gateRunner{})
	events, cancel := m.Subscribe(64)
	defer cancel()

	job, _ := m.AddFolder(context.Background(), filepath.Join(t.TempDir(), "lamp"))
	m.Start()
	e := waitFor(t, events, EventJobLog)
	if e.JobID != job.ID || e.Message != "working on lamp" || e.Level != "info" {
		t.Errorf("unexpected log event %+v", e)
	}
	waitIdle(t, m)
}

func TestManager_ContextCancelStopsWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &gateRunner{gate: make(chan struct{})}
	m, err := New(ctx, newMemStore(), runner, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	first, _ := m.AddFolder(context.Background(), filepath.Join(dir, "one"))
	second, _ := m.AddFolder(context.Background(), filepath.Join(dir, "two"))

	events, unsub := m.Subscribe(64)
	defer unsub()
	m.Start()
	waitFor(t, events, EventJobStarted)
	cancel()
	runner.gate <- struct{}{}
	waitIdle(t, m)

	if j, _ := m.Job(first.ID); j.Status != domain.JobStatusCompleted {
		t.Errorf("in-flight job must finish, got %s", j.Status)
	}
	if j, _ := m.Job(second.ID); j.Status != domain.JobStatusPending {
		t.Errorf("next job must not start, got %s", j.Status)
	}
	m.Start()
	if m.IsProcessing() {
		t.Error("Start after cancel must be a no-op")
	}
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	b.Publish(Event{Type: EventProgress})
	b.Publish(Event{Type: EventProgress})
	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
	<-ch
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if len(id) != 8 {
		t.Fatalf("id %q should be 8 chars", id)
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			t.Fatalf("id %q should be upper-case hex", id)
		}
	}
}

func TestManager_NilRunnerNeverStarts(t *testing.T) {
	m := newManager(t, newMemStore(), nil)
	if _, err := m.AddFolder(context.Background(), "/photos/a"); err != nil {
		t.Fatal(err)
	}
	m.Start()
	if m.State() != StateIdle || m.IsProcessing() {
		t.Errorf("state = %s, want idle without a runner", m.State())
	}
	if got := m.Stats(); got.Pending != 1 {
		t.Errorf("stats = %+v", got)
	}
}
