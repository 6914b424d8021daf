package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pipeline"
)

// work is the single worker goroutine. It exits when no pending job is left,
// when ctx is cancelled, or when the store rejects a job claim.
func (m *Manager) work(done chan struct{}) {
	defer close(done)

	for {
		job, ok := m.claim()
		if !ok {
			return
		}
		if !m.process(job) {
			return
		}
	}
}

// claim waits out a pause and moves the oldest pending job to processing.
func (m *Manager) claim() (domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.paused && m.ctx.Err() == nil {
		m.wake.Wait()
	}
	if m.ctx.Err() != nil {
		m.stopLocked("context cancelled")
		return domain.Job{}, false
	}

	i := m.nextPendingLocked()
	if i < 0 {
		m.stopLocked("no pending jobs")
		stats := m.statsLocked()
		m.bus.Publish(Event{Type: EventQueueComplete, Done: stats.Total - stats.Pending - stats.Paused, Total: stats.Total})
		return domain.Job{}, false
	}

	job, err := m.jobs[i].WithStatus(domain.JobStatusProcessing)
	if err != nil {
		m.logger.Error("claim job", "job_id", m.jobs[i].ID, "error", err)
		m.stopLocked("invalid transition")
		return domain.Job{}, false
	}
	now := m.now()
	job.Attempts++
	job.StartedAt = &now
	job.CompletedAt = nil

	if err := m.commitLocked(context.WithoutCancel(m.ctx), i, job); err != nil {
		m.logger.Error("persist job start", "job_id", job.ID, "error", err)
		m.stopLocked("store error")
		return domain.Job{}, false
	}

	m.logger.Info("job started", "job_id", job.ID, "folder", job.FolderName, "attempt", job.Attempts)
	m.publishJob(EventJobStarted, job)
	return job.Clone(), true
}

// process runs the pipeline outside the lock and records the outcome. A result
// the store rejects is re-saved with backoff; the worker keeps its slot
// meanwhile so no second job can be claimed.
func (m *Manager) process(job domain.Job) bool {
	ctx := context.WithoutCancel(m.ctx)
	narrate := func(level slog.Level, msg string) {
		m.logger.Log(ctx, level, msg, "job_id", job.ID)
		m.bus.Publish(Event{Type: EventJobLog, JobID: job.ID, Message: msg, Level: strings.ToLower(level.String())})
	}

	res := m.runner.Run(ctx, job.FolderPath, narrate)

	wait := m.opts.StoreRetryInterval
	for {
		err := m.record(ctx, job.ID, res)
		if err == nil {
			return true
		}
		if !errors.Is(err, errPersist) {
			return false
		}

		m.logger.Error("persist job result", "job_id", job.ID, "error", err, "retry_in", wait)
		m.bus.Publish(Event{Type: EventJobLog, JobID: job.ID, Message: "saving job result failed, retrying", Level: "error"})

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			timer.Stop()
			// The job stays processing in the store, so the next load
			// reconciles it to pending.
			m.mu.Lock()
			m.stopLocked("context cancelled with unsaved result")
			m.mu.Unlock()
			return false
		}
		wait = min(wait*2, maxStoreRetryInterval)
	}
}

var errPersist = errors.New("persist job result")

// record applies a pipeline result to the job. It returns errPersist when the
// store write failed and the in-memory job is untouched.
func (m *Manager) record(ctx context.Context, id string, res pipeline.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		m.logger.Error("processed job vanished", "job_id", id)
		return nil
	}

	to := domain.JobStatusCompleted
	if !res.Success {
		to = domain.JobStatusFailed
	}
	next, err := m.jobs[i].WithStatus(to)
	if err != nil {
		m.logger.Error("finish job", "job_id", id, "error", err)
		m.stopLocked("invalid transition")
		return err
	}

	now := m.now()
	next.CompletedAt = &now
	next.Timing = res.Timing
	if next.Timing == nil {
		next.Timing = domain.Timing{}
	}
	if res.Success {
		next.ErrorType = nil
		next.ErrorMessage = nil
		next.OfferID = optional(res.OfferID)
		next.ListingID = optional(res.ListingID)
		next.Price = optional(res.Price)
	} else {
		kind := res.ErrorType
		if kind == "" {
			kind = domain.ErrorKindUnexpected
		}
		next.ErrorType = &kind
		next.ErrorMessage = optional(res.ErrorMessage)
	}

	if err := m.commitLocked(ctx, i, next); err != nil {
		return fmt.Errorf("%w: %w", errPersist, err)
	}

	if res.Success {
		m.logger.Info("job completed", "job_id", next.ID, "offer_id", res.OfferID, "price", res.Price, "status", res.Status)
		m.publishJob(EventJobCompleted, next)
	} else {
		m.logger.Warn("job failed", "job_id", next.ID, "error_type", res.ErrorType, "error", res.ErrorMessage)
		e := Event{Type: EventJobError, JobID: next.ID, Message: res.ErrorMessage}
		c := next.Clone()
		e.Job = &c
		m.bus.Publish(e)
	}

	stats := m.statsLocked()
	m.bus.Publish(Event{Type: EventProgress, Done: stats.Completed + stats.Failed + stats.Skipped, Total: stats.Total})
	return nil
}

func (m *Manager) nextPendingLocked() int {
	for i := range m.jobs {
		if m.jobs[i].Status == domain.JobStatusPending {
			return i
		}
	}
	return -1
}

func (m *Manager) stopLocked(reason string) {
	m.running = false
	m.logger.Info("worker stopped", "reason", reason)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Runner = (*pipeline.Pipeline)(nil)
