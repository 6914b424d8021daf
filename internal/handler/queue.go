package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/queue"
)

// QueueHandler exposes the queue manager's control operations.
type QueueHandler struct {
	queue   *queue.Manager
	scanner *queue.Scanner
}

// NewQueueHandler creates a QueueHandler. scanner may be nil.
func NewQueueHandler(q *queue.Manager, scanner *queue.Scanner) *QueueHandler {
	return &QueueHandler{queue: q, scanner: scanner}
}

type addJobRequest struct {
	FolderPath string `json:"folder_path" validate:"required"`
	Start      bool   `json:"start"`
}

type addBatchRequest struct {
	FolderPaths []string `json:"folder_paths" validate:"required,min=1,dive,required"`
	Start       bool     `json:"start"`
}

type queueStatus struct {
	State queue.State `json:"state"`
	Stats queue.Stats `json:"stats"`
}

// Status returns the worker state and per-status counts.
func (h *QueueHandler) Status(c echo.Context) error {
	return JSON(c, http.StatusOK, h.status())
}

func (h *QueueHandler) status() queueStatus {
	return queueStatus{State: h.queue.State(), Stats: h.queue.Stats()}
}

// List returns every job in creation order, optionally filtered by ?status=.
func (h *QueueHandler) List(c echo.Context) error {
	jobs := h.queue.Jobs()
	if s := c.QueryParam("status"); s != "" {
		status := domain.JobStatus(s)
		if !status.Valid() {
			return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	return JSONList(c, http.StatusOK, jobs)
}

// Get returns one job.
func (h *QueueHandler) Get(c echo.Context) error {
	job, err := h.queue.Job(c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// Add queues one folder.
func (h *QueueHandler) Add(c echo.Context) error {
	var req addJobRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	job, err := h.queue.AddFolder(c.Request().Context(), req.FolderPath)
	if err != nil {
		return err
	}
	if req.Start {
		h.queue.Start()
	}
	return JSON(c, http.StatusCreated, job)
}

// AddBatch queues several folders. Folders added before a failure stay queued.
func (h *QueueHandler) AddBatch(c echo.Context) error {
	var req addBatchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	jobs, err := h.queue.AddBatch(c.Request().Context(), req.FolderPaths)
	if req.Start && len(jobs) > 0 {
		h.queue.Start()
	}
	if err != nil && len(jobs) == 0 {
		return err
	}
	resp := map[string]any{"jobs": jobs}
	if err != nil {
		resp["error"] = err.Error()
	}
	return JSON(c, http.StatusCreated, resp)
}

// Start launches the worker.
func (h *QueueHandler) Start(c echo.Context) error {
	h.queue.Start()
	return JSON(c, http.StatusOK, h.status())
}

// Pause stops the worker after its current job.
func (h *QueueHandler) Pause(c echo.Context) error {
	h.queue.Pause()
	return JSON(c, http.StatusOK, h.status())
}

// Resume clears the pause flag, restarting the worker if it had exited.
func (h *QueueHandler) Resume(c echo.Context) error {
	h.queue.Resume()
	return JSON(c, http.StatusOK, h.status())
}

// RetryFailed resets every failed job that still has attempts left.
func (h *QueueHandler) RetryFailed(c echo.Context) error {
	n, err := h.queue.RetryFailed(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]int{"retried": n})
}

// RetryJob resets one failed job.
func (h *QueueHandler) RetryJob(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.queue.Job(id); err != nil {
		return err
	}
	if !h.queue.RetryJob(c.Request().Context(), id) {
		return fmt.Errorf("%w: job %s is not eligible for retry", domain.ErrConflict, id)
	}
	return h.Get(c)
}

// Skip marks a pending job skipped.
func (h *QueueHandler) Skip(c echo.Context) error {
	return h.apply(c, h.queue.SkipJob)
}

// Hold parks a pending job so the worker passes over it.
func (h *QueueHandler) Hold(c echo.Context) error {
	return h.apply(c, h.queue.HoldJob)
}

// Release returns a held job to pending.
func (h *QueueHandler) Release(c echo.Context) error {
	return h.apply(c, h.queue.ReleaseJob)
}

func (h *QueueHandler) apply(c echo.Context, op func(ctx context.Context, id string) error) error {
	if err := op(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return h.Get(c)
}

// Remove deletes one pending, failed or skipped job.
func (h *QueueHandler) Remove(c echo.Context) error {
	if err := h.queue.RemoveJob(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearCompleted removes completed and skipped jobs.
func (h *QueueHandler) ClearCompleted(c echo.Context) error {
	n, err := h.queue.ClearCompleted(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]int{"removed": n})
}

// ClearAll removes every job except the one being processed.
func (h *QueueHandler) ClearAll(c echo.Context) error {
	n, err := h.queue.ClearAll(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]int{"removed": n})
}

// Scan queues new inbox folders and starts the worker when any were added.
func (h *QueueHandler) Scan(c echo.Context) error {
	if h.scanner == nil {
		return fmt.Errorf("%w: inbox scanning is disabled", domain.ErrConflict)
	}
	res, err := h.scanner.Scan(c.Request().Context())
	if err != nil {
		return err
	}
	if res.Added > 0 {
		h.queue.Start()
	}
	return JSON(c, http.StatusOK, res)
}
