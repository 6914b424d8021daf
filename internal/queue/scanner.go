package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// ScanResult summarizes one inbox scan.
type ScanResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Scanned int `json:"total_scanned"`
}

// Scanner queues every inbox subfolder that holds images and is not queued yet.
type Scanner struct {
	inbox  string
	queue  *Manager
	logger *slog.Logger
}

// NewScanner creates the inbox directory if needed.
func NewScanner(inbox string, queue *Manager, logger *slog.Logger) (*Scanner, error) {
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox %s: %w", inbox, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{inbox: inbox, queue: queue, logger: logger.With("component", "scanner")}, nil
}

// Scan adds new folders to the queue. It does not start the worker.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan inbox %s: %w", s.inbox, err)
	}

	var res ScanResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		res.Scanned++

		folder := filepath.Join(s.inbox, e.Name())
		if !hasImages(folder) {
			s.logger.Debug("skipping folder without images", "folder", e.Name())
			continue
		}
		if _, ok := s.queue.JobByFolder(folder); ok {
			res.Skipped++
			continue
		}
		if _, err := s.queue.AddFolder(ctx, folder); err != nil {
			s.logger.Error("queue folder", "folder", e.Name(), "error", err)
			continue
		}
		res.Added++
	}

	s.logger.Info("inbox scanned", "scanned", res.Scanned, "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

// Run scans every interval and starts the worker whenever a scan queued something.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res, err := s.Scan(ctx); err != nil {
			s.logger.Warn("inbox scan failed", "error", err)
		} else if res.Added > 0 {
			s.queue.Start()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func hasImages(folder string) bool {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && domain.IsImageFile(e.Name()) {
			return true
		}
	}
	return false
}
