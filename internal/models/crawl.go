package models

import (
	"errors"
	"time"
)

// ErrRunInProgress is returned when a scheduler pass is requested while another is running
var ErrRunInProgress = errors.New("crawl run already in progress")

// CrawlStatus is the per-connection outcome of a pipeline run
type CrawlStatus string

const (
	CrawlStatusSuccess CrawlStatus = "success"
	CrawlStatusFailed  CrawlStatus = "failed"
	CrawlStatusSkipped CrawlStatus = "skipped" // Lease held by another run
)

// CrawlResult is the result object the pipeline always returns for a connection
type CrawlResult struct {
	ConnectionID    string        `json:"connection_id"`
	TenantID        string        `json:"tenant_id"`
	Platform        Platform      `json:"platform"`
	Status          CrawlStatus   `json:"status"`
	AuditLogID      string        `json:"audit_log_id,omitempty"`
	CountsFound     int           `json:"counts_found"`
	CountsNew       int           `json:"counts_new"`
	Reauthenticated bool          `json:"reauthenticated"`
	Strategy        string        `json:"strategy,omitempty"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
}

// RunOptions controls a scheduler pass
type RunOptions struct {
	BatchSize       int           `json:"batch_size"`
	InterBatchDelay time.Duration `json:"inter_batch_delay"`
	Platforms       []Platform    `json:"platforms,omitempty"`
	TenantID        string        `json:"tenant_id,omitempty"`
}

// Default batching used when RunOptions leaves values unset
const (
	DefaultBatchSize       = 5
	DefaultInterBatchDelay = 3 * time.Second
)

// NoInterBatchDelay disables the pause between batches. Any negative delay does the same.
const NoInterBatchDelay time.Duration = -1

// WithDefaults fills unset batching values. A zero InterBatchDelay means the default;
// a negative one means no pause and is normalised to zero.
func (o RunOptions) WithDefaults() RunOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	switch {
	case o.InterBatchDelay == 0:
		o.InterBatchDelay = DefaultInterBatchDelay
	case o.InterBatchDelay < 0:
		o.InterBatchDelay = 0
	}
	return o
}

// RunSummary aggregates one scheduler pass
type RunSummary struct {
	RunID            string         `json:"run_id"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
	TotalConnections int            `json:"total_connections"`
	SuccessCount     int            `json:"success_count"`
	FailedCount      int            `json:"failed_count"`
	SkippedCount     int            `json:"skipped_count"`
	TotalNewRecords  int            `json:"total_new_records"`
	Results          []*CrawlResult `json:"results"`
}

// Add folds one connection result into the summary counters
func (s *RunSummary) Add(r *CrawlResult) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case CrawlStatusSuccess:
		s.SuccessCount++
	case CrawlStatusSkipped:
		s.SkippedCount++
	default:
		s.FailedCount++
	}
	s.TotalNewRecords += r.CountsNew
}
