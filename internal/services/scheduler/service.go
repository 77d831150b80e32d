// Package scheduler runs crawl passes over every eligible connection in bounded concurrent batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// DefaultSchedule runs a pass every six hours
const DefaultSchedule = "0 */6 * * *"

// DefaultStaleAuditAge is how long an entry may stay processing before the sweeper fails it
const DefaultStaleAuditAge = time.Hour

// StaleSweeper finalizes audit entries left in processing by a dead run
type StaleSweeper interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Options configures the triggers around RunAll
type Options struct {
	Run           models.RunOptions // Used by cron-triggered passes
	StaleAuditAge time.Duration
	SweepInterval time.Duration // 0 disables the sweeper
}

// Service implements interfaces.CrawlScheduler
type Service struct {
	connections interfaces.ConnectionStorage
	pipeline    interfaces.CrawlPipeline
	sweeper     StaleSweeper
	opts        Options
	logger      arbor.ILogger

	// sleep waits between batches; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex // Protects isProcessing and last
	isProcessing bool
	last         *models.RunSummary

	lifecycleMu sync.Mutex
	running     bool
	cron        *cron.Cron
	ctx         context.Context
	cancel      context.CancelFunc
	sweepWg     sync.WaitGroup
}

var _ interfaces.CrawlScheduler = (*Service)(nil)

// NewService creates a scheduler. sweeper may be nil.
func NewService(connections interfaces.ConnectionStorage, pipeline interfaces.CrawlPipeline, sweeper StaleSweeper, opts Options, logger arbor.ILogger) *Service {
	if opts.StaleAuditAge <= 0 {
		opts.StaleAuditAge = DefaultStaleAuditAge
	}
	return &Service{
		connections: connections,
		pipeline:    pipeline,
		sweeper:     sweeper,
		opts:        opts,
		logger:      logger,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunAll executes one pass. Only one pass runs at a time per process; a concurrent
// call gets models.ErrRunInProgress. Listing failures abort the pass. Cancellation stops
// further batches and returns the partial summary with the context error.
func (s *Service) RunAll(ctx context.Context, opts models.RunOptions) (*models.RunSummary, error) {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return nil, models.ErrRunInProgress
	}
	s.isProcessing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
	}()

	opts = opts.WithDefaults()
	summary := &models.RunSummary{
		RunID:     common.NewRunID(),
		StartedAt: time.Now(),
		Results:   make([]*models.CrawlResult, 0),
	}
	logger := s.logger.WithCorrelationId(summary.RunID)

	connections, err := s.connections.ListConnections(ctx, &models.ConnectionFilter{
		TenantID:   opts.TenantID,
		Platforms:  opts.Platforms,
		ActiveOnly: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list connections, aborting crawl pass")
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	summary.TotalConnections = len(connections)

	batches := partition(connections, opts.BatchSize)
	logger.Info().
		Int("connections", len(connections)).
		Int("batches", len(batches)).
		Int("batch_size", opts.BatchSize).
		Msg("Crawl pass started")

	var runErr error
	for i, batch := range batches {
		if i > 0 {
			if err := s.sleep(ctx, opts.InterBatchDelay); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		for _, result := range s.runBatch(ctx, batch, logger) {
			summary.Add(result)
		}
		logger.Debug().
			Int("batch", i+1).
			Int("of", len(batches)).
			Msg("Batch complete")
	}

	summary.CompletedAt = time.Now()

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	event := logger.Info()
	if runErr != nil {
		event = logger.Warn().Err(runErr)
	}
	event.
		Int("total", summary.TotalConnections).
		Int("success", summary.SuccessCount).
		Int("failed", summary.FailedCount).
		Int("skipped", summary.SkippedCount).
		Int("new_records", summary.TotalNewRecords).
		Dur("duration", summary.CompletedAt.Sub(summary.StartedAt)).
		Msg("Crawl pass finished")

	return summary, runErr
}

// runBatch runs every member concurrently and waits for all of them.
// Results keep the batch order.
func (s *Service) runBatch(ctx context.Context, batch []*models.Connection, logger arbor.ILogger) []*models.CrawlResult {
	results := make([]*models.CrawlResult, len(batch))
	var wg sync.WaitGroup

	for i, conn := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Str("connection_id", conn.ID).
						Str("panic", fmt.Sprintf("%v", r)).
						Msg("Recovered from panic in crawl worker")
					results[i] = &models.CrawlResult{
						ConnectionID: conn.ID,
						TenantID:     conn.TenantID,
						Platform:     conn.Platform,
						Status:       models.CrawlStatusFailed,
						Error:        fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			results[i] = s.pipeline.Run(ctx, conn)
		}()
	}

	wg.Wait()
	return results
}

func partition(connections []*models.Connection, size int) [][]*models.Connection {
	if size <= 0 {
		size = models.DefaultBatchSize
	}
	batches := make([][]*models.Connection, 0, (len(connections)+size-1)/size)
	for start := 0; start < len(connections); start += size {
		end := min(start+size, len(connections))
		batches = append(batches, connections[start:end])
	}
	return batches
}

// LastSummary returns the most recent completed pass, or nil
func (s *Service) LastSummary() *models.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// IsProcessing reports whether a pass is in flight
func (s *Service) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessing
}

// Start registers the cron trigger and the stale audit sweeper
func (s *Service) Start(cronExpr string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		cronExpr = DefaultSchedule
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(cronExpr, s.runScheduledPass); err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.cron.Start()
	s.running = true

	if s.sweeper != nil && s.opts.SweepInterval > 0 {
		s.sweepWg.Add(1)
		common.SafeGo(s.logger, "stale-audit-sweeper", func() {
			defer s.sweepWg.Done()
			s.sweepLoop(s.ctx)
		})
		s.logger.Info().Dur("interval", s.opts.SweepInterval).Msg("Stale audit sweeper started")
	}

	s.logger.Info().Str("cron_expr", cronExpr).Msg("Scheduler started")
	return nil
}

// Stop halts the triggers, cancels an in-flight scheduled pass and waits for it
func (s *Service) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.sweepWg.Wait()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) runScheduledPass() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in scheduled crawl pass")
		}
	}()

	if _, err := s.RunAll(s.ctx, s.opts.Run); err != nil {
		if errors.Is(err, models.ErrRunInProgress) {
			s.logger.Debug().Msg("Previous crawl pass still running, skipping this cycle")
			return
		}
		s.logger.Error().Err(err).Msg("Scheduled crawl pass failed")
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	s.sweepStale(ctx)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStale(ctx)
		}
	}
}

func (s *Service) sweepStale(ctx context.Context) {
	if _, err := s.sweeper.FailStale(ctx, s.opts.StaleAuditAge); err != nil {
		s.logger.Error().Err(err).Msg("Stale audit sweep failed")
	}
}
