// Package pipeline runs the per-connection crawl unit of work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// DefaultLeaseTTL bounds how long a crashed run can block its connection
const DefaultLeaseTTL = 15 * time.Minute

// Options tunes a pipeline
type Options struct {
	HolderID        string        // Lease holder prefix, unique per process
	LeaseTTL        time.Duration // Should exceed the longest expected run
	DeactivateAfter int           // 0 disables the circuit breaker
	UserAgent       string
}

// Dependencies are the collaborators a pipeline composes
type Dependencies struct {
	Connections interfaces.ConnectionStorage
	Records     interfaces.RecordStorage
	Leases      interfaces.LeaseStorage
	Sessions    interfaces.SessionStore
	Reauth      interfaces.ReAuthenticator
	Browser     interfaces.BrowserAdapter
	Profiles    interfaces.PlatformRegistry
	Audit       interfaces.AuditTrail
}

// Service implements interfaces.CrawlPipeline
type Service struct {
	deps   Dependencies
	opts   Options
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.CrawlPipeline = (*Service)(nil)

func NewService(deps Dependencies, opts Options, logger arbor.ILogger) *Service {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.HolderID == "" {
		opts.HolderID = "harvester"
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// run carries the per-run state shared by the steps
type run struct {
	id      string
	conn    *models.Connection
	result  *models.CrawlResult
	handle  interfaces.BrowserHandle
	profile interfaces.PlatformProfile
	logger  arbor.ILogger
}

// Run crawls one connection. It always returns a result; per-connection failures
// are recorded in the result and the audit log, never returned or re-panicked.
func (s *Service) Run(ctx context.Context, conn *models.Connection) *models.CrawlResult {
	started := s.now()
	r := &run{
		id:   common.NewRunID(),
		conn: conn,
		result: &models.CrawlResult{
			ConnectionID: conn.ID,
			TenantID:     conn.TenantID,
			Platform:     conn.Platform,
		},
	}
	r.logger = s.logger.WithCorrelationId(r.id)

	holder := s.opts.HolderID + ":" + r.id
	acquired, err := s.deps.Leases.Acquire(ctx, conn.ID, holder, s.opts.LeaseTTL)
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to acquire connection lease")
		return s.finish(r, started, models.CrawlStatusFailed, err)
	}
	if !acquired {
		r.logger.Info().Str("connection_id", conn.ID).Msg("Connection is leased by another run, skipping")
		return s.finish(r, started, models.CrawlStatusSkipped, nil)
	}
	defer func() {
		if err := s.deps.Leases.Release(context.WithoutCancel(ctx), conn.ID, holder); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to release connection lease")
		}
	}()

	logID, err := s.deps.Audit.Create(ctx, conn.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to create audit log entry")
		return s.finish(r, started, models.CrawlStatusFailed, err)
	}
	r.result.AuditLogID = logID

	r.logger.Info().
		Str("connection_id", conn.ID).
		Str("platform", string(conn.Platform)).
		Str("audit_log_id", logID).
		Msg("Crawl started")

	runErr := s.execute(ctx, r)

	// Outcome bookkeeping must land even when the caller gave up
	persistCtx := context.WithoutCancel(ctx)
	if err := s.updateHealth(persistCtx, r, runErr); err != nil && runErr == nil {
		runErr = err
	}

	status := models.CrawlStatusSuccess
	if runErr != nil {
		status = models.CrawlStatusFailed
	}
	result := s.finish(r, started, status, runErr)

	outcome := models.AuditOutcome{
		Status:          models.AuditStatusSuccess,
		CountsFound:     result.CountsFound,
		CountsNew:       result.CountsNew,
		DurationMs:      result.Duration.Milliseconds(),
		Reauthenticated: result.Reauthenticated,
	}
	if runErr != nil {
		outcome.Status = models.AuditStatusFailed
		outcome.ErrorMessage = runErr.Error()
	}
	if err := s.deps.Audit.Finalize(persistCtx, logID, outcome); err != nil {
		r.logger.Error().Err(err).Str("audit_log_id", logID).Msg("Failed to finalize audit log entry")
	}

	event := r.logger.Info()
	if runErr != nil {
		event = r.logger.Warn().Err(runErr)
	}
	event.
		Str("connection_id", conn.ID).
		Str("status", string(result.Status)).
		Int("found", result.CountsFound).
		Int("new", result.CountsNew).
		Bool("reauthenticated", result.Reauthenticated).
		Dur("duration", result.Duration).
		Msg("Crawl finished")

	return result
}

func (s *Service) finish(r *run, started time.Time, status models.CrawlStatus, err error) *models.CrawlResult {
	r.result.Status = status
	r.result.Duration = s.now().Sub(started)
	if err != nil {
		r.result.Error = err.Error()
	}
	return r.result
}

// execute runs steps 1-7. Panics are recovered into errors; the handle is closed on every path.
func (s *Service) execute(ctx context.Context, r *run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during crawl: %v", rec)
			r.logger.Error().
				Str("connection_id", r.conn.ID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in crawl pipeline")
		}
	}()
	defer func() {
		if r.handle != nil {
			if closeErr := s.deps.Browser.Close(r.handle); closeErr != nil {
				r.logger.Warn().Err(closeErr).Msg("Failed to close browser handle")
			}
		}
	}()

	profile, err := s.deps.Profiles.Profile(r.conn.Platform)
	if err != nil {
		return err
	}
	r.profile = profile

	// (1) session
	session, err := s.deps.Sessions.Load(ctx, r.conn.ID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	needsAuth := s.deps.Sessions.Expired(session)

	// (2) handle seeded with whatever cookies are still usable
	opts := interfaces.OpenOptions{UserAgent: s.opts.UserAgent}
	if !needsAuth {
		opts.Cookies = session.Cookies
	}
	r.handle, err = s.deps.Browser.Open(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	if needsAuth {
		r.logger.Debug().Str("connection_id", r.conn.ID).Msg("No usable session, re-authenticating before navigation")
		if err := s.reauthenticate(ctx, r); err != nil {
			return err
		}
	}

	// (3)+(4) navigate, with one re-auth and retry on a login wall
	target := profile.TargetURL(r.conn)
	page, err := s.deps.Browser.Navigate(ctx, r.handle, target, profile.NavigateOptions())
	if err != nil {
		return err
	}
	if profile.LoginRequired(page) {
		if r.result.Reauthenticated {
			return s.loginWall(r, "login page persists after re-authentication")
		}
		r.logger.Info().Str("connection_id", r.conn.ID).Msg("Session rejected by platform, re-authenticating")
		if err := s.reauthenticate(ctx, r); err != nil {
			return err
		}
		page, err = s.deps.Browser.Navigate(ctx, r.handle, target, profile.NavigateOptions())
		if err != nil {
			return err
		}
		if profile.LoginRequired(page) {
			return s.loginWall(r, "login page persists after re-authentication")
		}
	}

	// (5) extract
	extraction, err := s.deps.Browser.Extract(ctx, r.handle, profile.Strategies())
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	r.result.Strategy = extraction.Strategy
	r.result.CountsFound = len(extraction.Records)

	// (6)+(7) stamp and insert-if-absent
	if len(extraction.Records) == 0 {
		return nil
	}
	observed := s.now()
	for _, record := range extraction.Records {
		record.ConnectionID = r.conn.ID
		record.TenantID = r.conn.TenantID
		record.Platform = r.conn.Platform
		record.ObservedAt = observed
	}
	inserted, err := s.deps.Records.InsertNew(ctx, extraction.Records)
	r.result.CountsNew = len(inserted)
	return err
}

func (s *Service) reauthenticate(ctx context.Context, r *run) error {
	if _, err := s.deps.Reauth.Reauthenticate(ctx, r.conn, r.handle); err != nil {
		return err
	}
	r.result.Reauthenticated = true
	return nil
}

func (s *Service) loginWall(r *run, reason string) error {
	return &models.AuthenticationError{ConnectionID: r.conn.ID, Platform: r.conn.Platform, Reason: reason}
}

// updateHealth is step 8 and the only writer of the connection's error count
func (s *Service) updateHealth(ctx context.Context, r *run, runErr error) error {
	if runErr == nil {
		if err := s.deps.Connections.RecordSuccess(ctx, r.conn.ID, s.now()); err != nil {
			r.logger.Error().Err(err).Str("connection_id", r.conn.ID).Msg("Failed to record crawl success")
			return err
		}
		return nil
	}

	conn, err := s.deps.Connections.RecordFailure(ctx, r.conn.ID, runErr.Error(), s.opts.DeactivateAfter)
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", r.conn.ID).Msg("Failed to record crawl failure")
		return err
	}

	var authErr *models.AuthenticationError
	if errors.As(runErr, &authErr) && !conn.IsActive {
		r.logger.Warn().
			Str("connection_id", r.conn.ID).
			Int("error_count", conn.ErrorCount).
			Msg("Connection needs relinking")
	}
	return nil
}
