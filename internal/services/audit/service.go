// Package audit records one log entry per crawl pipeline run.
package audit

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

// AbandonedMessage is the error recorded on runs that never finalized
const AbandonedMessage = "abandoned"

// Service implements interfaces.AuditTrail
type Service struct {
	storage interfaces.AuditLogStorage
	logger  arbor.ILogger
	now     func() time.Time
}

var _ interfaces.AuditTrail = (*Service)(nil)

func NewService(storage interfaces.AuditLogStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create opens a processing entry for a run and returns its id
func (s *Service) Create(ctx context.Context, connectionID string) (string, error) {
	entry := &models.AuditLogEntry{
		ID:           common.NewAuditLogID(),
		ConnectionID: connectionID,
		Status:       models.AuditStatusProcessing,
		StartedAt:    s.now(),
	}
	if err := s.storage.CreateAuditLog(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Finalize applies the terminal outcome. A second call for the same entry fails
// with models.ErrAuditLogFinalized.
func (s *Service) Finalize(ctx context.Context, logID string, outcome models.AuditOutcome) error {
	return s.storage.FinalizeAuditLog(ctx, logID, outcome, s.now())
}

func (s *Service) Get(ctx context.Context, logID string) (*models.AuditLogEntry, error) {
	return s.storage.GetAuditLog(ctx, logID)
}

func (s *Service) List(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLogEntry, error) {
	return s.storage.ListAuditLogs(ctx, filter)
}

// FailStale finalizes processing entries started more than olderThan ago as failed.
// These are runs whose process died before step 9. Returns the number finalized.
func (s *Service) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.storage.ListAuditLogs(ctx, &models.AuditLogFilter{
		Status:        models.AuditStatusProcessing,
		StartedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale audit logs: %w", err)
	}

	finalized := 0
	for _, entry := range stale {
		outcome := models.AuditOutcome{
			Status:       models.AuditStatusFailed,
			DurationMs:   s.now().Sub(entry.StartedAt).Milliseconds(),
			ErrorMessage: AbandonedMessage,
		}
		if err := s.storage.FinalizeAuditLog(ctx, entry.ID, outcome, s.now()); err != nil {
			// A run finishing between the list and here wins
			if errors.Is(err, models.ErrAuditLogFinalized) {
				continue
			}
			return finalized, err
		}
		finalized++
	}

	if finalized > 0 {
		s.logger.Warn().
			Int("count", finalized).
			Dur("older_than", olderThan).
			Msg("Finalized abandoned audit log entries")
	}
	return finalized, nil
}
