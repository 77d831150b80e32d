package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// CrawlHandler triggers crawl passes and reports their status
type CrawlHandler struct {
	runner   CrawlRunner
	defaults models.RunOptions
	ctx      context.Context // Background passes outlive the request
	logger   arbor.ILogger
}

func NewCrawlHandler(ctx context.Context, runner CrawlRunner, defaults models.RunOptions, logger arbor.ILogger) *CrawlHandler {
	return &CrawlHandler{
		runner:   runner,
		defaults: defaults,
		ctx:      ctx,
		logger:   logger,
	}
}

type runRequest struct {
	Platforms []models.Platform `json:"platforms"`
	TenantID  string            `json:"tenant_id"`
	BatchSize int               `json:"batch_size"`
	Wait      bool              `json:"wait"` // Block until the pass finishes and return its summary
}

// RunHandler starts a pass. Without "wait" it returns 202 immediately.
func (h *CrawlHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	opts := h.defaults
	opts.Platforms = req.Platforms
	opts.TenantID = req.TenantID
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}

	if req.Wait {
		summary, err := h.runner.RunAll(r.Context(), opts)
		if err != nil && summary == nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
		return
	}

	if h.runner.IsProcessing() {
		WriteServiceError(w, models.ErrRunInProgress)
		return
	}

	common.SafeGo(h.logger, "manual-crawl-pass", func() {
		if _, err := h.runner.RunAll(h.ctx, opts); err != nil {
			h.logger.Warn().Err(err).Msg("Manual crawl pass ended with error")
		}
	})

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Crawl pass started",
	})
}

// StatusHandler reports whether a pass is running and the last summary
func (h *CrawlHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"processing":   h.runner.IsProcessing(),
		"last_summary": h.runner.LastSummary(),
	})
}
