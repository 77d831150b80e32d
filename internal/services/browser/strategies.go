package browser

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// RunStrategies tries strategies in rank order and returns the first non-empty result.
// A failing strategy is logged and skipped. When nothing yields, the extraction is empty.
func RunStrategies(page *models.PageContent, strategies []interfaces.ExtractionStrategy, logger arbor.ILogger) *models.Extraction {
	for _, strategy := range strategies {
		records, err := strategy.Extract(page)
		if err != nil {
			logger.Warn().Err(err).Str("strategy", strategy.Name()).Str("url", page.URL).Msg("Extraction strategy failed, trying next")
			continue
		}
		if len(records) == 0 {
			logger.Debug().Str("strategy", strategy.Name()).Msg("Extraction strategy yielded nothing")
			continue
		}
		return &models.Extraction{Strategy: strategy.Name(), Records: records}
	}
	return &models.Extraction{Records: []*models.ExtractedRecord{}}
}
