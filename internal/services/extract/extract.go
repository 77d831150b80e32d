// Package extract holds the configurable extraction strategies run against rendered pages.
// Platform-specific selectors come from configuration; nothing here knows a platform.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

const (
	TypeSelector = "selector"
	TypeJSONLD   = "jsonld"
)

var numberPattern = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

// dateLayouts are tried when a strategy has no explicit layout
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02/01/2006",
}

// FromConfig builds a strategy from configuration
func FromConfig(cfg common.StrategyConfig) (interfaces.ExtractionStrategy, error) {
	switch cfg.Type {
	case TypeSelector, "":
		return NewSelectorStrategy(cfg)
	case TypeJSONLD:
		return NewJSONLDStrategy(cfg.Name), nil
	default:
		return nil, &models.ConfigurationError{Field: "strategies." + cfg.Name + ".type", Reason: fmt.Sprintf("unknown strategy type %q", cfg.Type)}
	}
}

// FromConfigs builds ranked strategies, preserving order
func FromConfigs(cfgs []common.StrategyConfig) ([]interfaces.ExtractionStrategy, error) {
	strategies := make([]interfaces.ExtractionStrategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		strategy, err := FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, strategy)
	}
	return strategies, nil
}

// fingerprint derives a stable external id for records the page does not identify
func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "h_" + hex.EncodeToString(sum[:8])
}

func parseRating(s string) float64 {
	match := numberPattern.FindString(s)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseDate(s, layout string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := dateLayouts
	if layout != "" {
		layouts = []string{layout}
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return &t
		}
	}
	return nil
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
