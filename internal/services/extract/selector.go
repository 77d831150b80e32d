package extract

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// SelectorStrategy extracts one record per element matching ItemSelector
type SelectorStrategy struct {
	cfg common.StrategyConfig
}

// NewSelectorStrategy validates the config and returns a strategy
func NewSelectorStrategy(cfg common.StrategyConfig) (*SelectorStrategy, error) {
	if strings.TrimSpace(cfg.ItemSelector) == "" {
		return nil, &models.ConfigurationError{Field: "strategies." + cfg.Name + ".item_selector", Reason: "required for selector strategies"}
	}
	if cfg.Name == "" {
		cfg.Name = TypeSelector
	}
	return &SelectorStrategy{cfg: cfg}, nil
}

func (s *SelectorStrategy) Name() string {
	return s.cfg.Name
}

func (s *SelectorStrategy) Extract(page *models.PageContent) ([]*models.ExtractedRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var records []*models.ExtractedRecord
	var convertErr error
	doc.Find(s.cfg.ItemSelector).EachWithBreak(func(i int, item *goquery.Selection) bool {
		record, err := s.extractItem(page, item)
		if err != nil {
			convertErr = err
			return false
		}
		records = append(records, record)
		return true
	})
	if convertErr != nil {
		return nil, convertErr
	}

	return records, nil
}

func (s *SelectorStrategy) extractItem(page *models.PageContent, item *goquery.Selection) (*models.ExtractedRecord, error) {
	record := &models.ExtractedRecord{
		Author: s.text(item, s.cfg.AuthorSelector),
		Title:  s.text(item, s.cfg.TitleSelector),
	}

	body, err := s.body(page, item)
	if err != nil {
		return nil, err
	}
	record.Body = body

	if s.cfg.RatingSelector != "" || s.cfg.RatingAttribute != "" {
		record.Rating = parseRating(s.value(item, s.cfg.RatingSelector, s.cfg.RatingAttribute))
	}

	dateRaw := ""
	if s.cfg.DateSelector != "" || s.cfg.DateAttribute != "" {
		dateRaw = s.value(item, s.cfg.DateSelector, s.cfg.DateAttribute)
		record.PublishedAt = parseDate(dateRaw, s.cfg.DateLayout)
	}

	if s.cfg.LinkSelector != "" {
		if href, ok := item.Find(s.cfg.LinkSelector).First().Attr("href"); ok {
			record.URL = resolveURL(page.URL, href)
		}
	}

	if s.cfg.IDSelector != "" || s.cfg.IDAttribute != "" {
		record.ExternalID = strings.TrimSpace(s.value(item, s.cfg.IDSelector, s.cfg.IDAttribute))
	}
	if record.ExternalID == "" {
		record.ExternalID = fingerprint(record.Author, dateRaw, record.Body)
	}

	return record, nil
}

// value reads attr (or text when attr is empty) from the first match of selector
// inside item, or from item itself when selector is empty
func (s *SelectorStrategy) value(item *goquery.Selection, selector, attr string) string {
	target := item
	if selector != "" {
		target = item.Find(selector).First()
	}
	if attr != "" {
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapseSpace(target.Text())
}

func (s *SelectorStrategy) text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpace(item.Find(selector).First().Text())
}

func (s *SelectorStrategy) body(page *models.PageContent, item *goquery.Selection) (string, error) {
	if s.cfg.BodySelector == "" {
		return "", nil
	}
	sel := item.Find(s.cfg.BodySelector).First()
	if !s.cfg.Markdown {
		return collapseSpace(sel.Text()), nil
	}

	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("failed to read body html: %w", err)
	}
	converted, err := md.NewConverter(page.URL, true, nil).ConvertString(html)
	if err != nil {
		return collapseSpace(sel.Text()), nil
	}
	return strings.TrimSpace(converted), nil
}
