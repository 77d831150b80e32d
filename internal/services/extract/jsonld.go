package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/harvester/internal/models"
)

// JSONLDStrategy collects schema.org Review objects from ld+json blocks
type JSONLDStrategy struct {
	name string
}

func NewJSONLDStrategy(name string) *JSONLDStrategy {
	if name == "" {
		name = TypeJSONLD
	}
	return &JSONLDStrategy{name: name}
}

func (s *JSONLDStrategy) Name() string {
	return s.name
}

func (s *JSONLDStrategy) Extract(page *models.PageContent) ([]*models.ExtractedRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var records []*models.ExtractedRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, script *goquery.Selection) {
		var payload interface{}
		if err := json.Unmarshal([]byte(script.Text()), &payload); err != nil {
			// one broken block should not hide the others
			return
		}
		walkJSONLD(payload, func(obj map[string]interface{}) {
			records = append(records, reviewRecord(page, obj))
		})
	})

	return records, nil
}

// walkJSONLD visits every object whose @type includes Review
func walkJSONLD(node interface{}, visit func(map[string]interface{})) {
	switch v := node.(type) {
	case []interface{}:
		for _, child := range v {
			walkJSONLD(child, visit)
		}
	case map[string]interface{}:
		if hasType(v["@type"], "Review") {
			visit(v)
			return
		}
		for _, child := range v {
			walkJSONLD(child, visit)
		}
	}
}

func hasType(t interface{}, want string) bool {
	switch v := t.(type) {
	case string:
		return v == want
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func reviewRecord(page *models.PageContent, obj map[string]interface{}) *models.ExtractedRecord {
	record := &models.ExtractedRecord{
		Author: nameOf(obj["author"]),
		Title:  stringOf(obj["name"]),
		Body:   collapseSpace(stringOf(obj["reviewBody"])),
	}
	if record.Body == "" {
		record.Body = collapseSpace(stringOf(obj["description"]))
	}

	if rating, ok := obj["reviewRating"].(map[string]interface{}); ok {
		record.Rating = parseRating(stringOf(rating["ratingValue"]))
	}

	published := stringOf(obj["datePublished"])
	record.PublishedAt = parseDate(published, "")

	if u := stringOf(obj["url"]); u != "" {
		record.URL = resolveURL(page.URL, u)
	}

	switch {
	case stringOf(obj["@id"]) != "":
		record.ExternalID = stringOf(obj["@id"])
	case record.URL != "":
		record.ExternalID = record.URL
	default:
		record.ExternalID = fingerprint(record.Author, published, record.Body)
	}

	return record
}

func stringOf(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case json.Number:
		return t.String()
	}
	return ""
}

func nameOf(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		return stringOf(t["name"])
	case []interface{}:
		if len(t) > 0 {
			return nameOf(t[0])
		}
	}
	return stringOf(v)
}
