package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// parseReceiptJSON parses the model's JSON response leniently: markdown
// fences and surrounding prose are tolerated, dates are normalized.
func parseReceiptJSON(text string) (*ReceiptFields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var fields ReceiptFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields.Date = normalizeDate(fields.Date)

	fields.Vendor = strings.TrimSpace(fields.Vendor)
	if fields.Vendor == "" {
		fields.Vendor = "Unknown Vendor"
	}

	fields.Currency = strings.ToUpper(strings.TrimSpace(fields.Currency))

	return &fields, nil
}

// normalizeDate coerces common date formats into YYYY-MM-DD, defaulting
// to today when the model's answer is unusable.
func normalizeDate(date string) string {
	if date == "" {
		return time.Now().Format("2006-01-02")
	}

	if d, err := time.Parse("2006-01-02", date); err == nil {
		return d.Format("2006-01-02")
	}

	formats := []string{
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}

	return time.Now().Format("2006-01-02")
}
