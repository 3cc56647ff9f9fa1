package vantage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"statuswatch-backend/lib/htmlutil"
	"statuswatch-backend/lib/scrapers/vantage/catalog"
	"statuswatch-backend/lib/textutil"
	"statuswatch-backend/lib/timezone"
)

// every rendering of a date the portal has been seen to use.
var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"01/02/2006",
}

// normalizeValue maps a raw strategy hit to the canonical form values
// of this kind are compared and reported in. An error means the raw
// text is not a usable rendering of the field, so the strategy counts
// as a miss rather than a disagreement.
func normalizeValue(field *catalog.Field, raw string) (string, error) {
	switch field.Kind {
	case catalog.FieldMoney:
		return normalizeMoney(raw)
	case catalog.FieldDate:
		return normalizeDate(raw)
	case catalog.FieldStatus:
		return normalizeStatus(raw, field.Labels)
	case catalog.FieldText, catalog.FieldPresence:
		cleaned := htmlutil.CleanText(raw)
		if cleaned == "" {
			return "", fmt.Errorf("empty text")
		}
		return cleaned, nil
	}
	return "", fmt.Errorf("unknown field kind %q", field.Kind)
}

// compareKey is the form two candidate values are compared in.
// Money, dates and statuses are already canonical after
// normalization; text is compared case-insensitively and presence
// values ignore spacing too because the portal renders the account
// name with inconsistent whitespace.
func compareKey(kind catalog.FieldKind, normalized string) string {
	switch kind {
	case catalog.FieldText:
		return textutil.Canonical(normalized)
	case catalog.FieldPresence:
		return textutil.Squash(normalized)
	}
	return normalized
}

// normalizeMoney turns "$ 5,000.00" into "5000.00". Always two
// decimal places so equal amounts compare equal as strings.
func normalizeMoney(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return "", fmt.Errorf("empty amount")
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if value < 0 {
		return "", fmt.Errorf("negative amount %q", raw)
	}
	return strconv.FormatFloat(value, 'f', 2, 64), nil
}

// normalizeDate turns any known rendering into ISO "2006-01-02",
// interpreted in the portal's timezone.
func normalizeDate(raw string) (string, error) {
	s := htmlutil.CleanText(raw)
	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, s, timezone.Location)
		if err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", raw)
}

// normalizeStatus maps raw badge text onto one of the field's
// canonical labels. Label keys are walked in sorted order so the
// answer never depends on map iteration.
func normalizeStatus(raw string, labels map[string][]string) (string, error) {
	canon := textutil.Canonical(raw)
	if canon == "" {
		return "", fmt.Errorf("empty status")
	}
	keys := make([]string, 0, len(labels))
	for label := range labels {
		keys = append(keys, label)
	}
	sort.Strings(keys)
	for _, label := range keys {
		for _, synonym := range labels[label] {
			if strings.Contains(canon, synonym) {
				return label, nil
			}
		}
	}
	return "", fmt.Errorf("status %q matches no label", raw)
}
