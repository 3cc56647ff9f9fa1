package vantage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"statuswatch-backend/lib/htmlutil"
	"statuswatch-backend/lib/scrapers/vantage/catalog"
	"statuswatch-backend/lib/telemetry"
	"statuswatch-backend/lib/textutil"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("statuswatch.scrapers.vantage")

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// FieldValue is one extracted field plus the provenance needed to
// debug it later: which strategy produced it and whether the backup
// strategies agreed.
type FieldValue struct {
	Value          string     `json:"value,omitempty"`
	SourceStrategy string     `json:"source_strategy,omitempty"`
	Confidence     Confidence `json:"confidence,omitempty"`
	Consistent     bool       `json:"consistent"`
	Absent         bool       `json:"absent,omitempty"`
}

// Result is everything extracted from one account page. It carries no
// clocks or ids, so extracting the same page twice yields identical
// results.
type Result struct {
	Identifier  string `json:"identifier"`
	Found       bool   `json:"found"`
	AccountName string `json:"account_name,omitempty"`
	// Fields is keyed by catalog field name. Statuses hold canonical
	// labels, amounts hold "1234.56", dates hold "2006-01-02".
	Fields map[string]FieldValue `json:"fields"`
	// Consistent is false when any field's strategies disagreed.
	Consistent     bool `json:"consistent"`
	CatalogVersion int  `json:"catalog_version"`
}

// the strategy name recorded when the page carries an explicit "no
// matching account" marker instead of account data.
const notFoundMarker = "not-found-marker"

var notFoundPhrases = []string{
	"no account found",
	"no matching account",
	"account not found",
	"no results for",
}

// Engine resolves catalog fields against page snapshots.
type Engine struct {
	catalog *catalog.Catalog
	// minimum similarity between the queried identifier and the name
	// the page renders before the page is trusted at all.
	matchThreshold float64
}

func NewEngine(c *catalog.Catalog) *Engine {
	return &Engine{catalog: c, matchThreshold: 0.92}
}

// one strategy hit that survived normalization.
type candidate struct {
	strategyId string
	raw        string
	normalized string
}

// Extract resolves every catalog field against the snapshot. The
// mandatory account indicator must resolve and match the queried
// identifier or the whole extraction fails with
// ExtractionIncompleteError; every other field may be absent.
func (e *Engine) Extract(ctx context.Context, identifier string, snap *Snapshot) (*Result, error) {
	_, span := tracer.Start(ctx, "Extract", trace.WithAttributes(
		attribute.String("identifier", identifier),
		attribute.Int("catalog.version", e.catalog.Version),
	))
	defer span.End()

	result, err := e.extract(identifier, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("result.found", result.Found),
		attribute.Bool("result.consistent", result.Consistent),
	)
	return result, nil
}

func (e *Engine) extract(identifier string, snap *Snapshot) (*Result, error) {
	mandatory := e.catalog.Mandatory()
	candidates := e.fieldCandidates(mandatory, snap)

	if len(candidates) == 0 {
		if e.explicitlyNotFound(snap) {
			return &Result{
				Identifier: identifier,
				Found:      false,
				Fields: map[string]FieldValue{
					mandatory.Name: {
						Value:          "false",
						SourceStrategy: notFoundMarker,
						Confidence:     ConfidenceHigh,
						Consistent:     true,
					},
				},
				Consistent:     true,
				CatalogVersion: e.catalog.Version,
			}, nil
		}
		return nil, &ExtractionIncompleteError{
			MissingField:    mandatory.Name,
			StrategiesTried: len(mandatory.Strategies),
		}
	}

	presence := resolveField(mandatory, candidates)
	accountName := candidates[0].normalized
	if !e.identifierMatches(identifier, accountName) {
		return nil, &ExtractionIncompleteError{
			MissingField:    mandatory.Name,
			StrategiesTried: len(mandatory.Strategies),
			Reason:          fmt.Sprintf("page shows account %q", accountName),
		}
	}
	// presence is a boolean field; the extracted name is evidence,
	// not the value.
	presence.Value = "true"

	result := &Result{
		Identifier:     identifier,
		Found:          true,
		AccountName:    accountName,
		Fields:         map[string]FieldValue{mandatory.Name: presence},
		Consistent:     presence.Consistent,
		CatalogVersion: e.catalog.Version,
	}

	for i := range e.catalog.Fields {
		field := &e.catalog.Fields[i]
		if field.Name == mandatory.Name {
			continue
		}
		value := resolveField(field, e.fieldCandidates(field, snap))
		result.Fields[field.Name] = value
		if !value.Absent && !value.Consistent {
			result.Consistent = false
		}
	}
	return result, nil
}

// fieldCandidates runs every strategy of the field, in catalog order,
// and keeps the hits that normalize cleanly.
func (e *Engine) fieldCandidates(field *catalog.Field, snap *Snapshot) []candidate {
	var candidates []candidate
	for i := range field.Strategies {
		strategy := &field.Strategies[i]
		raw, ok := applyStrategy(strategy, snap)
		if !ok {
			continue
		}
		normalized, err := normalizeValue(field, raw)
		if err != nil {
			slog.Debug(
				"strategy hit did not normalize",
				"field", field.Name,
				"strategy", strategy.Id,
				"err", err,
			)
			continue
		}
		candidates = append(candidates, candidate{
			strategyId: strategy.Id,
			raw:        raw,
			normalized: normalized,
		})
	}
	return candidates
}

// resolveField turns a field's candidates into a value with a
// confidence grade. One independent hit is Medium. Two or more hits
// that agree lift it to High; any disagreement drops it to Low and
// marks the field inconsistent, keeping the highest-priority value.
func resolveField(field *catalog.Field, candidates []candidate) FieldValue {
	if len(candidates) == 0 {
		return FieldValue{Absent: true, Consistent: true}
	}

	primary := candidates[0]
	value := FieldValue{
		Value:          primary.normalized,
		SourceStrategy: primary.strategyId,
		Confidence:     ConfidenceMedium,
		Consistent:     true,
	}
	if len(candidates) == 1 {
		return value
	}

	primaryKey := compareKey(field.Kind, primary.normalized)
	for _, other := range candidates[1:] {
		if compareKey(field.Kind, other.normalized) != primaryKey {
			slog.Warn(
				"extraction strategies disagree",
				"field", field.Name,
				"primary_strategy", primary.strategyId,
				"primary_value", primary.normalized,
				"other_strategy", other.strategyId,
				"other_value", other.normalized,
			)
			value.Confidence = ConfidenceLow
			value.Consistent = false
			return value
		}
	}
	value.Confidence = ConfidenceHigh
	return value
}

func applyStrategy(s *catalog.Strategy, snap *Snapshot) (string, bool) {
	switch s.Kind {
	case catalog.KindCss:
		text := htmlutil.SelectionText(snap.Doc().Find(s.Selector))
		return text, text != ""
	case catalog.KindCssAttr:
		value := htmlutil.FirstAttr(snap.Doc().Find(s.Selector), s.Attr)
		return value, value != ""
	case catalog.KindRegex:
		match := s.Regex().FindStringSubmatch(snap.Text())
		if match == nil {
			return "", false
		}
		value := strings.TrimSpace(match[1])
		return value, value != ""
	}
	return "", false
}

func (e *Engine) identifierMatches(identifier, accountName string) bool {
	want := textutil.Squash(identifier)
	got := textutil.Squash(accountName)
	if want == got {
		return true
	}
	return matchr.JaroWinkler(want, got, false) >= e.matchThreshold
}

func (e *Engine) explicitlyNotFound(snap *Snapshot) bool {
	if snap.Doc().Find(".search-empty, .no-results").Length() > 0 {
		return true
	}
	return textutil.ContainsAny(snap.Text(), notFoundPhrases)
}
