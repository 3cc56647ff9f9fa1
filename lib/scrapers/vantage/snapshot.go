package vantage

import (
	"bytes"
	"fmt"
	"time"

	"statuswatch-backend/lib/htmlutil"
	"statuswatch-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is one rendered page at one instant: parsed DOM, raw bytes
// and http status. Extraction and challenge classification only ever
// see snapshots, never the live transport.
type Snapshot struct {
	URL        string
	StatusCode int
	FetchedAt  time.Time

	doc  *goquery.Document
	raw  []byte
	text string
}

func NewSnapshot(url string, statusCode int, body []byte) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", url, err)
	}
	return &Snapshot{
		URL:        url,
		StatusCode: statusCode,
		FetchedAt:  timezone.Now(),
		doc:        doc,
		raw:        body,
		text:       htmlutil.CleanText(doc.Text()),
	}, nil
}

func (s *Snapshot) Doc() *goquery.Document {
	return s.doc
}

func (s *Snapshot) Raw() []byte {
	return s.raw
}

// Text is the page's visible text, cleaned and collapsed. Challenge
// rules and regex strategies run over it.
func (s *Snapshot) Text() string {
	return s.text
}
