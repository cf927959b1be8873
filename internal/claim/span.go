// Package claim defines the typed payloads that flow between pipeline
// stages: source spans, evidence items, findings, decision points, opinions
// and the final decision. Worker output is loosely structured; this package
// is the validated boundary that turns it into a closed set of types.
// Invalid payloads are rejected here, not deep inside stage logic.
package claim

import (
	"github.com/veridict/veridict/internal/errors"
)

// SourceSpan locates a claim in the source document by character offsets.
type SourceSpan struct {
	DocID     string `json:"doc_id"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	PageNum   *int   `json:"page_num,omitempty"`

	// Excerpt is the literal document text at [StartChar, EndChar), or
	// empty when the worker did not quote it. It is never invented.
	Excerpt string `json:"excerpt,omitempty"`
}

// NewSourceSpan creates a validated SourceSpan. The span must be non-empty
// and non-inverted; excerpt verification against the document happens later
// in the integrity stage, not here.
func NewSourceSpan(docID string, start, end int, excerpt string) (SourceSpan, error) {
	if docID == "" {
		return SourceSpan{}, errors.NewValidationError("source span requires a document id").
			WithField("doc_id")
	}
	if start < 0 {
		return SourceSpan{}, errors.NewValidationError("source span start must be non-negative").
			WithField("start_char").
			WithValue(start)
	}
	if start >= end {
		return SourceSpan{}, errors.NewValidationError("source span must satisfy start_char < end_char").
			WithField("end_char").
			WithValue(end)
	}
	// The excerpt is kept byte-for-byte as the worker stated it; the
	// integrity stage compares it literally against the document.
	return SourceSpan{
		DocID:     docID,
		StartChar: start,
		EndChar:   end,
		Excerpt:   excerpt,
	}, nil
}

// WithPage returns a copy of the span carrying a 1-based page number.
func (s SourceSpan) WithPage(page int) SourceSpan {
	s.PageNum = &page
	return s
}

// Len returns the span length in characters.
func (s SourceSpan) Len() int {
	return s.EndChar - s.StartChar
}

// Overlaps reports whether two spans overlap when each is widened by
// tolerance characters on both sides. Spans on different documents never
// overlap.
func (s SourceSpan) Overlaps(other SourceSpan, tolerance int) bool {
	if s.DocID != other.DocID {
		return false
	}
	return s.StartChar-tolerance < other.EndChar && other.StartChar-tolerance < s.EndChar
}
