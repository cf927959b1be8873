// Package document models the immutable input document, its page map and
// the overlapping chunks the pipeline operates on. Every extracted fact in
// later stages points back into a Document through character offsets, so
// this package is the anchor of the provenance model.
package document

import "strings"

// PageStatus describes how the upstream loader fared on a page.
type PageStatus string

const (
	// PageOK means the page text was extracted normally.
	PageOK PageStatus = "ok"

	// PageUnreadable means the loader could not extract text for the page
	// (scanned image, corrupt region). Unreadable pages are accounted for
	// in coverage but never counted as extraction gaps.
	PageUnreadable PageStatus = "unreadable"
)

// Document is the immutable input of a run. It is created once per run and
// read-only thereafter.
type Document struct {
	ID   string
	Text string

	// PageStarts holds the character offset at which each page begins.
	// PageStarts[0] is always 0 when pagination is known. Empty means the
	// loader supplied no page boundaries.
	PageStarts []int

	// Statuses is parallel to PageStarts. Nil means all pages are PageOK.
	Statuses []PageStatus
}

// New creates a Document. When pageStarts is empty, pagination is recovered
// from form-feed markers in the text; if none exist the document degrades to
// a single page. Missing pagination never fails a run.
func New(id, text string, pageStarts []int, statuses []PageStatus) *Document {
	if len(pageStarts) == 0 {
		pageStarts = detectPages(text)
	}
	return &Document{
		ID:         id,
		Text:       text,
		PageStarts: pageStarts,
		Statuses:   statuses,
	}
}

// Len returns the total character count of the document text.
func (d *Document) Len() int {
	return len(d.Text)
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.PageStarts)
}

// StatusOf returns the loader status for a 1-based page number.
func (d *Document) StatusOf(page int) PageStatus {
	idx := page - 1
	if idx < 0 || idx >= len(d.Statuses) {
		return PageOK
	}
	return d.Statuses[idx]
}

// UnreadablePages returns the 1-based page numbers the loader flagged as
// unreadable, in ascending order.
func (d *Document) UnreadablePages() []int {
	var pages []int
	for i, s := range d.Statuses {
		if s == PageUnreadable {
			pages = append(pages, i+1)
		}
	}
	return pages
}

// Slice returns the document text between start and end, clamped to the
// document bounds.
func (d *Document) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(d.Text) {
		end = len(d.Text)
	}
	if start >= end {
		return ""
	}
	return d.Text[start:end]
}

// detectPages recovers page boundaries from form-feed markers. Loaders that
// cannot report page offsets commonly join pages with \f. Falls back to a
// single page spanning the whole text.
func detectPages(text string) []int {
	starts := []int{0}
	offset := 0
	for {
		i := strings.IndexByte(text[offset:], '\f')
		if i < 0 {
			break
		}
		offset += i + 1
		if offset < len(text) {
			starts = append(starts, offset)
		}
	}
	return starts
}
