package extraction

import (
	"sort"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
)

// Gap is an uncovered character range of the document.
type Gap struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Coverage reports how much of the document is reachable from at least one
// retained evidence item. Unreadable pages are excluded from the
// denominator and reported separately; they are the loader's failure, not
// an extraction gap.
type Coverage struct {
	Percent         float64 `json:"percent"` // 0..1 over readable characters
	CoveredChars    int     `json:"covered_chars"`
	ReadableChars   int     `json:"readable_chars"`
	TotalChars      int     `json:"total_chars"`
	Gaps            []Gap   `json:"gaps,omitempty"`
	UncoveredPages  []int   `json:"uncovered_pages,omitempty"`
	UnreadablePages []int   `json:"unreadable_pages,omitempty"`
}

// ComputeCoverage projects all item spans onto the document's character
// range. Adding a worker's successful output can only grow the projected
// union, so coverage is monotonic in the set of items.
func ComputeCoverage(doc *document.Document, items []*claim.EvidenceItem) Coverage {
	pm := document.NewPageMap(doc)
	unreadable := doc.UnreadablePages()
	unreadableSet := make(map[int]bool, len(unreadable))
	for _, p := range unreadable {
		unreadableSet[p] = true
	}

	cov := Coverage{
		TotalChars:      doc.Len(),
		UnreadablePages: unreadable,
	}

	readable := doc.Len()
	for _, p := range unreadable {
		if start, end, ok := pm.PageBounds(p); ok {
			readable -= end - start
		}
	}
	cov.ReadableChars = readable

	// Union of item spans as a sorted, merged interval list.
	var intervals []Gap
	for _, item := range items {
		for _, s := range item.Spans {
			if s.DocID != doc.ID || s.StartChar >= doc.Len() {
				continue
			}
			end := s.EndChar
			if end > doc.Len() {
				end = doc.Len()
			}
			intervals = append(intervals, Gap{Start: s.StartChar, End: end})
		}
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	var covered []Gap
	for _, iv := range intervals {
		if n := len(covered); n > 0 && iv.Start <= covered[n-1].End {
			if iv.End > covered[n-1].End {
				covered[n-1].End = iv.End
			}
			continue
		}
		covered = append(covered, iv)
	}

	for _, iv := range covered {
		cov.CoveredChars += iv.End - iv.Start
	}

	// Gaps are the complement of the covered union, minus unreadable pages.
	pos := 0
	for _, iv := range covered {
		if iv.Start > pos {
			cov.Gaps = append(cov.Gaps, subtractUnreadable(Gap{Start: pos, End: iv.Start}, pm, unreadableSet)...)
		}
		pos = iv.End
	}
	if pos < doc.Len() {
		cov.Gaps = append(cov.Gaps, subtractUnreadable(Gap{Start: pos, End: doc.Len()}, pm, unreadableSet)...)
	}

	// A readable page with no covered character at all is uncovered.
	for p := 1; p <= doc.PageCount(); p++ {
		if unreadableSet[p] {
			continue
		}
		start, end, ok := pm.PageBounds(p)
		if !ok {
			continue
		}
		touched := false
		for _, iv := range covered {
			if iv.Start < end && start < iv.End {
				touched = true
				break
			}
		}
		if !touched {
			cov.UncoveredPages = append(cov.UncoveredPages, p)
		}
	}

	if readable > 0 {
		coveredReadable := cov.CoveredChars
		for _, p := range unreadable {
			if start, end, ok := pm.PageBounds(p); ok {
				for _, iv := range covered {
					lo, hi := max(iv.Start, start), min(iv.End, end)
					if lo < hi {
						coveredReadable -= hi - lo
					}
				}
			}
		}
		cov.Percent = float64(coveredReadable) / float64(readable)
		if cov.Percent > 1 {
			cov.Percent = 1
		}
	} else if doc.Len() == 0 {
		cov.Percent = 1
	}

	return cov
}

// subtractUnreadable removes unreadable page ranges from a gap, possibly
// splitting it.
func subtractUnreadable(g Gap, pm *document.PageMap, unreadable map[int]bool) []Gap {
	if len(unreadable) == 0 {
		return []Gap{g}
	}
	out := []Gap{g}
	for p := range unreadable {
		start, end, ok := pm.PageBounds(p)
		if !ok {
			continue
		}
		var next []Gap
		for _, cur := range out {
			if end <= cur.Start || cur.End <= start {
				next = append(next, cur)
				continue
			}
			if cur.Start < start {
				next = append(next, Gap{Start: cur.Start, End: start})
			}
			if end < cur.End {
				next = append(next, Gap{Start: end, End: cur.End})
			}
		}
		out = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
