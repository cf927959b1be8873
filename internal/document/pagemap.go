package document

import "sort"

// PageMap resolves character offsets to 1-based page numbers by binary
// search over precomputed page start offsets.
type PageMap struct {
	starts []int
	length int
}

// NewPageMap builds a PageMap for a document.
func NewPageMap(doc *Document) *PageMap {
	return &PageMap{
		starts: doc.PageStarts,
		length: len(doc.Text),
	}
}

// PageFor returns the 1-based page number containing the given character
// offset. Offsets before the document clamp to the first page, offsets past
// the end clamp to the last page.
func (m *PageMap) PageFor(offset int) int {
	if len(m.starts) == 0 {
		return 1
	}
	if offset < 0 {
		return 1
	}
	// First page whose start is beyond the offset; the offset lives on the
	// page before it.
	i := sort.Search(len(m.starts), func(i int) bool {
		return m.starts[i] > offset
	})
	if i == 0 {
		return 1
	}
	return i
}

// PagesForRange returns the ascending list of 1-based page numbers touched
// by the half-open character range [start, end).
func (m *PageMap) PagesForRange(start, end int) []int {
	if end <= start {
		return nil
	}
	first := m.PageFor(start)
	last := m.PageFor(end - 1)
	pages := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}
	return pages
}

// PageBounds returns the half-open character range [start, end) of a
// 1-based page number. The second return is false for out-of-range pages.
func (m *PageMap) PageBounds(page int) (int, int, bool) {
	idx := page - 1
	if idx < 0 || idx >= len(m.starts) {
		return 0, 0, false
	}
	start := m.starts[idx]
	end := m.length
	if idx+1 < len(m.starts) {
		end = m.starts[idx+1]
	}
	return start, end, true
}
