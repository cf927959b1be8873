package extraction

import (
	"sort"

	"github.com/veridict/veridict/internal/claim"
)

// Aggregation merges per-worker evidence items into one deduplicated,
// conflict-marked union. The aggregation law is "on doubt, keep": nothing
// unique to a single worker is ever dropped.
type Aggregation struct {
	Items []*claim.EvidenceItem

	// Outliers lists workers whose item count fell below the configured
	// ratio of the median. Their duplicate items lose contributor credit;
	// their unique items are always retained.
	Outliers []string
}

// Aggregate merges all workers' items. Two items are duplicates when their
// type and normalized value match and any of their spans overlap within
// tolerance; duplicates collapse into one item listing all contributing
// workers. Items of the same type with overlapping spans but disagreeing
// values are marked as conflicts, not discarded.
func Aggregate(byWorker map[string][]*claim.EvidenceItem, tolerance int, outlierRatio float64) Aggregation {
	outliers := detectOutliers(byWorker, outlierRatio)
	outlierSet := make(map[string]bool, len(outliers))
	for _, w := range outliers {
		outlierSet[w] = true
	}

	// Deterministic merge order: healthy workers first, outliers last, both
	// alphabetical. Merge output is order-independent by construction; the
	// ordering only stabilizes generated ids and worker credit.
	workers := make([]string, 0, len(byWorker))
	for w := range byWorker {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if outlierSet[workers[i]] != outlierSet[workers[j]] {
			return !outlierSet[workers[i]]
		}
		return workers[i] < workers[j]
	})

	var merged []*claim.EvidenceItem
	for _, w := range workers {
		for _, item := range byWorker[w] {
			dup := findDuplicate(merged, item, tolerance)
			if dup != nil {
				if !outlierSet[w] {
					dup.AddWorker(w)
					dup.Spans = mergeSpans(dup.Spans, item.Spans, tolerance)
				}
				continue
			}

			for _, other := range findConflicts(merged, item, tolerance) {
				item.MarkConflict(other.ID)
				other.MarkConflict(item.ID)
			}
			merged = append(merged, item)
		}
	}

	return Aggregation{Items: merged, Outliers: outliers}
}

// detectOutliers flags workers whose item count is below ratio times the
// median count. A ratio of zero disables the filter.
func detectOutliers(byWorker map[string][]*claim.EvidenceItem, ratio float64) []string {
	if ratio <= 0 || len(byWorker) < 3 {
		return nil
	}

	counts := make([]int, 0, len(byWorker))
	for _, items := range byWorker {
		counts = append(counts, len(items))
	}
	sort.Ints(counts)
	median := float64(counts[len(counts)/2])
	if len(counts)%2 == 0 {
		median = float64(counts[len(counts)/2-1]+counts[len(counts)/2]) / 2
	}

	var outliers []string
	for w, items := range byWorker {
		if float64(len(items)) < ratio*median {
			outliers = append(outliers, w)
		}
	}
	sort.Strings(outliers)
	return outliers
}

func findDuplicate(merged []*claim.EvidenceItem, item *claim.EvidenceItem, tolerance int) *claim.EvidenceItem {
	for _, m := range merged {
		if m.Type != item.Type || m.NormalizedValue() != item.NormalizedValue() {
			continue
		}
		if spansOverlap(m.Spans, item.Spans, tolerance) {
			return m
		}
	}
	return nil
}

func findConflicts(merged []*claim.EvidenceItem, item *claim.EvidenceItem, tolerance int) []*claim.EvidenceItem {
	var conflicts []*claim.EvidenceItem
	for _, m := range merged {
		if m.Type != item.Type || m.NormalizedValue() == item.NormalizedValue() {
			continue
		}
		if spansOverlap(m.Spans, item.Spans, tolerance) {
			conflicts = append(conflicts, m)
		}
	}
	return conflicts
}

func spansOverlap(a, b []claim.SourceSpan, tolerance int) bool {
	for _, sa := range a {
		for _, sb := range b {
			if sa.Overlaps(sb, tolerance) {
				return true
			}
		}
	}
	return false
}

// mergeSpans appends spans from incoming that do not overlap an existing
// span, keeping the list sorted by start offset.
func mergeSpans(existing, incoming []claim.SourceSpan, tolerance int) []claim.SourceSpan {
	for _, s := range incoming {
		found := false
		for _, e := range existing {
			if e.Overlaps(s, tolerance) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, s)
		}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].StartChar < existing[j].StartChar
	})
	return existing
}
