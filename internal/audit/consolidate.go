package audit

import (
	"sort"

	"github.com/veridict/veridict/internal/claim"
)

// MappingEntry records where one auditor's finding ended up during
// consolidation. Every finding an auditor produced gets exactly one entry:
// either the id of the merged finding it was folded into, or a note saying
// why it was omitted. Losslessness is checked against this mapping, not
// promised.
type MappingEntry struct {
	WorkerID   string `json:"worker_id"`
	Text       string `json:"text"`
	MergedInto string `json:"merged_into,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Consolidated is the audit stage's canonical artifact.
type Consolidated struct {
	Findings []*claim.Finding `json:"findings"`
	Mapping  []MappingEntry   `json:"excerpt_mapping"`

	// Confirmed asserts that consolidation was lossless. It may only be
	// true when every mapping entry is filled in.
	Confirmed bool `json:"confirmed"`

	Reports []WorkerReport `json:"reports"`
}

// Consolidate merges all auditors' findings. Identical findings collapse
// with a consensus tag; findings unique to one auditor are kept with the
// unique tag. rejected carries findings that failed validation at the
// parse boundary; they appear in the mapping with their rejection note.
func Consolidate(byWorker map[string][]*claim.Finding, rejected []MappingEntry, stageWorkers int) *Consolidated {
	workers := make([]string, 0, len(byWorker))
	for w := range byWorker {
		workers = append(workers, w)
	}
	sort.Strings(workers)

	var merged []*claim.Finding
	var mapping []MappingEntry

	for _, w := range workers {
		for _, f := range byWorker[w] {
			if dup := findMatch(merged, f); dup != nil {
				dup.AddWorker(w)
				dup.Citations = appendNewCitations(dup.Citations, f.Citations)
				dup.EvidenceIDs = appendNewIDs(dup.EvidenceIDs, f.EvidenceIDs)
				mapping = append(mapping, MappingEntry{
					WorkerID:   w,
					Text:       f.Text,
					MergedInto: dup.ID,
				})
				continue
			}
			merged = append(merged, f)
			mapping = append(mapping, MappingEntry{
				WorkerID:   w,
				Text:       f.Text,
				MergedInto: f.ID,
			})
		}
	}

	mapping = append(mapping, rejected...)

	for _, f := range merged {
		f.Consensus = claim.ConsensusFor(len(f.Workers), stageWorkers)
	}

	confirmed := true
	for _, m := range mapping {
		if m.MergedInto == "" && m.Note == "" {
			confirmed = false
			break
		}
	}

	return &Consolidated{
		Findings:  merged,
		Mapping:   mapping,
		Confirmed: confirmed,
	}
}

func findMatch(merged []*claim.Finding, f *claim.Finding) *claim.Finding {
	for _, m := range merged {
		if m.NormalizedText() == f.NormalizedText() {
			return m
		}
	}
	return nil
}

func appendNewCitations(existing, incoming []claim.SourceSpan) []claim.SourceSpan {
	for _, c := range incoming {
		found := false
		for _, e := range existing {
			if e.DocID == c.DocID && e.StartChar == c.StartChar && e.EndChar == c.EndChar {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, c)
		}
	}
	return existing
}

func appendNewIDs(existing, incoming []string) []string {
	for _, id := range incoming {
		found := false
		for _, e := range existing {
			if e == id {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, id)
		}
	}
	return existing
}
