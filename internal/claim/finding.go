package claim

import (
	"strings"

	"github.com/google/uuid"

	"github.com/veridict/veridict/internal/errors"
)

// Consensus describes how many workers agreed on a finding.
type Consensus string

const (
	ConsensusTotal    Consensus = "total"    // every worker in the stage produced it
	ConsensusMajority Consensus = "majority" // more than half
	ConsensusPartial  Consensus = "partial"  // more than one, at most half
	ConsensusUnique   Consensus = "unique"   // a single worker
)

// ConsensusFor derives the consensus level from contributor and stage size.
func ConsensusFor(contributors, stageWorkers int) Consensus {
	switch {
	case stageWorkers > 0 && contributors >= stageWorkers:
		return ConsensusTotal
	case contributors*2 > stageWorkers:
		return ConsensusMajority
	case contributors > 1:
		return ConsensusPartial
	default:
		return ConsensusUnique
	}
}

// Severity classifies a finding's weight as stated by the auditor.
type FindingSeverity string

const (
	SeverityInfo     FindingSeverity = "info"
	SeverityMinor    FindingSeverity = "minor"
	SeverityMajor    FindingSeverity = "major"
	SeverityCritical FindingSeverity = "critical"
)

// ParseFindingSeverity maps a worker-supplied severity onto the closed set,
// defaulting to info.
func ParseFindingSeverity(s string) FindingSeverity {
	switch FindingSeverity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMinor:
		return SeverityMinor
	case SeverityMajor:
		return SeverityMajor
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Finding is a claim produced by an auditor. A finding with zero citations
// is invalid and rejected at construction.
type Finding struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Severity    FindingSeverity `json:"severity"`
	Citations   []SourceSpan    `json:"citations"`
	EvidenceIDs []string        `json:"evidence_ids,omitempty"`
	Workers     []string        `json:"workers"`
	Consensus   Consensus       `json:"consensus"`
}

// NewFinding creates a validated Finding with a fresh id.
func NewFinding(text string, severity FindingSeverity, workerID string, citations []SourceSpan, evidenceIDs []string) (*Finding, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NewValidationError("finding requires claim text").
			WithField("text")
	}
	if len(citations) == 0 {
		return nil, errors.NewValidationError("finding has no citations").
			WithField("citations").
			WithValue(0)
	}
	if workerID == "" {
		return nil, errors.NewValidationError("finding requires a producing worker").
			WithField("workers")
	}
	return &Finding{
		ID:          uuid.NewString(),
		Text:        text,
		Severity:    severity,
		Citations:   citations,
		EvidenceIDs: evidenceIDs,
		Workers:     []string{workerID},
		Consensus:   ConsensusUnique,
	}, nil
}

// NormalizedText returns the case-folded, whitespace-collapsed claim text
// used for duplicate detection during consolidation.
func (f *Finding) NormalizedText() string {
	return strings.Join(strings.Fields(strings.ToLower(f.Text)), " ")
}

// AddWorker records another auditor that produced the same finding.
func (f *Finding) AddWorker(workerID string) {
	for _, w := range f.Workers {
		if w == workerID {
			return
		}
	}
	f.Workers = append(f.Workers, workerID)
}
