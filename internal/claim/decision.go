package claim

import (
	"strings"

	"github.com/veridict/veridict/internal/errors"
)

// Recommendation is a judge's (or the arbiter's) overall verdict.
type Recommendation string

const (
	Upheld          Recommendation = "upheld"
	Rejected        Recommendation = "rejected"
	PartiallyUpheld Recommendation = "partially-upheld"
	Inconclusive    Recommendation = "inconclusive"
)

// ParseRecommendation maps a worker-supplied verdict onto the closed
// enumeration. Unknown strings become Inconclusive.
func ParseRecommendation(s string) Recommendation {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch Recommendation(normalized) {
	case Upheld:
		return Upheld
	case Rejected:
		return Rejected
	case PartiallyUpheld:
		return PartiallyUpheld
	default:
		return Inconclusive
	}
}

// DecisionPoint is one conclusion inside a judge's opinion. A determinant
// point without a citation is flagged rather than trusted; the flag feeds
// the integrity penalty.
type DecisionPoint struct {
	Conclusion  string       `json:"conclusion"`
	Rationale   string       `json:"rationale,omitempty"`
	Citations   []SourceSpan `json:"citations,omitempty"`
	BasisRefs   []string     `json:"basis_refs,omitempty"` // normative basis references
	Confidence  float64      `json:"confidence"`
	Determinant bool         `json:"determinant"`

	// Uncited is set when a determinant point carries no citation.
	Uncited bool `json:"uncited,omitempty"`
}

// NewDecisionPoint creates a validated DecisionPoint. Confidence outside
// [0,1] is rejected; a determinant point without citations is accepted but
// flagged.
func NewDecisionPoint(conclusion, rationale string, citations []SourceSpan, basisRefs []string, confidence float64, determinant bool) (*DecisionPoint, error) {
	conclusion = strings.TrimSpace(conclusion)
	if conclusion == "" {
		return nil, errors.NewValidationError("decision point requires a conclusion").
			WithField("conclusion")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("decision point confidence must be in [0,1]").
			WithField("confidence").
			WithValue(confidence)
	}
	return &DecisionPoint{
		Conclusion:  conclusion,
		Rationale:   rationale,
		Citations:   citations,
		BasisRefs:   basisRefs,
		Confidence:  confidence,
		Determinant: determinant,
		Uncited:     determinant && len(citations) == 0,
	}, nil
}

// Answer is a judge's response to one user-supplied question.
type Answer struct {
	Question  string       `json:"question"`
	Text      string       `json:"text"`
	Citations []SourceSpan `json:"citations,omitempty"`
}

// Opinion is the full output of one judge worker.
type Opinion struct {
	JudgeID        string          `json:"judge_id"`
	Points         []DecisionPoint `json:"points"`
	Recommendation Recommendation  `json:"recommendation"`
	Confidence     float64         `json:"confidence"`
	Answers        []Answer        `json:"answers,omitempty"`
}

// Resolution records how the arbiter settled one disagreement between
// judges: which alternative was chosen, which were set aside, and why.
type Resolution struct {
	Topic     string   `json:"topic"`
	Chosen    string   `json:"chosen"`
	Rejected  []string `json:"rejected,omitempty"`
	Rationale string   `json:"rationale"`
}

// FinalDecision is the single arbitrated outcome of a run. It is immutable
// once integrity-validated; the integrity stage returns an adjusted copy
// rather than mutating it.
type FinalDecision struct {
	RunID      string         `json:"run_id"`
	Outcome    Recommendation `json:"outcome"`
	Confidence float64        `json:"confidence"`

	Resolutions []Resolution `json:"resolutions,omitempty"`
	Unresolved  []string     `json:"unresolved,omitempty"` // disagreements the arbiter could not settle

	Points  []DecisionPoint `json:"points,omitempty"`
	Answers []Answer        `json:"answers,omitempty"`

	// ConsultedWorkers lists every judge consulted plus the arbiter.
	ConsultedWorkers []string `json:"consulted_workers"`
	Narrative        string   `json:"narrative,omitempty"`

	// Populated by the integrity stage.
	IntegrityWarnings int     `json:"integrity_warnings"`
	UnresolvedCount   int     `json:"unresolved_count"`
	Penalty           float64 `json:"penalty"`
}

// NewFinalDecision creates a validated FinalDecision.
func NewFinalDecision(runID string, outcome Recommendation, confidence float64, consulted []string) (*FinalDecision, error) {
	if runID == "" {
		return nil, errors.NewValidationError("final decision requires a run id").
			WithField("run_id")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("final decision confidence must be in [0,1]").
			WithField("confidence").
			WithValue(confidence)
	}
	if len(consulted) == 0 {
		return nil, errors.NewValidationError("final decision requires consulted workers").
			WithField("consulted_workers").
			WithValue(0)
	}
	return &FinalDecision{
		RunID:            runID,
		Outcome:          outcome,
		Confidence:       confidence,
		ConsultedWorkers: consulted,
	}, nil
}
