package judgment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/parse"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

const arbiterPrompt = `You are the single arbiter. You receive every judge's
opinion. Resolve their disagreements explicitly and return JSON:
{"outcome": "upheld|rejected|partially-upheld|inconclusive", "confidence":
0.0, "resolutions": [{"topic": "...", "chosen": "...", "rejected": ["..."],
"rationale": "..."}], "unresolved": ["..."], "points": [...like a judge's
points...], "answers": [...one consolidated answer per question...],
"narrative": "..."}. Record every choice you make between alternatives.`

type rawArbitration struct {
	Outcome     string             `json:"outcome"`
	Confidence  float64            `json:"confidence"`
	Resolutions []claim.Resolution `json:"resolutions"`
	Unresolved  []string           `json:"unresolved"`
	Points      []rawPoint         `json:"points"`
	Answers     []rawAnswer        `json:"answers"`
	Narrative   string             `json:"narrative"`
}

// Arbiter turns all judges' opinions into one FinalDecision.
type Arbiter struct {
	caller  *resilient.Caller
	binding worker.RoleBinding
	logger  *logging.Logger
}

// NewArbiter creates an Arbiter on the given role binding.
func NewArbiter(caller *resilient.Caller, binding worker.RoleBinding, logger *logging.Logger) *Arbiter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Arbiter{
		caller:  caller,
		binding: binding,
		logger:  logger.WithStage("arbitration"),
	}
}

// Arbitrate resolves the judges' disagreements. No later stage can
// compensate for a missing final decision, so exhausting the arbiter's
// whole failover chain is fatal for the run.
func (a *Arbiter) Arbitrate(ctx context.Context, runID string, doc *document.Document, opinions *Opinions) (*claim.FinalDecision, error) {
	prompt, err := buildArbiterPrompt(opinions)
	if err != nil {
		return nil, errors.Wrap(err, "encoding opinions for arbitration")
	}

	req := worker.Request{WorkerID: a.binding.Role, System: arbiterPrompt, Prompt: prompt}
	out := a.caller.Invoke(ctx, a.binding, req, -1, resilient.GateNonEmpty)
	if !out.OK() {
		if out.Fatal() {
			return nil, out.Err
		}
		return nil, errors.Wrap(errors.ErrArbiterUnavailable, fmt.Sprintf(
			"arbiter %s failed (%s): %v", a.binding.Role, out.Kind, out.Err))
	}

	var raw rawArbitration
	if _, perr := parseArbitration(out.Response.Content, &raw); perr != nil {
		return nil, errors.Wrap(errors.ErrArbiterUnavailable, perr.Error())
	}

	consulted := make([]string, 0, len(opinions.Opinions)+1)
	for _, op := range opinions.Opinions {
		consulted = append(consulted, op.JudgeID)
	}
	consulted = append(consulted, a.binding.Role)

	decision, err := claim.NewFinalDecision(runID, claim.ParseRecommendation(raw.Outcome),
		clamp01(raw.Confidence), consulted)
	if err != nil {
		return nil, errors.Wrap(errors.ErrArbiterUnavailable, err.Error())
	}

	decision.Resolutions = raw.Resolutions
	decision.Unresolved = raw.Unresolved
	decision.Narrative = raw.Narrative
	decision.UnresolvedCount = len(raw.Unresolved)

	pm := document.NewPageMap(doc)
	for _, rp := range raw.Points {
		point, perr := claim.NewDecisionPoint(rp.Conclusion, rp.Rationale,
			convertCitations(rp.Citations, doc, pm), rp.BasisRefs,
			clamp01(rp.Confidence), rp.Determinant)
		if perr != nil {
			continue
		}
		decision.Points = append(decision.Points, *point)
	}
	for _, ra := range raw.Answers {
		if ra.Question == "" || ra.Text == "" {
			continue
		}
		decision.Answers = append(decision.Answers, claim.Answer{
			Question:  ra.Question,
			Text:      ra.Text,
			Citations: convertCitations(ra.Citations, doc, pm),
		})
	}

	a.logger.Info("arbitration complete",
		"outcome", string(decision.Outcome),
		"confidence", decision.Confidence,
		"resolutions", len(decision.Resolutions),
		"unresolved", len(decision.Unresolved))
	return decision, nil
}

func parseArbitration(content string, raw *rawArbitration) (parse.Strategy, error) {
	strategy, err := parse.Unmarshal(content, raw)
	if err != nil {
		return "", err
	}
	if raw.Outcome == "" {
		return "", fmt.Errorf("arbitration carries no outcome")
	}
	return strategy, nil
}

func buildArbiterPrompt(opinions *Opinions) (string, error) {
	encoded, err := json.MarshalIndent(opinions.Opinions, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opinions from %d judges:\n\n%s", len(opinions.Opinions), encoded), nil
}
