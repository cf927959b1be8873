// Package judgment runs the final deliberation stages: K independent judge
// workers produce structured opinions over the consolidated audit, then a
// single arbiter resolves their disagreements into one final decision.
package judgment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridict/veridict/internal/audit"
	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/parse"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

const judgePrompt = `You are one of several independent judges. Review the
consolidated audit findings and return JSON: {"points": [{"conclusion":
"...", "rationale": "...", "citations": [{"start_char": 0, "end_char": 0,
"excerpt": "..."}], "basis_refs": ["..."], "confidence": 0.0,
"determinant": false}], "recommendation":
"upheld|rejected|partially-upheld|inconclusive", "confidence": 0.0,
"answers": [{"question": "...", "text": "...", "citations": [...]}]}.
Answer every supplied question. Cite absolute document offsets and quote
excerpts verbatim; never invent text.`

type rawCitation struct {
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Excerpt   string `json:"excerpt"`
}

type rawPoint struct {
	Conclusion  string        `json:"conclusion"`
	Rationale   string        `json:"rationale"`
	Citations   []rawCitation `json:"citations"`
	BasisRefs   []string      `json:"basis_refs"`
	Confidence  float64       `json:"confidence"`
	Determinant bool          `json:"determinant"`
}

type rawAnswer struct {
	Question  string        `json:"question"`
	Text      string        `json:"text"`
	Citations []rawCitation `json:"citations"`
}

type rawOpinion struct {
	Points         []rawPoint  `json:"points"`
	Recommendation string      `json:"recommendation"`
	Confidence     float64     `json:"confidence"`
	Answers        []rawAnswer `json:"answers"`
}

// WorkerReport records one judge's fate for the stage.
type WorkerReport struct {
	WorkerID string         `json:"worker_id"`
	Status   string         `json:"status"`
	Model    string         `json:"model,omitempty"`
	Strategy parse.Strategy `json:"strategy,omitempty"`
	Points   int            `json:"points"`
	Error    string         `json:"error,omitempty"`
}

// Opinions is the judgment stage's canonical artifact.
type Opinions struct {
	Opinions []claim.Opinion `json:"opinions"`
	Reports  []WorkerReport  `json:"reports"`
}

// Config carries the stage tunables.
type Config struct {
	MinSuccess int
	Deadline   time.Duration
}

// Engine runs the judgment stage.
type Engine struct {
	dispatcher *resilient.Dispatcher
	bindings   []worker.RoleBinding
	cfg        Config
	logger     *logging.Logger
}

// NewEngine creates a judgment Engine over the given judge role bindings.
func NewEngine(dispatcher *resilient.Dispatcher, bindings []worker.RoleBinding, cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		dispatcher: dispatcher,
		bindings:   bindings,
		cfg:        cfg,
		logger:     logger.WithStage("judgment"),
	}
}

// Workers returns the number of judge roles the engine dispatches.
func (e *Engine) Workers() int { return len(e.bindings) }

// Run collects every judge's opinion on the consolidated audit. Judges that
// fail or return unusable output are dropped; below MinSuccess the run
// fails.
func (e *Engine) Run(ctx context.Context, doc *document.Document, consolidated *audit.Consolidated, questions []string) (*Opinions, error) {
	prompt, err := buildPrompt(consolidated, questions)
	if err != nil {
		return nil, errors.Wrap(err, "encoding audit for judgment")
	}

	tasks := make([]resilient.Task, len(e.bindings))
	for i, b := range e.bindings {
		tasks[i] = resilient.Task{
			Binding: b,
			Request: worker.Request{WorkerID: b.Role, System: judgePrompt, Prompt: prompt},
			Chunk:   -1,
			Gate:    resilient.GateNonEmpty,
		}
	}

	stage, err := e.dispatcher.Dispatch(ctx, "judgment", tasks, e.cfg.MinSuccess, e.cfg.Deadline)
	if err != nil {
		return nil, err
	}

	pm := document.NewPageMap(doc)
	result := &Opinions{}
	var failed []string

	for _, out := range stage.Outcomes {
		report := WorkerReport{WorkerID: out.WorkerID, Model: out.Model}
		if !out.OK() {
			report.Status = "failed"
			if out.Err != nil {
				report.Error = out.Err.Error()
			}
			failed = append(failed, out.WorkerID)
			result.Reports = append(result.Reports, report)
			continue
		}

		var raw rawOpinion
		strategy, perr := parse.Unmarshal(out.Response.Content, &raw)
		if perr != nil {
			report.Status = "parse_failed"
			report.Error = perr.Error()
			failed = append(failed, out.WorkerID)
			result.Reports = append(result.Reports, report)
			e.logger.WithWorker(out.WorkerID).Warn("judge output unparseable", "error", perr)
			continue
		}

		opinion := e.convert(out.WorkerID, raw, doc, pm)
		result.Opinions = append(result.Opinions, opinion)
		report.Status = "ok"
		report.Strategy = strategy
		report.Points = len(opinion.Points)
		result.Reports = append(result.Reports, report)
	}

	if len(result.Opinions) < e.cfg.MinSuccess {
		return nil, errors.NewStageError("judgment", len(result.Opinions), e.cfg.MinSuccess, errors.ErrStageInsufficient).
			WithFailedWorkers(failed)
	}

	e.logger.Info("judgment complete", "judges_ok", len(result.Opinions))
	return result, nil
}

func (e *Engine) convert(judgeID string, raw rawOpinion, doc *document.Document, pm *document.PageMap) claim.Opinion {
	opinion := claim.Opinion{
		JudgeID:        judgeID,
		Recommendation: claim.ParseRecommendation(raw.Recommendation),
		Confidence:     clamp01(raw.Confidence),
	}

	for _, rp := range raw.Points {
		point, err := claim.NewDecisionPoint(rp.Conclusion, rp.Rationale,
			convertCitations(rp.Citations, doc, pm), rp.BasisRefs,
			clamp01(rp.Confidence), rp.Determinant)
		if err != nil {
			e.logger.WithWorker(judgeID).Debug("decision point rejected", "error", err)
			continue
		}
		opinion.Points = append(opinion.Points, *point)
	}

	for _, ra := range raw.Answers {
		if ra.Question == "" || ra.Text == "" {
			continue
		}
		opinion.Answers = append(opinion.Answers, claim.Answer{
			Question:  ra.Question,
			Text:      ra.Text,
			Citations: convertCitations(ra.Citations, doc, pm),
		})
	}
	return opinion
}

func convertCitations(raw []rawCitation, doc *document.Document, pm *document.PageMap) []claim.SourceSpan {
	var spans []claim.SourceSpan
	for _, c := range raw {
		span, err := claim.NewSourceSpan(doc.ID, c.StartChar, c.EndChar, c.Excerpt)
		if err != nil {
			continue
		}
		spans = append(spans, span.WithPage(pm.PageFor(c.StartChar)))
	}
	return spans
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func buildPrompt(consolidated *audit.Consolidated, questions []string) (string, error) {
	encoded, err := json.MarshalIndent(consolidated.Findings, "", "  ")
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Consolidated audit (%d findings, lossless: %v):\n\n%s",
		len(consolidated.Findings), consolidated.Confirmed, encoded)
	if len(questions) > 0 {
		prompt += "\n\nQuestions to answer, one answer each:"
		for i, q := range questions {
			prompt += fmt.Sprintf("\n%d. %s", i+1, q)
		}
	}
	return prompt, nil
}
