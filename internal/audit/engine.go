// Package audit runs the second pipeline stage: M independent auditor
// workers review the aggregated evidence (never the raw text) and return
// findings citing evidence ids and literal excerpts. One distinguished
// auditor runs adversarially, seeking flaws instead of confirmation.
// Consolidation is lossless and checkably so through the excerpt mapping.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/extraction"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/parse"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

const reviewPrompt = `You audit extracted evidence for consistency and
completeness. Return JSON: {"findings": [{"text": "...", "severity":
"info|minor|major|critical", "evidence_ids": ["..."], "citations":
[{"start_char": 0, "end_char": 0, "excerpt": "..."}]}]}. Every finding
needs at least one citation with absolute document offsets. Quote excerpts
verbatim; never invent text.`

const adversarialPrompt = reviewPrompt + `
You are the adversarial reviewer: actively look for contradictions, gaps
and weakly supported items rather than confirming the extraction.`

type rawFinding struct {
	Text        string   `json:"text"`
	Severity    string   `json:"severity"`
	EvidenceIDs []string `json:"evidence_ids"`
	Citations   []struct {
		StartChar int    `json:"start_char"`
		EndChar   int    `json:"end_char"`
		Excerpt   string `json:"excerpt"`
	} `json:"citations"`
}

type rawPayload struct {
	Findings []rawFinding `json:"findings"`
}

// WorkerReport records one auditor's fate for the stage.
type WorkerReport struct {
	WorkerID string         `json:"worker_id"`
	Status   string         `json:"status"` // "ok", "failed", "parse_failed"
	Model    string         `json:"model,omitempty"`
	Strategy parse.Strategy `json:"strategy,omitempty"`
	Findings int            `json:"findings"`
	Error    string         `json:"error,omitempty"`
}

// Config carries the stage tunables.
type Config struct {
	MinSuccess      int
	Deadline        time.Duration
	AdversarialRole string // role id of the adversarial auditor
}

// Engine runs the audit stage.
type Engine struct {
	dispatcher *resilient.Dispatcher
	bindings   []worker.RoleBinding
	cfg        Config
	logger     *logging.Logger
}

// NewEngine creates an audit Engine over the given auditor role bindings.
func NewEngine(dispatcher *resilient.Dispatcher, bindings []worker.RoleBinding, cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		dispatcher: dispatcher,
		bindings:   bindings,
		cfg:        cfg,
		logger:     logger.WithStage("audit"),
	}
}

// Workers returns the number of auditor roles the engine dispatches.
func (e *Engine) Workers() int { return len(e.bindings) }

// Run audits the aggregated extraction and consolidates all findings.
func (e *Engine) Run(ctx context.Context, doc *document.Document, extracted *extraction.Result) (*Consolidated, error) {
	prompt, err := buildPrompt(extracted)
	if err != nil {
		return nil, errors.Wrap(err, "encoding evidence for audit")
	}

	tasks := make([]resilient.Task, len(e.bindings))
	for i, b := range e.bindings {
		system := reviewPrompt
		if b.Role == e.cfg.AdversarialRole {
			system = adversarialPrompt
		}
		tasks[i] = resilient.Task{
			Binding: b,
			Request: worker.Request{WorkerID: b.Role, System: system, Prompt: prompt},
			Chunk:   -1,
			Gate:    resilient.GateNonEmpty,
		}
	}

	stage, err := e.dispatcher.Dispatch(ctx, "audit", tasks, e.cfg.MinSuccess, e.cfg.Deadline)
	if err != nil {
		return nil, err
	}

	pm := document.NewPageMap(doc)
	byWorker := make(map[string][]*claim.Finding)
	var rejected []MappingEntry
	var reports []WorkerReport
	produced := 0
	var failed []string

	for _, out := range stage.Outcomes {
		report := WorkerReport{WorkerID: out.WorkerID, Model: out.Model}
		if !out.OK() {
			report.Status = "failed"
			if out.Err != nil {
				report.Error = out.Err.Error()
			}
			failed = append(failed, out.WorkerID)
			reports = append(reports, report)
			continue
		}

		var payload rawPayload
		strategy, perr := parse.Unmarshal(out.Response.Content, &payload)
		if perr != nil {
			report.Status = "parse_failed"
			report.Error = perr.Error()
			failed = append(failed, out.WorkerID)
			reports = append(reports, report)
			e.logger.WithWorker(out.WorkerID).Warn("auditor output unparseable", "error", perr)
			continue
		}

		findings, workerRejected := e.convert(out.WorkerID, payload.Findings, doc, pm)
		rejected = append(rejected, workerRejected...)
		byWorker[out.WorkerID] = findings

		report.Status = "ok"
		report.Strategy = strategy
		report.Findings = len(findings)
		reports = append(reports, report)
		produced++
	}

	if produced < e.cfg.MinSuccess {
		return nil, errors.NewStageError("audit", produced, e.cfg.MinSuccess, errors.ErrStageInsufficient).
			WithFailedWorkers(failed)
	}

	consolidated := Consolidate(byWorker, rejected, len(e.bindings))
	consolidated.Reports = reports

	e.logger.Info("audit complete",
		"findings", len(consolidated.Findings),
		"confirmed", consolidated.Confirmed,
		"auditors_ok", produced)
	return consolidated, nil
}

// convert validates raw findings at the boundary. Findings that fail
// validation (zero citations, empty text) are rejected with a mapping note
// so the consolidated output stays accountable for them.
func (e *Engine) convert(workerID string, raw []rawFinding, doc *document.Document, pm *document.PageMap) ([]*claim.Finding, []MappingEntry) {
	var findings []*claim.Finding
	var rejected []MappingEntry

	for _, rf := range raw {
		var citations []claim.SourceSpan
		for _, c := range rf.Citations {
			span, err := claim.NewSourceSpan(doc.ID, c.StartChar, c.EndChar, c.Excerpt)
			if err != nil {
				continue
			}
			citations = append(citations, span.WithPage(pm.PageFor(c.StartChar)))
		}

		f, err := claim.NewFinding(rf.Text, claim.ParseFindingSeverity(rf.Severity), workerID, citations, rf.EvidenceIDs)
		if err != nil {
			rejected = append(rejected, MappingEntry{
				WorkerID: workerID,
				Text:     rf.Text,
				Note:     "rejected: " + err.Error(),
			})
			continue
		}
		findings = append(findings, f)
	}
	return findings, rejected
}

func buildPrompt(extracted *extraction.Result) (string, error) {
	type promptItem struct {
		ID          string   `json:"id"`
		Type        string   `json:"type"`
		Value       string   `json:"value"`
		Workers     []string `json:"workers"`
		Conflicting bool     `json:"conflicting,omitempty"`
		StartChar   int      `json:"start_char"`
		EndChar     int      `json:"end_char"`
		Excerpt     string   `json:"excerpt,omitempty"`
	}

	items := make([]promptItem, 0, len(extracted.Items))
	for _, it := range extracted.Items {
		pi := promptItem{
			ID:          it.ID,
			Type:        string(it.Type),
			Value:       it.Value,
			Workers:     it.Workers,
			Conflicting: it.Conflicting,
		}
		if len(it.Spans) > 0 {
			pi.StartChar = it.Spans[0].StartChar
			pi.EndChar = it.Spans[0].EndChar
			pi.Excerpt = it.Spans[0].Excerpt
		}
		items = append(items, pi)
	}

	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Aggregated evidence (%d items, coverage %.0f%%):\n\n%s",
		len(items), extracted.Coverage.Percent*100, encoded), nil
}
