// Package extraction runs the first pipeline stage: N independent extractor
// workers per chunk, each returning typed evidence items with source spans,
// merged into one deduplicated union with conflict marks and a coverage
// report.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/parse"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

const systemPrompt = `You extract atomic facts from a document fragment.
Return JSON: {"items": [{"type": "date|amount|entity|reference|other",
"value": "...", "start_char": 0, "end_char": 0, "excerpt": "..."}]}.
Offsets are relative to the fragment. The excerpt must be quoted verbatim
from the fragment; leave it empty if unsure. Never invent text.`

// rawItem is the loosely-typed shape extractor workers return. It is
// validated into claim.EvidenceItem at this boundary.
type rawItem struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Excerpt   string `json:"excerpt"`
}

type rawPayload struct {
	Items []rawItem `json:"items"`
}

// WorkerReport records one worker's fate for one chunk.
type WorkerReport struct {
	WorkerID string         `json:"worker_id"`
	Chunk    int            `json:"chunk"`
	Status   string         `json:"status"` // "ok", "failed", "parse_failed"
	Model    string         `json:"model,omitempty"`
	Strategy parse.Strategy `json:"strategy,omitempty"`
	Items    int            `json:"items"`
	Error    string         `json:"error,omitempty"`
}

// Result is the extraction stage's canonical artifact.
type Result struct {
	Items    []*claim.EvidenceItem `json:"items"`
	Coverage Coverage              `json:"coverage"`
	Outliers []string              `json:"outliers,omitempty"`
	Reports  []WorkerReport        `json:"reports"`
}

// Config carries the stage's tunables out of the run configuration.
type Config struct {
	MinSuccess    int           // minimum workers with parsed items per chunk
	Deadline      time.Duration // stage deadline per chunk dispatch
	SpanTolerance int           // duplicate span overlap tolerance, chars
	OutlierRatio  float64       // smart-discard cutoff relative to median
}

// Engine runs the extraction stage.
type Engine struct {
	dispatcher *resilient.Dispatcher
	bindings   []worker.RoleBinding
	cfg        Config
	logger     *logging.Logger
}

// NewEngine creates an extraction Engine over the given extractor role
// bindings.
func NewEngine(dispatcher *resilient.Dispatcher, bindings []worker.RoleBinding, cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		dispatcher: dispatcher,
		bindings:   bindings,
		cfg:        cfg,
		logger:     logger.WithStage("extraction"),
	}
}

// Workers returns the number of extractor roles the engine dispatches.
func (e *Engine) Workers() int { return len(e.bindings) }

// Run extracts evidence from every chunk. A worker whose output cannot be
// parsed, or whose failover chain exhausts, is dropped for that chunk; the
// run continues while each chunk keeps at least MinSuccess producing
// workers.
func (e *Engine) Run(ctx context.Context, doc *document.Document, chunks []document.Chunk) (*Result, error) {
	byWorker := make(map[string][]*claim.EvidenceItem)
	var reports []WorkerReport

	for ci, chunk := range chunks {
		tasks := make([]resilient.Task, len(e.bindings))
		for i, b := range e.bindings {
			tasks[i] = resilient.Task{
				Binding: b,
				Request: worker.Request{
					WorkerID: b.Role,
					System:   systemPrompt,
					Prompt:   buildPrompt(chunk, doc),
				},
				Chunk: chunk.Index,
				Gate:  resilient.GateNonEmpty,
			}
		}

		stage, err := e.dispatcher.Dispatch(ctx, "extraction", tasks, e.cfg.MinSuccess, e.cfg.Deadline)
		if err != nil {
			return nil, err
		}

		produced := 0
		var failed []string
		for _, out := range stage.Outcomes {
			report := WorkerReport{WorkerID: out.WorkerID, Chunk: chunk.Index, Model: out.Model}
			if !out.OK() {
				report.Status = "failed"
				if out.Err != nil {
					report.Error = out.Err.Error()
				}
				failed = append(failed, out.WorkerID)
				reports = append(reports, report)
				continue
			}

			items, strategy, perr := e.parseItems(out, chunk, doc)
			if perr != nil {
				report.Status = "parse_failed"
				report.Error = perr.Error()
				failed = append(failed, out.WorkerID)
				reports = append(reports, report)
				e.logger.WithWorker(out.WorkerID).Warn("output unparseable, worker dropped for chunk",
					"chunk", chunk.Index, "error", perr)
				continue
			}

			report.Status = "ok"
			report.Strategy = strategy
			report.Items = len(items)
			reports = append(reports, report)
			byWorker[out.WorkerID] = append(byWorker[out.WorkerID], items...)
			produced++
		}

		if produced < e.cfg.MinSuccess {
			return nil, errors.NewStageError("extraction", produced, e.cfg.MinSuccess, errors.ErrStageInsufficient).
				WithFailedWorkers(failed)
		}

		e.dispatcher.Progress("extraction", 100*float64(ci+1)/float64(len(chunks)),
			fmt.Sprintf("chunk %d/%d", ci+1, len(chunks)))
		e.logger.Debug("chunk extracted",
			"chunk", chunk.Index, "workers_ok", produced, "workers_failed", len(failed))
	}

	agg := Aggregate(byWorker, e.cfg.SpanTolerance, e.cfg.OutlierRatio)
	result := &Result{
		Items:    agg.Items,
		Coverage: ComputeCoverage(doc, agg.Items),
		Outliers: agg.Outliers,
		Reports:  reports,
	}

	e.logger.Info("extraction complete",
		"items", len(result.Items),
		"coverage", result.Coverage.Percent,
		"outliers", len(result.Outliers))
	return result, nil
}

// parseItems rescues the worker's payload and converts chunk-relative spans
// to absolute document offsets. Structurally invalid items are skipped;
// an output yielding zero valid items counts as a parse failure.
func (e *Engine) parseItems(out resilient.Outcome, chunk document.Chunk, doc *document.Document) ([]*claim.EvidenceItem, parse.Strategy, error) {
	var payload rawPayload
	strategy, err := parse.Unmarshal(out.Response.Content, &payload)
	if err != nil {
		return nil, "", err
	}

	pm := document.NewPageMap(doc)
	var items []*claim.EvidenceItem
	for _, raw := range payload.Items {
		start := chunk.Start + raw.StartChar
		end := chunk.Start + raw.EndChar
		span, serr := claim.NewSourceSpan(doc.ID, start, end, raw.Excerpt)
		if serr != nil {
			continue
		}
		span = span.WithPage(pm.PageFor(start))

		item, ierr := claim.NewEvidenceItem(claim.ParseItemType(raw.Type), raw.Value, out.WorkerID, span)
		if ierr != nil {
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 && len(payload.Items) > 0 {
		return nil, "", errors.Wrap(errors.ErrParseFailed, "no structurally valid items in output")
	}
	return items, strategy, nil
}

func buildPrompt(chunk document.Chunk, doc *document.Document) string {
	return fmt.Sprintf("Fragment %d of %d (pages %d-%d):\n\n%s",
		chunk.Index+1, chunk.Total, chunk.FirstPage, chunk.LastPage, chunk.Text(doc))
}
