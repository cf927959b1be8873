// Package run orchestrates one complete document run: chunking, extraction,
// audit, judgment, arbitration and integrity validation, strictly in that
// order. The Runner owns run identity, publishes lifecycle events on the
// bus and persists every stage's canonical artifact.
package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veridict/veridict/internal/artifact"
	"github.com/veridict/veridict/internal/audit"
	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/event"
	"github.com/veridict/veridict/internal/extraction"
	"github.com/veridict/veridict/internal/integrity"
	"github.com/veridict/veridict/internal/judgment"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/registry"
)

// Deps carries everything a Runner needs. Store and Verifier are optional;
// a nil Store skips artifact persistence and a nil Verifier skips basis
// reference checks.
type Deps struct {
	Chunker  *document.Chunker
	Extract  *extraction.Engine
	Audit    *audit.Engine
	Judge    *judgment.Engine
	Arbiter  *judgment.Arbiter
	Policy   integrity.Policy
	Verifier *registry.Verifier
	Store    *artifact.Store
	Bus      *event.Bus
	Logger   *logging.Logger

	// RunID, when set, names the run; otherwise the Runner generates one.
	// Setting it lets callers share the same id with deps built earlier,
	// like the resilient caller and the log file.
	RunID string

	// OffsetWindow is the citation tolerance, in characters, within which
	// a misplaced excerpt is imprecise rather than wrong.
	OffsetWindow int

	// ArbiterDeadline bounds the arbitration stage, failover chain
	// included. Zero leaves arbitration bounded only by the run context.
	ArbiterDeadline time.Duration
}

// Runner sequences the pipeline stages. Each stage consumes only the
// previous stage's typed output; no stage ever re-reads a later one.
type Runner struct {
	deps Deps
}

// BasisCheck records the registry's answer for one normative basis
// reference of the final decision.
type BasisCheck struct {
	Ref    string `json:"ref"`
	Result string `json:"result"` // "yes", "no", "unknown"
}

// Result bundles every stage artifact of one run. Decision carries the
// penalty-adjusted confidence; the raw arbitration survives in Arbitration.
type Result struct {
	RunID       string               `json:"run_id"`
	Extraction  *extraction.Result   `json:"extraction"`
	Audit       *audit.Consolidated  `json:"audit"`
	Opinions    *judgment.Opinions   `json:"opinions"`
	Arbitration *claim.FinalDecision `json:"arbitration"`
	Integrity   *integrity.Report    `json:"integrity"`
	Basis       []BasisCheck         `json:"basis,omitempty"`
	Decision    *claim.FinalDecision `json:"decision"`
}

// chunkingArtifact is the chunking stage's canonical artifact.
type chunkingArtifact struct {
	Chunks          []document.Chunk `json:"chunks"`
	Pages           int              `json:"pages"`
	UnreadablePages []int            `json:"unreadable_pages,omitempty"`
}

// integrityArtifact pairs the verification report with the registry's
// basis answers.
type integrityArtifact struct {
	Report *integrity.Report `json:"report"`
	Basis  []BasisCheck      `json:"basis,omitempty"`
}

// NewRunner creates a Runner, filling defaults for the optional deps.
func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus()
	}
	if deps.Policy.Penalties == nil {
		deps.Policy = integrity.DefaultPolicy()
	}
	return &Runner{deps: deps}
}

// Run executes the full pipeline over one document. questions are answered
// individually by every judge and consolidated by the arbiter. Any fatal
// stage error aborts the run; the partial artifacts written so far remain
// on disk.
func (r *Runner) Run(ctx context.Context, doc *document.Document, questions []string) (*Result, error) {
	runID := r.deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := r.deps.Logger.WithRun(runID)
	bus := r.deps.Bus
	result := &Result{RunID: runID}

	logger.Info("run started", "doc_id", doc.ID, "length", doc.Len(), "questions", len(questions))

	// Chunking is deterministic and local; it gets lifecycle events but
	// cannot fail once the chunker is built.
	bus.Publish(event.NewStageStartedEvent(runID, "chunking", 0))
	start := time.Now()
	chunks := r.deps.Chunker.Split(doc)
	r.persist(runID, "chunking", chunkingArtifact{
		Chunks:          chunks,
		Pages:           doc.PageCount(),
		UnreadablePages: doc.UnreadablePages(),
	}, "", logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "chunking", 1, 0, time.Since(start)))

	extracted, err := r.runExtraction(ctx, runID, doc, chunks, logger)
	if err != nil {
		return nil, err
	}
	result.Extraction = extracted

	consolidated, err := r.runAudit(ctx, runID, doc, extracted, logger)
	if err != nil {
		return nil, err
	}
	result.Audit = consolidated

	opinions, err := r.runJudgment(ctx, runID, doc, consolidated, questions, logger)
	if err != nil {
		return nil, err
	}
	result.Opinions = opinions

	arbitrated, err := r.runArbitration(ctx, runID, doc, opinions, logger)
	if err != nil {
		return nil, err
	}
	result.Arbitration = arbitrated

	report, basis := r.runIntegrity(ctx, runID, doc, result, logger)
	result.Integrity = report
	result.Basis = basis

	// The integrity stage never mutates the arbitration; the final
	// decision is an adjusted copy.
	final := *arbitrated
	adjusted, penalty := r.deps.Policy.Adjust(
		arbitrated.Confidence, report, extracted.Coverage.Percent, arbitrated.UnresolvedCount)
	final.Confidence = adjusted
	final.Penalty = penalty
	final.IntegrityWarnings = len(report.Annotations)
	result.Decision = &final

	r.persist(runID, "decision", result.Decision, renderDecision(result.Decision, report), logger)

	bus.Publish(event.NewRunCompletedEvent(runID, string(final.Outcome), final.Confidence, len(report.Annotations)))
	logger.Info("run completed",
		"outcome", string(final.Outcome),
		"confidence", final.Confidence,
		"penalty", penalty,
		"warnings", len(report.Annotations))
	return result, nil
}

func (r *Runner) runExtraction(ctx context.Context, runID string, doc *document.Document, chunks []document.Chunk, logger *logging.Logger) (*extraction.Result, error) {
	bus := r.deps.Bus
	bus.Publish(event.NewStageStartedEvent(runID, "extraction", r.deps.Extract.Workers()))
	start := time.Now()

	extracted, err := r.deps.Extract.Run(ctx, doc, chunks)
	if err != nil {
		bus.Publish(event.NewStageFailedEvent(runID, "extraction", err.Error()))
		return nil, err
	}

	ok, failed := 0, 0
	for _, rep := range extracted.Reports {
		if rep.Status == "ok" {
			ok++
			continue
		}
		failed++
		bus.Publish(event.NewWorkerFailedEvent(runID, "extraction", rep.WorkerID, rep.Chunk, rep.Error))
	}

	r.persist(runID, "extraction", extracted, renderExtraction(extracted), logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "extraction", ok, failed, time.Since(start)))
	return extracted, nil
}

func (r *Runner) runAudit(ctx context.Context, runID string, doc *document.Document, extracted *extraction.Result, logger *logging.Logger) (*audit.Consolidated, error) {
	bus := r.deps.Bus
	bus.Publish(event.NewStageStartedEvent(runID, "audit", r.deps.Audit.Workers()))
	start := time.Now()

	consolidated, err := r.deps.Audit.Run(ctx, doc, extracted)
	if err != nil {
		bus.Publish(event.NewStageFailedEvent(runID, "audit", err.Error()))
		return nil, err
	}

	ok, failed := 0, 0
	for _, rep := range consolidated.Reports {
		if rep.Status == "ok" {
			ok++
			continue
		}
		failed++
		bus.Publish(event.NewWorkerFailedEvent(runID, "audit", rep.WorkerID, -1, rep.Error))
	}

	r.persist(runID, "audit", consolidated, renderAudit(consolidated), logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "audit", ok, failed, time.Since(start)))
	return consolidated, nil
}

func (r *Runner) runJudgment(ctx context.Context, runID string, doc *document.Document, consolidated *audit.Consolidated, questions []string, logger *logging.Logger) (*judgment.Opinions, error) {
	bus := r.deps.Bus
	bus.Publish(event.NewStageStartedEvent(runID, "judgment", r.deps.Judge.Workers()))
	start := time.Now()

	opinions, err := r.deps.Judge.Run(ctx, doc, consolidated, questions)
	if err != nil {
		bus.Publish(event.NewStageFailedEvent(runID, "judgment", err.Error()))
		return nil, err
	}

	ok, failed := 0, 0
	for _, rep := range opinions.Reports {
		if rep.Status == "ok" {
			ok++
			continue
		}
		failed++
		bus.Publish(event.NewWorkerFailedEvent(runID, "judgment", rep.WorkerID, -1, rep.Error))
	}

	r.persist(runID, "judgment", opinions, "", logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "judgment", ok, failed, time.Since(start)))
	return opinions, nil
}

func (r *Runner) runArbitration(ctx context.Context, runID string, doc *document.Document, opinions *judgment.Opinions, logger *logging.Logger) (*claim.FinalDecision, error) {
	bus := r.deps.Bus
	bus.Publish(event.NewStageStartedEvent(runID, "arbitration", 1))
	start := time.Now()

	if r.deps.ArbiterDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deps.ArbiterDeadline)
		defer cancel()
	}
	decision, err := r.deps.Arbiter.Arbitrate(ctx, runID, doc, opinions)
	if err != nil {
		bus.Publish(event.NewStageFailedEvent(runID, "arbitration", err.Error()))
		return nil, err
	}

	r.persist(runID, "arbitration", decision, "", logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "arbitration", 1, 0, time.Since(start)))
	return decision, nil
}

// runIntegrity validates every citation and checks the decision's basis
// references against the registry. It cannot fail the run: every problem
// becomes an annotation or a warning event.
func (r *Runner) runIntegrity(ctx context.Context, runID string, doc *document.Document, result *Result, logger *logging.Logger) (*integrity.Report, []BasisCheck) {
	bus := r.deps.Bus
	bus.Publish(event.NewStageStartedEvent(runID, "integrity", 0))
	start := time.Now()

	validator := integrity.NewValidator(doc, result.Extraction.Items, r.deps.OffsetWindow)
	report := validator.Validate(result.Audit.Findings, result.Opinions.Opinions, result.Arbitration)
	for _, a := range report.Annotations {
		bus.Publish(event.NewIntegrityWarningEvent(runID, string(a.Code), a.Source, a.Detail))
	}

	basis := r.checkBasisRefs(ctx, runID, result.Arbitration, logger)

	r.persist(runID, "integrity", integrityArtifact{Report: report, Basis: basis}, "", logger)
	bus.Publish(event.NewStageCompletedEvent(runID, "integrity", report.Valid, len(report.Annotations), time.Since(start)))

	logger.Info("integrity validated",
		"checked", report.Checked,
		"valid", report.Valid,
		"annotations", len(report.Annotations),
		"basis_refs", len(basis))
	return report, basis
}

// checkBasisRefs asks the registry about every basis reference in the
// final decision's points. Lookups degrade to unknown and never affect the
// penalty; a reference the registry positively denies gets a warning event.
func (r *Runner) checkBasisRefs(ctx context.Context, runID string, decision *claim.FinalDecision, logger *logging.Logger) []BasisCheck {
	if r.deps.Verifier == nil {
		return nil
	}

	var checks []BasisCheck
	seen := make(map[string]bool)
	for _, p := range decision.Points {
		for _, ref := range p.BasisRefs {
			if seen[ref] {
				continue
			}
			seen[ref] = true

			name, reference, ok := splitBasisRef(ref)
			answer := registry.TriUnknown
			if ok {
				answer = r.deps.Verifier.VerifyRef(ctx, name, reference)
			}
			checks = append(checks, BasisCheck{Ref: ref, Result: answer.String()})

			if answer == registry.TriNo {
				r.deps.Bus.Publish(event.NewIntegrityWarningEvent(
					runID, "BASIS_NOT_FOUND", "final_decision", "registry has no entry for "+ref))
				logger.Warn("basis reference not found in registry", "ref", ref)
			}
		}
	}
	return checks
}

// splitBasisRef splits a "registry:reference" pair. A ref without the
// separator cannot be looked up and stays unknown.
func splitBasisRef(ref string) (name, reference string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:], i > 0 && i < len(ref)-1
		}
	}
	return "", "", false
}

// persist writes one stage artifact. Persistence is best-effort: a write
// failure is logged but never aborts the run.
func (r *Runner) persist(runID, stage string, result any, markdown string, logger *logging.Logger) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.WriteStage(runID, stage, result, markdown); err != nil {
		logger.Warn("stage artifact not persisted", "stage", stage, "error", err)
	}
}
