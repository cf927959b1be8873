package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/extraction"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

func finding(t *testing.T, text, workerID string, start, end int) *claim.Finding {
	t.Helper()
	span, err := claim.NewSourceSpan("doc-1", start, end, "")
	if err != nil {
		t.Fatalf("NewSourceSpan: %v", err)
	}
	f, err := claim.NewFinding(text, claim.SeverityMinor, workerID, []claim.SourceSpan{span}, nil)
	if err != nil {
		t.Fatalf("NewFinding: %v", err)
	}
	return f
}

func TestConsolidate_CollapsesIdenticalFindings(t *testing.T) {
	byWorker := map[string][]*claim.Finding{
		"auditor-1": {finding(t, "payment date contradicts clause 3", "auditor-1", 100, 140)},
		"auditor-2": {finding(t, "Payment date contradicts clause 3", "auditor-2", 100, 140)},
		"auditor-3": {finding(t, "payment date contradicts clause 3", "auditor-3", 100, 140)},
	}

	c := Consolidate(byWorker, nil, 3)

	if len(c.Findings) != 1 {
		t.Fatalf("got %d findings, want 1 collapsed", len(c.Findings))
	}
	if c.Findings[0].Consensus != claim.ConsensusTotal {
		t.Errorf("Consensus = %q, want %q", c.Findings[0].Consensus, claim.ConsensusTotal)
	}
	if len(c.Findings[0].Workers) != 3 {
		t.Errorf("Workers = %v, want all three auditors", c.Findings[0].Workers)
	}
}

func TestConsolidate_UniqueFindingsKeptWithMapping(t *testing.T) {
	byWorker := map[string][]*claim.Finding{
		"auditor-1": {
			finding(t, "shared finding", "auditor-1", 10, 40),
			finding(t, "only auditor one saw this", "auditor-1", 200, 240),
		},
		"auditor-2": {finding(t, "shared finding", "auditor-2", 10, 40)},
	}

	c := Consolidate(byWorker, nil, 2)

	if len(c.Findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(c.Findings))
	}

	var unique *claim.Finding
	for _, f := range c.Findings {
		if f.Text == "only auditor one saw this" {
			unique = f
		}
	}
	if unique == nil {
		t.Fatal("unique finding dropped during consolidation")
	}
	if unique.Consensus != claim.ConsensusUnique {
		t.Errorf("unique Consensus = %q, want %q", unique.Consensus, claim.ConsensusUnique)
	}

	// Every produced finding has a mapping entry pointing at its merge
	// target, so losslessness is checkable.
	if len(c.Mapping) != 3 {
		t.Fatalf("got %d mapping entries, want 3 (one per produced finding)", len(c.Mapping))
	}
	for _, m := range c.Mapping {
		if m.MergedInto == "" {
			t.Errorf("mapping entry for %q has no merge target", m.Text)
		}
	}
	if !c.Confirmed {
		t.Error("Confirmed = false with a fully filled mapping")
	}
}

func TestConsolidate_RejectedFindingsBlockConfirmationUnlessNoted(t *testing.T) {
	byWorker := map[string][]*claim.Finding{
		"auditor-1": {finding(t, "valid finding", "auditor-1", 10, 40)},
	}

	withNote := Consolidate(byWorker, []MappingEntry{
		{WorkerID: "auditor-2", Text: "uncited claim", Note: "rejected: finding has no citations"},
	}, 2)
	if !withNote.Confirmed {
		t.Error("Confirmed = false although every entry is filled in")
	}

	withoutNote := Consolidate(byWorker, []MappingEntry{
		{WorkerID: "auditor-2", Text: "uncited claim"},
	}, 2)
	if withoutNote.Confirmed {
		t.Error("Confirmed = true with an unexplained mapping entry")
	}
}

func TestConsolidate_MergesCitationsAndEvidenceIDs(t *testing.T) {
	f1 := finding(t, "same text", "auditor-1", 10, 40)
	f1.EvidenceIDs = []string{"item-1"}
	f2 := finding(t, "same text", "auditor-2", 300, 340)
	f2.EvidenceIDs = []string{"item-1", "item-2"}

	c := Consolidate(map[string][]*claim.Finding{
		"auditor-1": {f1},
		"auditor-2": {f2},
	}, nil, 2)

	if len(c.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(c.Findings))
	}
	merged := c.Findings[0]
	if len(merged.Citations) != 2 {
		t.Errorf("Citations = %d, want 2 distinct spans", len(merged.Citations))
	}
	if len(merged.EvidenceIDs) != 2 {
		t.Errorf("EvidenceIDs = %v, want [item-1 item-2]", merged.EvidenceIDs)
	}
}

// ---------------------------------------------------------------------------
// Engine tests
// ---------------------------------------------------------------------------

func extractionResult(t *testing.T, doc *document.Document) *extraction.Result {
	t.Helper()
	span, _ := claim.NewSourceSpan(doc.ID, 0, 20, "")
	item, err := claim.NewEvidenceItem(claim.ItemDate, "2024-01-15", "extractor-a", span)
	if err != nil {
		t.Fatalf("NewEvidenceItem: %v", err)
	}
	items := []*claim.EvidenceItem{item}
	return &extraction.Result{
		Items:    items,
		Coverage: extraction.ComputeCoverage(doc, items),
	}
}

func auditorBindings(n int) []worker.RoleBinding {
	bindings := make([]worker.RoleBinding, n)
	for i := range bindings {
		id := fmt.Sprintf("auditor-%d", i+1)
		bindings[i] = worker.RoleBinding{Role: id, Primary: "model-" + id}
	}
	return bindings
}

func auditorModels(n int) map[string]worker.ModelSpec {
	models := make(map[string]worker.ModelSpec, n)
	for i := 0; i < n; i++ {
		models[fmt.Sprintf("model-auditor-%d", i+1)] = worker.ModelSpec{
			Timeout: time.Second, MaxRetries: 0,
		}
	}
	return models
}

func findingPayload(text string) string {
	return fmt.Sprintf(`{"findings": [{"text": %q, "severity": "major",
		"evidence_ids": ["item-1"],
		"citations": [{"start_char": 0, "end_char": 20, "excerpt": ""}]}]}`, text)
}

func TestEngineRun_ConsolidatesAcrossAuditors(t *testing.T) {
	doc := document.New("doc-1", strings.Repeat("x", 100), nil, nil)

	script := worker.NewScriptedCaller()
	script.Script("model-auditor-1", worker.Respond(findingPayload("date is inconsistent"), 10))
	script.Script("model-auditor-2", worker.Respond(findingPayload("date is inconsistent"), 10))
	script.Script("model-auditor-3", worker.Respond(findingPayload("amount unsupported"), 10))

	caller := resilient.NewCaller(script, auditorModels(3), nil, nil, nil, "run-1")
	e := NewEngine(resilient.NewDispatcher(caller, 4), auditorBindings(3),
		Config{MinSuccess: 2, Deadline: 5 * time.Second, AdversarialRole: "auditor-3"}, nil)

	c, err := e.Run(context.Background(), doc, extractionResult(t, doc))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(c.Findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(c.Findings))
	}
	if !c.Confirmed {
		t.Error("Confirmed = false, want true")
	}

	// The adversarial auditor received its own instructions.
	for _, call := range script.Calls() {
		if call.Model == "model-auditor-3" && !strings.Contains(call.Request.System, "adversarial") {
			t.Error("adversarial auditor did not receive adversarial instructions")
		}
		if call.Model == "model-auditor-1" && strings.Contains(call.Request.System, "adversarial") {
			t.Error("regular auditor received adversarial instructions")
		}
	}
}

func TestEngineRun_UncitedFindingRejectedWithNote(t *testing.T) {
	doc := document.New("doc-1", strings.Repeat("x", 100), nil, nil)

	uncited := `{"findings": [{"text": "sweeping claim", "severity": "critical", "citations": []}]}`
	script := worker.NewScriptedCaller()
	script.Script("model-auditor-1", worker.Respond(findingPayload("cited claim"), 10))
	script.Script("model-auditor-2", worker.Respond(uncited, 10))

	caller := resilient.NewCaller(script, auditorModels(2), nil, nil, nil, "run-1")
	e := NewEngine(resilient.NewDispatcher(caller, 4), auditorBindings(2),
		Config{MinSuccess: 2, Deadline: 5 * time.Second}, nil)

	c, err := e.Run(context.Background(), doc, extractionResult(t, doc))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(c.Findings) != 1 {
		t.Fatalf("got %d findings, want 1 (uncited claim rejected)", len(c.Findings))
	}

	var noted bool
	for _, m := range c.Mapping {
		if m.Text == "sweeping claim" && strings.Contains(m.Note, "rejected") {
			noted = true
		}
	}
	if !noted {
		t.Error("rejected finding has no mapping note")
	}
	if !c.Confirmed {
		t.Error("Confirmed = false although the rejection is noted")
	}
}

func TestEngineRun_BelowMinimumFails(t *testing.T) {
	doc := document.New("doc-1", strings.Repeat("x", 100), nil, nil)

	script := worker.NewScriptedCaller()
	script.Script("model-auditor-1", worker.Respond(findingPayload("ok"), 10))
	script.Script("model-auditor-2", worker.Respond("no JSON at all", 10))

	caller := resilient.NewCaller(script, auditorModels(2), nil, nil, nil, "run-1")
	e := NewEngine(resilient.NewDispatcher(caller, 4), auditorBindings(2),
		Config{MinSuccess: 2, Deadline: 5 * time.Second}, nil)

	_, err := e.Run(context.Background(), doc, extractionResult(t, doc))
	if err == nil {
		t.Fatal("Run with 1 of 2 auditors succeeded, want stage error")
	}
	if !errors.Is(err, errors.ErrStageInsufficient) {
		t.Errorf("error does not match ErrStageInsufficient: %v", err)
	}
}
