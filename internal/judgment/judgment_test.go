package judgment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/veridict/veridict/internal/audit"
	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/worker"
)

func testDoc() *document.Document {
	return document.New("doc-1", strings.Repeat("x", 200), nil, nil)
}

func consolidated(t *testing.T) *audit.Consolidated {
	t.Helper()
	span, _ := claim.NewSourceSpan("doc-1", 10, 40, "")
	f, err := claim.NewFinding("date contradiction", claim.SeverityMajor, "auditor-1",
		[]claim.SourceSpan{span}, []string{"item-1"})
	if err != nil {
		t.Fatalf("NewFinding: %v", err)
	}
	return &audit.Consolidated{Findings: []*claim.Finding{f}, Confirmed: true}
}

func judgeBindings(n int) []worker.RoleBinding {
	bindings := make([]worker.RoleBinding, n)
	for i := range bindings {
		id := fmt.Sprintf("judge-%d", i+1)
		bindings[i] = worker.RoleBinding{Role: id, Primary: "model-" + id}
	}
	return bindings
}

func judgeModels(n int) map[string]worker.ModelSpec {
	models := make(map[string]worker.ModelSpec, n+1)
	for i := 0; i < n; i++ {
		models[fmt.Sprintf("model-judge-%d", i+1)] = worker.ModelSpec{Timeout: time.Second, MaxRetries: 0}
	}
	models["model-arbiter"] = worker.ModelSpec{Timeout: time.Second, MaxRetries: 0}
	models["model-arbiter-sub"] = worker.ModelSpec{Timeout: time.Second, MaxRetries: 0}
	return models
}

func opinionPayload(recommendation string, confidence float64) string {
	return fmt.Sprintf(`{
		"points": [{"conclusion": "clause 4 holds", "rationale": "supported",
			"citations": [{"start_char": 10, "end_char": 40, "excerpt": ""}],
			"confidence": %v, "determinant": true}],
		"recommendation": %q,
		"confidence": %v,
		"answers": [{"question": "Is the contract valid?", "text": "Yes",
			"citations": [{"start_char": 10, "end_char": 40, "excerpt": ""}]}]
	}`, confidence, recommendation, confidence)
}

func TestEngineRun_CollectsOpinionsAndAnswers(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("model-judge-1", worker.Respond(opinionPayload("upheld", 0.9), 10))
	script.Script("model-judge-2", worker.Respond(opinionPayload("rejected", 0.7), 10))

	caller := resilient.NewCaller(script, judgeModels(2), nil, nil, nil, "run-1")
	e := NewEngine(resilient.NewDispatcher(caller, 4), judgeBindings(2),
		Config{MinSuccess: 2, Deadline: 5 * time.Second}, nil)

	result, err := e.Run(context.Background(), testDoc(), consolidated(t),
		[]string{"Is the contract valid?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Opinions) != 2 {
		t.Fatalf("got %d opinions, want 2", len(result.Opinions))
	}
	for _, op := range result.Opinions {
		if len(op.Points) != 1 {
			t.Errorf("judge %s points = %d, want 1", op.JudgeID, len(op.Points))
		}
		if len(op.Answers) != 1 {
			t.Errorf("judge %s answers = %d, want one per question", op.JudgeID, len(op.Answers))
		}
	}

	// The question list must reach every judge.
	for _, call := range script.Calls() {
		if !strings.Contains(call.Request.Prompt, "Is the contract valid?") {
			t.Errorf("judge prompt for %s lacks the user question", call.Model)
		}
	}
}

func TestEngineRun_BelowMinimumFails(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("model-judge-1", worker.Respond(opinionPayload("upheld", 0.9), 10))
	script.Script("model-judge-2", worker.Fail(fmt.Errorf("down")))

	caller := resilient.NewCaller(script, judgeModels(2), nil, nil, nil, "run-1")
	e := NewEngine(resilient.NewDispatcher(caller, 4), judgeBindings(2),
		Config{MinSuccess: 2, Deadline: 5 * time.Second}, nil)

	_, err := e.Run(context.Background(), testDoc(), consolidated(t), nil)
	if err == nil {
		t.Fatal("Run with 1 of 2 judges succeeded, want stage error")
	}
	if !errors.Is(err, errors.ErrStageInsufficient) {
		t.Errorf("error does not match ErrStageInsufficient: %v", err)
	}
}

func arbitrationPayload() string {
	return `{
		"outcome": "partially-upheld",
		"confidence": 0.82,
		"resolutions": [{"topic": "overall verdict", "chosen": "judge-1",
			"rejected": ["judge-2"], "rationale": "stronger citations"}],
		"unresolved": ["applicable jurisdiction"],
		"answers": [{"question": "Is the contract valid?", "text": "Partially",
			"citations": [{"start_char": 10, "end_char": 40, "excerpt": ""}]}],
		"narrative": "Judges split on the verdict; citations favor upholding clause 4."
	}`
}

func testOpinions() *Opinions {
	return &Opinions{Opinions: []claim.Opinion{
		{JudgeID: "judge-1", Recommendation: claim.Upheld, Confidence: 0.9},
		{JudgeID: "judge-2", Recommendation: claim.Rejected, Confidence: 0.7},
	}}
}

func TestArbitrate_ResolvesDisagreements(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("model-arbiter", worker.Respond(arbitrationPayload(), 20))

	caller := resilient.NewCaller(script, judgeModels(0), nil, nil, nil, "run-1")
	a := NewArbiter(caller, worker.RoleBinding{Role: "arbiter", Primary: "model-arbiter"}, nil)

	decision, err := a.Arbitrate(context.Background(), "run-1", testDoc(), testOpinions())
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}

	if decision.Outcome != claim.PartiallyUpheld {
		t.Errorf("Outcome = %q, want %q", decision.Outcome, claim.PartiallyUpheld)
	}
	if decision.Confidence != 0.82 {
		t.Errorf("Confidence = %v, want 0.82", decision.Confidence)
	}
	if len(decision.Resolutions) != 1 {
		t.Errorf("Resolutions = %d, want 1", len(decision.Resolutions))
	}
	if decision.UnresolvedCount != 1 {
		t.Errorf("UnresolvedCount = %d, want 1", decision.UnresolvedCount)
	}

	wantConsulted := []string{"judge-1", "judge-2", "arbiter"}
	if len(decision.ConsultedWorkers) != len(wantConsulted) {
		t.Fatalf("ConsultedWorkers = %v, want %v", decision.ConsultedWorkers, wantConsulted)
	}
	for i, w := range wantConsulted {
		if decision.ConsultedWorkers[i] != w {
			t.Errorf("ConsultedWorkers[%d] = %q, want %q", i, decision.ConsultedWorkers[i], w)
		}
	}
}

func TestArbitrate_ChainExhaustionIsFatal(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("model-arbiter", worker.Fail(fmt.Errorf("down")))
	script.Script("model-arbiter-sub", worker.Fail(fmt.Errorf("also down")))

	caller := resilient.NewCaller(script, judgeModels(0), nil, nil, nil, "run-1")
	a := NewArbiter(caller, worker.RoleBinding{
		Role:        "arbiter",
		Primary:     "model-arbiter",
		Substitutes: []string{"model-arbiter-sub"},
	}, nil)

	_, err := a.Arbitrate(context.Background(), "run-1", testDoc(), testOpinions())
	if err == nil {
		t.Fatal("Arbitrate with a dead chain succeeded, want error")
	}
	if !errors.Is(err, errors.ErrArbiterUnavailable) {
		t.Errorf("error does not match ErrArbiterUnavailable: %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("arbiter unavailability not classified fatal")
	}
}

func TestArbitrate_FailoverToSubstitute(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("model-arbiter", worker.Fail(fmt.Errorf("down")))
	script.Script("model-arbiter-sub", worker.Respond(arbitrationPayload(), 20))

	caller := resilient.NewCaller(script, judgeModels(0), nil, nil, nil, "run-1")
	a := NewArbiter(caller, worker.RoleBinding{
		Role:        "arbiter",
		Primary:     "model-arbiter",
		Substitutes: []string{"model-arbiter-sub"},
	}, nil)

	decision, err := a.Arbitrate(context.Background(), "run-1", testDoc(), testOpinions())
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}
	if decision.Outcome != claim.PartiallyUpheld {
		t.Errorf("Outcome = %q, want %q", decision.Outcome, claim.PartiallyUpheld)
	}
}
