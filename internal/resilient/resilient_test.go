package resilient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/veridict/veridict/internal/budget"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/event"
	"github.com/veridict/veridict/internal/worker"
)

func testModels() map[string]worker.ModelSpec {
	return map[string]worker.ModelSpec{
		"primary": {Timeout: time.Second, MaxOutput: 1024, MaxRetries: 1, Backoff: time.Millisecond},
		"sub-1":   {Timeout: time.Second, MaxOutput: 1024, MaxRetries: 1, Backoff: time.Millisecond},
		"sub-2":   {Timeout: time.Second, MaxOutput: 1024, MaxRetries: 0, Backoff: 0},
		"norerun": {Timeout: time.Second, MaxOutput: 1024, MaxRetries: 0, Backoff: 0},
	}
}

func newTestCaller(script *worker.ScriptedCaller, ledger *budget.Ledger) *Caller {
	return NewCaller(script, testModels(), ledger, nil, nil, "run-1")
}

func binding(role string, subs ...string) worker.RoleBinding {
	return worker.RoleBinding{Role: role, Primary: "primary", Substitutes: subs}
}

func request(id string) worker.Request {
	return worker.Request{WorkerID: id, Prompt: "extract"}
}

func TestInvoke_RetryThenSuccess(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary",
		worker.Fail(fmt.Errorf("connection reset")),
		worker.Respond(`{"items": []}`, 100),
	)

	c := newTestCaller(script, nil)
	out := c.Invoke(context.Background(), binding("extractor-1"), request("extractor-1"), 0, GateNonEmpty)

	if !out.OK() {
		t.Fatalf("outcome not OK: kind=%s err=%v", out.Kind, out.Err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if out.Model != "primary" {
		t.Errorf("Model = %q, want %q", out.Model, "primary")
	}
}

func TestInvoke_ZeroRetryModelNotRetried(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("norerun", worker.Fail(fmt.Errorf("refusal")))

	c := newTestCaller(script, nil)
	b := worker.RoleBinding{Role: "judge-1", Primary: "norerun"}
	out := c.Invoke(context.Background(), b, request("judge-1"), -1, nil)

	if out.Kind != FailureExhausted {
		t.Fatalf("Kind = %s, want %s", out.Kind, FailureExhausted)
	}
	if got := script.CallCount("norerun"); got != 1 {
		t.Errorf("call count = %d, want 1 (zero-retry model)", got)
	}
}

func TestInvoke_FailoverAndStickyPromotion(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary", worker.Fail(fmt.Errorf("boom")))
	script.Script("sub-1", worker.Respond(`{"ok": true}`, 50))

	bus := event.NewBus()
	var promotions []event.WorkerPromotedEvent
	bus.Subscribe("worker.promoted", func(e event.Event) {
		promotions = append(promotions, e.(event.WorkerPromotedEvent))
	})

	c := NewCaller(script, testModels(), nil, nil, bus, "run-1")
	b := binding("extractor-1", "sub-1")

	out := c.Invoke(context.Background(), b, request("extractor-1"), 0, GateNonEmpty)
	if !out.OK() || out.Model != "sub-1" {
		t.Fatalf("first invoke: ok=%v model=%q, want success on sub-1", out.OK(), out.Model)
	}

	primaryCalls := script.CallCount("primary")

	// Second unit for the same role: the dead primary is not retried.
	out = c.Invoke(context.Background(), b, request("extractor-1"), 1, GateNonEmpty)
	if !out.OK() || out.Model != "sub-1" {
		t.Fatalf("second invoke: ok=%v model=%q, want success on sub-1", out.OK(), out.Model)
	}
	if got := script.CallCount("primary"); got != primaryCalls {
		t.Errorf("primary called %d times after promotion, want %d", got, primaryCalls)
	}

	if len(promotions) != 1 {
		t.Fatalf("got %d promotion events, want 1", len(promotions))
	}
	if promotions[0].FromModel != "primary" || promotions[0].ToModel != "sub-1" {
		t.Errorf("promotion %s -> %s, want primary -> sub-1",
			promotions[0].FromModel, promotions[0].ToModel)
	}
}

func TestInvoke_FailoverDeterminism(t *testing.T) {
	// A run with a dead primary and a healthy substitute must produce the
	// same response as a run with the substitute configured as primary.
	runWith := func(b worker.RoleBinding) Outcome {
		script := worker.NewScriptedCaller()
		script.Script("primary", worker.Fail(fmt.Errorf("down")))
		script.Script("sub-1", worker.Respond(`{"items": [{"value": "x"}]}`, 80))
		c := newTestCaller(script, nil)
		return c.Invoke(context.Background(), b, request("extractor-1"), 0, GateNonEmpty)
	}

	failedOver := runWith(binding("extractor-1", "sub-1"))
	direct := runWith(worker.RoleBinding{Role: "extractor-1", Primary: "sub-1"})

	if !failedOver.OK() || !direct.OK() {
		t.Fatalf("outcomes not OK: failover=%v direct=%v", failedOver.Kind, direct.Kind)
	}
	if failedOver.Response.Content != direct.Response.Content {
		t.Errorf("failover content %q differs from direct content %q",
			failedOver.Response.Content, direct.Response.Content)
	}
	if failedOver.Model != direct.Model {
		t.Errorf("failover model %q differs from direct model %q", failedOver.Model, direct.Model)
	}
}

func TestInvoke_ChainExhausted(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary", worker.Fail(fmt.Errorf("down")))
	script.Script("sub-1", worker.Fail(fmt.Errorf("also down")))
	script.Script("sub-2", worker.Fail(fmt.Errorf("all down")))

	c := newTestCaller(script, nil)
	out := c.Invoke(context.Background(), binding("auditor-1", "sub-1", "sub-2"), request("auditor-1"), -1, nil)

	if out.Kind != FailureExhausted {
		t.Fatalf("Kind = %s, want %s", out.Kind, FailureExhausted)
	}
	if !errors.Is(out.Err, errors.ErrChainExhausted) {
		t.Errorf("error does not match ErrChainExhausted: %v", out.Err)
	}
	// primary: 2 attempts, sub-1: 2 attempts, sub-2: 1 attempt.
	if out.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", out.Attempts)
	}
}

func TestInvoke_QualityGateTriggersRetry(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary",
		worker.Respond("not json at all", 10),
		worker.Respond(`{"items": []}`, 50),
	)

	gate := func(resp *worker.Response) error {
		if resp.Content[0] != '{' {
			return fmt.Errorf("output is not a JSON object")
		}
		return nil
	}

	c := newTestCaller(script, nil)
	out := c.Invoke(context.Background(), binding("extractor-1"), request("extractor-1"), 0, gate)

	if !out.OK() {
		t.Fatalf("outcome not OK: kind=%s err=%v", out.Kind, out.Err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (gate rejection retried)", out.Attempts)
	}
}

func TestInvoke_BudgetBreachIsFatal(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary", worker.Respond("content", 500))

	ledger := budget.NewLedger(100, 0)
	c := newTestCaller(script, ledger)
	out := c.Invoke(context.Background(), binding("extractor-1"), request("extractor-1"), 0, nil)

	if out.Kind != FailureBudget {
		t.Fatalf("Kind = %s, want %s", out.Kind, FailureBudget)
	}
	if !out.Fatal() {
		t.Error("budget outcome not fatal")
	}
	if !errors.Is(out.Err, errors.ErrBudgetExceeded) {
		t.Errorf("error does not match ErrBudgetExceeded: %v", out.Err)
	}
}

// perWorkerTasks gives every worker its own model so scripts stay
// deterministic regardless of scheduling.
func perWorkerTasks(script *worker.ScriptedCaller, models map[string]worker.ModelSpec, healthy map[string]bool, ids ...string) []Task {
	tasks := make([]Task, len(ids))
	for i, id := range ids {
		model := "model-" + id
		models[model] = worker.ModelSpec{Timeout: time.Second, MaxRetries: 1, Backoff: time.Millisecond}
		if healthy[id] {
			script.Script(model, worker.Respond(`{"ok": true}`, 10))
		} else {
			script.Script(model, worker.Fail(fmt.Errorf("down")))
		}
		tasks[i] = Task{
			Binding: worker.RoleBinding{Role: id, Primary: model},
			Request: request(id),
			Chunk:   0,
			Gate:    GateNonEmpty,
		}
	}
	return tasks
}

func TestDispatch_MinimumSuccessThreshold(t *testing.T) {
	script := worker.NewScriptedCaller()
	models := make(map[string]worker.ModelSpec)
	tasks := perWorkerTasks(script, models,
		map[string]bool{"extractor-1": true, "extractor-3": true},
		"extractor-1", "extractor-2", "extractor-3")

	d := NewDispatcher(NewCaller(script, models, nil, nil, nil, "run-1"), 4)

	result, err := d.Dispatch(context.Background(), "extraction", tasks, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("Dispatch with 2 of 3 successes: %v", err)
	}
	if got := len(result.Succeeded()); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if got := result.FailedWorkers(); len(got) != 1 || got[0] != "extractor-2" {
		t.Errorf("FailedWorkers() = %v, want [extractor-2]", got)
	}
}

func TestDispatch_BelowMinimumAborts(t *testing.T) {
	script := worker.NewScriptedCaller()
	models := make(map[string]worker.ModelSpec)
	tasks := perWorkerTasks(script, models,
		map[string]bool{"extractor-1": true},
		"extractor-1", "extractor-2", "extractor-3")

	d := NewDispatcher(NewCaller(script, models, nil, nil, nil, "run-1"), 4)

	_, err := d.Dispatch(context.Background(), "extraction", tasks, 2, 5*time.Second)
	if err == nil {
		t.Fatal("Dispatch with 1 of 3 successes succeeded, want stage error")
	}
	if !errors.Is(err, errors.ErrStageInsufficient) {
		t.Errorf("error does not match ErrStageInsufficient: %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("stage insufficiency not classified fatal")
	}
}

func TestDispatch_DeadlineAbandonsStragglers(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("fast", worker.Respond("quick", 10))
	script.Script("slow", worker.Hang())

	models := map[string]worker.ModelSpec{
		"fast": {Timeout: 5 * time.Second, MaxRetries: 0},
		"slow": {Timeout: 5 * time.Second, MaxRetries: 0},
	}
	d := NewDispatcher(NewCaller(script, models, nil, nil, nil, "run-1"), 4)

	tasks := []Task{
		{Binding: worker.RoleBinding{Role: "w1", Primary: "fast"}, Request: request("w1"), Gate: GateNonEmpty},
		{Binding: worker.RoleBinding{Role: "w2", Primary: "fast"}, Request: request("w2"), Gate: GateNonEmpty},
		{Binding: worker.RoleBinding{Role: "w3", Primary: "slow"}, Request: request("w3"), Gate: GateNonEmpty},
	}

	start := time.Now()
	result, err := d.Dispatch(context.Background(), "audit", tasks, 2, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dispatch took %v, straggler was not abandoned", elapsed)
	}
	if got := len(result.Succeeded()); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if result.Outcomes[2].Kind != FailureCanceled {
		t.Errorf("straggler kind = %s, want %s", result.Outcomes[2].Kind, FailureCanceled)
	}
}

// deafCaller ignores context cancellation for the "stuck" model and
// returns only once released, like a transport that cannot be interrupted
// mid-call.
type deafCaller struct {
	release chan struct{}
}

func (c *deafCaller) Call(_ context.Context, model string, _ worker.Request) (*worker.Response, error) {
	if model == "stuck" {
		<-c.release
	}
	return &worker.Response{Content: "ok", FinishReason: "stop"}, nil
}

func TestDispatch_DeadlineDoesNotWaitForUncancelableCaller(t *testing.T) {
	inner := &deafCaller{release: make(chan struct{})}
	t.Cleanup(func() { close(inner.release) })

	models := map[string]worker.ModelSpec{
		"fast":  {Timeout: 5 * time.Second, MaxRetries: 0},
		"stuck": {Timeout: 5 * time.Second, MaxRetries: 0},
	}
	d := NewDispatcher(NewCaller(inner, models, nil, nil, nil, "run-1"), 4)

	tasks := []Task{
		{Binding: worker.RoleBinding{Role: "w1", Primary: "fast"}, Request: request("w1"), Gate: GateNonEmpty},
		{Binding: worker.RoleBinding{Role: "w2", Primary: "stuck"}, Request: request("w2"), Gate: GateNonEmpty},
	}

	start := time.Now()
	result, err := d.Dispatch(context.Background(), "audit", tasks, 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dispatch took %v, stage waited on a caller that ignores cancellation", elapsed)
	}
	if !result.Outcomes[0].OK() {
		t.Errorf("fast outcome kind = %s, want success", result.Outcomes[0].Kind)
	}
	if result.Outcomes[1].Kind != FailureCanceled {
		t.Errorf("stuck outcome kind = %s, want %s", result.Outcomes[1].Kind, FailureCanceled)
	}
	if !errors.Is(result.Outcomes[1].Err, errors.ErrStageDeadline) {
		t.Errorf("stuck outcome error does not match ErrStageDeadline: %v", result.Outcomes[1].Err)
	}
}

func TestDispatch_BudgetBreachPropagates(t *testing.T) {
	script := worker.NewScriptedCaller()
	script.Script("primary", worker.Respond("content", 1000))

	ledger := budget.NewLedger(100, 0)
	d := NewDispatcher(NewCaller(script, testModels(), ledger, nil, nil, "run-1"), 2)

	tasks := []Task{
		{Binding: binding("extractor-1"), Request: request("extractor-1"), Gate: GateNonEmpty},
		{Binding: binding("extractor-2"), Request: request("extractor-2"), Gate: GateNonEmpty},
	}
	_, err := d.Dispatch(context.Background(), "extraction", tasks, 1, 5*time.Second)
	if err == nil {
		t.Fatal("Dispatch with budget breach succeeded, want error")
	}
	if !errors.Is(err, errors.ErrBudgetExceeded) {
		t.Errorf("error does not match ErrBudgetExceeded: %v", err)
	}
}
