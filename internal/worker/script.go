package worker

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedCaller is an in-memory Caller for tests. Each model is scripted
// with an ordered list of steps consumed one per call; the last step
// repeats once the script runs out.
type ScriptedCaller struct {
	mu      sync.Mutex
	scripts map[string][]Step
	cursor  map[string]int
	calls   []Call
}

// Step is one scripted response or error.
type Step struct {
	Response *Response
	Err      error

	// Delay simulated by honoring context cancellation only; scripted
	// calls never sleep.
	Hang bool // block until the context is done, then return its error
}

// Call records one invocation for assertions.
type Call struct {
	Model   string
	Request Request
}

// NewScriptedCaller creates an empty ScriptedCaller.
func NewScriptedCaller() *ScriptedCaller {
	return &ScriptedCaller{
		scripts: make(map[string][]Step),
		cursor:  make(map[string]int),
	}
}

// Script sets the ordered steps for a model, replacing any existing script.
func (s *ScriptedCaller) Script(model string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[model] = steps
	s.cursor[model] = 0
}

// Respond is a convenience Step returning content with the given usage.
func Respond(content string, tokens int64) Step {
	return Step{Response: &Response{
		Content:      content,
		Usage:        Usage{PromptTokens: tokens / 2, CompletionTokens: tokens - tokens/2},
		FinishReason: "stop",
	}}
}

// Fail is a convenience Step returning an error.
func Fail(err error) Step {
	return Step{Err: err}
}

// Hang is a convenience Step that blocks until the context is canceled.
func Hang() Step {
	return Step{Hang: true}
}

// Call consumes the next scripted step for the model.
func (s *ScriptedCaller) Call(ctx context.Context, model string, req Request) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Model: model, Request: req})
	steps, ok := s.scripts[model]
	if !ok || len(steps) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("no script for model %q", model)
	}
	i := s.cursor[model]
	if i >= len(steps) {
		i = len(steps) - 1
	}
	s.cursor[model] = i + 1
	step := steps[i]
	s.mu.Unlock()

	if step.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns a copy of all recorded invocations.
func (s *ScriptedCaller) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of calls made against a model.
func (s *ScriptedCaller) CallCount(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Model == model {
			n++
		}
	}
	return n
}
