package orchestrator

import (
	"context"
	"sync"

	"github.com/flowmesh/orchestrator/errors"
	"github.com/flowmesh/orchestrator/llm"
)

// fakeProvider is a scriptable llm.Provider for unit tests: each call to
// GenerateCompletion pops the next (response, error) pair off its queue. It
// is safe for concurrent use since the executor drives a level's tasks from
// multiple goroutines.
type fakeProvider struct {
	name      string
	responses []fakeProviderCall

	mu    sync.Mutex
	calls int
}

type fakeProviderCall struct {
	text string
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) next() (fakeProviderCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.responses) {
		return fakeProviderCall{}, false
	}
	call := p.responses[p.calls]
	p.calls++
	return call, true
}

func (p *fakeProvider) GenerateCompletion(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	call, ok := p.next()
	if !ok {
		return nil, errUnscripted
	}
	if call.err != nil {
		return nil, errors.NewModelAPIError(p.name, req.Model, call.err)
	}
	return &llm.CompletionResponse{Text: call.text, Model: req.Model, FinishReason: "stop"}, nil
}

func (p *fakeProvider) GenerateChat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	call, ok := p.next()
	if !ok {
		return nil, errUnscripted
	}
	if call.err != nil {
		return nil, errors.NewModelAPIError(p.name, req.Model, call.err)
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: call.text}, Model: req.Model, FinishReason: "stop"}, nil
}

var errUnscripted = errUnscriptedErr{}

type errUnscriptedErr struct{}

func (errUnscriptedErr) Error() string { return "fakeProvider: no more scripted responses" }
