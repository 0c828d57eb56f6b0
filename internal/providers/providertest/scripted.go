// Package providertest has scriptable provider doubles for tests.
package providertest

import (
	"context"
	"sync"

	"litagent/internal/providers"
)

type Reply struct {
	Text string
	Err  error
}

// ScriptedLLM answers each operation from a queue of one-shot replies, then
// from a sticky reply, then from the fallback provider.
type ScriptedLLM struct {
	mu       sync.Mutex
	queued   map[string][]Reply
	sticky   map[string]Reply
	fallback providers.LLMProvider
	calls    []providers.GenerateRequest
}

func NewScriptedLLM(fallback providers.LLMProvider) *ScriptedLLM {
	return &ScriptedLLM{
		queued:   map[string][]Reply{},
		sticky:   map[string]Reply{},
		fallback: fallback,
	}
}

// Once queues replies consumed by the next calls for op.
func (s *ScriptedLLM) Once(op string, replies ...Reply) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[op] = append(s.queued[op], replies...)
	return s
}

// Always answers every call for op with r once the queue is empty.
func (s *ScriptedLLM) Always(op string, r Reply) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[op] = r
	return s
}

func (s *ScriptedLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var (
		r  Reply
		ok bool
	)
	if q := s.queued[req.Operation]; len(q) > 0 {
		r, ok = q[0], true
		s.queued[req.Operation] = q[1:]
	} else if r, ok = s.sticky[req.Operation]; !ok && s.fallback == nil {
		r, ok = Reply{Text: "scripted reply"}, true
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return providers.GenerateResponse{}, providers.ProviderInfo{}, err
	}
	if !ok {
		return s.fallback.Generate(ctx, req)
	}
	info := providers.ProviderInfo{Name: "scripted", Model: "scripted-v1"}
	if r.Err != nil {
		return providers.GenerateResponse{}, info, r.Err
	}
	return providers.GenerateResponse{Text: r.Text}, info, nil
}

func (s *ScriptedLLM) Calls() []providers.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]providers.GenerateRequest(nil), s.calls...)
}

// Operations lists the operation of every call in call order.
func (s *ScriptedLLM) Operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Operation)
	}
	return out
}
