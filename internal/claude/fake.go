package claude

import (
	"context"
	"io"
	"sync"
)

// ScriptedQuerier replays canned message streams, one per Query call, in
// order. It exists so agent and workflow code can be exercised without a
// claude binary; production code never constructs one.
type ScriptedQuerier struct {
	mu      sync.Mutex
	scripts [][]Message
	calls   []ScriptedCall
	// Err, when set, is returned by every Query call.
	Err error
}

// ScriptedCall records the arguments of one Query invocation.
type ScriptedCall struct {
	Prompt  string
	Options Options
}

// NewScriptedQuerier returns a querier that replays the given streams.
func NewScriptedQuerier(scripts ...[]Message) *ScriptedQuerier {
	return &ScriptedQuerier{scripts: scripts}
}

// Query pops the next scripted stream. When the scripts run out the last
// one is replayed, which keeps multi-agent tests short.
func (q *ScriptedQuerier) Query(ctx context.Context, prompt string, opts Options) (Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.calls = append(q.calls, ScriptedCall{Prompt: prompt, Options: opts})
	var script []Message
	switch {
	case len(q.scripts) == 0:
		script = nil
	case len(q.scripts) == 1:
		script = q.scripts[0]
	default:
		script = q.scripts[0]
		q.scripts = q.scripts[1:]
	}
	return &scriptedStream{messages: script}, nil
}

// Calls returns the recorded Query invocations.
func (q *ScriptedQuerier) Calls() []ScriptedCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ScriptedCall, len(q.calls))
	copy(out, q.calls)
	return out
}

type scriptedStream struct {
	messages []Message
	pos      int
}

func (s *scriptedStream) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.messages) {
		return nil, io.EOF
	}
	msg := s.messages[s.pos]
	s.pos++
	return msg, nil
}

func (s *scriptedStream) Close() error { return nil }

var _ Querier = (*ScriptedQuerier)(nil)
