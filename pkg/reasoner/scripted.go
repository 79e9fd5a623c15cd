package reasoner

import (
	"context"
	"encoding/json"
	"sync"
)

// Scripted is a Reasoner whose answers come from functions. Unset functions
// fall back to simple defaults: no decision (ErrProtocol), empty extraction,
// refine returns the latest content, metadata completes on the last chunk,
// no observations and a verified goal.
type Scripted struct {
	DecideFunc   func(ActRequest) (*Decision, error)
	ExtractFunc  func(ExtractRequest) (json.RawMessage, error)
	RefineFunc   func(RefineRequest) (json.RawMessage, error)
	MetadataFunc func(MetadataRequest) (*Metadata, error)
	ObserveFunc  func(ObserveRequest) ([]Observation, error)
	VerifyFunc   func(VerifyRequest) (bool, error)

	mu    sync.Mutex
	calls []ScriptedCall
}

// ScriptedCall records one call and its request.
type ScriptedCall struct {
	Kind    string
	Request any
}

var _ Reasoner = (*Scripted)(nil)

// Decisions returns a DecideFunc that answers with ds in order and repeats
// the last one.
func Decisions(ds ...*Decision) func(ActRequest) (*Decision, error) {
	var mu sync.Mutex
	i := 0
	return func(ActRequest) (*Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ds) == 0 {
			return nil, ErrProtocol
		}
		d := ds[min(i, len(ds)-1)]
		i++
		if d == nil {
			return nil, ErrProtocol
		}
		copied := *d
		return &copied, nil
	}
}

func (s *Scripted) record(kind string, req any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ScriptedCall{Kind: kind, Request: req})
}

// Calls returns the recorded calls, optionally only those of kinds.
func (s *Scripted) Calls(kinds ...string) []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScriptedCall
	for _, c := range s.calls {
		if len(kinds) == 0 {
			out = append(out, c)
			continue
		}
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Count returns how many calls of kind were made.
func (s *Scripted) Count(kind string) int {
	return len(s.Calls(kind))
}

// ActRequests returns the DecideAction requests in order.
func (s *Scripted) ActRequests() []ActRequest {
	var out []ActRequest
	for _, c := range s.Calls(KindAct) {
		out = append(out, c.Request.(ActRequest))
	}
	return out
}

func (s *Scripted) DecideAction(ctx context.Context, req ActRequest) (*Decision, error) {
	s.record(KindAct, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.DecideFunc == nil {
		return nil, ErrProtocol
	}
	return s.DecideFunc(req)
}

func (s *Scripted) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	s.record(KindExtract, req)
	if s.ExtractFunc == nil {
		return json.RawMessage("{}"), nil
	}
	return s.ExtractFunc(req)
}

func (s *Scripted) Refine(ctx context.Context, req RefineRequest) (json.RawMessage, error) {
	s.record(KindRefine, req)
	if s.RefineFunc == nil {
		return req.Latest, nil
	}
	return s.RefineFunc(req)
}

func (s *Scripted) CheckMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error) {
	s.record(KindMetadata, req)
	if s.MetadataFunc == nil {
		return &Metadata{Completed: req.ChunksSeen >= req.ChunksTotal}, nil
	}
	return s.MetadataFunc(req)
}

func (s *Scripted) Observe(ctx context.Context, req ObserveRequest) ([]Observation, error) {
	s.record(KindObserve, req)
	if s.ObserveFunc == nil {
		return nil, nil
	}
	return s.ObserveFunc(req)
}

func (s *Scripted) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	s.record(KindVerify, req)
	if s.VerifyFunc == nil {
		return true, nil
	}
	return s.VerifyFunc(req)
}
