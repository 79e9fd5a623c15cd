// Package reasoner defines the decision-making collaborator of the engines
// and an LLM-backed implementation of it.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
)

// Call kinds, used for cache keys, metrics and the scripted fake.
const (
	KindAct      = "act"
	KindExtract  = "extract"
	KindRefine   = "refine"
	KindMetadata = "metadata"
	KindObserve  = "observe"
	KindVerify   = "verify"
)

// ErrProtocol is returned when a response carries neither a usable answer
// nor an explicit skip.
var ErrProtocol = errors.New("reasoner response did not follow the protocol")

// Reasoner decides what to do on a page. Every call carries the id of the
// operation it serves.
type Reasoner interface {
	DecideAction(ctx context.Context, req ActRequest) (*Decision, error)
	Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error)
	Refine(ctx context.Context, req RefineRequest) (json.RawMessage, error)
	CheckMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error)
	Observe(ctx context.Context, req ObserveRequest) ([]Observation, error)
	Verify(ctx context.Context, req VerifyRequest) (bool, error)
}

// ActRequest asks for the next step towards Instruction.
type ActRequest struct {
	RequestID   string
	Instruction string
	// Steps is the narrative of steps taken so far.
	Steps string
	// Elements is the indexed page text.
	Elements string
	// Variables are names the reasoner may reference as <|NAME|>. Values
	// are never sent.
	Variables []string
}

// Decision is the outcome of DecideAction: a skip, or a command on an
// element.
type Decision struct {
	ElementIndex int      `json:"element"`
	Method       Method   `json:"method"`
	Args         []string `json:"args"`
	Step         string   `json:"step"`
	Why          string   `json:"why,omitempty"`
	Completed    bool     `json:"completed"`

	Skip   bool   `json:"skip,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ExtractRequest asks for data matching Schema from Content.
type ExtractRequest struct {
	RequestID   string
	Instruction string
	Content     string
	Schema      json.RawMessage
	// TextMode is set when Content is rendered page text rather than an
	// element list.
	TextMode bool
}

// RefineRequest merges Latest into Previous.
type RefineRequest struct {
	RequestID   string
	Instruction string
	Schema      json.RawMessage
	Previous    json.RawMessage
	Latest      json.RawMessage
}

// MetadataRequest asks whether extraction is done.
type MetadataRequest struct {
	RequestID   string
	Instruction string
	Extracted   json.RawMessage
	ChunksSeen  int
	ChunksTotal int
}

// Metadata reports extraction progress.
type Metadata struct {
	Completed bool   `json:"completed"`
	Progress  string `json:"progress"`
}

// ObserveRequest asks for elements matching Instruction.
type ObserveRequest struct {
	RequestID     string
	Instruction   string
	Elements      string
	Accessibility bool
	// ReturnAction asks for a suggested method and arguments per element.
	ReturnAction bool
}

// Observation is one element picked by Observe.
type Observation struct {
	ElementIndex int      `json:"element"`
	Description  string   `json:"description"`
	Method       Method   `json:"method"`
	Args         []string `json:"args,omitempty"`
}

// VerifyRequest asks whether Goal has been achieved.
type VerifyRequest struct {
	RequestID string
	Goal      string
	Steps     string
	Elements  string
}
