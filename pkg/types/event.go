package types

import "time"

// EngineEventType defines the type of event emitted by the engine.
type EngineEventType string

const (
	EventTypeOperationStart EngineEventType = "operation_start" // EventTypeOperationStart indicates an act, extract or observe operation has started.
	EventTypeOperationEnd   EngineEventType = "operation_end"   // EventTypeOperationEnd indicates an operation has finished.
	EventTypePerceive       EngineEventType = "perceive"        // EventTypePerceive indicates the engine captured a page snapshot.
	EventTypeDecide         EngineEventType = "decide"          // EventTypeDecide indicates the reasoner returned a decision.
	EventTypeExecute        EngineEventType = "execute"         // EventTypeExecute indicates a low-level browser command ran.
	EventTypeVerify         EngineEventType = "verify"          // EventTypeVerify indicates goal verification finished.
	EventTypeChunkAdvance   EngineEventType = "chunk_advance"   // EventTypeChunkAdvance indicates the engine moved to another section of the page.
	EventTypeRetry          EngineEventType = "retry"           // EventTypeRetry indicates the engine is restarting an attempt.
	EventTypeError          EngineEventType = "error"           // EventTypeError indicates an error occurred during processing.
)

// EngineEvent represents an event emitted by the engine during an operation.
type EngineEvent struct {
	// Timestamp is when the event was created.
	Timestamp time.Time

	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for error events.
	Error error

	// Operation is the operation kind: act, extract or observe.
	Operation string

	// RequestID correlates events of one logical operation.
	RequestID string

	// Message is a human readable description of the event.
	Message string

	// Type indicates the kind of event.
	Type EngineEventType

	// Chunk is the chunk index being processed, when relevant.
	Chunk int

	// Chunks is the total number of chunks on the page, when known.
	Chunks int

	// Success reports the outcome for operation end and verify events.
	Success bool
}

// EventSink receives engine events. Implementations must not block.
type EventSink func(*EngineEvent)

func newEvent(t EngineEventType, operation, requestID, message string) *EngineEvent {
	return &EngineEvent{
		Type:      t,
		Operation: operation,
		RequestID: requestID,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// NewOperationStartEvent creates an operation start event.
func NewOperationStartEvent(operation, requestID, instruction string) *EngineEvent {
	return newEvent(EventTypeOperationStart, operation, requestID, instruction)
}

// NewOperationEndEvent creates an operation end event.
func NewOperationEndEvent(operation, requestID, message string, success bool) *EngineEvent {
	e := newEvent(EventTypeOperationEnd, operation, requestID, message)
	e.Success = success
	return e
}

// NewPerceiveEvent creates a perceive event for the given chunk.
func NewPerceiveEvent(operation, requestID string, chunk, chunks int) *EngineEvent {
	e := newEvent(EventTypePerceive, operation, requestID, "")
	e.Chunk = chunk
	e.Chunks = chunks
	return e
}

// NewDecideEvent creates a decide event.
func NewDecideEvent(operation, requestID, step string) *EngineEvent {
	return newEvent(EventTypeDecide, operation, requestID, step)
}

// NewExecuteEvent creates an execute event.
func NewExecuteEvent(operation, requestID, method string) *EngineEvent {
	return newEvent(EventTypeExecute, operation, requestID, method)
}

// NewVerifyEvent creates a verify event.
func NewVerifyEvent(operation, requestID string, completed bool) *EngineEvent {
	e := newEvent(EventTypeVerify, operation, requestID, "")
	e.Success = completed
	return e
}

// NewChunkAdvanceEvent creates a chunk advance event.
func NewChunkAdvanceEvent(operation, requestID string, chunk, chunks int) *EngineEvent {
	e := newEvent(EventTypeChunkAdvance, operation, requestID, "")
	e.Chunk = chunk
	e.Chunks = chunks
	return e
}

// NewRetryEvent creates a retry event.
func NewRetryEvent(operation, requestID string, err error) *EngineEvent {
	e := newEvent(EventTypeRetry, operation, requestID, "")
	e.Error = err
	return e
}

// NewErrorEvent creates an error event.
func NewErrorEvent(operation, requestID string, err error) *EngineEvent {
	e := newEvent(EventTypeError, operation, requestID, "")
	e.Error = err
	return e
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *EngineEvent) WithMetadata(key string, value interface{}) *EngineEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsTerminal returns true if the event ends an operation.
func (e *EngineEvent) IsTerminal() bool {
	return e.Type == EventTypeOperationEnd
}

// IsErrorEvent returns true if this is an error event.
func (e *EngineEvent) IsErrorEvent() bool {
	return e.Type == EventTypeError
}

// Emit sends the event to the sink if one is configured.
func (s EventSink) Emit(e *EngineEvent) {
	if s != nil {
		s(e)
	}
}
