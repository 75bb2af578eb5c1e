package core

import "context"

// Settings carries opaque processing options through to the external
// processing capability. The engine never interprets them.
type Settings map[string]string

// Document is the input to a normalization job. Pages are the unit the
// chunk planner splits on.
type Document struct {
	ID    string
	Pages []Page
}

// Page is one page of a document.
type Page struct {
	Number int
	Text   string
}

// Request is one chunk's worth of work handed to the external processor.
type Request struct {
	JobID      string
	ChunkIndex int
	Payload    []byte
	Settings   Settings
}

// Result is a successful processor response.
type Result struct {
	Content []byte
	Usage   Usage
}

// Usage reports the cost of one processor call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Processor is the external text-processing capability. Implementations
// should return errors wrapped with Content for permanent failures and
// Transient (or bare errors) for retryable ones; the worker classifies at
// its boundary either way.
type Processor interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req Request) (*Result, error)

func (f ProcessorFunc) Process(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
