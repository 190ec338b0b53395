package workflow

import "context"

// Provider defines the interface for talking to a question-answering backend.
// Implementations handle transport details such as URLs, status codes and
// body formats.
type Provider interface {
	// Stream opens a streaming query. A non-success status fails before any
	// event is produced.
	Stream(ctx context.Context, req QueryRequest) (*Stream, error)

	// Query sends a one-shot query and returns the complete answer.
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}
