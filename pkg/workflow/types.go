package workflow

// WorkflowRef points at a workflow that the answer was grounded on.
type WorkflowRef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// QueryRequest is the body of both the streaming and the one-shot request.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the body of a successful one-shot query.
type QueryResponse struct {
	Result          string        `json:"result"`
	SourceDocuments []WorkflowRef `json:"source_documents"`
}

// ErrorEnvelope is the body the gateway returns for failed requests.
type ErrorEnvelope struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	BackendURL string `json:"backend_url,omitempty"`
}

// EventType selects which fields of an Event are meaningful.
type EventType string

const (
	EventSourceDocuments EventType = "source_documents"
	EventContent         EventType = "content"
	EventDone            EventType = "done"
)

// Event is one decoded frame of a query stream.
//
// Workflows is set for EventSourceDocuments, Delta for EventContent.
// EventDone carries nothing.
type Event struct {
	Type      EventType
	Workflows []WorkflowRef
	Delta     string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone
}
