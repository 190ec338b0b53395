package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/flowchat/pkg/workflow"
)

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements workflow.Provider over the gateway's HTTP API.
type Client struct {
	config     *Config
	httpClient *http.Client
	// streamClient has no overall timeout: a stream lives as long as the
	// backend keeps sending, bounded only by ctx and the header wait.
	streamClient *http.Client
}

var _ workflow.Provider = (*Client)(nil)

// New creates a client for the API rooted at config.BaseURL (for example
// "http://127.0.0.1:3000/api").
func New(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, req workflow.QueryRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return client.Do(httpReq)
}

// Stream opens POST /query/stream. The returned stream owns the response
// body; callers must drain or Close it.
func (c *Client) Stream(ctx context.Context, req workflow.QueryRequest) (*workflow.Stream, error) {
	resp, err := c.post(ctx, c.streamClient, "/query/stream", req)
	if err != nil {
		return nil, &workflow.TransportError{Op: "open stream", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &workflow.TransportError{Op: "open stream", StatusCode: resp.StatusCode}
	}

	return workflow.NewStream(resp.Body), nil
}

// Query sends POST /query and returns the complete answer.
func (c *Client) Query(ctx context.Context, req workflow.QueryRequest) (*workflow.QueryResponse, error) {
	resp, err := c.post(ctx, c.httpClient, "/query", req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope workflow.ErrorEnvelope
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			return nil, fmt.Errorf("query failed: %s", envelope.Error)
		}
		return nil, fmt.Errorf("query failed: HTTP %d", resp.StatusCode)
	}

	var queryResp workflow.QueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if queryResp.SourceDocuments == nil {
		queryResp.SourceDocuments = []workflow.WorkflowRef{}
	}
	return &queryResp, nil
}

// Health calls GET /health and returns the decoded body.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	var status map[string]any
	decodeErr := json.NewDecoder(resp.Body).Decode(&status)
	if resp.StatusCode != http.StatusOK {
		if msg, ok := status["error"].(string); ok && msg != "" {
			return status, fmt.Errorf("unhealthy: %s", msg)
		}
		return status, fmt.Errorf("unhealthy: HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("parsing response: %w", decodeErr)
	}
	return status, nil
}
