package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/user/flowchat/pkg/workflow"
)

func TestClientQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query" {
			t.Errorf("expected path '/api/query', got %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["query"] != "slack to sheets" {
			t.Errorf("expected query 'slack to sheets', got %v", req["query"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"result": "Use the logger workflow.",
			"source_documents": []map[string]any{
				{"name": "Slack to Google Sheets Logger", "description": "Logs messages", "link": "https://n8n.io/workflows/1"},
			},
		})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL + "/api/"})
	resp, err := client.Query(context.Background(), workflow.QueryRequest{Query: "slack to sheets"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result != "Use the logger workflow." {
		t.Errorf("unexpected result %q", resp.Result)
	}
	if len(resp.SourceDocuments) != 1 || resp.SourceDocuments[0].Name != "Slack to Google Sheets Logger" {
		t.Errorf("unexpected source documents %+v", resp.SourceDocuments)
	}
}

func TestClientQueryErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Failed to connect to backend server","details":"dial tcp: refused"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Query(context.Background(), workflow.QueryRequest{Query: "x"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if err.Error() != "query failed: Failed to connect to backend server" {
		t.Errorf("unexpected error %q", err)
	}
}

func TestClientQueryErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Query(context.Background(), workflow.QueryRequest{Query: "x"})
	if err == nil || err.Error() != "query failed: HTTP 502" {
		t.Errorf("expected 'query failed: HTTP 502', got %v", err)
	}
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query/stream" {
			t.Errorf("expected path '/query/stream', got %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			`data: {"type":"source_documents","data":[{"name":"A","description":"a","link":"https://a"}]}`,
			`data: {"type":"content","data":"Hello"}`,
			`data: {"type":"content","data":" world"}`,
			`data: {"type":"done"}`,
		}
		for _, f := range frames {
			io.WriteString(w, f+"\n\n")
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	stream, err := client.Stream(context.Background(), workflow.QueryRequest{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var content string
	var workflows int
	for ev, err := range stream.All() {
		if err != nil {
			t.Fatal(err)
		}
		switch ev.Type {
		case workflow.EventSourceDocuments:
			workflows = len(ev.Workflows)
		case workflow.EventContent:
			content += ev.Delta
		}
	}
	if content != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", content)
	}
	if workflows != 1 {
		t.Errorf("expected 1 workflow, got %d", workflows)
	}
}

func TestClientStreamBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	stream, err := client.Stream(context.Background(), workflow.QueryRequest{Query: "hi"})
	if stream != nil {
		t.Error("expected no stream on failure")
	}
	var terr *workflow.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", terr.StatusCode)
	}
}

func TestClientStreamUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(&Config{BaseURL: url})
	_, err := client.Stream(context.Background(), workflow.QueryRequest{Query: "hi"})
	var terr *workflow.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != 0 {
		t.Errorf("expected no status code, got %d", terr.StatusCode)
	}
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "database": "connected"})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	status, err := client.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", status["status"])
	}
}

func TestClientHealthUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Service unhealthy: db down"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("expected unhealthy error, got %v", err)
	}
}

func TestClientPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Slack Logger</h1><p>Appends rows to a sheet.</p></body></html>`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: "http://unused"})
	md, err := client.Page(context.Background(), server.URL+"/workflows/1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Slack Logger") {
		t.Errorf("expected 'Slack Logger' in result, got %q", md)
	}
	if !strings.Contains(md, "Appends rows to a sheet.") {
		t.Errorf("expected paragraph in result, got %q", md)
	}
}

func TestClientPageInvalidLink(t *testing.T) {
	client := New(&Config{BaseURL: "http://unused"})
	if _, err := client.Page(context.Background(), "javascript:alert(1)"); err == nil {
		t.Fatal("expected error for non-http link")
	}
}

func TestClientPageTruncation(t *testing.T) {
	long := strings.Repeat("x", 60000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: "http://unused"})
	md, err := client.Page(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(md) > 51000 {
		t.Errorf("expected truncation, got length %d", len(md))
	}
}

func TestClientHealthUnhealthyEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Health(context.Background())
	if err == nil || err.Error() != "unhealthy: HTTP 502" {
		t.Errorf("expected 'unhealthy: HTTP 502', got %v", err)
	}
}

func TestClientPageTruncationKeepsRunes(t *testing.T) {
	// "é" is two bytes; an odd prefix puts the cut inside one.
	long := "x" + strings.Repeat("é", 30000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: "http://unused"})
	md, err := client.Page(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(md, "[Content truncated]") {
		t.Fatalf("expected truncation marker, got suffix %q", md[len(md)-30:])
	}
	if !utf8.ValidString(md) {
		t.Error("expected valid UTF-8 after truncation")
	}
}

func TestClientStreamOutlivesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			io.WriteString(w, `data: {"type":"content","data":"."}`+"\n\n")
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
		io.WriteString(w, `data: {"type":"done"}`+"\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL, Timeout: 300 * time.Millisecond})
	stream, err := client.Stream(context.Background(), workflow.QueryRequest{Query: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var content string
	var done bool
	for ev, err := range stream.All() {
		if err != nil {
			t.Fatalf("stream failed after %q: %v", content, err)
		}
		switch ev.Type {
		case workflow.EventContent:
			content += ev.Delta
		case workflow.EventDone:
			done = true
		}
	}
	if !done {
		t.Error("expected done event")
	}
	if content != "......" {
		t.Errorf("expected 6 deltas, got %q", content)
	}
}

func TestClientStreamHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(&Config{BaseURL: server.URL, Timeout: 100 * time.Millisecond})
	_, err := client.Stream(context.Background(), workflow.QueryRequest{Query: "hung"})
	var terr *workflow.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
