package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/user/flowchat/pkg/workflow"
)

const maxRequestBody = 1 << 20

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}
	upstream := g.backendURL + "/query"
	slog.Debug("proxying query", "upstream", upstream)

	resp, err := g.do(r.Context(), http.MethodPost, upstream, body)
	if err != nil {
		g.unreachable(w, upstream, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.upstreamFailed(w, resp)
		return
	}

	data, err := readUpstreamJSON(resp.Body)
	if err != nil {
		g.unreachable(w, upstream, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r)
	if !ok {
		return
	}
	upstream := g.backendURL + "/query/stream"
	slog.Debug("proxying stream", "upstream", upstream)

	resp, err := g.do(r.Context(), http.MethodPost, upstream, body)
	if err != nil {
		g.unreachable(w, upstream, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.upstreamFailed(w, resp)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				slog.Debug("stream client gone", "error", werr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			// Headers are already sent; cutting the body short is all that
			// is left to signal the failure.
			slog.Warn("upstream stream failed", "upstream", upstream, "error", err)
			return
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstream := g.backendURL + "/health"

	resp, err := g.do(r.Context(), http.MethodGet, upstream, nil)
	if err != nil {
		g.unreachable(w, upstream, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("backend health check failed", "status", resp.StatusCode)
		writeJSON(w, resp.StatusCode, workflow.ErrorEnvelope{
			Error: fmt.Sprintf("Backend returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		})
		return
	}

	data, err := readUpstreamJSON(resp.Body)
	if err != nil {
		g.unreachable(w, upstream, err)
		return
	}
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	writeJSON(w, http.StatusOK, data)
}

// do sends one upstream request, retrying connection failures under the
// gateway's retry policy.
func (g *Gateway) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var resp *http.Response
	err := g.retry.Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err = g.client.Do(req)
		return err
	})
	return resp, err
}

func (g *Gateway) unreachable(w http.ResponseWriter, upstream string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Error("backend unreachable", "upstream", upstream, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, workflow.ErrorEnvelope{
		Error:      "Failed to connect to backend server",
		Details:    err.Error(),
		BackendURL: upstream,
	})
}

func (g *Gateway) upstreamFailed(w http.ResponseWriter, resp *http.Response) {
	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
	slog.Warn("backend request failed", "url", resp.Request.URL.String(), "status", resp.StatusCode)
	writeJSON(w, resp.StatusCode, workflow.ErrorEnvelope{
		Error: fmt.Sprintf("Backend returned %d: %s", resp.StatusCode, text),
	})
}

// readUpstreamJSON returns the backend's body untouched once it is known to
// be JSON, so numbers and key order survive the proxy.
func readUpstreamJSON(r io.Reader) (json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("decode response: invalid JSON")
	}
	return json.RawMessage(data), nil
}

// readJSONBody reads the request body and checks that it is JSON. On
// failure it writes a 400 and returns false.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, workflow.ErrorEnvelope{Error: "invalid JSON"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
