package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tuhinsharma121/template-agent/internal/httpkit"
)

// sessionHeader carries the server-assigned session across requests.
const sessionHeader = "Mcp-Session-Id"

// maxResponseBytes bounds a single JSON response or SSE event.
const maxResponseBytes = 10 << 20

// maxErrorBytes bounds the body quoted in a non-200 error.
const maxErrorBytes = 4 << 10

// levelTrace matches config.LevelTrace; wire payloads log at this level.
const levelTrace = slog.Level(-8)

// HTTPConfig configures a streamable HTTP transport.
type HTTPConfig struct {
	// URL is the MCP server endpoint, e.g. http://localhost:5001/mcp/.
	URL string

	// Headers are sent with every request (e.g. Authorization).
	Headers map[string]string

	// Timeout bounds each HTTP exchange. Zero means httpkit's default.
	Timeout time.Duration

	// HTTPClient overrides the client built from httpkit. Tests use it.
	HTTPClient *http.Client

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport talks to an MCP server over streamable HTTP. Every
// JSON-RPC message is an HTTP POST; the reply is either a JSON body or
// an SSE stream on which the matching response eventually arrives.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport for the given config.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		var opts []httpkit.Option
		if cfg.Timeout > 0 {
			opts = append(opts, httpkit.WithTimeout(cfg.Timeout))
		}
		client = httpkit.NewClient(opts...)
	}

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    maps.Clone(cfg.Headers),
		httpClient: client,
		logger:     logger,
	}
}

// SessionID returns the session assigned by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Send posts a JSON-RPC request and waits for its response.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpkit.Discard(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ErrorBody(httpResp.Body, maxErrorBytes)
		return nil, fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(errBody))
	}

	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readEventStream(httpResp.Body, req.ID)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	t.logger.Log(ctx, levelTrace, "MCP response", "method", req.Method, "body", string(respBody))

	resp, ok, err := responseFor(respBody, req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("MCP server sent no response for request %d", req.ID)
	}
	return resp, nil
}

// Notify posts a JSON-RPC notification. Servers answer 202 Accepted;
// 200 is tolerated as well.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpResp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	defer httpkit.Discard(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ErrorBody(httpResp.Body, maxErrorBytes)
		return fmt.Errorf("MCP server returned %d for notification: %s", httpResp.StatusCode, strings.TrimSpace(errBody))
	}
	return nil
}

// Close terminates the server session with an HTTP DELETE when the
// server assigned one. Failures are logged, not returned: the session
// expires server-side anyway.
func (t *HTTPTransport) Close() error {
	sid := t.SessionID()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return nil
	}
	t.applyHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("MCP session termination failed", "error", err)
		return nil
	}
	httpkit.Discard(resp.Body)

	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(httpReq)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}

	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, nil
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
}

// readEventStream scans SSE events until the response to id arrives.
// Multi-line data fields are joined with newlines per the SSE format.
func readEventStream(r io.Reader, id int64) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)

	var data []string
	flush := func() (*Response, bool, error) {
		if len(data) == 0 {
			return nil, false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return responseFor([]byte(payload), id)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			resp, ok, err := flush()
			if err != nil {
				return nil, err
			}
			if ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comments carry nothing we need.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}

	// A final event without a trailing blank line.
	resp, ok, err := flush()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("event stream ended without a response for request %d", id)
	}
	return resp, nil
}
