package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// modelStub is an OpenAI-compatible chat endpoint that echoes the last
// user message.
func modelStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)

		last := ""
		for _, m := range body.Messages {
			if s, ok := m.Content.(string); ok && m.Role == "user" {
				last = s
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1760000000,
			"model":   body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "echo: " + last},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// toolServer is a minimal MCP endpoint that records Authorization headers.
type toolServer struct {
	mu   sync.Mutex
	auth []string
}

func (s *toolServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	if r.Method == http.MethodDelete {
		return
	}
	var msg struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &msg)
	if msg.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	result := map[string]any{}
	switch msg.Method {
	case "initialize":
		result = map[string]any{"protocolVersion": "2025-03-26", "serverInfo": map[string]any{"name": "tools"}}
	case "tools/list":
		result = map[string]any{"tools": []map[string]any{}}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": *msg.ID, "result": result})
}

func (s *toolServer) sawAuth(want string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auth {
		if a == want {
			return true
		}
	}
	return false
}

func writeConfig(t *testing.T, inMemory bool, mcpURL, modelURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`log_level: debug
use_inmemory_saver: %v
database:
  uri: sqlite://%s
mcp:
  url: %s
  timeout: 2s
model:
  provider: openai
  name: test-model
  api_key: test-key
  base_url: %s/v1/
`, inMemory, filepath.Join(dir, "checkpoints.db"), mcpURL, modelURL)
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRun_Version(t *testing.T) {
	out, _, err := runCLI(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "template-agent ") || !strings.Contains(out, "go_version:") {
		t.Errorf("unexpected version output:\n%s", out)
	}

	out, _, err = runCLI(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version json output is not JSON: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Error("version key missing")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if _, _, err := runCLI(t, "", "serve"); err == nil {
		t.Fatal("unknown command should fail")
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	_, _, err := runCLI(t, "", "--config", "/nonexistent/config.yaml", "ask", "hi")
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("err = %v, want config not found", err)
	}
}

func TestRun_AskLocalModeWithoutTools(t *testing.T) {
	model := modelStub(t)
	cfg := writeConfig(t, true, "http://127.0.0.1:1/mcp/", model.URL)

	out, logs, err := runCLI(t, "", "--config", cfg, "ask", "what", "is", "up")
	if err != nil {
		t.Fatalf("ask: %v\n%s", err, logs)
	}
	if strings.TrimSpace(out) != "echo: what is up" {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(logs, "running in local development mode without MCP tools") {
		t.Errorf("expected local-mode fallback in logs:\n%s", logs)
	}
}

func TestRun_AskProductionRequiresTools(t *testing.T) {
	model := modelStub(t)
	cfg := writeConfig(t, false, "http://127.0.0.1:1/mcp/", model.URL)

	_, _, err := runCLI(t, "", "--config", cfg, "ask", "hello")
	if err == nil || !strings.Contains(err.Error(), "connect to MCP server") {
		t.Fatalf("err = %v, want tool connection error", err)
	}
}

func TestRun_DatabaseConversation(t *testing.T) {
	model := modelStub(t)
	tools := &toolServer{}
	mcp := httptest.NewServer(tools)
	t.Cleanup(mcp.Close)
	cfg := writeConfig(t, false, mcp.URL, model.URL)

	for _, q := range []string{"first", "second"} {
		if _, logs, err := runCLI(t, "", "--config", cfg, "ask", "--thread", "db-thread", "--token", "sso-1", q); err != nil {
			t.Fatalf("ask %s: %v\n%s", q, err, logs)
		}
	}
	if !tools.sawAuth("Bearer sso-1") {
		t.Error("MCP requests should carry the SSO bearer token")
	}

	// history reads the database only, so a stopped tool server is fine.
	mcp.Close()
	out, _, err := runCLI(t, "", "--config", cfg, "history", "--thread", "db-thread")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := "user: first\nassistant: echo: first\nuser: second\nassistant: echo: second\n"
	if out != want {
		t.Errorf("history =\n%s\nwant\n%s", out, want)
	}
}

func TestRun_AskJSON(t *testing.T) {
	model := modelStub(t)
	cfg := writeConfig(t, true, "http://127.0.0.1:1/mcp/", model.URL)

	out, _, err := runCLI(t, "", "--config", cfg, "-o", "json", "ask", "--thread", "json-thread", "ping")
	if err != nil {
		t.Fatal(err)
	}
	var res resultJSON
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.Answer != "echo: ping" || res.ThreadID != "json-thread" || res.Checkpoint == "" {
		t.Errorf("result = %+v", res)
	}
	if res.InputTokens != 3 || res.OutputTokens != 2 {
		t.Errorf("tokens = %d/%d, want 3/2", res.InputTokens, res.OutputTokens)
	}
}

func TestRun_ChatStateless(t *testing.T) {
	model := modelStub(t)
	cfg := writeConfig(t, true, "http://127.0.0.1:1/mcp/", model.URL)

	out, _, err := runCLI(t, "one\n\n  two  \n", "--config", cfg, "chat", "--no-checkpoint")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "echo: one\necho: two\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRun_HistoryRequiresThread(t *testing.T) {
	if _, _, err := runCLI(t, "", "history"); err == nil || !strings.Contains(err.Error(), "--thread") {
		t.Fatalf("err = %v, want --thread error", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	model := modelStub(t)
	cfg := writeConfig(t, true, "http://127.0.0.1:1/mcp/", model.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	if err := run(ctx, strings.NewReader(""), &stdout, &stderr, []string{"--config", cfg, "ask", "hi"}); err == nil {
		t.Fatal("ask with a cancelled context should fail")
	}
}
