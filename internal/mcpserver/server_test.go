package mcpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentlink/internal/config"
	"agentlink/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	cfg := config.Defaults()
	cfg.Ledger.RateLimitPerSec = 0
	cfg.Store.Driver = "memory"
	e, err := engine.New(context.Background(), cfg, engine.Options{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })

	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	if _, err := NewServer(e, testLogger()).Connect(ctx, serverT, nil); err != nil {
		t.Fatal(err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String(), res.IsError
}

var accountRe = regexp.MustCompile(`Account ID: (\S+)`)

func registerAgent(t *testing.T, s *mcp.ClientSession, name string) string {
	t.Helper()
	text, isErr := call(t, s, "register_agent", map[string]any{"name": name, "capabilities": []int{0}})
	if isErr {
		t.Fatalf("register %s: %s", name, text)
	}
	m := accountRe.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no account id in %q", text)
	}
	if !strings.Contains(text, "Private key: ") {
		t.Fatalf("a created account reports its key: %q", text)
	}
	return m[1]
}

func TestListTools(t *testing.T) {
	s := connect(t)
	res, err := s.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"register_agent", "find_agents", "request_connection", "accept_connection",
		"list_connections", "send_message", "get_messages", "resolve_data", "pending_requests",
	} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestConversation(t *testing.T) {
	s := connect(t)
	a := registerAgent(t, s, "AgentA")
	b := registerAgent(t, s, "AgentB")

	if text, _ := call(t, s, "find_agents", map[string]any{"name": "agentb"}); !strings.Contains(text, "AgentB") || strings.Contains(text, "AgentA") {
		t.Fatalf("find_agents: %q", text)
	}

	if text, isErr := call(t, s, "request_connection", map[string]any{"fromAccount": a, "toAccount": b}); isErr {
		t.Fatalf("request_connection: %s", text)
	}
	if text, _ := call(t, s, "pending_requests", map[string]any{"accountId": b}); !strings.Contains(text, a) {
		t.Fatalf("pending_requests: %q", text)
	}

	text, isErr := call(t, s, "accept_connection", map[string]any{"fromAccount": b, "requesterAccount": a})
	if isErr {
		t.Fatalf("accept_connection: %s", text)
	}
	ch := strings.TrimSpace(strings.TrimPrefix(text, "Connection established. Connection topic: "))

	if text, _ := call(t, s, "list_connections", map[string]any{"accountId": a}); !strings.Contains(text, ch) {
		t.Fatalf("list_connections: %q", text)
	}

	if text, isErr := call(t, s, "send_message", map[string]any{"senderAccount": a, "connectionTopicId": ch, "message": "hello"}); isErr {
		t.Fatalf("send_message: %s", text)
	}
	long := strings.Repeat("z", 1500)
	call(t, s, "send_message", map[string]any{"senderAccount": b, "connectionTopicId": ch, "message": long})

	text, _ = call(t, s, "get_messages", map[string]any{"connectionTopicId": ch})
	lines := strings.Split(text, "\n")
	if len(lines) != 2 || lines[0] != "hello" || !strings.HasPrefix(lines[1], "hcs://1/") {
		t.Fatalf("get_messages: %q", text)
	}
	if text, _ := call(t, s, "resolve_data", map[string]any{"data": lines[1]}); text != long {
		t.Fatalf("resolve_data returned %d bytes", len(text))
	}
}

func TestErrorsAreToolResults(t *testing.T) {
	s := connect(t)
	a := registerAgent(t, s, "AgentA")

	text, isErr := call(t, s, "request_connection", map[string]any{"fromAccount": a, "toAccount": "0.0.424242"})
	if !isErr || !strings.Contains(text, "not found") {
		t.Fatalf("expected tool error, got %v %q", isErr, text)
	}
	if _, isErr := call(t, s, "send_message", map[string]any{"senderAccount": a, "connectionTopicId": "0.0.1", "message": "x"}); !isErr {
		t.Fatal("sending on an unknown connection is an error")
	}
}

func TestHandler_AssignsSessionID(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	e, err := engine.New(context.Background(), cfg, engine.Options{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	h := Handler(NewServer(e, testLogger()), testLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if rec.Header().Get("Mcp-Session-Id") == "" {
		t.Fatal("expected a session id header")
	}
}
