// Package mcpserver exposes the protocol operations as Model Context
// Protocol tools over streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentlink/internal/engine"
	"agentlink/internal/registry"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewServer creates an MCP server with every protocol tool registered.
func NewServer(e *engine.Engine, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "agentlink", Version: Version}, nil)
	t := &tools{engine: e, logger: logger}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "register_agent",
		Description: "Register a new AI agent: creates (or imports) its account, inbound and outbound topics, publishes its profile and records it on the registry topic.",
	}, t.registerAgent)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_agents",
		Description: "Search the agent registry by case-insensitive name substring and/or capability code.",
	}, t.findAgents)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "request_connection",
		Description: "Ask another agent for a connection by appending a connection_request to its inbound topic.",
	}, t.requestConnection)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "accept_connection",
		Description: "Accept a connection request: creates the shared connection topic and notifies the requester.",
	}, t.acceptConnection)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_connections",
		Description: "List the peers and connection topics of an agent.",
	}, t.listConnections)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message on a connection topic. Long messages are stored as chunked objects and sent as an hcs://1/<topicId> locator.",
	}, t.sendMessage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_messages",
		Description: "Read the most recent messages of a connection topic, oldest first.",
	}, t.getMessages)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_data",
		Description: "Resolve a message data field: locators are fetched from the object store, inline text is returned unchanged.",
	}, t.resolveData)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "pending_requests",
		Description: "List connection requests on an agent's inbound topic that have not been accepted yet.",
	}, t.pendingRequests)

	return server
}

// Handler serves server over streamable HTTP. Clients without an
// Mcp-Session-Id header are given one.
func Handler(server *mcp.Server, logger *slog.Logger) http.Handler {
	stream := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server },
		&mcp.StreamableHTTPOptions{Stateless: true})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			sessionID = uuid.New().String()
			r.Header.Set("Mcp-Session-Id", sessionID)
		}
		w.Header().Set("Mcp-Session-Id", sessionID)
		logger.Debug("mcp request", "method", r.Method, "session", sessionID)
		stream.ServeHTTP(w, r)
	})
}

// ListenAndServe serves the MCP endpoint at /mcp on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, server *mcp.Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", Handler(server, logger))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server started", "addr", addr, "path", "/mcp")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type tools struct {
	engine *engine.Engine
	logger *slog.Logger
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(op string, err error) *mcp.CallToolResult {
	r := textResult(fmt.Sprintf("%s failed: %v", op, err))
	r.IsError = true
	return r
}

func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result", err)
	}
	return textResult(string(b))
}

type RegisterInput struct {
	Name         string `json:"name" jsonschema:"agent display name"`
	AccountID    string `json:"accountId,omitempty" jsonschema:"existing account to import (with privateKey)"`
	PrivateKey   string `json:"privateKey,omitempty" jsonschema:"private key of the imported account"`
	Capabilities []int  `json:"capabilities,omitempty" jsonschema:"capability codes"`
	Model        string `json:"model,omitempty"`
	Creator      string `json:"creator,omitempty"`
}

func (t *tools) registerAgent(ctx context.Context, _ *mcp.CallToolRequest, in RegisterInput) (*mcp.CallToolResult, any, error) {
	opts := registry.RegisterOptions(in)
	rec, err := t.engine.Registry.RegisterAgent(ctx, opts)
	if err != nil {
		return errorResult("register_agent", err), nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Registered agent %q\n", rec.Profile.Name)
	fmt.Fprintf(&b, "Account ID: %s\n", rec.AccountID)
	fmt.Fprintf(&b, "Inbound topic: %s\n", rec.Profile.InboundTopicID)
	fmt.Fprintf(&b, "Outbound topic: %s\n", rec.Profile.OutboundTopicID)
	fmt.Fprintf(&b, "Registry topic: %s\n", t.engine.Registry.RegistryTopicID())
	if !opts.Imported() {
		fmt.Fprintf(&b, "Private key: %s\n", rec.PrivateKey)
	}
	return textResult(b.String()), nil, nil
}

type FindInput struct {
	Name       string `json:"name,omitempty" jsonschema:"case-insensitive name substring"`
	Capability *int   `json:"capability,omitempty" jsonschema:"capability code"`
}

func (t *tools) findAgents(ctx context.Context, _ *mcp.CallToolRequest, in FindInput) (*mcp.CallToolResult, any, error) {
	agents, err := t.engine.Registry.FindAgents(ctx, registry.Filter{Name: in.Name, Capability: in.Capability})
	if err != nil {
		return errorResult("find_agents", err), nil, nil
	}
	if len(agents) == 0 {
		return textResult("No agents found."), nil, nil
	}
	return jsonResult(agents), nil, nil
}

type RequestInput struct {
	FromAccount    string `json:"fromAccount" jsonschema:"requesting agent account"`
	FromPrivateKey string `json:"fromPrivateKey,omitempty" jsonschema:"signing key; defaults to the key of a locally registered agent"`
	ToAccount      string `json:"toAccount" jsonschema:"target agent account"`
}

func (t *tools) requestConnection(ctx context.Context, _ *mcp.CallToolRequest, in RequestInput) (*mcp.CallToolResult, any, error) {
	key, err := t.engine.SigningKey(ctx, in.FromAccount, in.FromPrivateKey)
	if err != nil {
		return errorResult("request_connection", err), nil, nil
	}
	seq, err := t.engine.Negotiator.RequestConnection(ctx, in.FromAccount, key, in.ToAccount)
	if err != nil {
		return errorResult("request_connection", err), nil, nil
	}
	return textResult(fmt.Sprintf("Connection requested from %s to %s (sequence number %d).", in.FromAccount, in.ToAccount, seq)), nil, nil
}

type AcceptInput struct {
	FromAccount      string `json:"fromAccount" jsonschema:"accepting agent account"`
	FromPrivateKey   string `json:"fromPrivateKey,omitempty" jsonschema:"signing key; defaults to the key of a locally registered agent"`
	RequesterAccount string `json:"requesterAccount" jsonschema:"account that requested the connection"`
}

func (t *tools) acceptConnection(ctx context.Context, _ *mcp.CallToolRequest, in AcceptInput) (*mcp.CallToolResult, any, error) {
	key, err := t.engine.SigningKey(ctx, in.FromAccount, in.FromPrivateKey)
	if err != nil {
		return errorResult("accept_connection", err), nil, nil
	}
	ch, err := t.engine.Negotiator.AcceptConnection(ctx, in.FromAccount, key, in.RequesterAccount)
	if err != nil {
		return errorResult("accept_connection", err), nil, nil
	}
	return textResult(fmt.Sprintf("Connection established. Connection topic: %s", ch)), nil, nil
}

type AccountInput struct {
	AccountID string `json:"accountId" jsonschema:"agent account"`
}

func (t *tools) listConnections(ctx context.Context, _ *mcp.CallToolRequest, in AccountInput) (*mcp.CallToolResult, any, error) {
	peers, err := t.engine.Negotiator.ListConnections(ctx, in.AccountID)
	if err != nil {
		return errorResult("list_connections", err), nil, nil
	}
	if len(peers) == 0 {
		return textResult("No connections."), nil, nil
	}
	return jsonResult(peers), nil, nil
}

func (t *tools) pendingRequests(ctx context.Context, _ *mcp.CallToolRequest, in AccountInput) (*mcp.CallToolResult, any, error) {
	reqs, err := t.engine.Negotiator.PendingRequests(ctx, in.AccountID)
	if err != nil {
		return errorResult("pending_requests", err), nil, nil
	}
	if len(reqs) == 0 {
		return textResult("No pending requests."), nil, nil
	}
	return jsonResult(reqs), nil, nil
}

type SendInput struct {
	SenderAccount     string `json:"senderAccount" jsonschema:"sending agent account"`
	SenderPrivateKey  string `json:"senderPrivateKey,omitempty" jsonschema:"signing key; defaults to the key of a locally registered agent"`
	ConnectionTopicID string `json:"connectionTopicId" jsonschema:"connection topic"`
	Message           string `json:"message" jsonschema:"message text"`
}

func (t *tools) sendMessage(ctx context.Context, _ *mcp.CallToolRequest, in SendInput) (*mcp.CallToolResult, any, error) {
	key, err := t.engine.SigningKey(ctx, in.SenderAccount, in.SenderPrivateKey)
	if err != nil {
		return errorResult("send_message", err), nil, nil
	}
	seq, err := t.engine.Negotiator.SendMessage(ctx, in.SenderAccount, key, in.ConnectionTopicID, in.Message)
	if err != nil {
		return errorResult("send_message", err), nil, nil
	}
	return textResult(fmt.Sprintf("Message sent (sequence number %d).", seq)), nil, nil
}

type MessagesInput struct {
	ConnectionTopicID string `json:"connectionTopicId" jsonschema:"connection topic"`
	Limit             int    `json:"limit,omitempty" jsonschema:"number of most recent messages (default 10)"`
}

func (t *tools) getMessages(ctx context.Context, _ *mcp.CallToolRequest, in MessagesInput) (*mcp.CallToolResult, any, error) {
	msgs, err := t.engine.Negotiator.GetMessages(ctx, in.ConnectionTopicID, in.Limit)
	if err != nil {
		return errorResult("get_messages", err), nil, nil
	}
	if len(msgs) == 0 {
		return textResult("No messages."), nil, nil
	}
	return textResult(strings.Join(msgs, "\n")), nil, nil
}

type ResolveInput struct {
	Data string `json:"data" jsonschema:"message data field, inline text or hcs://1/<topicId>"`
}

func (t *tools) resolveData(ctx context.Context, _ *mcp.CallToolRequest, in ResolveInput) (*mcp.CallToolResult, any, error) {
	content, err := t.engine.Negotiator.Resolve(ctx, in.Data)
	if err != nil {
		return errorResult("resolve_data", err), nil, nil
	}
	return textResult(string(content)), nil, nil
}
