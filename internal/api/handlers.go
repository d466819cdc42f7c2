package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agentlink/internal/address"
	"agentlink/internal/bus"
	"agentlink/internal/domain"
	"agentlink/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps protocol errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTargetNotFound),
		errors.Is(err, domain.ErrRequesterNotFound),
		errors.Is(err, domain.ErrNoRegistry):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoPendingRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSubmissionFailed), errors.Is(err, domain.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrMissingArgument, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: request body", domain.ErrMissingArgument)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", domain.ErrMissingArgument, err)
	}
	return nil
}

// require reports the first empty field of name/value pairs.
func require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s", domain.ErrMissingArgument, pairs[i])
		}
	}
	return nil
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "agentlink HCS-10 agent connection service is running")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"registryTopicId": s.engine.Registry.RegistryTopicID(),
		"inlineThreshold": s.engine.Negotiator.InlineThreshold(),
		"maxChunkSize":    s.engine.Objects.MaxChunkSize(),
		"time":            time.Now().UTC(),
	})
}

type registerResponse struct {
	AccountID       string              `json:"accountId"`
	PrivateKey      string              `json:"privateKey,omitempty"`
	InboundTopicID  string              `json:"inboundTopicId"`
	OutboundTopicID string              `json:"outboundTopicId"`
	RegistryTopicID string              `json:"registryTopicId"`
	Profile         domain.AgentProfile `json:"profile"`
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var opts registry.RegisterOptions
	if err := decodeBody(r, &opts); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.engine.Registry.RegisterAgent(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := registerResponse{
		AccountID:       rec.AccountID,
		InboundTopicID:  rec.Profile.InboundTopicID,
		OutboundTopicID: rec.Profile.OutboundTopicID,
		RegistryTopicID: s.engine.Registry.RegistryTopicID(),
		Profile:         rec.Profile,
	}
	if !opts.Imported() {
		resp.PrivateKey = rec.PrivateKey
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountId")
	p, err := s.engine.Registry.GetAgentProfile(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "agent profile not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": id, "profile": p})
}

func (s *Server) findAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{Name: q.Get("name")}
	if c := q.Get("capability"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, "capability must be an integer")
			return
		}
		f.Capability = &n
	}
	agents, err := s.engine.Registry.FindAgents(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type connectionRequest struct {
	FromAccount      string `json:"fromAccount"`
	FromPrivateKey   string `json:"fromPrivateKey,omitempty"`
	ToAccount        string `json:"toAccount"`
	RequesterAccount string `json:"requesterAccount"`
}

func (s *Server) requestConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := require("fromAccount", req.FromAccount, "toAccount", req.ToAccount); err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.engine.SigningKey(r.Context(), req.FromAccount, req.FromPrivateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	seq, err := s.engine.Negotiator.RequestConnection(r.Context(), req.FromAccount, key, req.ToAccount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequenceNumber": seq})
}

func (s *Server) acceptConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := require("fromAccount", req.FromAccount, "requesterAccount", req.RequesterAccount); err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.engine.SigningKey(r.Context(), req.FromAccount, req.FromPrivateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.engine.Negotiator.AcceptConnection(r.Context(), req.FromAccount, key, req.RequesterAccount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectionTopicId": ch})
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	peers, err := s.engine.Negotiator.ListConnections(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": peers})
}

func (s *Server) pendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.engine.Negotiator.PendingRequests(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

type sendRequest struct {
	SenderAccount     string `json:"senderAccount"`
	SenderPrivateKey  string `json:"senderPrivateKey,omitempty"`
	ConnectionTopicID string `json:"connectionTopicId"`
	Message           string `json:"message"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := require("senderAccount", req.SenderAccount, "connectionTopicId", req.ConnectionTopicID); err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.engine.SigningKey(r.Context(), req.SenderAccount, req.SenderPrivateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	seq, err := s.engine.Negotiator.SendMessage(r.Context(), req.SenderAccount, key, req.ConnectionTopicID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequenceNumber": seq})
}

type envelopeView struct {
	SequenceNumber uint64              `json:"sequenceNumber"`
	Op             string              `json:"op"`
	OperatorID     string              `json:"operatorId,omitempty"`
	Data           *domain.MessageData `json:"data,omitempty"`
	Memo           string              `json:"memo,omitempty"`
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("connectionTopicId")
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if decode, _ := strconv.ParseBool(q.Get("decode")); decode {
		envs, err := s.engine.Negotiator.GetEnvelopes(r.Context(), channel, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views := make([]envelopeView, 0, len(envs))
		for _, e := range envs {
			v := envelopeView{SequenceNumber: e.SequenceNumber, Op: e.Op, OperatorID: e.OperatorID, Memo: e.Memo}
			if e.Op == domain.OpMessage {
				d := e.Payload()
				v.Data = &d
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, map[string]any{"envelopes": views})
		return
	}

	msgs, err := s.engine.Negotiator.GetMessages(r.Context(), channel, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "topicId")
	if !address.ValidTopicID(id) {
		writeError(w, http.StatusBadRequest, "malformed topic id: "+id)
		return
	}
	content, err := s.engine.Objects.Fetch(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	content, err := s.engine.Negotiator.Resolve(r.Context(), req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    domain.ClassifyData(req.Data).Kind,
		"content": string(content),
	})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	events := s.engine.Bus.Replay(q.Get("type"), since)
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
