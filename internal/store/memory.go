package store

import (
	"context"
	"fmt"
	"sync"

	"agentlink/internal/domain"
)

// Memory keeps every record in process memory. All access is serialized by
// one RWMutex.
type Memory struct {
	mu          sync.RWMutex
	agents      map[string]domain.AgentRecord
	agentOrder  []string
	connections []domain.ConnectionRecord
	byChannel   map[string]int
	requests    map[[2]string]domain.HandshakeRequest
	reqOrder    [][2]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:    make(map[string]domain.AgentRecord),
		byChannel: make(map[string]int),
		requests:  make(map[[2]string]domain.HandshakeRequest),
	}
}

func (m *Memory) PutAgent(ctx context.Context, rec domain.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.agents[rec.AccountID]
	if !ok {
		m.agentOrder = append(m.agentOrder, rec.AccountID)
	}
	if rec.PrivateKey == "" {
		rec.PrivateKey = prev.PrivateKey
	}
	rec.Profile.Capabilities = append([]int(nil), rec.Profile.Capabilities...)
	m.agents[rec.AccountID] = rec
	return nil
}

func (m *Memory) GetAgent(ctx context.Context, accountID string) (*domain.AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.agents[accountID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AgentRecord, 0, len(m.agentOrder))
	for _, id := range m.agentOrder {
		out = append(out, m.agents[id])
	}
	return out, nil
}

func (m *Memory) AddConnection(ctx context.Context, rec domain.ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byChannel[rec.ChannelID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, rec.ChannelID)
	}
	m.byChannel[rec.ChannelID] = len(m.connections)
	m.connections = append(m.connections, rec)
	return nil
}

func (m *Memory) GetConnection(ctx context.Context, channelID string) (*domain.ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byChannel[channelID]
	if !ok {
		return nil, nil
	}
	rec := m.connections[i]
	return &rec, nil
}

func (m *Memory) ListConnections(ctx context.Context, accountID string) ([]domain.ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.ConnectionRecord{}
	for _, c := range m.connections {
		if c.Has(accountID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) PutRequest(ctx context.Context, req domain.HandshakeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{req.Requester, req.Target}
	if _, ok := m.requests[key]; !ok {
		m.reqOrder = append(m.reqOrder, key)
	}
	m.requests[key] = req
	return nil
}

func (m *Memory) GetRequest(ctx context.Context, requester, target string) (*domain.HandshakeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[[2]string{requester, target}]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *Memory) ListRequests(ctx context.Context, accountID string) ([]domain.HandshakeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.HandshakeRequest{}
	for _, key := range m.reqOrder {
		if key[0] == accountID || key[1] == accountID {
			out = append(out, m.requests[key])
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
