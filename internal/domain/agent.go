package domain

import (
	"context"
	"slices"
	"strings"
)

// AgentTypeAI is the profile type for AI agents.
const AgentTypeAI = 1

// AgentProfile is the discoverable identity published in an account memo.
type AgentProfile struct {
	Name            string `json:"name"`
	InboundTopicID  string `json:"inboundTopicId"`
	OutboundTopicID string `json:"outboundTopicId"`
	Type            int    `json:"type"`
	Capabilities    []int  `json:"capabilities"`
	Model           string `json:"model,omitempty"`
	Creator         string `json:"creator,omitempty"`
}

// HasCapability reports whether code is in the capability set.
func (p AgentProfile) HasCapability(code int) bool {
	return slices.Contains(p.Capabilities, code)
}

// NameContains is a case-insensitive substring match on the profile name.
func (p AgentProfile) NameContains(s string) bool {
	return strings.Contains(strings.ToLower(p.Name), strings.ToLower(s))
}

// AgentRecord is a locally cached agent. PrivateKey is empty for agents
// this process did not register.
type AgentRecord struct {
	AccountID  string       `json:"accountId"`
	PrivateKey string       `json:"privateKey,omitempty"`
	Profile    AgentProfile `json:"profile"`
}

// AgentStore caches agent records keyed by account id.
type AgentStore interface {
	PutAgent(ctx context.Context, rec AgentRecord) error
	// GetAgent returns nil, nil when the account is unknown.
	GetAgent(ctx context.Context, accountID string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]AgentRecord, error)
}
