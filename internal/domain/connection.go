package domain

import (
	"context"
	"time"
)

// ConnectionRecord is an established channel between two accounts.
// ParticipantA is the requester, ParticipantB the acceptor.
type ConnectionRecord struct {
	ChannelID    string    `json:"connectionTopicId"`
	ParticipantA string    `json:"participantA"`
	ParticipantB string    `json:"participantB"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Has reports whether accountID is one of the two participants.
func (c ConnectionRecord) Has(accountID string) bool {
	return accountID != "" && (c.ParticipantA == accountID || c.ParticipantB == accountID)
}

// PeerOf returns the other participant.
func (c ConnectionRecord) PeerOf(accountID string) string {
	if c.ParticipantA == accountID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Peer is one entry of a connection listing.
type Peer struct {
	Peer      string `json:"peer"`
	ChannelID string `json:"connectionTopicId"`
}

// ConnectionStore is the append-only backing store of the connection directory.
type ConnectionStore interface {
	AddConnection(ctx context.Context, rec ConnectionRecord) error
	// GetConnection returns nil, nil when the channel is unknown.
	GetConnection(ctx context.Context, channelID string) (*ConnectionRecord, error)
	ListConnections(ctx context.Context, accountID string) ([]ConnectionRecord, error)
}

// RequestState is the lifecycle state of a handshake request.
type RequestState string

const (
	RequestRequested RequestState = "requested"
	RequestAccepted  RequestState = "accepted"
	RequestExpired   RequestState = "expired"
)

// HandshakeRequest tracks one connection request keyed by (Requester, Target).
type HandshakeRequest struct {
	ID             string       `json:"id"`
	Requester      string       `json:"requester"`
	Target         string       `json:"target"`
	SequenceNumber uint64       `json:"sequenceNumber"`
	State          RequestState `json:"state"`
	ChannelID      string       `json:"connectionTopicId,omitempty"`
	RequestedAt    time.Time    `json:"requestedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// RequestStore persists handshake requests. PutRequest upserts by
// (Requester, Target).
type RequestStore interface {
	PutRequest(ctx context.Context, req HandshakeRequest) error
	// GetRequest returns nil, nil when no request exists for the pair.
	GetRequest(ctx context.Context, requester, target string) (*HandshakeRequest, error)
	ListRequests(ctx context.Context, accountID string) ([]HandshakeRequest, error)
}

// Store bundles every repository the engine needs.
type Store interface {
	AgentStore
	ConnectionStore
	RequestStore
	Close() error
}
