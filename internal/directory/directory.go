// Package directory indexes established connections by topic and by
// participant.
package directory

import (
	"context"
	"fmt"
	"time"

	"agentlink/internal/domain"
)

// Directory is the append-only index of established connections. Records
// are never mutated or removed; concurrency is handled by the backing store.
type Directory struct {
	store domain.ConnectionStore
	now   func() time.Time
}

// New wraps a connection store.
func New(store domain.ConnectionStore) *Directory {
	return &Directory{store: store, now: time.Now}
}

// Add records a connection. Both participants must be set and distinct.
func (d *Directory) Add(ctx context.Context, rec domain.ConnectionRecord) error {
	if rec.ChannelID == "" || rec.ParticipantA == "" || rec.ParticipantB == "" {
		return fmt.Errorf("%w: connection needs a topic and two participants", domain.ErrMissingArgument)
	}
	if rec.ParticipantA == rec.ParticipantB {
		return fmt.Errorf("%w: %s cannot connect to itself", domain.ErrMissingArgument, rec.ParticipantA)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.now()
	}
	return d.store.AddConnection(ctx, rec)
}

// Get returns the record for a channel, or nil when unknown.
func (d *Directory) Get(ctx context.Context, channelID string) (*domain.ConnectionRecord, error) {
	return d.store.GetConnection(ctx, channelID)
}

// IsParticipant reports whether accountID is one of the channel's two
// participants. Unknown channels have no participants.
func (d *Directory) IsParticipant(ctx context.Context, channelID, accountID string) (bool, error) {
	rec, err := d.store.GetConnection(ctx, channelID)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Has(accountID), nil
}

// ListConnections returns the peer and channel of every connection the
// account takes part in, in creation order. The result is never nil.
func (d *Directory) ListConnections(ctx context.Context, accountID string) ([]domain.Peer, error) {
	recs, err := d.store.ListConnections(ctx, accountID)
	if err != nil {
		return nil, err
	}
	peers := make([]domain.Peer, 0, len(recs))
	for _, r := range recs {
		peers = append(peers, domain.Peer{Peer: r.PeerOf(accountID), ChannelID: r.ChannelID})
	}
	return peers, nil
}
