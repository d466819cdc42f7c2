package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agentlink/internal/domain"
)

// tracker records handshake requests per (requester, target) pair.
type tracker struct {
	store domain.RequestStore
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	pairs map[string]*pairLock
}

type pairLock struct {
	sync.Mutex
	refs int
}

// hold serializes work on one (requester, target) pair within this process
// and returns the release func. Locks are dropped once nobody holds them.
func (t *tracker) hold(requester, target string) func() {
	key := requester + "|" + target
	t.mu.Lock()
	if t.pairs == nil {
		t.pairs = make(map[string]*pairLock)
	}
	l, ok := t.pairs[key]
	if !ok {
		l = &pairLock{}
		t.pairs[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(t.pairs, key)
		}
		t.mu.Unlock()
	}
}

// requested records an outgoing request, replacing any earlier one for the
// same pair.
func (t *tracker) requested(ctx context.Context, requester, target string, seq uint64) (domain.HandshakeRequest, error) {
	now := t.now()
	req := domain.HandshakeRequest{
		ID:             ulid.Make().String(),
		Requester:      requester,
		Target:         target,
		SequenceNumber: seq,
		State:          domain.RequestRequested,
		RequestedAt:    now,
		UpdatedAt:      now,
	}
	return req, t.store.PutRequest(ctx, req)
}

// lookup returns the pair's record with TTL expiry applied and persisted.
func (t *tracker) lookup(ctx context.Context, requester, target string) (*domain.HandshakeRequest, error) {
	req, err := t.store.GetRequest(ctx, requester, target)
	if err != nil || req == nil {
		return req, err
	}
	if t.expired(*req) {
		req.State = domain.RequestExpired
		req.UpdatedAt = t.now()
		if err := t.store.PutRequest(ctx, *req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (t *tracker) expired(req domain.HandshakeRequest) bool {
	return t.ttl > 0 && req.State == domain.RequestRequested && t.now().Sub(req.RequestedAt) > t.ttl
}

// accepted marks the pair accepted on channelID. prior may be nil when the
// request is only known from the inbound log.
func (t *tracker) accepted(ctx context.Context, prior *domain.HandshakeRequest, requester, target, channelID string, seq uint64) error {
	now := t.now()
	req := domain.HandshakeRequest{
		ID:             ulid.Make().String(),
		Requester:      requester,
		Target:         target,
		SequenceNumber: seq,
		RequestedAt:    now,
	}
	if prior != nil {
		req.ID = prior.ID
		req.RequestedAt = prior.RequestedAt
		if req.SequenceNumber == 0 {
			req.SequenceNumber = prior.SequenceNumber
		}
	}
	req.State = domain.RequestAccepted
	req.ChannelID = channelID
	req.UpdatedAt = now
	return t.store.PutRequest(ctx, req)
}

// list returns every record involving accountID with expiry applied.
func (t *tracker) list(ctx context.Context, accountID string) ([]domain.HandshakeRequest, error) {
	reqs, err := t.store.ListRequests(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if t.expired(reqs[i]) {
			reqs[i].State = domain.RequestExpired
			reqs[i].UpdatedAt = t.now()
			if err := t.store.PutRequest(ctx, reqs[i]); err != nil {
				return nil, err
			}
		}
	}
	return reqs, nil
}
