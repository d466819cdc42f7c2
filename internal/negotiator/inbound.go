package negotiator

import (
	"context"
	"fmt"
	"time"

	"agentlink/internal/domain"
)

// InboundRequest is a connection request found on an agent's inbound topic.
type InboundRequest struct {
	Requester      string              `json:"requester"`
	SequenceNumber uint64              `json:"sequenceNumber"`
	State          domain.RequestState `json:"state"`
	// ChannelID is set once the request has been accepted.
	ChannelID string `json:"connectionTopicId,omitempty"`
}

// PendingRequests scans the inbound topic of accountID for connection
// requests that have not been accepted or expired. Only the latest request
// per requester is kept.
func (n *Negotiator) PendingRequests(ctx context.Context, accountID string) ([]InboundRequest, error) {
	all, err := n.InboundRequests(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pending := make([]InboundRequest, 0, len(all))
	for _, r := range all {
		if r.State == domain.RequestRequested {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// InboundRequests lists every connection request on the inbound topic of
// accountID, latest per requester, with its tracked state.
func (n *Negotiator) InboundRequests(ctx context.Context, accountID string) ([]InboundRequest, error) {
	if err := requireArgs("accountId", accountID); err != nil {
		return nil, err
	}
	profile, err := n.profiles.GetAgentProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if profile == nil || profile.InboundTopicID == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, accountID)
	}

	msgs, err := n.reader.ReadMessages(ctx, profile.InboundTopicID, domain.ReadOptions{Order: domain.OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("%w: inbound topic %s: %v", domain.ErrFetchFailed, profile.InboundTopicID, err)
	}

	index := map[string]int{}
	var out []InboundRequest
	var at []time.Time
	for _, m := range msgs {
		env, err := domain.DecodeEnvelope(m.Payload)
		if err != nil || env.Op != domain.OpConnectionRequest {
			continue
		}
		op, err := env.Operator()
		if err != nil {
			n.logger.Warn("skipping request with malformed operator", "topic", profile.InboundTopicID, "seq", m.SequenceNumber, "err", err)
			continue
		}
		if op.AccountID == accountID {
			continue
		}
		req := InboundRequest{Requester: op.AccountID, SequenceNumber: m.SequenceNumber, State: domain.RequestRequested}
		if i, ok := index[op.AccountID]; ok {
			out[i], at[i] = req, m.ConsensusAt
			continue
		}
		index[op.AccountID] = len(out)
		out = append(out, req)
		at = append(at, m.ConsensusAt)
	}

	for i := range out {
		rec, err := n.tracker.lookup(ctx, out[i].Requester, accountID)
		if err != nil {
			return nil, fmt.Errorf("handshake record %s->%s: %w", out[i].Requester, accountID, err)
		}
		out[i].State = n.inboundState(rec, out[i].SequenceNumber, at[i])
		if out[i].State == domain.RequestAccepted {
			out[i].ChannelID = rec.ChannelID
		}
	}
	if out == nil {
		out = []InboundRequest{}
	}
	return out, nil
}

// inboundState decides whether the tracked record covers the request logged
// at seq. Records accepted without a known request sequence cover every
// request logged before the accept.
func (n *Negotiator) inboundState(rec *domain.HandshakeRequest, seq uint64, at time.Time) domain.RequestState {
	if rec == nil {
		if n.tracker.expired(domain.HandshakeRequest{State: domain.RequestRequested, RequestedAt: at}) && !at.IsZero() {
			return domain.RequestExpired
		}
		return domain.RequestRequested
	}
	covers := rec.SequenceNumber >= seq || (rec.SequenceNumber == 0 && !at.After(rec.UpdatedAt))
	if !covers || rec.State == domain.RequestRequested {
		if n.tracker.expired(domain.HandshakeRequest{State: domain.RequestRequested, RequestedAt: at}) && !at.IsZero() {
			return domain.RequestExpired
		}
		return domain.RequestRequested
	}
	return rec.State
}
