// Package negotiator drives the connection handshake between two agents
// and the exchange of messages on established connection topics.
//
// A requester appends connection_request to the target's inbound topic.
// The target accepts by creating a connection topic, announcing it with
// connection_created on the requester's inbound topic and recording the
// pair in the connection directory. Messages are then appended to the
// connection topic; bodies above the inline threshold are stored as
// chunked objects and referenced by locator.
package negotiator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"agentlink/internal/address"
	"agentlink/internal/advisory"
	"agentlink/internal/bus"
	"agentlink/internal/directory"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/metrics"
	"agentlink/internal/objectstore"
)

// DefaultInlineThreshold is the largest message body, in bytes, sent inline.
const DefaultInlineThreshold = 1000

// DefaultMessageLimit is used by GetMessages when no limit is given.
const DefaultMessageLimit = 10

// Envelope memos.
const (
	memoRequest = "Requesting connection."
	memoCreated = "Connection established."
	memoMessage = "Message from agent."
)

// Profiles resolves published agent profiles.
type Profiles interface {
	GetAgentProfile(ctx context.Context, accountID string) (*domain.AgentProfile, error)
}

// Config holds the Negotiator dependencies.
type Config struct {
	Profiles  Profiles
	Ledger    domain.LedgerClient
	Reader    domain.LogReader
	Directory *directory.Directory
	Objects   *objectstore.Store
	Requests  domain.RequestStore
	// InlineThreshold is independent of the object store chunk size.
	InlineThreshold int
	// StrictHandshake rejects accepts that match no outstanding request.
	StrictHandshake bool
	// RequestTTL expires unanswered requests; zero keeps them forever.
	RequestTTL time.Duration
	Bus        *bus.EventBus
	Logger     *slog.Logger
}

// Negotiator implements the connection protocol.
type Negotiator struct {
	profiles  Profiles
	ledger    domain.LedgerClient
	reader    domain.LogReader
	dir       *directory.Directory
	objects   *objectstore.Store
	tracker   *tracker
	threshold int
	strict    bool
	advisory  advisory.Runner
	bus       *bus.EventBus
	logger    *slog.Logger
}

// New creates a Negotiator.
func New(cfg Config) *Negotiator {
	threshold := cfg.InlineThreshold
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		profiles:  cfg.Profiles,
		ledger:    cfg.Ledger,
		reader:    cfg.Reader,
		dir:       cfg.Directory,
		objects:   cfg.Objects,
		tracker:   &tracker{store: cfg.Requests, ttl: cfg.RequestTTL, now: time.Now},
		threshold: threshold,
		strict:    cfg.StrictHandshake,
		advisory:  advisory.Runner{Logger: logger, Bus: cfg.Bus},
		bus:       cfg.Bus,
		logger:    logger,
	}
}

// InlineThreshold returns the configured inline threshold.
func (n *Negotiator) InlineThreshold() int { return n.threshold }

func requireArgs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", domain.ErrMissingArgument, pairs[i])
		}
	}
	return nil
}

func requireKey(k keys.PrivateKey) error {
	if k.IsZero() {
		return fmt.Errorf("%w: signing key", domain.ErrMissingArgument)
	}
	return nil
}

func (n *Negotiator) submit(ctx context.Context, topicID string, env domain.Envelope, key keys.PrivateKey) (uint64, error) {
	payload, err := env.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode %s envelope: %w", env.Op, err)
	}
	seq, err := n.ledger.SubmitMessage(ctx, topicID, payload, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %v", domain.ErrSubmissionFailed, env.Op, topicID, err)
	}
	return seq, nil
}

// RequestConnection appends a connection request to the target's inbound
// topic and returns its sequence number, which identifies the request.
func (n *Negotiator) RequestConnection(ctx context.Context, from string, fromKey keys.PrivateKey, to string) (uint64, error) {
	if err := requireArgs("fromAccount", from, "toAccount", to); err != nil {
		return 0, err
	}
	if err := requireKey(fromKey); err != nil {
		return 0, err
	}
	if from == to {
		return 0, fmt.Errorf("%w: %s cannot connect to itself", domain.ErrMissingArgument, from)
	}

	target, err := n.profiles.GetAgentProfile(ctx, to)
	if err != nil {
		return 0, err
	}
	if target == nil || target.InboundTopicID == "" {
		return 0, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, to)
	}

	seq, err := n.submit(ctx, target.InboundTopicID, domain.Envelope{
		Protocol:   domain.Protocol,
		Op:         domain.OpConnectionRequest,
		OperatorID: address.FormatOperator(target.InboundTopicID, from),
		Memo:       memoRequest,
	}, fromKey)
	if err != nil {
		return 0, err
	}

	n.advisory.Run(ctx, "track_request", func(ctx context.Context) error {
		_, err := n.tracker.requested(ctx, from, to, seq)
		return err
	}, "requester", from, "target", to)

	metrics.ConnectionRequests.Inc()
	n.logger.Info("connection requested", "from", from, "to", to, "topic", target.InboundTopicID, "seq", seq)
	n.bus.Emit(bus.Event{
		Type:    bus.EventConnectionRequested,
		Source:  "negotiator",
		Payload: map[string]any{"requester": from, "target": to, "inboundTopicId": target.InboundTopicID, "sequenceNumber": seq},
	})
	return seq, nil
}

// AcceptConnection creates a connection topic for (requester, from),
// announces it on the requester's inbound topic, mirrors the announcement on
// the acceptor's outbound topic when possible and records the connection.
// Accepts of the same pair are serialized within one Negotiator; accepts
// racing from separate processes may both be reported as first.
func (n *Negotiator) AcceptConnection(ctx context.Context, from string, fromKey keys.PrivateKey, requester string) (string, error) {
	if err := requireArgs("fromAccount", from, "requesterAccount", requester); err != nil {
		return "", err
	}
	if err := requireKey(fromKey); err != nil {
		return "", err
	}
	if from == requester {
		return "", fmt.Errorf("%w: %s cannot connect to itself", domain.ErrMissingArgument, from)
	}

	reqProfile, err := n.profiles.GetAgentProfile(ctx, requester)
	if err != nil {
		return "", err
	}
	if reqProfile == nil || reqProfile.InboundTopicID == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrRequesterNotFound, requester)
	}

	// Concurrent accepts of one pair must agree on which one is the duplicate.
	release := n.tracker.hold(requester, from)
	defer release()

	prior, err := n.tracker.lookup(ctx, requester, from)
	if err != nil {
		return "", fmt.Errorf("handshake record %s->%s: %w", requester, from, err)
	}
	pending := prior != nil && prior.State == domain.RequestRequested
	duplicate := prior != nil && prior.State == domain.RequestAccepted
	var requestSeq uint64
	if pending {
		requestSeq = prior.SequenceNumber
	}

	if n.strict && !pending {
		// The request may have been made by another process; look at the log.
		inbound, err := n.PendingRequests(ctx, from)
		if err != nil {
			return "", err
		}
		if i := slices.IndexFunc(inbound, func(r InboundRequest) bool { return r.Requester == requester }); i >= 0 {
			pending, duplicate = true, false
			requestSeq = inbound[i].SequenceNumber
		}
	}
	if n.strict && !pending {
		return "", fmt.Errorf("%w: from %s to %s", domain.ErrNoPendingRequest, requester, from)
	}
	if duplicate {
		n.logger.Warn("accepting an already accepted connection request",
			"requester", requester, "acceptor", from, "previous", prior.ChannelID)
		n.bus.Emit(bus.Event{
			Type:    bus.EventDuplicateAccept,
			Source:  "negotiator",
			Payload: map[string]any{"requester": requester, "acceptor": from, "previousTopicId": prior.ChannelID},
		})
	}

	channelID, err := n.ledger.CreateTopic(ctx, fmt.Sprintf("Connection %s<->%s", from, requester), domain.TopicOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: create connection topic: %v", domain.ErrSubmissionFailed, err)
	}
	n.logger.Info("created connection topic", "topic", channelID, "acceptor", from, "requester", requester)

	if _, err := n.submit(ctx, reqProfile.InboundTopicID, domain.Envelope{
		Protocol:           domain.Protocol,
		Op:                 domain.OpConnectionCreated,
		ConnectionTopicID:  channelID,
		ConnectedAccountID: from,
		OperatorID:         address.FormatOperator(reqProfile.InboundTopicID, from),
		Memo:               memoCreated,
	}, fromKey); err != nil {
		return "", err
	}

	n.advisory.Run(ctx, "outbound_mirror", func(ctx context.Context) error {
		return n.mirrorOnOutbound(ctx, from, fromKey, requester, reqProfile, channelID)
	}, "acceptor", from, "topic", channelID)

	if err := n.dir.Add(ctx, domain.ConnectionRecord{
		ChannelID:    channelID,
		ParticipantA: requester,
		ParticipantB: from,
	}); err != nil {
		return "", fmt.Errorf("record connection %s: %w", channelID, err)
	}

	n.advisory.Run(ctx, "track_accept", func(ctx context.Context) error {
		return n.tracker.accepted(ctx, prior, requester, from, channelID, requestSeq)
	}, "requester", requester, "acceptor", from)

	metrics.ConnectionsAccepted.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
	n.logger.Info("connection established", "topic", channelID, "requester", requester, "acceptor", from)
	n.bus.Emit(bus.Event{
		Type:    bus.EventConnectionAccepted,
		Source:  "negotiator",
		Payload: map[string]any{"requester": requester, "acceptor": from, "connectionTopicId": channelID, "duplicate": duplicate},
	})
	return channelID, nil
}

// mirrorOnOutbound logs the new connection on the acceptor's outbound topic.
// Acceptors without a published outbound topic are skipped.
func (n *Negotiator) mirrorOnOutbound(ctx context.Context, from string, fromKey keys.PrivateKey, requester string, reqProfile *domain.AgentProfile, channelID string) error {
	acceptor, err := n.profiles.GetAgentProfile(ctx, from)
	if err != nil {
		return err
	}
	if acceptor == nil || acceptor.OutboundTopicID == "" {
		n.logger.Debug("acceptor has no outbound topic, skipping mirror", "acceptor", from)
		return nil
	}
	_, err = n.submit(ctx, acceptor.OutboundTopicID, domain.Envelope{
		Protocol:                 domain.Protocol,
		Op:                       domain.OpConnectionCreated,
		ConnectionTopicID:        channelID,
		ConnectedAccountID:       requester,
		OperatorID:               address.FormatOperator(acceptor.InboundTopicID, from),
		OutboundTopicID:          acceptor.OutboundTopicID,
		RequestorOutboundTopicID: reqProfile.OutboundTopicID,
		Memo:                     "Connected with agent " + requester,
	}, fromKey)
	return err
}

// SendMessage appends a message from sender to the connection topic.
// Messages longer than the inline threshold are stored as objects and sent
// as a locator.
func (n *Negotiator) SendMessage(ctx context.Context, sender string, senderKey keys.PrivateKey, channelID, message string) (uint64, error) {
	if err := requireArgs("senderAccount", sender, "connectionTopicId", channelID); err != nil {
		return 0, err
	}
	if err := requireKey(senderKey); err != nil {
		return 0, err
	}

	member, err := n.dir.IsParticipant(ctx, channelID, sender)
	if err != nil {
		return 0, fmt.Errorf("directory lookup %s: %w", channelID, err)
	}
	if !member {
		return 0, fmt.Errorf("%w: %s on %s", domain.ErrNotAParticipant, sender, channelID)
	}

	data, kind := message, domain.DataInline
	if len(message) > n.threshold {
		objectID, err := n.objects.Store(ctx, []byte(message), sender, senderKey)
		if err != nil {
			return 0, err
		}
		data, kind = address.FormatLocator(objectID), domain.DataLocator
		n.logger.Info("message stored as object", "topic", objectID, "bytes", len(message))
	}

	seq, err := n.submit(ctx, channelID, domain.Envelope{
		Protocol:   domain.Protocol,
		Op:         domain.OpMessage,
		OperatorID: n.operatorFor(ctx, sender),
		Data:       data,
		Memo:       memoMessage,
	}, senderKey)
	if err != nil {
		return 0, err
	}

	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	n.logger.Info("message sent", "sender", sender, "topic", channelID, "seq", seq, "data", kind)
	n.bus.Emit(bus.Event{
		Type:    bus.EventMessageSent,
		Source:  "negotiator",
		Payload: map[string]any{"sender": sender, "connectionTopicId": channelID, "sequenceNumber": seq, "data": string(kind), "bytes": len(message)},
	})
	return seq, nil
}

// operatorFor builds "<inbound>@<account>" for the sender, falling back to
// the bare account when its profile cannot be resolved.
func (n *Negotiator) operatorFor(ctx context.Context, account string) string {
	p, err := n.profiles.GetAgentProfile(ctx, account)
	if err != nil || p == nil || p.InboundTopicID == "" {
		n.logger.Warn("sender profile unavailable, using bare account as operator", "account", account, "err", err)
		return account
	}
	return address.FormatOperator(p.InboundTopicID, account)
}

// readRecent returns up to limit of the newest entries in chronological order.
func (n *Negotiator) readRecent(ctx context.Context, channelID string, limit int) ([]domain.LogMessage, error) {
	if err := requireArgs("connectionTopicId", channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	msgs, err := n.reader.ReadMessages(ctx, channelID, domain.ReadOptions{Order: domain.OrderDesc, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: messages of %s: %v", domain.ErrFetchFailed, channelID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// GetMessages returns the data field of the most recent entries on a
// connection topic, oldest first. Locators are returned as is; entries that
// are not message envelopes are returned as their raw text.
func (n *Negotiator) GetMessages(ctx context.Context, channelID string, limit int) ([]string, error) {
	msgs, err := n.readRecent(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		env, err := domain.DecodeEnvelope(m.Payload)
		if err != nil || env.Op != domain.OpMessage {
			out = append(out, string(m.Payload))
			continue
		}
		out = append(out, env.Data)
	}
	return out, nil
}

// GetEnvelopes is GetMessages with the envelopes decoded. Undecodable entries
// are skipped.
func (n *Negotiator) GetEnvelopes(ctx context.Context, channelID string, limit int) ([]domain.Envelope, error) {
	msgs, err := n.readRecent(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Envelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := domain.DecodeEnvelope(m.Payload)
		if err != nil {
			n.logger.Warn("skipping undecodable entry", "topic", channelID, "seq", m.SequenceNumber, "err", err)
			continue
		}
		env.SequenceNumber = m.SequenceNumber
		out = append(out, env)
	}
	return out, nil
}

// Resolve dereferences a message data field: locators are fetched from the
// object store, inline text is returned unchanged.
func (n *Negotiator) Resolve(ctx context.Context, data string) ([]byte, error) {
	d := domain.ClassifyData(data)
	if d.Kind == domain.DataLocator {
		return n.objects.Fetch(ctx, d.TopicID)
	}
	return []byte(d.Text), nil
}

// ListConnections lists the account's peers.
func (n *Negotiator) ListConnections(ctx context.Context, accountID string) ([]domain.Peer, error) {
	if err := requireArgs("accountId", accountID); err != nil {
		return nil, err
	}
	return n.dir.ListConnections(ctx, accountID)
}

// Requests lists tracked handshake records involving accountID.
func (n *Negotiator) Requests(ctx context.Context, accountID string) ([]domain.HandshakeRequest, error) {
	if err := requireArgs("accountId", accountID); err != nil {
		return nil, err
	}
	return n.tracker.list(ctx, accountID)
}
