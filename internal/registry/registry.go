// Package registry publishes agent profiles in account memos, records
// registrations on the shared registry topic and answers discovery queries
// by scanning that topic.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"agentlink/internal/bus"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/metrics"
)

// DefaultInitialBalance funds accounts created at registration, in hbar.
const DefaultInitialBalance = 10

// RegistryTopicMemo is the memo of a lazily created registry topic.
const RegistryTopicMemo = "HCS-2 Agent Registry"

// Config holds the Registry dependencies.
type Config struct {
	Ledger domain.LedgerClient
	Reader domain.LogReader
	Agents domain.AgentStore
	// OperatorKey restricts submissions to a registry topic created here.
	OperatorKey     keys.PrivateKey
	RegistryTopicID string
	InitialBalance  float64
	// OnRegistryCreated is called once when a registry topic is created.
	OnRegistryCreated func(topicID string)
	Bus               *bus.EventBus
	Logger            *slog.Logger
}

// Registry is the profile registry.
type Registry struct {
	ledger    domain.LedgerClient
	reader    domain.LogReader
	agents    domain.AgentStore
	opKey     keys.PrivateKey
	balance   float64
	onCreated func(string)
	bus       *bus.EventBus
	logger    *slog.Logger

	mu         sync.Mutex
	registryID string
}

// New creates a Registry.
func New(cfg Config) *Registry {
	balance := cfg.InitialBalance
	if balance <= 0 {
		balance = DefaultInitialBalance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ledger:     cfg.Ledger,
		reader:     cfg.Reader,
		agents:     cfg.Agents,
		opKey:      cfg.OperatorKey,
		balance:    balance,
		onCreated:  cfg.OnRegistryCreated,
		bus:        cfg.Bus,
		logger:     logger,
		registryID: cfg.RegistryTopicID,
	}
}

// RegisterOptions describe a new agent. AccountID and PrivateKey import an
// existing account and are only used when both are set.
type RegisterOptions struct {
	Name         string `json:"name" yaml:"name"`
	AccountID    string `json:"accountId,omitempty" yaml:"accountId"`
	PrivateKey   string `json:"privateKey,omitempty" yaml:"privateKey"`
	Capabilities []int  `json:"capabilities,omitempty" yaml:"capabilities"`
	Model        string `json:"model,omitempty" yaml:"model"`
	Creator      string `json:"creator,omitempty" yaml:"creator"`
}

// Imported reports whether the options name an existing account.
func (o RegisterOptions) Imported() bool {
	return o.AccountID != "" && o.PrivateKey != ""
}

// RegisterAgent creates (or imports) the agent account, its inbound and
// outbound topics, publishes the profile memo and appends a register event
// to the registry topic. Steps run in order and the first failure aborts;
// entities created before the failure are left in place.
func (r *Registry) RegisterAgent(ctx context.Context, opts RegisterOptions) (*domain.AgentRecord, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: agent name is required", domain.ErrMissingArgument)
	}

	var acct domain.Account
	if opts.Imported() {
		key, err := keys.ParsePrivateKey(opts.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", opts.AccountID, err)
		}
		acct = domain.Account{ID: opts.AccountID, Key: key}
		r.logger.Info("using existing account", "account", acct.ID, "agent", name)
	} else {
		created, err := r.ledger.CreateAccount(ctx, r.balance)
		if err != nil {
			return nil, fmt.Errorf("%w: create account: %v", domain.ErrSubmissionFailed, err)
		}
		acct = created
		r.logger.Info("created account", "account", acct.ID, "agent", name)
	}

	inbound, err := r.ledger.CreateTopic(ctx, "hcs-10:0:60:0:"+acct.ID, domain.TopicOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: create inbound topic: %v", domain.ErrSubmissionFailed, err)
	}
	outbound, err := r.ledger.CreateTopic(ctx, "hcs-10:0:60:1", domain.TopicOptions{SubmitKey: acct.Key.Public()})
	if err != nil {
		return nil, fmt.Errorf("%w: create outbound topic: %v", domain.ErrSubmissionFailed, err)
	}

	profile := domain.AgentProfile{
		Name:            name,
		InboundTopicID:  inbound,
		OutboundTopicID: outbound,
		Type:            domain.AgentTypeAI,
		Capabilities:    append([]int{}, opts.Capabilities...),
		Model:           opts.Model,
		Creator:         opts.Creator,
	}
	memo, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := r.ledger.SetAccountMemo(ctx, acct.ID, string(memo), acct.Key); err != nil {
		return nil, fmt.Errorf("%w: set profile memo on %s: %v", domain.ErrSubmissionFailed, acct.ID, err)
	}

	registryID, err := r.ensureRegistryTopic(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := domain.Envelope{
		Protocol:  domain.Protocol,
		Op:        domain.OpRegister,
		AccountID: acct.ID,
		Memo:      fmt.Sprintf("Registering AI agent %q.", name),
	}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.SubmitMessage(ctx, registryID, payload, acct.Key); err != nil {
		return nil, fmt.Errorf("%w: register on %s: %v", domain.ErrSubmissionFailed, registryID, err)
	}

	rec := domain.AgentRecord{AccountID: acct.ID, PrivateKey: acct.Key.String(), Profile: profile}
	if err := r.agents.PutAgent(ctx, rec); err != nil {
		return nil, fmt.Errorf("cache agent %s: %w", acct.ID, err)
	}

	metrics.AgentsRegistered.Inc()
	r.logger.Info("agent registered", "account", acct.ID, "name", name, "registry", registryID)
	r.bus.Emit(bus.Event{
		Type:   bus.EventAgentRegistered,
		Source: "registry",
		Payload: map[string]any{
			"accountId": acct.ID,
			"name":      name,
			"inbound":   inbound,
			"outbound":  outbound,
			"imported":  opts.Imported(),
		},
	})
	return &rec, nil
}

// ensureRegistryTopic returns the configured registry topic, creating one
// restricted to the operator key on first use.
func (r *Registry) ensureRegistryTopic(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registryID != "" {
		return r.registryID, nil
	}
	r.logger.Info("no registry topic configured, creating one")
	var opts domain.TopicOptions
	if !r.opKey.IsZero() {
		opts.SubmitKey = r.opKey.Public()
	}
	id, err := r.ledger.CreateTopic(ctx, RegistryTopicMemo, opts)
	if err != nil {
		return "", fmt.Errorf("%w: create registry topic: %v", domain.ErrSubmissionFailed, err)
	}
	r.registryID = id
	r.logger.Info("created registry topic", "topic", id)
	if r.onCreated != nil {
		r.onCreated(id)
	}
	return id, nil
}

// RegistryTopicID returns the registry topic, or "" before one is known.
func (r *Registry) RegistryTopicID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registryID
}

// Agent returns the locally cached record, or nil.
func (r *Registry) Agent(ctx context.Context, accountID string) (*domain.AgentRecord, error) {
	return r.agents.GetAgent(ctx, accountID)
}

// Agents lists every locally cached record.
func (r *Registry) Agents(ctx context.Context) ([]domain.AgentRecord, error) {
	return r.agents.ListAgents(ctx)
}

// SigningKey decodes supplied when set, otherwise falls back to the key
// held for an agent registered through this process.
func (r *Registry) SigningKey(ctx context.Context, accountID, supplied string) (keys.PrivateKey, error) {
	if supplied != "" {
		return keys.ParsePrivateKey(supplied)
	}
	rec, err := r.agents.GetAgent(ctx, accountID)
	if err != nil {
		return keys.PrivateKey{}, err
	}
	if rec == nil || rec.PrivateKey == "" {
		return keys.PrivateKey{}, fmt.Errorf("%w: no signing key for %s", domain.ErrMissingArgument, accountID)
	}
	return keys.ParsePrivateKey(rec.PrivateKey)
}

// GetAgentProfile returns the cached profile, or the profile published in
// the account memo. A missing or unparsable memo yields nil without error.
func (r *Registry) GetAgentProfile(ctx context.Context, accountID string) (*domain.AgentProfile, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrMissingArgument)
	}
	rec, err := r.agents.GetAgent(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: agent cache: %v", domain.ErrFetchFailed, err)
	}
	if rec != nil {
		p := rec.Profile
		return &p, nil
	}

	memo, err := r.ledger.GetAccountMemo(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: memo of %s: %v", domain.ErrFetchFailed, accountID, err)
	}
	if strings.TrimSpace(memo) == "" {
		return nil, nil
	}
	var p domain.AgentProfile
	if err := json.Unmarshal([]byte(memo), &p); err != nil {
		r.logger.Warn("account memo is not a profile", "account", accountID, "err", err)
		return nil, nil
	}
	return &p, nil
}

// Filter narrows FindAgents. Zero values match everything.
type Filter struct {
	Name       string
	Capability *int
}

// Match reports whether p satisfies every set criterion.
func (f Filter) Match(p domain.AgentProfile) bool {
	if f.Name != "" && !p.NameContains(f.Name) {
		return false
	}
	if f.Capability != nil && !p.HasCapability(*f.Capability) {
		return false
	}
	return true
}

// FindAgents scans the registry topic in append order and returns the
// profiles matching f. Accounts registered twice appear twice.
func (r *Registry) FindAgents(ctx context.Context, f Filter) ([]domain.AgentProfile, error) {
	registryID := r.RegistryTopicID()
	if registryID == "" {
		return nil, domain.ErrNoRegistry
	}
	msgs, err := r.reader.ReadMessages(ctx, registryID, domain.ReadOptions{Order: domain.OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("%w: registry %s: %v", domain.ErrFetchFailed, registryID, err)
	}

	results := []domain.AgentProfile{}
	for _, m := range msgs {
		env, err := domain.DecodeEnvelope(m.Payload)
		if err != nil {
			r.logger.Warn("skipping malformed registry entry", "topic", registryID, "seq", m.SequenceNumber, "err", err)
			continue
		}
		if env.Op != domain.OpRegister || env.AccountID == "" {
			r.logger.Warn("skipping non-register registry entry", "topic", registryID, "seq", m.SequenceNumber, "op", env.Op)
			continue
		}
		p, err := r.GetAgentProfile(ctx, env.AccountID)
		if err != nil {
			r.logger.Warn("skipping registry entry with unreadable profile", "account", env.AccountID, "err", err)
			continue
		}
		if p == nil || !f.Match(*p) {
			continue
		}
		results = append(results, *p)
	}
	return results, nil
}
