// Package ledger provides Ledger Client and Log Reader implementations: an
// in-process ledger, a Redis-backed shared ledger, a Hedera network client
// and a mirror node reader.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

// Errors returned by the simulated ledgers.
var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrUnknownAccount = errors.New("unknown account")
	ErrUnsigned       = errors.New("submission is not signed")
	ErrInvalidSigner  = errors.New("signature does not satisfy the topic submit key")
)

type memTopic struct {
	memo      string
	submitKey keys.PublicKey
	messages  []domain.LogMessage
}

type memAccount struct {
	key     keys.PublicKey
	memo    string
	balance float64
}

// Memory is an in-process ledger. Entity ids are allocated as 0.0.N from a
// single counter and every topic numbers its messages from 1.
type Memory struct {
	mu       sync.RWMutex
	operator keys.PrivateKey
	nextNum  uint64
	topics   map[string]*memTopic
	accounts map[string]*memAccount
	now      func() time.Time
}

// NewMemory creates an empty ledger whose operator co-signs every submission.
func NewMemory(operator keys.PrivateKey) *Memory {
	return &Memory{
		operator: operator,
		nextNum:  1000,
		topics:   make(map[string]*memTopic),
		accounts: make(map[string]*memAccount),
		now:      time.Now,
	}
}

func (m *Memory) allocID() string {
	m.nextNum++
	return fmt.Sprintf("0.0.%d", m.nextNum)
}

// CreateAccount implements domain.LedgerClient.
func (m *Memory) CreateAccount(ctx context.Context, initialBalance float64) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	key, err := keys.Generate()
	if err != nil {
		return domain.Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocID()
	m.accounts[id] = &memAccount{key: key.Public(), balance: initialBalance}
	return domain.Account{ID: id, Key: key}, nil
}

// ImportAccount registers an externally created account so memo updates
// signed by key are accepted.
func (m *Memory) ImportAccount(accountID string, key keys.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		m.accounts[accountID] = &memAccount{key: key}
	}
}

// CreateTopic implements domain.LedgerClient.
func (m *Memory) CreateTopic(ctx context.Context, memo string, opts domain.TopicOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocID()
	m.topics[id] = &memTopic{memo: memo, submitKey: opts.SubmitKey}
	return id, nil
}

// SubmitMessage implements domain.LedgerClient.
func (m *Memory) SubmitMessage(ctx context.Context, topicID string, payload []byte, key keys.PrivateKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if key.IsZero() {
		return 0, ErrUnsigned
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[topicID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}
	if !t.submitKey.IsZero() && !t.submitKey.Equal(key.Public()) && !t.submitKey.Equal(m.operator.Public()) {
		return 0, fmt.Errorf("%w: topic %s", ErrInvalidSigner, topicID)
	}
	seq := uint64(len(t.messages)) + 1
	t.messages = append(t.messages, domain.LogMessage{
		SequenceNumber: seq,
		Payload:        append([]byte(nil), payload...),
		ConsensusAt:    m.now(),
	})
	return seq, nil
}

// GetAccountMemo implements domain.LedgerClient. Unknown accounts have no memo.
func (m *Memory) GetAccountMemo(ctx context.Context, accountID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return "", nil
	}
	return a.memo, nil
}

// SetAccountMemo implements domain.LedgerClient.
func (m *Memory) SetAccountMemo(ctx context.Context, accountID, memo string, key keys.PrivateKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key.IsZero() {
		return ErrUnsigned
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		// Accounts brought by the caller are adopted on first memo write.
		a = &memAccount{key: key.Public()}
		m.accounts[accountID] = a
	}
	if !a.key.Equal(key.Public()) {
		return fmt.Errorf("%w: account %s", ErrInvalidSigner, accountID)
	}
	a.memo = memo
	return nil
}

// ReadMessages implements domain.LogReader.
func (m *Memory) ReadMessages(ctx context.Context, topicID string, opts domain.ReadOptions) ([]domain.LogMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topicID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}
	return selectMessages(t.messages, opts), nil
}

// TopicMemo returns the memo a topic was created with.
func (m *Memory) TopicMemo(topicID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topicID]
	if !ok {
		return "", false
	}
	return t.memo, true
}

// TopicCount returns the number of topics created so far.
func (m *Memory) TopicCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}

// selectMessages copies msgs in the requested order, truncated to the limit.
func selectMessages(msgs []domain.LogMessage, opts domain.ReadOptions) []domain.LogMessage {
	n := len(msgs)
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	out := make([]domain.LogMessage, 0, n)
	if opts.Order == domain.OrderDesc {
		for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, msgs[i])
		}
		return out
	}
	return append(out, msgs[:n]...)
}
