package domain

import (
	"context"
	"time"

	"agentlink/internal/keys"
)

// Account is a freshly created ledger account with its signing key.
type Account struct {
	ID  string
	Key keys.PrivateKey
}

// TopicOptions tunes topic creation.
type TopicOptions struct {
	// SubmitKey restricts appends to holders of the matching private key.
	SubmitKey keys.PublicKey
}

// LedgerClient creates accounts and topics and appends signed messages.
// Implementations own retry, idempotency and rate limiting of single calls.
type LedgerClient interface {
	CreateAccount(ctx context.Context, initialBalance float64) (Account, error)
	CreateTopic(ctx context.Context, memo string, opts TopicOptions) (string, error)
	SubmitMessage(ctx context.Context, topicID string, payload []byte, key keys.PrivateKey) (uint64, error)
	GetAccountMemo(ctx context.Context, accountID string) (string, error)
	SetAccountMemo(ctx context.Context, accountID, memo string, key keys.PrivateKey) error
}

// Order selects the direction of a log read.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ReadOptions controls a log read. Limit <= 0 reads everything.
type ReadOptions struct {
	Order Order
	Limit int
}

// LogMessage is one entry of a topic as returned by a LogReader.
type LogMessage struct {
	SequenceNumber uint64
	Payload        []byte
	ConsensusAt    time.Time
}

// LogReader retrieves historical topic contents.
type LogReader interface {
	ReadMessages(ctx context.Context, topicID string, opts ReadOptions) ([]LogMessage, error)
}
