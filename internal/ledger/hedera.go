package ledger

import (
	"context"
	"fmt"
	"log/slog"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

// HederaConfig configures the network client.
type HederaConfig struct {
	Network     string // mainnet | testnet | previewnet
	OperatorID  string
	OperatorKey keys.PrivateKey
	Logger      *slog.Logger
}

// Hedera is a Ledger Client on a Hedera network. The operator pays for and
// co-signs every transaction.
type Hedera struct {
	client *hedera.Client
	logger *slog.Logger
}

// NewHedera builds a client for cfg.Network with the operator set.
func NewHedera(cfg HederaConfig) (*Hedera, error) {
	client, err := hedera.ClientForName(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("hedera client for %q: %w", cfg.Network, err)
	}
	opID, err := hedera.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("operator id: %w", err)
	}
	opKey, err := toHederaKey(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	client.SetOperator(opID, opKey)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hedera{client: client, logger: logger}, nil
}

// Close releases network connections.
func (h *Hedera) Close() error {
	return h.client.Close()
}

func toHederaKey(k keys.PrivateKey) (hedera.PrivateKey, error) {
	if k.IsZero() {
		return hedera.PrivateKey{}, ErrUnsigned
	}
	return hedera.PrivateKeyFromStringEd25519(k.String())
}

func toHederaPublicKey(k keys.PublicKey) (hedera.PublicKey, error) {
	return hedera.PublicKeyFromString(k.String())
}

// CreateAccount implements domain.LedgerClient.
func (h *Hedera) CreateAccount(ctx context.Context, initialBalance float64) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	key, err := keys.Generate()
	if err != nil {
		return domain.Account{}, err
	}
	pub, err := toHederaPublicKey(key.Public())
	if err != nil {
		return domain.Account{}, err
	}
	resp, err := hedera.NewAccountCreateTransaction().
		SetKey(pub).
		SetInitialBalance(hedera.NewHbar(initialBalance)).
		Execute(h.client)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account create: %w", err)
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account create receipt: %w", err)
	}
	if receipt.AccountID == nil {
		return domain.Account{}, fmt.Errorf("account create: receipt has no account id")
	}
	h.logger.Info("created account", "account", receipt.AccountID.String())
	return domain.Account{ID: receipt.AccountID.String(), Key: key}, nil
}

// CreateTopic implements domain.LedgerClient.
func (h *Hedera) CreateTopic(ctx context.Context, memo string, opts domain.TopicOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tx := hedera.NewTopicCreateTransaction().SetTopicMemo(memo)
	if !opts.SubmitKey.IsZero() {
		pub, err := toHederaPublicKey(opts.SubmitKey)
		if err != nil {
			return "", err
		}
		tx = tx.SetSubmitKey(pub)
	}
	resp, err := tx.Execute(h.client)
	if err != nil {
		return "", fmt.Errorf("topic create: %w", err)
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return "", fmt.Errorf("topic create receipt: %w", err)
	}
	if receipt.TopicID == nil {
		return "", fmt.Errorf("topic create: receipt has no topic id")
	}
	return receipt.TopicID.String(), nil
}

// SubmitMessage implements domain.LedgerClient.
func (h *Hedera) SubmitMessage(ctx context.Context, topicID string, payload []byte, key keys.PrivateKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	signer, err := toHederaKey(key)
	if err != nil {
		return 0, err
	}
	id, err := hedera.TopicIDFromString(topicID)
	if err != nil {
		return 0, fmt.Errorf("topic id %q: %w", topicID, err)
	}
	frozen, err := hedera.NewTopicMessageSubmitTransaction().
		SetTopicID(id).
		SetMessage(payload).
		FreezeWith(h.client)
	if err != nil {
		return 0, fmt.Errorf("freeze submit: %w", err)
	}
	resp, err := frozen.Sign(signer).Execute(h.client)
	if err != nil {
		return 0, fmt.Errorf("submit to %s: %w", topicID, err)
	}
	receipt, err := resp.GetReceipt(h.client)
	if err != nil {
		return 0, fmt.Errorf("submit receipt: %w", err)
	}
	return receipt.TopicSequenceNumber, nil
}

// GetAccountMemo implements domain.LedgerClient.
func (h *Hedera) GetAccountMemo(ctx context.Context, accountID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := hedera.AccountIDFromString(accountID)
	if err != nil {
		return "", fmt.Errorf("account id %q: %w", accountID, err)
	}
	info, err := hedera.NewAccountInfoQuery().SetAccountID(id).Execute(h.client)
	if err != nil {
		return "", fmt.Errorf("account info %s: %w", accountID, err)
	}
	return info.AccountMemo, nil
}

// SetAccountMemo implements domain.LedgerClient.
func (h *Hedera) SetAccountMemo(ctx context.Context, accountID, memo string, key keys.PrivateKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	signer, err := toHederaKey(key)
	if err != nil {
		return err
	}
	id, err := hedera.AccountIDFromString(accountID)
	if err != nil {
		return fmt.Errorf("account id %q: %w", accountID, err)
	}
	frozen, err := hedera.NewAccountUpdateTransaction().
		SetAccountID(id).
		SetAccountMemo(memo).
		FreezeWith(h.client)
	if err != nil {
		return fmt.Errorf("freeze account update: %w", err)
	}
	resp, err := frozen.Sign(signer).Execute(h.client)
	if err != nil {
		return fmt.Errorf("account update %s: %w", accountID, err)
	}
	if _, err := resp.GetReceipt(h.client); err != nil {
		return fmt.Errorf("account update receipt: %w", err)
	}
	return nil
}
