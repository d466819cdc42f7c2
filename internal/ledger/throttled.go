package ledger

import (
	"context"
	"time"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/metrics"
)

// Throttled wraps a Ledger Client with the shared token bucket and records
// call latency.
type Throttled struct {
	next    domain.LedgerClient
	limiter *RateLimiter
}

// NewThrottled wraps next. A nil limiter only records metrics.
func NewThrottled(next domain.LedgerClient, limiter *RateLimiter) *Throttled {
	return &Throttled{next: next, limiter: limiter}
}

func observe(call string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.LedgerCallDuration.WithLabelValues(call, result).Observe(time.Since(start).Seconds())
}

func (t *Throttled) CreateAccount(ctx context.Context, initialBalance float64) (acct domain.Account, err error) {
	if err = t.limiter.Wait(ctx); err != nil {
		return domain.Account{}, err
	}
	defer func(start time.Time) { observe("create_account", start, err) }(time.Now())
	return t.next.CreateAccount(ctx, initialBalance)
}

func (t *Throttled) CreateTopic(ctx context.Context, memo string, opts domain.TopicOptions) (id string, err error) {
	if err = t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	defer func(start time.Time) { observe("create_topic", start, err) }(time.Now())
	return t.next.CreateTopic(ctx, memo, opts)
}

func (t *Throttled) SubmitMessage(ctx context.Context, topicID string, payload []byte, key keys.PrivateKey) (seq uint64, err error) {
	if err = t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	defer func(start time.Time) { observe("submit_message", start, err) }(time.Now())
	return t.next.SubmitMessage(ctx, topicID, payload, key)
}

func (t *Throttled) GetAccountMemo(ctx context.Context, accountID string) (memo string, err error) {
	if err = t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	defer func(start time.Time) { observe("get_account_memo", start, err) }(time.Now())
	return t.next.GetAccountMemo(ctx, accountID)
}

func (t *Throttled) SetAccountMemo(ctx context.Context, accountID, memo string, key keys.PrivateKey) (err error) {
	if err = t.limiter.Wait(ctx); err != nil {
		return err
	}
	defer func(start time.Time) { observe("set_account_memo", start, err) }(time.Now())
	return t.next.SetAccountMemo(ctx, accountID, memo, key)
}
