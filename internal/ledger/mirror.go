package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agentlink/internal/domain"
)

// mirrorPageSize is the largest page the mirror node serves.
const mirrorPageSize = 100

// MirrorURL returns the public mirror node for a network name.
func MirrorURL(network string) string {
	switch network {
	case "mainnet":
		return "https://mainnet-public.mirrornode.hedera.com"
	case "previewnet":
		return "https://previewnet.mirrornode.hedera.com"
	default:
		return "https://testnet.mirrornode.hedera.com"
	}
}

// MirrorConfig configures a Mirror reader.
type MirrorConfig struct {
	BaseURL string
	Client  *http.Client
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// Mirror reads topic messages from a mirror node REST API.
type Mirror struct {
	baseURL string
	client  *http.Client
	limiter *RateLimiter
	policy  retryPolicy
	logger  *slog.Logger
}

// NewMirror creates a Mirror reader.
func NewMirror(cfg MirrorConfig) *Mirror {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  client,
		limiter: cfg.Limiter,
		policy:  defaultRetryPolicy,
		logger:  logger,
	}
}

type mirrorMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            string `json:"message"`
	SequenceNumber     uint64 `json:"sequence_number"`
}

type mirrorPage struct {
	Messages []mirrorMessage `json:"messages"`
	Links    struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// ReadMessages implements domain.LogReader, following pagination links until
// the limit is reached or the topic is exhausted.
func (m *Mirror) ReadMessages(ctx context.Context, topicID string, opts domain.ReadOptions) ([]domain.LogMessage, error) {
	order := opts.Order
	if order == "" {
		order = domain.OrderAsc
	}
	pageSize := mirrorPageSize
	if opts.Limit > 0 && opts.Limit < pageSize {
		pageSize = opts.Limit
	}
	q := url.Values{}
	q.Set("order", string(order))
	q.Set("limit", strconv.Itoa(pageSize))
	next := fmt.Sprintf("/api/v1/topics/%s/messages?%s", url.PathEscape(topicID), q.Encode())

	var out []domain.LogMessage
	for next != "" {
		page, err := m.fetchPage(ctx, m.baseURL+next)
		if err != nil {
			return nil, fmt.Errorf("read topic %s: %w", topicID, err)
		}
		for _, msg := range page.Messages {
			payload, err := base64.StdEncoding.DecodeString(msg.Message)
			if err != nil {
				return nil, fmt.Errorf("read topic %s: message %d is not base64: %w", topicID, msg.SequenceNumber, err)
			}
			out = append(out, domain.LogMessage{
				SequenceNumber: msg.SequenceNumber,
				Payload:        payload,
				ConsensusAt:    parseConsensusTimestamp(msg.ConsensusTimestamp),
			})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out, nil
			}
		}
		next = ""
		if page.Links.Next != nil && len(page.Messages) > 0 {
			next = *page.Links.Next
		}
	}
	return out, nil
}

func (m *Mirror) fetchPage(ctx context.Context, rawURL string) (*mirrorPage, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := doWithRetry(ctx, m.client, m.policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, m.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mirror node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page mirrorPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode mirror page: %w", err)
	}
	return &page, nil
}

// parseConsensusTimestamp parses "seconds.nanoseconds".
func parseConsensusTimestamp(s string) time.Time {
	secStr, nanoStr, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	nanos, _ := strconv.ParseInt(nanoStr, 10, 64)
	return time.Unix(sec, nanos)
}
