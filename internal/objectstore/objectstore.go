// Package objectstore stores payloads of arbitrary size as a sequence of
// chunks on a dedicated ledger topic and reassembles them on read.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"agentlink/internal/address"
	"agentlink/internal/bus"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/metrics"
)

// DefaultMaxChunkSize is the largest chunk body submitted in one message.
const DefaultMaxChunkSize = 4096

var chunkTag = regexp.MustCompile(`^\[\d+/\d+\] `)

// Config holds the Store dependencies.
type Config struct {
	Ledger       domain.LedgerClient
	Reader       domain.LogReader
	MaxChunkSize int
	Bus          *bus.EventBus
	Logger       *slog.Logger
}

// Store writes and reads chunked objects.
type Store struct {
	ledger    domain.LedgerClient
	reader    domain.LogReader
	chunkSize int
	bus       *bus.EventBus
	logger    *slog.Logger
}

// New creates a Store. A non-positive MaxChunkSize falls back to
// DefaultMaxChunkSize.
func New(cfg Config) *Store {
	size := cfg.MaxChunkSize
	if size <= 0 {
		size = DefaultMaxChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ledger:    cfg.Ledger,
		reader:    cfg.Reader,
		chunkSize: size,
		bus:       cfg.Bus,
		logger:    logger,
	}
}

// MaxChunkSize returns the configured chunk size.
func (s *Store) MaxChunkSize() int { return s.chunkSize }

// Chunk splits content into slices of at most size bytes. Empty content
// yields no chunks.
func Chunk(content []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultMaxChunkSize
	}
	chunks := make([][]byte, 0, (len(content)+size-1)/size)
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

// Store creates a topic for the object and appends its chunks in order,
// signed by ownerKey. Multi-chunk objects carry a "[i/n] " tag on every
// chunk. The topic id is returned only after every chunk was accepted.
func (s *Store) Store(ctx context.Context, content []byte, ownerAccount string, ownerKey keys.PrivateKey) (string, error) {
	topicID, err := s.ledger.CreateTopic(ctx, "HCS-1 File by "+ownerAccount, domain.TopicOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: create object topic: %v", domain.ErrSubmissionFailed, err)
	}

	chunks := Chunk(content, s.chunkSize)
	for i, chunk := range chunks {
		msg := chunk
		if len(chunks) > 1 {
			tag := fmt.Sprintf("[%d/%d] ", i+1, len(chunks))
			msg = append([]byte(tag), chunk...)
		}
		if _, err := s.ledger.SubmitMessage(ctx, topicID, msg, ownerKey); err != nil {
			return "", fmt.Errorf("%w: chunk %d/%d on %s: %v", domain.ErrSubmissionFailed, i+1, len(chunks), topicID, err)
		}
		metrics.ChunksAppended.Inc()
		s.logger.Debug("submitted chunk", "topic", topicID, "index", i+1, "total", len(chunks))
	}

	s.logger.Info("stored object", "topic", topicID, "bytes", len(content), "chunks", len(chunks))
	if s.bus != nil {
		s.bus.Emit(bus.Event{
			Type:    bus.EventObjectStored,
			Source:  "objectstore",
			Payload: map[string]any{"topicId": topicID, "owner": ownerAccount, "bytes": len(content), "chunks": len(chunks)},
		})
	}
	return topicID, nil
}

// Fetch reads every message on the object topic in ascending order, strips
// chunk tags and concatenates the bodies. Chunk indices are not validated.
// A single-message object is never tagged and is returned verbatim.
func (s *Store) Fetch(ctx context.Context, topicID string) ([]byte, error) {
	msgs, err := s.reader.ReadMessages(ctx, topicID, domain.ReadOptions{Order: domain.OrderAsc})
	if err != nil {
		return nil, fmt.Errorf("%w: object %s: %v", domain.ErrFetchFailed, topicID, err)
	}
	if len(msgs) == 1 {
		return msgs[0].Payload, nil
	}
	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(stripTag(m.Payload))
	}
	return buf.Bytes(), nil
}

// FetchLocator fetches the object behind an hcs://1/ locator.
func (s *Store) FetchLocator(ctx context.Context, locator string) ([]byte, error) {
	topicID, ok := address.ParseLocator(locator)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an object locator", domain.ErrMalformedAddress, locator)
	}
	return s.Fetch(ctx, topicID)
}

func stripTag(b []byte) []byte {
	if loc := chunkTag.FindIndex(b); loc != nil {
		return b[loc[1]:]
	}
	return b
}
