// Package engine assembles the protocol components from configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"agentlink/internal/bus"
	"agentlink/internal/config"
	"agentlink/internal/directory"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/ledger"
	"agentlink/internal/negotiator"
	"agentlink/internal/objectstore"
	"agentlink/internal/registry"
	"agentlink/internal/store"
)

// Engine bundles the registry, negotiator and object store over one ledger
// backend and one store.
type Engine struct {
	Registry   *registry.Registry
	Negotiator *negotiator.Negotiator
	Objects    *objectstore.Store
	Directory  *directory.Directory
	Bus        *bus.EventBus
	Store      domain.Store
	Ledger     domain.LedgerClient
	Reader     domain.LogReader

	closers []io.Closer
	logger  *slog.Logger
}

// Options adjust New beyond what the config file holds.
type Options struct {
	// OnRegistryCreated is called once when a registry topic is created.
	OnRegistryCreated func(topicID string)
	// Ledger and Reader replace the configured backend when set.
	Ledger domain.LedgerClient
	Reader domain.LogReader
	Bus    *bus.EventBus
}

// New opens the ledger backend and the store named by cfg and wires the
// protocol components on top of them.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Bus: opts.Bus, logger: logger}
	if e.Bus == nil {
		e.Bus = bus.NewEventBus(logger)
	}

	var opKey keys.PrivateKey
	if cfg.Ledger.OperatorKey != "" {
		k, err := keys.ParsePrivateKey(cfg.Ledger.OperatorKey)
		if err != nil {
			return nil, fmt.Errorf("operator key: %w", err)
		}
		opKey = k
	}

	client, reader := opts.Ledger, opts.Reader
	if client == nil || reader == nil {
		if cfg.Ledger.Backend == "memory" && cfg.Store.Driver != "memory" {
			return nil, fmt.Errorf("the memory ledger cannot back a %s store: ids restart in every process", cfg.Store.Driver)
		}
		var err error
		client, reader, err = e.openLedger(ctx, cfg.Ledger, opKey)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	e.Ledger = ledger.NewThrottled(client, newLimiter(cfg.Ledger))
	e.Reader = reader

	st, err := store.New(ctx, store.Config{
		Driver:    cfg.Store.Driver,
		Path:      cfg.Store.Path,
		DSN:       cfg.Store.DSN,
		KeySecret: cfg.Store.KeySecret,
		Logger:    logger,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.Store = st
	e.closers = append(e.closers, st)

	e.Registry = registry.New(registry.Config{
		Ledger:            e.Ledger,
		Reader:            e.Reader,
		Agents:            st,
		OperatorKey:       opKey,
		RegistryTopicID:   cfg.Ledger.RegistryTopicID,
		InitialBalance:    cfg.Ledger.InitialBalance,
		OnRegistryCreated: opts.OnRegistryCreated,
		Bus:               e.Bus,
		Logger:            logger.With("component", "registry"),
	})
	e.Objects = objectstore.New(objectstore.Config{
		Ledger:       e.Ledger,
		Reader:       e.Reader,
		MaxChunkSize: cfg.Protocol.MaxChunkSize,
		Bus:          e.Bus,
		Logger:       logger.With("component", "objectstore"),
	})
	e.Directory = directory.New(st)
	e.Negotiator = negotiator.New(negotiator.Config{
		Profiles:        e.Registry,
		Ledger:          e.Ledger,
		Reader:          e.Reader,
		Directory:       e.Directory,
		Objects:         e.Objects,
		Requests:        st,
		InlineThreshold: cfg.Protocol.InlineThreshold,
		StrictHandshake: cfg.Protocol.StrictHandshake,
		RequestTTL:      time.Duration(cfg.Protocol.RequestTTLSeconds) * time.Second,
		Bus:             e.Bus,
		Logger:          logger.With("component", "negotiator"),
	})
	return e, nil
}

func (e *Engine) openLedger(ctx context.Context, cfg config.LedgerConfig, opKey keys.PrivateKey) (domain.LedgerClient, domain.LogReader, error) {
	switch cfg.Backend {
	case "memory":
		if opKey.IsZero() {
			k, err := keys.Generate()
			if err != nil {
				return nil, nil, err
			}
			opKey = k
		}
		m := ledger.NewMemory(opKey)
		e.logger.Warn("using the in-memory ledger; state is lost on exit")
		return m, m, nil
	case "redis":
		r, err := ledger.NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, opKey)
		if err != nil {
			return nil, nil, fmt.Errorf("redis ledger: %w", err)
		}
		e.closers = append(e.closers, r)
		return r, r, nil
	case "hedera":
		h, err := ledger.NewHedera(ledger.HederaConfig{
			Network:     cfg.Network,
			OperatorID:  cfg.OperatorID,
			OperatorKey: opKey,
			Logger:      e.logger.With("component", "hedera"),
		})
		if err != nil {
			return nil, nil, err
		}
		e.closers = append(e.closers, h)
		base := cfg.MirrorURL
		if base == "" {
			base = ledger.MirrorURL(cfg.Network)
		}
		mirror := ledger.NewMirror(ledger.MirrorConfig{
			BaseURL: base,
			Limiter: newLimiter(cfg),
			Logger:  e.logger.With("component", "mirror"),
		})
		return h, mirror, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// newLimiter returns nil, which never blocks, when no rate is configured.
func newLimiter(cfg config.LedgerConfig) *ledger.RateLimiter {
	if cfg.RateLimitPerSec <= 0 {
		return nil
	}
	return ledger.NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec)
}

// SigningKey resolves the key an operation on behalf of accountID signs
// with: supplied when given, else the key of a locally registered agent.
func (e *Engine) SigningKey(ctx context.Context, accountID, supplied string) (keys.PrivateKey, error) {
	return e.Registry.SigningKey(ctx, accountID, supplied)
}

// Close releases the store and ledger connections.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
