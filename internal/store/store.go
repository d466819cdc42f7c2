// Package store provides the repositories behind the agent cache, the
// connection directory and the handshake tracker: an in-memory store, an
// embedded SQLite store and a shared PostgreSQL store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

// ErrDuplicateChannel is returned when a connection topic is recorded twice.
var ErrDuplicateChannel = errors.New("connection topic already recorded")

var (
	_ domain.Store = (*Memory)(nil)
	_ domain.Store = (*SQLite)(nil)
	_ domain.Store = (*Postgres)(nil)
)

// Drivers accepted by New.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver    string
	Path      string // sqlite database file
	DSN       string // postgres connection string
	KeySecret string // seals agent private keys at rest when set
	Logger    *slog.Logger
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config) (domain.Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sealer, err := keys.NewSealer(cfg.KeySecret)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return NewSQLite(cfg.Path, sealer, logger)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, sealer, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func sealAgent(s *keys.Sealer, rec domain.AgentRecord) (domain.AgentRecord, error) {
	sealed, err := s.Seal(rec.PrivateKey)
	if err != nil {
		return rec, fmt.Errorf("seal key for %s: %w", rec.AccountID, err)
	}
	rec.PrivateKey = sealed
	return rec, nil
}

func openAgent(s *keys.Sealer, rec *domain.AgentRecord) error {
	plain, err := s.Open(rec.PrivateKey)
	if err != nil {
		return fmt.Errorf("open key for %s: %w", rec.AccountID, err)
	}
	rec.PrivateKey = plain
	return nil
}
