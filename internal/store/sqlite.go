package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

// SQLite persists records in an embedded database file.
type SQLite struct {
	db     *sql.DB
	sealer *keys.Sealer
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the database at dbPath and applies
// migrations.
func NewSQLite(dbPath string, sealer *keys.Sealer, logger *slog.Logger) (*SQLite, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite store: empty database path")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLite{db: db, sealer: sealer, logger: logger}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) PutAgent(ctx context.Context, rec domain.AgentRecord) error {
	rec, err := sealAgent(s.sealer, rec)
	if err != nil {
		return err
	}
	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (account_id, private_key, profile) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   private_key = CASE WHEN excluded.private_key <> '' THEN excluded.private_key ELSE agents.private_key END,
		   profile = excluded.profile`,
		rec.AccountID, rec.PrivateKey, string(profile),
	)
	if err != nil {
		return fmt.Errorf("put agent %s: %w", rec.AccountID, err)
	}
	return nil
}

func (s *SQLite) GetAgent(ctx context.Context, accountID string) (*domain.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, private_key, profile FROM agents WHERE account_id = ?`, accountID)
	rec, err := s.scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLite) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, private_key, profile FROM agents ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AgentRecord{}
	for rows.Next() {
		rec, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLite) scanAgent(row scanner) (*domain.AgentRecord, error) {
	var (
		rec     domain.AgentRecord
		profile string
	)
	if err := row.Scan(&rec.AccountID, &rec.PrivateKey, &profile); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(profile), &rec.Profile); err != nil {
		return nil, fmt.Errorf("decode profile of %s: %w", rec.AccountID, err)
	}
	if err := openAgent(s.sealer, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLite) AddConnection(ctx context.Context, rec domain.ConnectionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (channel_id, participant_a, participant_b, created_at) VALUES (?, ?, ?, ?)`,
		rec.ChannelID, rec.ParticipantA, rec.ParticipantB, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("%w: %s", ErrDuplicateChannel, rec.ChannelID)
		}
		return fmt.Errorf("add connection %s: %w", rec.ChannelID, err)
	}
	return nil
}

func (s *SQLite) GetConnection(ctx context.Context, channelID string) (*domain.ConnectionRecord, error) {
	var c domain.ConnectionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, participant_a, participant_b, created_at FROM connections WHERE channel_id = ?`, channelID,
	).Scan(&c.ChannelID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLite) ListConnections(ctx context.Context, accountID string) ([]domain.ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, participant_a, participant_b, created_at FROM connections
		 WHERE participant_a = ? OR participant_b = ? ORDER BY id`, accountID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ConnectionRecord{}
	for rows.Next() {
		var c domain.ConnectionRecord
		if err := rows.Scan(&c.ChannelID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) PutRequest(ctx context.Context, req domain.HandshakeRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handshake_requests (id, requester, target, sequence_number, state, channel_id, requested_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(requester, target) DO UPDATE SET
		   id = excluded.id,
		   sequence_number = excluded.sequence_number,
		   state = excluded.state,
		   channel_id = excluded.channel_id,
		   requested_at = excluded.requested_at,
		   updated_at = excluded.updated_at`,
		req.ID, req.Requester, req.Target, int64(req.SequenceNumber), string(req.State), req.ChannelID,
		req.RequestedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put request %s->%s: %w", req.Requester, req.Target, err)
	}
	return nil
}

const requestColumns = `id, requester, target, sequence_number, state, channel_id, requested_at, updated_at`

func scanRequest(row scanner) (*domain.HandshakeRequest, error) {
	var (
		r     domain.HandshakeRequest
		seq   int64
		state string
	)
	if err := row.Scan(&r.ID, &r.Requester, &r.Target, &seq, &state, &r.ChannelID, &r.RequestedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.SequenceNumber = uint64(seq)
	r.State = domain.RequestState(state)
	return &r, nil
}

func (s *SQLite) GetRequest(ctx context.Context, requester, target string) (*domain.HandshakeRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM handshake_requests WHERE requester = ? AND target = ?`, requester, target)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLite) ListRequests(ctx context.Context, accountID string) ([]domain.HandshakeRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM handshake_requests
		 WHERE requester = ? OR target = ? ORDER BY requested_at`, accountID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.HandshakeRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
