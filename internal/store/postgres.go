package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agents (
	account_id   TEXT PRIMARY KEY,
	private_key  TEXT NOT NULL DEFAULT '',
	profile      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	seq          BIGSERIAL
);

CREATE TABLE IF NOT EXISTS connections (
	id             BIGSERIAL PRIMARY KEY,
	channel_id     TEXT NOT NULL UNIQUE,
	participant_a  TEXT NOT NULL,
	participant_b  TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	CHECK (participant_a <> participant_b)
);
CREATE INDEX IF NOT EXISTS idx_connections_a ON connections(participant_a);
CREATE INDEX IF NOT EXISTS idx_connections_b ON connections(participant_b);

CREATE TABLE IF NOT EXISTS handshake_requests (
	id               TEXT NOT NULL,
	requester        TEXT NOT NULL,
	target           TEXT NOT NULL,
	sequence_number  BIGINT NOT NULL DEFAULT 0,
	state            TEXT NOT NULL,
	channel_id       TEXT NOT NULL DEFAULT '',
	requested_at     TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (requester, target)
);
CREATE INDEX IF NOT EXISTS idx_requests_target ON handshake_requests(target);
`

// Postgres persists records in a shared PostgreSQL database so several
// processes can serve the same directory.
type Postgres struct {
	pool   *pgxpool.Pool
	sealer *keys.Sealer
	logger *slog.Logger
}

// NewPostgres connects, pings and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string, sealer *keys.Sealer, logger *slog.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store: empty database url")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	logger.Info("postgres store ready")
	return &Postgres{pool: pool, sealer: sealer, logger: logger}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) PutAgent(ctx context.Context, rec domain.AgentRecord) error {
	rec, err := sealAgent(s.sealer, rec)
	if err != nil {
		return err
	}
	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (account_id, private_key, profile) VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
		  private_key = CASE WHEN EXCLUDED.private_key <> '' THEN EXCLUDED.private_key ELSE agents.private_key END,
		  profile = EXCLUDED.profile
	`, rec.AccountID, rec.PrivateKey, profile)
	if err != nil {
		return fmt.Errorf("put agent %s: %w", rec.AccountID, err)
	}
	return nil
}

func (s *Postgres) scanAgent(row pgx.Row) (*domain.AgentRecord, error) {
	var (
		rec     domain.AgentRecord
		profile []byte
	)
	if err := row.Scan(&rec.AccountID, &rec.PrivateKey, &profile); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(profile, &rec.Profile); err != nil {
		return nil, fmt.Errorf("decode profile of %s: %w", rec.AccountID, err)
	}
	if err := openAgent(s.sealer, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Postgres) GetAgent(ctx context.Context, accountID string) (*domain.AgentRecord, error) {
	rec, err := s.scanAgent(s.pool.QueryRow(ctx,
		`SELECT account_id, private_key, profile FROM agents WHERE account_id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Postgres) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id, private_key, profile FROM agents ORDER BY seq`)
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

func (s *Postgres) AddConnection(ctx context.Context, rec domain.ConnectionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connections (channel_id, participant_a, participant_b, created_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ChannelID, rec.ParticipantA, rec.ParticipantB, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateChannel, rec.ChannelID)
		}
		return fmt.Errorf("add connection %s: %w", rec.ChannelID, err)
	}
	return nil
}

func (s *Postgres) GetConnection(ctx context.Context, channelID string) (*domain.ConnectionRecord, error) {
	var c domain.ConnectionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT channel_id, participant_a, participant_b, created_at FROM connections WHERE channel_id = $1
	`, channelID).Scan(&c.ChannelID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) ListConnections(ctx context.Context, accountID string) ([]domain.ConnectionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, participant_a, participant_b, created_at FROM connections
		WHERE participant_a = $1 OR participant_b = $1 ORDER BY id
	`, accountID)
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

func (s *Postgres) PutRequest(ctx context.Context, req domain.HandshakeRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO handshake_requests (id, requester, target, sequence_number, state, channel_id, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (requester, target) DO UPDATE SET
		  id = EXCLUDED.id,
		  sequence_number = EXCLUDED.sequence_number,
		  state = EXCLUDED.state,
		  channel_id = EXCLUDED.channel_id,
		  requested_at = EXCLUDED.requested_at,
		  updated_at = EXCLUDED.updated_at
	`, req.ID, req.Requester, req.Target, int64(req.SequenceNumber), string(req.State), req.ChannelID,
		req.RequestedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put request %s->%s: %w", req.Requester, req.Target, err)
	}
	return nil
}

func (s *Postgres) GetRequest(ctx context.Context, requester, target string) (*domain.HandshakeRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM handshake_requests WHERE requester = $1 AND target = $2`, requester, target))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *Postgres) ListRequests(ctx context.Context, accountID string) ([]domain.HandshakeRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM handshake_requests WHERE requester = $1 OR target = $1 ORDER BY requested_at`, accountID)
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
