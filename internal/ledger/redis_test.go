package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

func newTestRedis(t *testing.T) (*Redis, keys.PrivateKey) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	op, _ := keys.Generate()
	return NewRedisWithClient(client, "test:", op), op
}

func TestRedis_AppendAndRead(t *testing.T) {
	r, op := newTestRedis(t)
	ctx := context.Background()

	topic, err := r.CreateTopic(ctx, "conn", domain.TopicOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range []string{"one", "two", "three"} {
		seq, err := r.SubmitMessage(ctx, topic, []byte(p), op)
		if err != nil {
			t.Fatal(err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}

	asc, err := r.ReadMessages(ctx, topic, domain.ReadOptions{Order: domain.OrderAsc})
	if err != nil {
		t.Fatal(err)
	}
	if len(asc) != 3 || string(asc[0].Payload) != "one" || asc[2].SequenceNumber != 3 {
		t.Fatalf("unexpected asc read %+v", asc)
	}

	desc, _ := r.ReadMessages(ctx, topic, domain.ReadOptions{Order: domain.OrderDesc, Limit: 1})
	if len(desc) != 1 || string(desc[0].Payload) != "three" {
		t.Fatalf("unexpected desc read %+v", desc)
	}
}

func TestRedis_TopicIDsAreDistinct(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	a, _ := r.CreateTopic(ctx, "a", domain.TopicOptions{})
	b, _ := r.CreateTopic(ctx, "b", domain.TopicOptions{})
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
}

func TestRedis_SubmitKey(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	owner, _ := keys.Generate()
	stranger, _ := keys.Generate()

	topic, _ := r.CreateTopic(ctx, "restricted", domain.TopicOptions{SubmitKey: owner.Public()})
	if _, err := r.SubmitMessage(ctx, topic, []byte("x"), stranger); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
	if _, err := r.SubmitMessage(ctx, topic, []byte("x"), owner); err != nil {
		t.Fatalf("owner submission rejected: %v", err)
	}
	if _, err := r.SubmitMessage(ctx, "0.0.1", []byte("x"), owner); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestRedis_AccountMemo(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	acct, err := r.CreateAccount(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetAccountMemo(ctx, acct.ID, "profile", acct.Key); err != nil {
		t.Fatal(err)
	}
	memo, err := r.GetAccountMemo(ctx, acct.ID)
	if err != nil || memo != "profile" {
		t.Fatalf("GetAccountMemo = %q, %v", memo, err)
	}
	other, _ := keys.Generate()
	if err := r.SetAccountMemo(ctx, acct.ID, "hijack", other); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
	if memo, _ := r.GetAccountMemo(ctx, "0.0.999999"); memo != "" {
		t.Fatalf("unknown account should have empty memo, got %q", memo)
	}
}
