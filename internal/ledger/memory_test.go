package ledger

import (
	"context"
	"errors"
	"testing"

	"agentlink/internal/address"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

func newTestMemory(t *testing.T) (*Memory, keys.PrivateKey) {
	t.Helper()
	op, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return NewMemory(op), op
}

func TestMemory_SequenceNumbersAndOrder(t *testing.T) {
	m, op := newTestMemory(t)
	ctx := context.Background()
	topic, err := m.CreateTopic(ctx, "t", domain.TopicOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !address.ValidTopicID(topic) {
		t.Fatalf("topic id %q has wrong shape", topic)
	}
	for i, p := range []string{"a", "b", "c"} {
		seq, err := m.SubmitMessage(ctx, topic, []byte(p), op)
		if err != nil {
			t.Fatal(err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}

	asc, _ := m.ReadMessages(ctx, topic, domain.ReadOptions{Order: domain.OrderAsc})
	if len(asc) != 3 || string(asc[0].Payload) != "a" || string(asc[2].Payload) != "c" {
		t.Fatalf("unexpected asc read %+v", asc)
	}
	desc, _ := m.ReadMessages(ctx, topic, domain.ReadOptions{Order: domain.OrderDesc, Limit: 2})
	if len(desc) != 2 || string(desc[0].Payload) != "c" || string(desc[1].Payload) != "b" {
		t.Fatalf("unexpected desc read %+v", desc)
	}
}

func TestMemory_SubmitKeyEnforced(t *testing.T) {
	m, op := newTestMemory(t)
	ctx := context.Background()
	stranger, _ := keys.Generate()
	owner, _ := keys.Generate()

	topic, _ := m.CreateTopic(ctx, "restricted", domain.TopicOptions{SubmitKey: owner.Public()})
	if _, err := m.SubmitMessage(ctx, topic, []byte("x"), owner); err != nil {
		t.Fatalf("owner submission rejected: %v", err)
	}

	restrictedToOperator, _ := m.CreateTopic(ctx, "registry", domain.TopicOptions{SubmitKey: op.Public()})
	if _, err := m.SubmitMessage(ctx, restrictedToOperator, []byte("x"), stranger); err != nil {
		t.Fatalf("operator co-signature should satisfy the submit key: %v", err)
	}

	other := NewMemory(keys.PrivateKey{})
	restricted, _ := other.CreateTopic(ctx, "r", domain.TopicOptions{SubmitKey: owner.Public()})
	if _, err := other.SubmitMessage(ctx, restricted, []byte("x"), stranger); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
}

func TestMemory_RejectsUnsignedAndUnknown(t *testing.T) {
	m, op := newTestMemory(t)
	ctx := context.Background()
	topic, _ := m.CreateTopic(ctx, "t", domain.TopicOptions{})
	if _, err := m.SubmitMessage(ctx, topic, []byte("x"), keys.PrivateKey{}); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
	if _, err := m.SubmitMessage(ctx, "0.0.1", []byte("x"), op); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
	if _, err := m.ReadMessages(ctx, "0.0.1", domain.ReadOptions{}); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestMemory_AccountMemo(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	acct, err := m.CreateAccount(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if memo, _ := m.GetAccountMemo(ctx, acct.ID); memo != "" {
		t.Fatalf("fresh account should have no memo, got %q", memo)
	}
	if err := m.SetAccountMemo(ctx, acct.ID, `{"name":"a"}`, acct.Key); err != nil {
		t.Fatal(err)
	}
	if memo, _ := m.GetAccountMemo(ctx, acct.ID); memo != `{"name":"a"}` {
		t.Fatalf("unexpected memo %q", memo)
	}

	intruder, _ := keys.Generate()
	if err := m.SetAccountMemo(ctx, acct.ID, "x", intruder); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
	if memo, _ := m.GetAccountMemo(ctx, "0.0.424242"); memo != "" {
		t.Fatalf("unknown account should have no memo, got %q", memo)
	}
}

func TestMemory_TopicMemo(t *testing.T) {
	m, _ := newTestMemory(t)
	id, _ := m.CreateTopic(context.Background(), "HCS-2 Agent Registry", domain.TopicOptions{})
	memo, ok := m.TopicMemo(id)
	if !ok || memo != "HCS-2 Agent Registry" {
		t.Fatalf("TopicMemo = %q, %v", memo, ok)
	}
	if m.TopicCount() != 1 {
		t.Fatalf("expected 1 topic, got %d", m.TopicCount())
	}
}
