package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"agentlink/internal/domain"
	"agentlink/internal/store"
)

func TestDirectory_Symmetry(t *testing.T) {
	d := New(store.NewMemory())
	ctx := context.Background()

	if err := d.Add(ctx, domain.ConnectionRecord{ChannelID: "0.0.30", ParticipantA: "0.0.1", ParticipantB: "0.0.2"}); err != nil {
		t.Fatal(err)
	}

	a, _ := d.ListConnections(ctx, "0.0.1")
	b, _ := d.ListConnections(ctx, "0.0.2")
	if len(a) != 1 || a[0].Peer != "0.0.2" || a[0].ChannelID != "0.0.30" {
		t.Fatalf("requester listing wrong: %+v", a)
	}
	if len(b) != 1 || b[0].Peer != "0.0.1" || b[0].ChannelID != "0.0.30" {
		t.Fatalf("acceptor listing wrong: %+v", b)
	}

	rec, _ := d.Get(ctx, "0.0.30")
	if rec == nil || rec.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be stamped: %+v", rec)
	}
}

func TestDirectory_EmptyListing(t *testing.T) {
	d := New(store.NewMemory())
	peers, err := d.ListConnections(context.Background(), "0.0.77")
	if err != nil {
		t.Fatal(err)
	}
	if peers == nil || len(peers) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", peers)
	}
}

func TestDirectory_RejectsSelfConnection(t *testing.T) {
	d := New(store.NewMemory())
	err := d.Add(context.Background(), domain.ConnectionRecord{ChannelID: "0.0.30", ParticipantA: "0.0.1", ParticipantB: "0.0.1"})
	if !errors.Is(err, domain.ErrMissingArgument) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDirectory_IsParticipant(t *testing.T) {
	d := New(store.NewMemory())
	ctx := context.Background()
	d.Add(ctx, domain.ConnectionRecord{ChannelID: "0.0.30", ParticipantA: "0.0.1", ParticipantB: "0.0.2"})

	for _, tc := range []struct {
		channel, account string
		want             bool
	}{
		{"0.0.30", "0.0.1", true},
		{"0.0.30", "0.0.2", true},
		{"0.0.30", "0.0.3", false},
		{"0.0.31", "0.0.1", false},
	} {
		got, err := d.IsParticipant(ctx, tc.channel, tc.account)
		if err != nil || got != tc.want {
			t.Errorf("IsParticipant(%s, %s) = %v, %v; want %v", tc.channel, tc.account, got, err, tc.want)
		}
	}
}

func TestDirectory_ConcurrentAdds(t *testing.T) {
	d := New(store.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := fmt.Sprintf("0.0.%d", 100+i)
			if err := d.Add(ctx, domain.ConnectionRecord{ChannelID: fmt.Sprintf("0.0.%d", 500+i), ParticipantA: peer, ParticipantB: "0.0.1"}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	peers, _ := d.ListConnections(ctx, "0.0.1")
	if len(peers) != 50 {
		t.Fatalf("expected 50 connections, got %d", len(peers))
	}
}
