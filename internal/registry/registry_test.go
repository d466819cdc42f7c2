package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"agentlink/internal/address"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/ledger"
	"agentlink/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fixture struct {
	reg    *Registry
	ledger *ledger.Memory
	op     keys.PrivateKey
}

func newFixture(t *testing.T, registryID string) *fixture {
	t.Helper()
	op, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.NewMemory(op)
	reg := New(Config{
		Ledger:          l,
		Reader:          l,
		Agents:          store.NewMemory(),
		OperatorKey:     op,
		RegistryTopicID: registryID,
		Logger:          testLogger(),
	})
	return &fixture{reg: reg, ledger: l, op: op}
}

func intPtr(i int) *int { return &i }

func TestRegisterAgent_NewAccount(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	var created string
	f.reg.onCreated = func(id string) { created = id }

	rec, err := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "AgentA", Capabilities: []int{0, 4}, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.PrivateKey == "" || rec.Profile.Type != domain.AgentTypeAI {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !address.ValidTopicID(rec.Profile.InboundTopicID) || !address.ValidTopicID(rec.Profile.OutboundTopicID) {
		t.Fatalf("bad topic ids %+v", rec.Profile)
	}

	memo, _ := f.ledger.GetAccountMemo(ctx, rec.AccountID)
	var published domain.AgentProfile
	if err := json.Unmarshal([]byte(memo), &published); err != nil {
		t.Fatalf("memo is not a profile: %q", memo)
	}
	if published.Name != "AgentA" || published.InboundTopicID != rec.Profile.InboundTopicID {
		t.Fatalf("published profile mismatch: %+v", published)
	}

	regID := f.reg.RegistryTopicID()
	if regID == "" || created != regID {
		t.Fatalf("registry topic not created/announced: %q %q", regID, created)
	}
	if m, _ := f.ledger.TopicMemo(regID); m != RegistryTopicMemo {
		t.Fatalf("registry memo %q", m)
	}
	msgs, _ := f.ledger.ReadMessages(ctx, regID, domain.ReadOptions{})
	if len(msgs) != 1 {
		t.Fatalf("expected one registry entry, got %d", len(msgs))
	}
	env, err := domain.DecodeEnvelope(msgs[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if env.Op != domain.OpRegister || env.AccountID != rec.AccountID || env.Memo != `Registering AI agent "AgentA".` {
		t.Fatalf("unexpected register envelope %+v", env)
	}

	cached, _ := f.reg.Agent(ctx, rec.AccountID)
	if cached == nil || cached.PrivateKey != rec.PrivateKey {
		t.Fatal("record not cached")
	}
}

func TestRegisterAgent_ReusesRegistryTopic(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.reg.RegisterAgent(ctx, RegisterOptions{Name: "one"})
	first := f.reg.RegistryTopicID()
	f.reg.RegisterAgent(ctx, RegisterOptions{Name: "two"})
	if f.reg.RegistryTopicID() != first {
		t.Fatal("registry topic must be created once")
	}
	msgs, _ := f.ledger.ReadMessages(ctx, first, domain.ReadOptions{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(msgs))
	}
}

func TestRegisterAgent_ConcurrentFirstUseCreatesOneRegistry(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	before := f.ledger.TopicCount()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "racer"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	// two topics per agent plus exactly one registry
	if got := f.ledger.TopicCount() - before; got != 8*2+1 {
		t.Fatalf("expected 17 topics, got %d", got)
	}
}

func TestRegisterAgent_ImportedAccount(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	key, _ := keys.Generate()

	rec, err := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "Imported", AccountID: "0.0.777", PrivateKey: key.String()})
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccountID != "0.0.777" || rec.PrivateKey != key.String() {
		t.Fatalf("import not honoured: %+v", rec)
	}
}

func TestRegisterAgent_Validation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	if _, err := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "  "}); !errors.Is(err, domain.ErrMissingArgument) {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
	if _, err := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "x", AccountID: "0.0.5", PrivateKey: "not-a-key"}); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if f.ledger.TopicCount() != 0 {
		t.Fatal("validation failures must not touch the ledger")
	}
}

func TestGetAgentProfile(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	rec, _ := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "Cached"})
	p, err := f.reg.GetAgentProfile(ctx, rec.AccountID)
	if err != nil || p == nil || p.Name != "Cached" {
		t.Fatalf("cached profile: %+v, %v", p, err)
	}

	// Remote account with a published profile.
	remote, _ := f.ledger.CreateAccount(ctx, 1)
	f.ledger.SetAccountMemo(ctx, remote.ID, `{"name":"Remote","inboundTopicId":"0.0.9","outboundTopicId":"0.0.10","type":1,"capabilities":[3]}`, remote.Key)
	p, err = f.reg.GetAgentProfile(ctx, remote.ID)
	if err != nil || p == nil || p.Name != "Remote" || !p.HasCapability(3) {
		t.Fatalf("remote profile: %+v, %v", p, err)
	}

	// No memo.
	bare, _ := f.ledger.CreateAccount(ctx, 1)
	if p, err := f.reg.GetAgentProfile(ctx, bare.ID); p != nil || err != nil {
		t.Fatalf("missing memo: %+v, %v", p, err)
	}

	// Unparsable memo is absent, not an error.
	junk, _ := f.ledger.CreateAccount(ctx, 1)
	f.ledger.SetAccountMemo(ctx, junk.ID, "just a memo", junk.Key)
	if p, err := f.reg.GetAgentProfile(ctx, junk.ID); p != nil || err != nil {
		t.Fatalf("junk memo: %+v, %v", p, err)
	}
}

func TestFindAgents_NoRegistry(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.reg.FindAgents(context.Background(), Filter{}); !errors.Is(err, domain.ErrNoRegistry) {
		t.Fatalf("expected ErrNoRegistry, got %v", err)
	}
}

func TestFindAgents_Filters(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	for _, o := range []RegisterOptions{
		{Name: "Search Agent", Capabilities: []int{0, 4}},
		{Name: "translator", Capabilities: []int{4}},
		{Name: "AGENT smith", Capabilities: []int{1}},
	} {
		if _, err := f.reg.RegisterAgent(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	names := func(ps []domain.AgentProfile) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}

	got, err := f.reg.FindAgents(ctx, Filter{Name: "agent"})
	if err != nil {
		t.Fatal(err)
	}
	if n := names(got); len(n) != 2 || n[0] != "Search Agent" || n[1] != "AGENT smith" {
		t.Fatalf("name filter: %v", n)
	}

	got, _ = f.reg.FindAgents(ctx, Filter{Capability: intPtr(4)})
	if n := names(got); len(n) != 2 || n[0] != "Search Agent" || n[1] != "translator" {
		t.Fatalf("capability filter: %v", n)
	}

	got, _ = f.reg.FindAgents(ctx, Filter{Name: "agent", Capability: intPtr(4)})
	if n := names(got); len(n) != 1 || n[0] != "Search Agent" {
		t.Fatalf("intersection: %v", n)
	}

	got, _ = f.reg.FindAgents(ctx, Filter{})
	if len(got) != 3 {
		t.Fatalf("empty filter should return all, got %d", len(got))
	}
}

func TestFindAgents_SkipsMalformedEntries(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.reg.RegisterAgent(ctx, RegisterOptions{Name: "good"})
	regID := f.reg.RegistryTopicID()

	f.ledger.SubmitMessage(ctx, regID, []byte("not json"), f.op)
	f.ledger.SubmitMessage(ctx, regID, []byte(`{"p":"hcs-10","op":"message","data":"x"}`), f.op)
	f.ledger.SubmitMessage(ctx, regID, []byte(`{"p":"hcs-10","op":"register","account_id":"0.0.99999"}`), f.op)

	got, err := f.reg.FindAgents(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "good" {
		t.Fatalf("expected only the good entry, got %+v", got)
	}
}

func TestFindAgents_DuplicatesKept(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	rec, _ := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "twice"})
	payload, _ := domain.Envelope{Protocol: domain.Protocol, Op: domain.OpRegister, AccountID: rec.AccountID}.Encode()
	f.ledger.SubmitMessage(ctx, f.reg.RegistryTopicID(), payload, f.op)

	got, _ := f.reg.FindAgents(ctx, Filter{Name: "twice"})
	if len(got) != 2 {
		t.Fatalf("expected the account twice, got %d", len(got))
	}
}

func TestSigningKey(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	rec, _ := f.reg.RegisterAgent(ctx, RegisterOptions{Name: "holder"})

	k, err := f.reg.SigningKey(ctx, rec.AccountID, "")
	if err != nil || k.String() != rec.PrivateKey {
		t.Fatalf("cached key: %v", err)
	}
	other, _ := keys.Generate()
	if k, _ := f.reg.SigningKey(ctx, rec.AccountID, other.String()); k.String() != other.String() {
		t.Fatal("supplied key must win")
	}
	if _, err := f.reg.SigningKey(ctx, "0.0.4040", ""); !errors.Is(err, domain.ErrMissingArgument) {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
	if _, err := f.reg.SigningKey(ctx, rec.AccountID, "zz"); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "translator.yaml"), []byte("capabilities: [0, 4]\nmodel: gpt-4o\ncreator: acme\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "named.yml"), []byte("name: Summarizer\ncapabilities: [1]\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644)

	defs, err := LoadDefinitions(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d: %+v", len(defs), defs)
	}
	byName := map[string]RegisterOptions{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	if d, ok := byName["translator"]; !ok || d.Model != "gpt-4o" || len(d.Capabilities) != 2 {
		t.Fatalf("file-name default failed: %+v", byName)
	}
	if _, ok := byName["Summarizer"]; !ok {
		t.Fatalf("explicit name lost: %+v", byName)
	}

	if defs, err := LoadDefinitions(filepath.Join(dir, "missing"), testLogger()); err != nil || defs != nil {
		t.Fatalf("missing dir: %v, %v", defs, err)
	}
}
