package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEnvelope_MessageAlwaysCarriesData(t *testing.T) {
	b, err := Envelope{Protocol: Protocol, Op: OpMessage, OperatorID: "0.0.2@0.0.1"}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"data":""`) {
		t.Fatalf("message envelope should carry an empty data field: %s", b)
	}

	b, _ = Envelope{Protocol: Protocol, Op: OpRegister, AccountID: "0.0.1", Memo: "hi"}.Encode()
	if strings.Contains(string(b), `"data"`) {
		t.Fatalf("register envelope should not carry data: %s", b)
	}
	if !strings.Contains(string(b), `"p":"hcs-10"`) || !strings.Contains(string(b), `"account_id":"0.0.1"`) {
		t.Fatalf("unexpected wire form: %s", b)
	}
}

func TestDecodeEnvelope_AcceptsLongProtocolField(t *testing.T) {
	e, err := DecodeEnvelope([]byte(`{"protocol":"hcs-10","op":"register","account_id":"0.0.9","m":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Protocol != Protocol || e.AccountID != "0.0.9" {
		t.Fatalf("unexpected envelope %+v", e)
	}
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"p":"hcs-2","op":"register"}`,
		`{"p":"hcs-10"}`,
	} {
		if _, err := DecodeEnvelope([]byte(in)); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}

func TestEnvelope_Operator(t *testing.T) {
	e := Envelope{OperatorID: "0.0.100@0.0.5"}
	ref, err := e.Operator()
	if err != nil {
		t.Fatal(err)
	}
	if ref.AccountID != "0.0.5" || ref.InboundTopicID != "0.0.100" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, err := (Envelope{OperatorID: "0.0.5"}).Operator(); !errors.Is(err, ErrMalformedAddress) {
		t.Fatalf("expected ErrMalformedAddress, got %v", err)
	}
}

func TestEnvelope_Payload(t *testing.T) {
	if d := (Envelope{Data: "hello"}).Payload(); d.Kind != DataInline || d.Text != "hello" {
		t.Fatalf("expected inline, got %+v", d)
	}
	if d := (Envelope{Data: "hcs://1/0.0.77"}).Payload(); d.Kind != DataLocator || d.TopicID != "0.0.77" {
		t.Fatalf("expected locator, got %+v", d)
	}
}

func TestAgentProfile_MemoShape(t *testing.T) {
	p := AgentProfile{Name: "A", InboundTopicID: "0.0.1", OutboundTopicID: "0.0.2", Type: AgentTypeAI, Capabilities: []int{0, 4}}
	b, _ := json.Marshal(p)
	for _, want := range []string{`"inboundTopicId":"0.0.1"`, `"outboundTopicId":"0.0.2"`, `"type":1`, `"capabilities":[0,4]`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("memo %s missing %s", b, want)
		}
	}
	if strings.Contains(string(b), "model") {
		t.Errorf("empty model should be omitted: %s", b)
	}
	if !p.HasCapability(4) || p.HasCapability(3) {
		t.Error("capability membership wrong")
	}
	if !p.NameContains("a") {
		t.Error("name match should be case-insensitive")
	}
}

func TestConnectionRecord(t *testing.T) {
	c := ConnectionRecord{ChannelID: "0.0.9", ParticipantA: "0.0.1", ParticipantB: "0.0.2"}
	if !c.Has("0.0.1") || !c.Has("0.0.2") || c.Has("0.0.3") || c.Has("") {
		t.Fatal("membership wrong")
	}
	if c.PeerOf("0.0.1") != "0.0.2" || c.PeerOf("0.0.2") != "0.0.1" {
		t.Fatal("peer resolution wrong")
	}
}
