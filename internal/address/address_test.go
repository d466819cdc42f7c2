package address

import (
	"errors"
	"testing"
)

func TestOperator_RoundTrip(t *testing.T) {
	cases := []struct{ inbound, account string }{
		{"0.0.1001", "0.0.42"},
		{"0.0.7", "0.0.7"},
		{"topic", "acct"},
	}
	for _, c := range cases {
		ref, err := ParseOperator(FormatOperator(c.inbound, c.account))
		if err != nil {
			t.Fatalf("parse %s@%s: %v", c.inbound, c.account, err)
		}
		if ref.InboundTopicID != c.inbound || ref.AccountID != c.account {
			t.Fatalf("round trip mismatch: got %+v", ref)
		}
		if ref.String() != c.inbound+"@"+c.account {
			t.Fatalf("String() = %q", ref.String())
		}
	}
}

func TestParseOperator_Malformed(t *testing.T) {
	for _, in := range []string{"", "0.0.1001", "0.0.1001@", "@0.0.42"} {
		if _, err := ParseOperator(in); !errors.Is(err, ErrMalformedAddress) {
			t.Errorf("ParseOperator(%q): expected ErrMalformedAddress, got %v", in, err)
		}
	}
}

func TestLocator(t *testing.T) {
	loc := FormatLocator("0.0.5005")
	if loc != "hcs://1/0.0.5005" {
		t.Fatalf("unexpected locator %q", loc)
	}
	id, ok := ParseLocator(loc)
	if !ok || id != "0.0.5005" {
		t.Fatalf("ParseLocator = %q, %v", id, ok)
	}
}

func TestIsLocator_OnlyExactShape(t *testing.T) {
	yes := []string{"hcs://1/0.0.1", "hcs://1/12.34.56789"}
	no := []string{
		"hello",
		"hcs://1/",
		"hcs://2/0.0.1",
		"hcs://1/0.0.1 trailing",
		" hcs://1/0.0.1",
		"see hcs://1/0.0.1",
		"hcs://1/abc",
	}
	for _, s := range yes {
		if !IsLocator(s) {
			t.Errorf("expected %q to be a locator", s)
		}
	}
	for _, s := range no {
		if IsLocator(s) {
			t.Errorf("expected %q to be inline content", s)
		}
	}
}

func TestValidTopicID(t *testing.T) {
	if !ValidTopicID("0.0.123") {
		t.Fatal("0.0.123 should be valid")
	}
	if ValidTopicID("0.0") || ValidTopicID("x.y.z") {
		t.Fatal("malformed ids should be rejected")
	}
}
