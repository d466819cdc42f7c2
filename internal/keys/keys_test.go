package keys

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerate_StringRoundTrip(t *testing.T) {
	k, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	s := k.String()
	if !strings.HasPrefix(s, privateDERPrefix) {
		t.Fatalf("expected DER prefix, got %q", s)
	}
	parsed, err := ParsePrivateKey(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Public().Equal(k.Public()) {
		t.Fatal("parsed key does not match")
	}
}

func TestParsePrivateKey_RawSeedAndFullKey(t *testing.T) {
	k, _ := Generate()
	seedHex := strings.TrimPrefix(k.String(), privateDERPrefix)

	fromSeed, err := ParsePrivateKey("0x" + seedHex)
	if err != nil {
		t.Fatalf("raw seed: %v", err)
	}
	if !fromSeed.Public().Equal(k.Public()) {
		t.Fatal("seed key mismatch")
	}

	full := seedHex + strings.TrimPrefix(k.Public().String(), publicDERPrefix)
	fromFull, err := ParsePrivateKey(full)
	if err != nil {
		t.Fatalf("64-byte key: %v", err)
	}
	if !fromFull.Public().Equal(k.Public()) {
		t.Fatal("full key mismatch")
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "not-hex", "abcd", strings.Repeat("ab", 40)} {
		if _, err := ParsePrivateKey(in); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParsePrivateKey(%q): expected ErrInvalidKey, got %v", in, err)
		}
	}
}

func TestParsePublicKey(t *testing.T) {
	k, _ := Generate()
	pub, err := ParsePublicKey(k.Public().String())
	if err != nil {
		t.Fatal(err)
	}
	if !pub.Equal(k.Public()) {
		t.Fatal("public key mismatch")
	}
	if _, err := ParsePublicKey("1234"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	k, _ := Generate()
	sig := k.Sign([]byte("payload"))
	if !k.Public().Verify([]byte("payload"), sig) {
		t.Fatal("signature should verify")
	}
	if k.Public().Verify([]byte("other"), sig) {
		t.Fatal("signature over other payload should not verify")
	}
}

func TestZeroKeys(t *testing.T) {
	var k PrivateKey
	if !k.IsZero() || k.String() != "" || !k.Public().IsZero() {
		t.Fatal("zero private key should be empty")
	}
	var p PublicKey
	if p.Equal(p) {
		t.Fatal("zero public keys never compare equal")
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal("302e0201")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		t.Fatalf("expected sealed prefix, got %q", sealed)
	}
	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if opened != "302e0201" {
		t.Fatalf("expected round trip, got %q", opened)
	}
}

func TestSealer_WrongSecret(t *testing.T) {
	a, _ := NewSealer("one")
	b, _ := NewSealer("two")
	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected error opening with wrong secret")
	}
}

func TestSealer_NilPassthrough(t *testing.T) {
	s, err := NewSealer("")
	if err != nil || s != nil {
		t.Fatalf("empty secret should give nil sealer, got %v %v", s, err)
	}
	v, _ := s.Seal("plain")
	if v != "plain" {
		t.Fatalf("nil sealer should pass through, got %q", v)
	}
	if out, _ := s.Open("plain"); out != "plain" {
		t.Fatalf("plain value should pass through, got %q", out)
	}
	if _, err := s.Open(sealedPrefix + "AAAA"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}
