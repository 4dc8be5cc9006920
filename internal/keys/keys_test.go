package keys

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestParseSecret(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	want, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("EncodePrivateKey() error = %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"hex", sk, false},
		{"hex with spaces", "  " + sk + "\n", false},
		{"nsec", nsec, false},
		{"short hex", sk[:10], true},
		{"not hex", strings.Repeat("z", 64), true},
		{"zero", strings.Repeat("0", 64), true},
		{"broken nsec", "nsec1qqqq", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSecret(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("ParseSecret() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if s.PublicKey() != want {
				t.Errorf("PublicKey() = %s, want %s", s.PublicKey(), want)
			}
		})
	}
}

func TestSignProducesValidRecord(t *testing.T) {
	s, err := ParseSecret(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}

	evt := nostr.Event{
		Kind:      10003,
		CreatedAt: 1700000000,
		Tags:      nostr.Tags{{"r", "https://a.com", "A"}},
	}
	if err := s.Sign(&evt); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if evt.PubKey != s.PublicKey() {
		t.Errorf("PubKey = %s, want %s", evt.PubKey, s.PublicKey())
	}
	if evt.ID != evt.GetID() {
		t.Errorf("ID = %s, want %s", evt.ID, evt.GetID())
	}
	ok, err := evt.CheckSignature()
	if err != nil || !ok {
		t.Errorf("CheckSignature() = %v, %v; want true", ok, err)
	}
}

func TestSignerDoesNotPrintSecret(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	s, err := ParseSecret(sk)
	if err != nil {
		t.Fatalf("ParseSecret() error = %v", err)
	}
	for _, out := range []string{fmt.Sprint(s), fmt.Sprintf("%+v", s)} {
		if strings.Contains(out, sk) {
			t.Errorf("formatted signer leaks the secret: %s", out)
		}
	}
}

func TestParsePublicKey(t *testing.T) {
	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	npub := Npub(pk)
	if !strings.HasPrefix(npub, "npub1") {
		t.Fatalf("Npub() = %s", npub)
	}

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"hex", pk, false},
		{"upper hex", strings.ToUpper(pk), false},
		{"npub", npub, false},
		{"short", pk[:20], true},
		{"garbage npub", "npub1zzzz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublicKey(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePublicKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != pk {
				t.Errorf("ParsePublicKey() = %s, want %s", got, pk)
			}
		})
	}
}
