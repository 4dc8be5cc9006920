// Package keys holds the signing key. The secret never leaves this package:
// it is not logged, serialized or returned.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	// ErrNoSigner is returned when a mutation is requested in read-only mode.
	ErrNoSigner = errors.New("no signing key configured")
	// ErrInvalidKey covers malformed hex, bech32 or out-of-range keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Signer signs records on behalf of one author.
type Signer interface {
	PublicKey() string
	// Sign sets PubKey, ID and Sig on evt.
	Sign(evt *nostr.Event) error
}

// LocalSigner signs with an in-memory BIP-340 secret key.
type LocalSigner struct {
	priv   *btcec.PrivateKey
	pubkey string
}

var _ Signer = (*LocalSigner)(nil)

// ParseSecret accepts a 64-char hex secret or an nsec string.
func ParseSecret(raw string) (*LocalSigner, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "nsec") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil || prefix != "nsec" {
			return nil, fmt.Errorf("%w: malformed nsec", ErrInvalidKey)
		}
		raw, _ = value.(string)
	}

	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: secret must be 32 bytes of hex", ErrInvalidKey)
	}

	priv, _ := btcec.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("%w: zero secret", ErrInvalidKey)
	}

	return &LocalSigner{
		priv:   priv,
		pubkey: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}, nil
}

// PublicKey returns the x-only public key as hex.
func (s *LocalSigner) PublicKey() string { return s.pubkey }

func (s *LocalSigner) Sign(evt *nostr.Event) error {
	evt.PubKey = s.pubkey
	evt.ID = evt.GetID()

	id, err := hex.DecodeString(evt.ID)
	if err != nil {
		return fmt.Errorf("decode record id: %w", err)
	}
	sig, err := schnorr.Sign(s.priv, id)
	if err != nil {
		return fmt.Errorf("sign record: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// String keeps the secret out of %v and %+v.
func (s *LocalSigner) String() string {
	return "LocalSigner(" + s.pubkey + ")"
}

// ParsePublicKey accepts a 64-char hex key or an npub string and returns the hex form.
func ParsePublicKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "npub") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil || prefix != "npub" {
			return "", fmt.Errorf("%w: malformed npub", ErrInvalidKey)
		}
		raw, _ = value.(string)
	}

	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: public key must be 32 bytes of hex", ErrInvalidKey)
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return strings.ToLower(raw), nil
}

// Npub renders a hex public key for display; the input is returned unchanged if it is not valid.
func Npub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return pubkey
	}
	return npub
}
