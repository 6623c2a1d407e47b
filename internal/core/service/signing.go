package service

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rl1809/ticket-ledger/internal/core/domain"
)

// SigningAuthority holds the platform key. The credential is parsed once at
// construction and never reloaded; a missing or malformed credential leaves
// the authority unavailable and every Sign call fails closed.
type SigningAuthority struct {
	key     ed25519.PrivateKey
	address domain.Address
}

// LoadSigningAuthority parses a base64 ed25519 seed (32 bytes) or private key
// (64 bytes). It never returns an error: problems are logged and the returned
// authority reports Available() == false.
func LoadSigningAuthority(credential string, logger *slog.Logger) *SigningAuthority {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		logger.Warn("platform credential not configured, ledger signing disabled")
		return &SigningAuthority{}
	}

	key, err := parsePrivateKey(credential)
	if err != nil {
		logger.Warn("invalid platform credential, ledger signing disabled", "error", err)
		return &SigningAuthority{}
	}

	authority := &SigningAuthority{
		key:     key,
		address: domain.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
	}
	logger.Info("platform credential loaded", "address", authority.address)
	return authority
}

// NewSigningAuthority wraps an already-parsed key.
func NewSigningAuthority(key ed25519.PrivateKey) *SigningAuthority {
	return &SigningAuthority{
		key:     key,
		address: domain.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
	}
}

func parsePrivateKey(credential string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.PrivateKey(raw)
		// the trailing half must be the public key of the seed
		if !key.Equal(ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])) {
			return nil, fmt.Errorf("private key does not match its embedded public key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("credential is %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func (a *SigningAuthority) Available() bool {
	return a != nil && a.key != nil
}

func (a *SigningAuthority) Address() domain.Address {
	if !a.Available() {
		return ""
	}
	return a.address
}

func (a *SigningAuthority) Sign(payload []byte) (domain.SignedPayload, error) {
	if !a.Available() {
		return domain.SignedPayload{}, domain.ErrSigningUnavailable
	}
	return domain.SignedPayload{
		Payload:   payload,
		Signature: ed25519.Sign(a.key, payload),
		Signer:    a.address,
	}, nil
}
