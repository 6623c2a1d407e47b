package domain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	addressChecksumLen = 4
	AddressLength      = 58
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Address is a ledger account address: base32 of the ed25519 public key
// followed by a 4-byte checksum.
type Address string

func (a Address) String() string { return string(a) }

func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	sum := sha512.Sum512_256(pub)
	raw := make([]byte, 0, len(pub)+addressChecksumLen)
	raw = append(raw, pub...)
	raw = append(raw, sum[len(sum)-addressChecksumLen:]...)
	return Address(addressEncoding.EncodeToString(raw))
}

// ParseAddress validates the encoding and checksum of s.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != AddressLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidAddress, AddressLength, len(s))
	}
	raw, err := addressEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize+addressChecksumLen {
		return "", fmt.Errorf("%w: bad decoded length %d", ErrInvalidAddress, len(raw))
	}
	pub, checksum := raw[:ed25519.PublicKeySize], raw[ed25519.PublicKeySize:]
	sum := sha512.Sum512_256(pub)
	if !bytes.Equal(sum[len(sum)-addressChecksumLen:], checksum) {
		return "", fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return Address(s), nil
}

func (a Address) PublicKey() (ed25519.PublicKey, error) {
	if _, err := ParseAddress(string(a)); err != nil {
		return nil, err
	}
	raw, _ := addressEncoding.DecodeString(string(a))
	return ed25519.PublicKey(raw[:ed25519.PublicKeySize]), nil
}
