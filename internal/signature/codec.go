package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/okolo157/tipsync/internal/domain"
)

// delimiter joins certificate fields into the signable string. Changing it
// (or the field order in Canonical) invalidates every outstanding
// certificate, so issuance and verification share this one definition.
const delimiter = "|"

// Codec signs and verifies certificates with an injected ed25519 key pair.
// The key is loaded once at startup; Codec holds it immutably.
type Codec struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewCodec builds a codec from a 32-byte ed25519 seed.
func NewCodec(seed []byte) (*Codec, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Codec{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// NewCodecFromBase64 decodes a base64-encoded seed, the form the
// SIGNING_SEED environment variable carries.
func NewCodecFromBase64(encoded string) (*Codec, error) {
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	return NewCodec(seed)
}

// Canonical produces the signable byte string for a certificate: the six
// non-signature fields in fixed order, joined by the fixed delimiter.
func Canonical(c domain.Certificate) string {
	return strings.Join([]string{
		c.UserID,
		c.DeviceID,
		strconv.FormatInt(c.TipWalletBalance, 10),
		strconv.FormatInt(c.Timestamp, 10),
		c.Nonce,
		strconv.FormatInt(c.Expiration, 10),
	}, delimiter)
}

// Sign returns the base64 signature over the canonical string.
func (c *Codec) Sign(canonical string) string {
	sig := ed25519.Sign(c.priv, []byte(canonical))
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify reports whether sig is a valid server signature over canonical.
// Malformed input yields false, never an error.
func (c *Codec) Verify(canonical, sig string) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(c.pub, []byte(canonical), raw)
}

// PublicKey returns the base64 public key clients use to verify
// certificates locally.
func (c *Codec) PublicKey() string {
	return base64.StdEncoding.EncodeToString(c.pub)
}
