package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okolo157/tipsync/internal/domain"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

var ErrInvalidAmount = errors.New("certificate amount must be positive")

const (
	// issueTTL bounds a freshly issued certificate.
	issueTTL = 24 * time.Hour
	// changeTTL is the longer window for change certificates, since the
	// holder may stay offline well past the original issuance window.
	changeTTL = 30 * 24 * time.Hour
)

// Authority mints spending certificates. Issuance debits the online
// balance; change reissue does not touch it — the unspent remainder lives
// purely in the new certificate until the holder redeems or respends it.
type Authority struct {
	store store.LedgerStore
	codec *signature.Codec
	now   func() time.Time
}

func New(s store.LedgerStore, codec *signature.Codec) *Authority {
	return &Authority{store: s, codec: codec, now: time.Now}
}

// NewWithClock is used by tests that need deterministic timestamps.
func NewWithClock(s store.LedgerStore, codec *signature.Codec, now func() time.Time) *Authority {
	return &Authority{store: s, codec: codec, now: now}
}

// Issue debits amount from the user's online balance and returns a signed
// certificate for it. The debit is a single conditional statement, so a
// concurrent issue can never push the balance negative.
func (a *Authority) Issue(ctx context.Context, userID, deviceID string, amount int64) (*domain.Certificate, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := a.store.DebitBalance(ctx, userID, amount); err != nil {
		return nil, err
	}
	return a.mint(userID, deviceID, amount, issueTTL), nil
}

// ReissueChange mints a certificate for the unspent remainder of a
// redeemed certificate. No balance is touched: the remainder stays
// offline, represented only by the new signature.
func (a *Authority) ReissueChange(cert domain.Certificate, unspent int64) (*domain.Certificate, error) {
	if unspent <= 0 {
		return nil, fmt.Errorf("reissue change: %w", ErrInvalidAmount)
	}
	return a.mint(cert.UserID, cert.DeviceID, unspent, changeTTL), nil
}

func (a *Authority) mint(userID, deviceID string, amount int64, ttl time.Duration) *domain.Certificate {
	now := a.now()
	cert := domain.Certificate{
		UserID:           userID,
		DeviceID:         deviceID,
		TipWalletBalance: amount,
		Timestamp:        now.UnixMilli(),
		Nonce:            uuid.NewString(),
		Expiration:       now.Add(ttl).UnixMilli(),
	}
	cert.Signature = a.codec.Sign(signature.Canonical(cert))
	return &cert
}
