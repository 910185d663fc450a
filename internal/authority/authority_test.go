package authority

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okolo157/tipsync/internal/domain"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Authority, *store.Memory, *signature.Codec) {
	t.Helper()
	codec, err := signature.NewCodec(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)
	s := store.NewMemory()
	a := NewWithClock(s, codec, func() time.Time { return testTime })
	return a, s, codec
}

func TestIssueDebitsBalance(t *testing.T) {
	a, s, codec := setup(t)
	ctx := context.Background()

	_, err := s.CreditBalance(ctx, "alice", 1000)
	require.NoError(t, err)

	cert, err := a.Issue(ctx, "alice", "device-1", 600)
	require.NoError(t, err)

	assert.Equal(t, "alice", cert.UserID)
	assert.Equal(t, "device-1", cert.DeviceID)
	assert.Equal(t, int64(600), cert.TipWalletBalance)
	assert.Equal(t, testTime.UnixMilli(), cert.Timestamp)
	assert.Equal(t, testTime.Add(24*time.Hour).UnixMilli(), cert.Expiration)
	assert.NotEmpty(t, cert.Nonce)
	assert.True(t, codec.Verify(signature.Canonical(*cert), cert.Signature))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(400), u.Balance)
}

func TestIssueRejections(t *testing.T) {
	a, s, _ := setup(t)
	ctx := context.Background()

	_, err := a.Issue(ctx, "ghost", "device-1", 100)
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	_, err = s.CreditBalance(ctx, "alice", 50)
	require.NoError(t, err)

	_, err = a.Issue(ctx, "alice", "device-1", 100)
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	_, err = a.Issue(ctx, "alice", "device-1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Rejections must not move the balance.
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.Balance)
}

func TestReissueChange(t *testing.T) {
	a, s, codec := setup(t)
	ctx := context.Background()

	_, err := s.CreditBalance(ctx, "alice", 1000)
	require.NoError(t, err)
	original, err := a.Issue(ctx, "alice", "device-1", 500)
	require.NoError(t, err)

	change, err := a.ReissueChange(*original, 120)
	require.NoError(t, err)

	assert.Equal(t, "alice", change.UserID)
	assert.Equal(t, "device-1", change.DeviceID)
	assert.Equal(t, int64(120), change.TipWalletBalance)
	assert.NotEqual(t, original.Nonce, change.Nonce)
	assert.Equal(t, testTime.Add(30*24*time.Hour).UnixMilli(), change.Expiration)
	assert.True(t, codec.Verify(signature.Canonical(*change), change.Signature))

	// Change stays offline: the online balance is untouched by reissue.
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Balance)
}

func TestReissueChangeRejectsNonPositive(t *testing.T) {
	a, _, _ := setup(t)

	_, err := a.ReissueChange(domain.Certificate{UserID: "alice", DeviceID: "device-1"}, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
