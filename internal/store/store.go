package store

import (
	"context"
	"errors"

	"github.com/okolo157/tipsync/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrCertificateExhausted = errors.New("certificate spend cap exhausted")
)

// LedgerStore is the narrow persistence contract the reconciliation core
// requires. Every mutation is atomic on its own: callers never compose a
// read-modify-write across calls.
type LedgerStore interface {
	// GetUser fetches a user or returns ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// ProvisionUser creates the user with balance 0 and a pending public
	// key if absent, and returns the current row either way.
	ProvisionUser(ctx context.Context, id string) (*domain.User, error)

	// CreditBalance adds amount to the user's balance as one atomic
	// upsert-increment, provisioning the user with balance = amount if
	// unseen. Returns the resulting balance.
	CreditBalance(ctx context.Context, id string, amount int64) (int64, error)

	// DebitBalance subtracts amount only if the current balance covers it.
	// Returns ErrInsufficientBalance or ErrUserNotFound otherwise.
	DebitBalance(ctx context.Context, id string, amount int64) error

	// SetPublicKey stores the user's registered key, provisioning the user
	// if absent.
	SetPublicKey(ctx context.Context, id, publicKey string) error

	// GetTransaction fetches a stored transaction or returns
	// ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ApplyTransaction stores the row and credits the receiver (JIT
	// provisioning included) as one atomic unit: either both persist or
	// neither does. A duplicate id applies nothing and reports
	// inserted = false.
	ApplyTransaction(ctx context.Context, tx domain.Transaction) (inserted bool, err error)

	// ReserveCertificateSpend accumulates amount into the cumulative spend
	// tracked for a certificate nonce, bounded by cap. Returns
	// ErrCertificateExhausted when the reservation would exceed cap.
	ReserveCertificateSpend(ctx context.Context, nonce string, amount, limit int64) error

	// ReleaseCertificateSpend undoes a reservation whose transaction was
	// not applied (duplicate race or storage failure).
	ReleaseCertificateSpend(ctx context.Context, nonce string, amount int64) error

	// ConsumeCertificateRemainder atomically exhausts the spend record for
	// a certificate nonce and returns the capacity that was still unspent.
	// A second call for the same nonce returns 0.
	ConsumeCertificateRemainder(ctx context.Context, nonce string, limit int64) (int64, error)
}
