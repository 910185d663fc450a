package reconcile

import (
	"context"

	"github.com/okolo157/tipsync/internal/store"
)

// BalanceQuery reads and tops up online balances. Fund is a trusted path
// (guarded at the transport layer), not part of the reconciliation
// protocol's trust boundary.
type BalanceQuery struct {
	store store.LedgerStore
}

func NewBalanceQuery(s store.LedgerStore) *BalanceQuery {
	return &BalanceQuery{store: s}
}

// Balance returns the user's current balance, provisioning the user at
// zero on first reference.
func (q *BalanceQuery) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := q.store.ProvisionUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Fund provisions-or-increments the user's balance and returns the result.
func (q *BalanceQuery) Fund(ctx context.Context, userID string, amount int64) (int64, error) {
	return q.store.CreditBalance(ctx, userID, amount)
}
