package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/okolo157/tipsync/internal/authority"
	"github.com/okolo157/tipsync/internal/domain"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

var (
	ErrMalformedRequest   = errors.New("sync request malformed")
	ErrInvalidCertificate = errors.New("certificate signature invalid")
	ErrCertificateExpired = errors.New("certificate expired")
)

// Engine replays batches of offline transactions against the ledger.
//
// Per request it runs VALIDATING_CERT → REPLAYING_TRANSACTIONS →
// SETTLING_CHANGE → RESPONDING. The batch itself is sequential; safety
// under concurrent requests comes from the store's per-statement
// atomicity, not from any lock held here.
type Engine struct {
	store     store.LedgerStore
	codec     *signature.Codec
	authority *authority.Authority
	now       func() time.Time
}

func NewEngine(s store.LedgerStore, codec *signature.Codec, auth *authority.Authority) *Engine {
	return &Engine{store: s, codec: codec, authority: auth, now: time.Now}
}

// NewEngineWithClock is used by tests that need deterministic expiry.
func NewEngineWithClock(s store.LedgerStore, codec *signature.Codec, auth *authority.Authority, now func() time.Time) *Engine {
	return &Engine{store: s, codec: codec, authority: auth, now: now}
}

// Sync validates the presented certificate, replays the transaction batch
// idempotently, settles change for any unspent certificate balance, and
// returns the syncing user's post-replay online balance.
func (e *Engine) Sync(ctx context.Context, req domain.SyncRequest) (*domain.SyncResponse, error) {
	if req.Transactions == nil {
		return nil, fmt.Errorf("%w: transactions missing", ErrMalformedRequest)
	}
	if req.Certificate == nil && req.UserID == "" {
		return nil, fmt.Errorf("%w: certificate or user_id required", ErrMalformedRequest)
	}

	cert := req.Certificate
	if cert != nil {
		if !e.codec.Verify(signature.Canonical(*cert), cert.Signature) {
			return nil, ErrInvalidCertificate
		}
		if e.now().UnixMilli() >= cert.Expiration {
			return nil, ErrCertificateExpired
		}
	}

	processed := make([]string, 0, len(req.Transactions))
	var totalSpent int64

	for _, rec := range req.Transactions {
		outcome, amount, err := e.replay(ctx, cert, rec)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case replayed, duplicate:
			processed = append(processed, rec.TransactionID)
			totalSpent += amount
		case skipped:
			// Left out of processed so the client retries it.
		}
	}

	resp := &domain.SyncResponse{
		Processed:  processed,
		TotalSpent: totalSpent,
	}

	if cert != nil {
		// Settlement consumes the presented certificate in full: whatever
		// capacity its spend record still had continues only as the newly
		// signed change certificate. Re-presenting the same nonce finds
		// nothing left, so a certificate can never mint value twice.
		remainder, err := e.store.ConsumeCertificateRemainder(ctx, cert.Nonce, cert.TipWalletBalance)
		if err != nil {
			return nil, err
		}
		if remainder > 0 {
			change, err := e.authority.ReissueChange(*cert, remainder)
			if err != nil {
				return nil, fmt.Errorf("change reissue: %w", err)
			}
			resp.NewCertificate = change
		}
	}

	syncUser := req.UserID
	if cert != nil {
		syncUser = cert.UserID
	}
	user, err := e.store.ProvisionUser(ctx, syncUser)
	if err != nil {
		return nil, err
	}
	resp.Balance = user.Balance

	return resp, nil
}

type replayOutcome int

const (
	replayed replayOutcome = iota
	duplicate
	skipped
)

// replay applies one transaction record. Duplicates return the stored
// amount so a retried batch settles the same change certificate as the
// first attempt.
func (e *Engine) replay(ctx context.Context, cert *domain.Certificate, rec domain.TxRecord) (replayOutcome, int64, error) {
	if rec.TransactionID == "" || rec.Amount <= 0 {
		log.Printf("sync: dropping malformed record id=%q amount=%d", rec.TransactionID, rec.Amount)
		return skipped, 0, nil
	}

	existing, err := e.store.GetTransaction(ctx, rec.TransactionID)
	if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
		return skipped, 0, err
	}
	if existing != nil {
		return duplicate, existing.Amount, nil
	}

	// An unsigned transfer is never persisted or credited; the client
	// keeps it in its outbox and retries once the signature is attached.
	if rec.SenderSignature == "" {
		log.Printf("sync: transaction %s has no sender signature, leaving for retry", rec.TransactionID)
		return skipped, 0, nil
	}

	if cert != nil {
		err := e.store.ReserveCertificateSpend(ctx, cert.Nonce, rec.Amount, cert.TipWalletBalance)
		if errors.Is(err, store.ErrCertificateExhausted) {
			log.Printf("sync: certificate %s exhausted, rejecting transaction %s", cert.Nonce, rec.TransactionID)
			return skipped, 0, nil
		}
		if err != nil {
			return skipped, 0, err
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return skipped, 0, fmt.Errorf("marshal payload: %w", err)
	}

	// Row insert and receiver credit are one storage transaction: a retry
	// after a mid-batch failure must never find a persisted row whose
	// receiver was not paid.
	inserted, err := e.store.ApplyTransaction(ctx, domain.Transaction{
		ID:         rec.TransactionID,
		SenderID:   resolveSender(cert, rec),
		ReceiverID: resolveReceiver(rec),
		Amount:     rec.Amount,
		Signature:  rec.SenderSignature,
		Payload:    payload,
	})
	if err != nil {
		if cert != nil {
			if relErr := e.store.ReleaseCertificateSpend(ctx, cert.Nonce, rec.Amount); relErr != nil {
				log.Printf("sync: release reservation after failed apply: %v", relErr)
			}
		}
		return skipped, 0, err
	}
	if !inserted {
		// Lost the apply race to a concurrent replay of the same id:
		// the winner credited the receiver, so undo our reservation.
		if cert != nil {
			if err := e.store.ReleaseCertificateSpend(ctx, cert.Nonce, rec.Amount); err != nil {
				return skipped, 0, err
			}
		}
		return duplicate, rec.Amount, nil
	}

	return replayed, rec.Amount, nil
}

// resolveSender attributes the transaction to, in order: the declared
// sender user id; the certificate holder when the certificate's device
// matches the declared sender device; the raw sender device id. A
// transaction relayed by someone else's device must never be attributed
// to the relaying certificate holder, hence the device match requirement.
func resolveSender(cert *domain.Certificate, rec domain.TxRecord) string {
	if rec.SenderUserID != "" {
		return rec.SenderUserID
	}
	if cert != nil && rec.SenderDeviceID != "" && cert.DeviceID == rec.SenderDeviceID {
		return cert.UserID
	}
	return rec.SenderDeviceID
}

func resolveReceiver(rec domain.TxRecord) string {
	if rec.ReceiverUserID != "" {
		return rec.ReceiverUserID
	}
	return rec.ReceiverDeviceID
}
