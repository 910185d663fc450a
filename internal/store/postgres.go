package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okolo157/tipsync/internal/domain"
)

// Postgres implements LedgerStore on a pgx connection pool.
//
// Expected schema:
//
//	users             (id TEXT PRIMARY KEY, balance BIGINT NOT NULL, public_key TEXT NOT NULL)
//	transactions      (id TEXT PRIMARY KEY, sender_id TEXT, receiver_id TEXT,
//	                   amount BIGINT NOT NULL, signature TEXT NOT NULL, payload JSONB)
//	certificate_spend (nonce TEXT PRIMARY KEY, spent BIGINT NOT NULL, cap BIGINT NOT NULL)
//
// The primary keys on users.id and transactions.id carry the idempotency
// invariant; no mutation here is split into separate read and write calls.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		"SELECT id, balance, public_key FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Balance, &u.PublicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) ProvisionUser(ctx context.Context, id string) (*domain.User, error) {
	// The no-op DO UPDATE makes RETURNING yield the row on conflict too,
	// keeping provision-or-fetch a single statement.
	var u domain.User
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (id, balance, public_key) VALUES ($1, 0, $2)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, balance, public_key`,
		id, domain.PendingPublicKey,
	).Scan(&u.ID, &u.Balance, &u.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) CreditBalance(ctx context.Context, id string, amount int64) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (id, balance, public_key) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET balance = users.balance + EXCLUDED.balance
		 RETURNING balance`,
		id, amount, domain.PendingPublicKey,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

func (s *Postgres) DebitBalance(ctx context.Context, id string, amount int64) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2",
		id, amount,
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Distinguish the two zero-row cases.
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return ErrInsufficientBalance
}

func (s *Postgres) SetPublicKey(ctx context.Context, id, publicKey string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, balance, public_key) VALUES ($1, 0, $2)
		 ON CONFLICT (id) DO UPDATE SET public_key = EXCLUDED.public_key`,
		id, publicKey,
	)
	if err != nil {
		return fmt.Errorf("set public key: %w", err)
	}
	return nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.QueryRow(ctx,
		"SELECT id, sender_id, receiver_id, amount, signature, payload FROM transactions WHERE id = $1",
		id,
	).Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Signature, &t.Payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

// ApplyTransaction persists the transaction row and credits the receiver
// inside one database transaction, so a crash between the two can never
// leave a stored row whose receiver was not paid.
func (s *Postgres) ApplyTransaction(ctx context.Context, tx domain.Transaction) (bool, error) {
	dbtx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("apply transaction begin: %w", err)
	}
	defer dbtx.Rollback(ctx)

	tag, err := dbtx.Exec(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, signature, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.SenderID, tx.ReceiverID, tx.Amount, tx.Signature, tx.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = dbtx.Exec(ctx,
		`INSERT INTO users (id, balance, public_key) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET balance = users.balance + EXCLUDED.balance`,
		tx.ReceiverID, tx.Amount, domain.PendingPublicKey,
	)
	if err != nil {
		return false, fmt.Errorf("credit receiver: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return false, fmt.Errorf("apply transaction commit: %w", err)
	}
	return true, nil
}

func (s *Postgres) ReserveCertificateSpend(ctx context.Context, nonce string, amount, limit int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO certificate_spend (nonce, spent, cap) VALUES ($1, 0, $2)
		 ON CONFLICT (nonce) DO NOTHING`,
		nonce, limit,
	)
	if err != nil {
		return fmt.Errorf("certificate spend init: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE certificate_spend SET spent = spent + $2 WHERE nonce = $1 AND spent + $2 <= cap",
		nonce, amount,
	)
	if err != nil {
		return fmt.Errorf("certificate spend reserve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCertificateExhausted
	}
	return nil
}

func (s *Postgres) ReleaseCertificateSpend(ctx context.Context, nonce string, amount int64) error {
	_, err := s.db.Exec(ctx,
		"UPDATE certificate_spend SET spent = spent - $2 WHERE nonce = $1",
		nonce, amount,
	)
	if err != nil {
		return fmt.Errorf("certificate spend release: %w", err)
	}
	return nil
}

// ConsumeCertificateRemainder pins spent to cap for the nonce and reports
// how much capacity was left. The row lock on the self-select keeps two
// concurrent presentations of the same certificate from both collecting
// the remainder.
func (s *Postgres) ConsumeCertificateRemainder(ctx context.Context, nonce string, limit int64) (int64, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO certificate_spend (nonce, spent, cap) VALUES ($1, 0, $2)
		 ON CONFLICT (nonce) DO NOTHING`,
		nonce, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("certificate spend init: %w", err)
	}

	var remainder int64
	err = s.db.QueryRow(ctx,
		`UPDATE certificate_spend AS c SET spent = c.cap
		 FROM (SELECT nonce, spent FROM certificate_spend WHERE nonce = $1 FOR UPDATE) prev
		 WHERE c.nonce = prev.nonce AND prev.spent < c.cap
		 RETURNING c.cap - prev.spent`,
		nonce,
	).Scan(&remainder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already fully consumed.
			return 0, nil
		}
		return 0, fmt.Errorf("certificate spend consume: %w", err)
	}
	return remainder, nil
}
