package store

import (
	"context"
	"sync"

	"github.com/okolo157/tipsync/internal/domain"
)

// Memory is an in-process LedgerStore used by tests and the STORE=memory
// development mode. One mutex serializes every mutation, which gives each
// operation the same atomicity the Postgres statements have.
type Memory struct {
	mu    sync.Mutex
	users map[string]*domain.User
	txs   map[string]domain.Transaction
	spend map[string]*certSpend
}

type certSpend struct {
	spent int64
	cap   int64
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*domain.User),
		txs:   make(map[string]domain.Transaction),
		spend: make(map[string]*certSpend),
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) ProvisionUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, Balance: 0, PublicKey: domain.PendingPublicKey}
		m.users[id] = u
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) CreditBalance(_ context.Context, id string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, PublicKey: domain.PendingPublicKey}
		m.users[id] = u
	}
	u.Balance += amount
	return u.Balance, nil
}

func (m *Memory) DebitBalance(_ context.Context, id string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.Balance < amount {
		return ErrInsufficientBalance
	}
	u.Balance -= amount
	return nil
}

func (m *Memory) SetPublicKey(_ context.Context, id, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id}
		m.users[id] = u
	}
	u.PublicKey = publicKey
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &t, nil
}

func (m *Memory) ApplyTransaction(_ context.Context, tx domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; exists {
		return false, nil
	}
	m.txs[tx.ID] = tx

	u, ok := m.users[tx.ReceiverID]
	if !ok {
		u = &domain.User{ID: tx.ReceiverID, PublicKey: domain.PendingPublicKey}
		m.users[tx.ReceiverID] = u
	}
	u.Balance += tx.Amount
	return true, nil
}

func (m *Memory) ReserveCertificateSpend(_ context.Context, nonce string, amount, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.spend[nonce]
	if !ok {
		cs = &certSpend{cap: limit}
		m.spend[nonce] = cs
	}
	if cs.spent+amount > cs.cap {
		return ErrCertificateExhausted
	}
	cs.spent += amount
	return nil
}

func (m *Memory) ReleaseCertificateSpend(_ context.Context, nonce string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok := m.spend[nonce]; ok {
		cs.spent -= amount
	}
	return nil
}

func (m *Memory) ConsumeCertificateRemainder(_ context.Context, nonce string, limit int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.spend[nonce]
	if !ok {
		cs = &certSpend{cap: limit}
		m.spend[nonce] = cs
	}
	remainder := cs.cap - cs.spent
	if remainder <= 0 {
		return 0, nil
	}
	cs.spent = cs.cap
	return remainder, nil
}
