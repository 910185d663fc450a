package domain

import "encoding/json"

// PendingPublicKey marks a user row that was provisioned before the holder
// registered a device key.
const PendingPublicKey = "PENDING_REGISTRATION"

// User represents a custodial online balance, keyed by the user's id.
// Balance is in integer minor units.
type User struct {
	ID        string `json:"id"`
	Balance   int64  `json:"balance"`
	PublicKey string `json:"public_key"`
}

// Transaction is the immutable record of one completed offline transfer.
// ID is caller-supplied and globally unique; it is the idempotency key for
// batch replay. Payload keeps the original client record for audit.
type Transaction struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     int64           `json:"amount"`
	Signature  string          `json:"signature"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Certificate is a bearer voucher: the server's signed attestation that
// UserID may spend up to TipWalletBalance offline, bound to DeviceID.
// It is never persisted as a row — it exists only in transit and is
// reconstructed from client-presented fields at verification time.
// Timestamp and Expiration are Unix milliseconds.
type Certificate struct {
	UserID           string `json:"user_id"`
	DeviceID         string `json:"device_id"`
	TipWalletBalance int64  `json:"tip_wallet_balance"`
	Timestamp        int64  `json:"timestamp"`
	Nonce            string `json:"nonce"`
	Expiration       int64  `json:"expiration"`
	Signature        string `json:"signature"`
}

// TxRecord is one offline transaction as submitted by the client.
// Sender and receiver may each be identified by user id, device id, or both.
type TxRecord struct {
	TransactionID    string `json:"transaction_id"`
	SenderUserID     string `json:"sender_user_id,omitempty"`
	SenderDeviceID   string `json:"sender_device_id,omitempty"`
	ReceiverUserID   string `json:"receiver_user_id,omitempty"`
	ReceiverDeviceID string `json:"receiver_device_id,omitempty"`
	Amount           int64  `json:"amount"`
	SenderSignature  string `json:"sender_signature,omitempty"`
}

// SyncRequest is the payload for a reconciliation call. Either Certificate
// or UserID must be present.
type SyncRequest struct {
	Certificate  *Certificate `json:"certificate,omitempty"`
	Transactions []TxRecord   `json:"transactions"`
	UserID       string       `json:"user_id,omitempty"`
}

// SyncResponse is the canonical reconciliation result.
type SyncResponse struct {
	Processed      []string     `json:"processed"`
	NewCertificate *Certificate `json:"new_certificate"`
	TotalSpent     int64        `json:"total_spent"`
	Balance        int64        `json:"balance"`
}

// IssueRequest asks the authority for a fresh spending certificate.
type IssueRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Amount   int64  `json:"amount"`
}

// FundRequest is the trusted top-up payload.
type FundRequest struct {
	Amount int64 `json:"amount"`
}

// RegisterRequest binds a public key to a user.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
}

// BalanceResponse reports a user's current online balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}
