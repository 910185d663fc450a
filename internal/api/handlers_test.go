package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okolo157/tipsync/internal/authority"
	"github.com/okolo157/tipsync/internal/domain"
	"github.com/okolo157/tipsync/internal/reconcile"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

const testSecret = "test-secret"

type env struct {
	router http.Handler
	store  *store.Memory
	codec  *signature.Codec
}

func newEnv(t *testing.T) *env {
	t.Helper()
	codec, err := signature.NewCodec(bytes.Repeat([]byte{0x33}, 32))
	require.NoError(t, err)

	s := store.NewMemory()
	auth := authority.New(s, codec)
	engine := reconcile.NewEngine(s, codec, auth)
	balances := reconcile.NewBalanceQuery(s)
	h := NewHandler(engine, auth, balances, codec, s)
	return &env{router: NewRouter(h, testSecret), store: s, codec: codec}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T) map[string]string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthAndPublicKey(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "GET", "/api/v1/publickey", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, e.codec.PublicKey(), body["public_key"])
}

func TestFundRequiresAuth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/api/v1/users/alice/fund", domain.FundRequest{Amount: 100}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "POST", "/api/v1/users/alice/fund", domain.FundRequest{Amount: 100},
		map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "POST", "/api/v1/users/alice/fund", domain.FundRequest{Amount: 100}, bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.Balance)
}

func TestGetBalanceProvisions(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "GET", "/api/v1/users/nobody/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "nobody", resp.UserID)
	assert.Equal(t, int64(0), resp.Balance)
}

func TestIssueCertificateFlow(t *testing.T) {
	e := newEnv(t)

	// Unknown user
	rec := e.do(t, "POST", "/api/v1/certificates",
		domain.IssueRequest{UserID: "ghost", DeviceID: "d1", Amount: 100}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := e.store.CreditBalance(context.Background(), "alice", 500)
	require.NoError(t, err)

	// Insufficient balance
	rec = e.do(t, "POST", "/api/v1/certificates",
		domain.IssueRequest{UserID: "alice", DeviceID: "d1", Amount: 900}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Success
	rec = e.do(t, "POST", "/api/v1/certificates",
		domain.IssueRequest{UserID: "alice", DeviceID: "d1", Amount: 300}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cert domain.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))
	assert.True(t, e.codec.Verify(signature.Canonical(cert), cert.Signature))
}

func TestSyncEndpoint(t *testing.T) {
	e := newEnv(t)

	_, err := e.store.CreditBalance(context.Background(), "alice", 500)
	require.NoError(t, err)

	rec := e.do(t, "POST", "/api/v1/certificates",
		domain.IssueRequest{UserID: "alice", DeviceID: "d1", Amount: 200}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var cert domain.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))

	rec = e.do(t, "POST", "/api/v1/sync", domain.SyncRequest{
		Certificate: &cert,
		Transactions: []domain.TxRecord{{
			TransactionID:   "tx-1",
			SenderDeviceID:  "d1",
			ReceiverUserID:  "bob",
			Amount:          80,
			SenderSignature: "sig",
		}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"tx-1"}, resp.Processed)
	assert.Equal(t, int64(80), resp.TotalSpent)
	require.NotNil(t, resp.NewCertificate)
	assert.Equal(t, int64(120), resp.NewCertificate.TipWalletBalance)

	// The stored transaction is retrievable for audit.
	rec = e.do(t, "GET", "/api/v1/transactions/tx-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, "alice", tx.SenderID)
	assert.Equal(t, "bob", tx.ReceiverID)
}

func TestSyncEndpointRejections(t *testing.T) {
	e := newEnv(t)

	// Neither certificate nor user_id.
	rec := e.do(t, "POST", "/api/v1/sync",
		domain.SyncRequest{Transactions: []domain.TxRecord{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Forged certificate.
	forged := domain.Certificate{
		UserID: "mallory", DeviceID: "d1", TipWalletBalance: 1 << 40,
		Timestamp: 1, Nonce: "n", Expiration: 1 << 60, Signature: "AAAA",
	}
	rec = e.do(t, "POST", "/api/v1/sync",
		domain.SyncRequest{Certificate: &forged, Transactions: []domain.TxRecord{}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Not JSON at all.
	req := httptest.NewRequest("POST", "/api/v1/sync", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterKey(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/api/v1/users/alice/register",
		domain.RegisterRequest{PublicKey: "pk"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "POST", "/api/v1/users/alice/register",
		domain.RegisterRequest{PublicKey: "pk"}, bearer(t))
	require.Equal(t, http.StatusNoContent, rec.Code)

	u, err := e.store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "pk", u.PublicKey)
}

func TestGetTransactionNotFound(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "GET", "/api/v1/transactions/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
