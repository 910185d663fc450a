package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/okolo157/tipsync/internal/authority"
	"github.com/okolo157/tipsync/internal/domain"
	"github.com/okolo157/tipsync/internal/reconcile"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipsync_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tipsync_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	syncTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipsync_sync_transactions_total",
		Help: "Offline transactions submitted for reconciliation, labeled by outcome",
	}, []string{"outcome"})
)

type Handler struct {
	engine    *reconcile.Engine
	authority *authority.Authority
	balances  *reconcile.BalanceQuery
	codec     *signature.Codec
	store     store.LedgerStore
}

func NewHandler(engine *reconcile.Engine, auth *authority.Authority, balances *reconcile.BalanceQuery, codec *signature.Codec, s store.LedgerStore) *Handler {
	return &Handler{engine: engine, authority: auth, balances: balances, codec: codec, store: s}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) IssueCertificateHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/certificates"))
	defer timer.ObserveDuration()

	var req domain.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/certificates", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}
	if req.UserID == "" || req.DeviceID == "" {
		h.respond(w, "POST", "/certificates", http.StatusBadRequest, map[string]string{"error": "user_id and device_id required"})
		return
	}

	cert, err := h.authority.Issue(r.Context(), req.UserID, req.DeviceID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, authority.ErrInvalidAmount):
			h.respond(w, "POST", "/certificates", http.StatusBadRequest, map[string]string{"error": "Positive amount required"})
		case errors.Is(err, store.ErrUserNotFound):
			h.respond(w, "POST", "/certificates", http.StatusNotFound, map[string]string{"error": "User not found"})
		case errors.Is(err, store.ErrInsufficientBalance):
			h.respond(w, "POST", "/certificates", http.StatusUnprocessableEntity, map[string]string{"error": "Insufficient balance"})
		default:
			log.Printf("issue certificate: %v", err)
			h.respond(w, "POST", "/certificates", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		}
		return
	}

	h.respond(w, "POST", "/certificates", http.StatusCreated, cert)
}

func (h *Handler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/sync"))
	defer timer.ObserveDuration()

	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/sync", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}

	resp, err := h.engine.Sync(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrMalformedRequest):
			h.respond(w, "POST", "/sync", http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, reconcile.ErrInvalidCertificate):
			h.respond(w, "POST", "/sync", http.StatusUnauthorized, map[string]string{"error": "Invalid certificate"})
		case errors.Is(err, reconcile.ErrCertificateExpired):
			h.respond(w, "POST", "/sync", http.StatusUnauthorized, map[string]string{"error": "Certificate expired"})
		default:
			log.Printf("sync: %v", err)
			h.respond(w, "POST", "/sync", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		}
		return
	}

	syncTransactionsTotal.WithLabelValues("processed").Add(float64(len(resp.Processed)))
	syncTransactionsTotal.WithLabelValues("rejected").Add(float64(len(req.Transactions) - len(resp.Processed)))
	h.respond(w, "POST", "/sync", http.StatusOK, resp)
}

func (h *Handler) PublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "GET", "/publickey", http.StatusOK, map[string]string{"public_key": h.codec.PublicKey()})
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	balance, err := h.balances.Balance(r.Context(), userID)
	if err != nil {
		log.Printf("get balance: %v", err)
		h.respond(w, "GET", "/users/{id}/balance", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, "GET", "/users/{id}/balance", http.StatusOK, domain.BalanceResponse{UserID: userID, Balance: balance})
}

func (h *Handler) FundHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req domain.FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/users/{id}/fund", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}
	if req.Amount <= 0 {
		h.respond(w, "POST", "/users/{id}/fund", http.StatusUnprocessableEntity, map[string]string{"error": "Positive amount required"})
		return
	}

	balance, err := h.balances.Fund(r.Context(), userID, req.Amount)
	if err != nil {
		log.Printf("fund: %v", err)
		h.respond(w, "POST", "/users/{id}/fund", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, "POST", "/users/{id}/fund", http.StatusOK, domain.BalanceResponse{UserID: userID, Balance: balance})
}

func (h *Handler) RegisterKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicKey == "" {
		h.respond(w, "POST", "/users/{id}/register", http.StatusBadRequest, map[string]string{"error": "public_key required"})
		return
	}

	if err := h.store.SetPublicKey(r.Context(), userID, req.PublicKey); err != nil {
		log.Printf("register key: %v", err)
		h.respond(w, "POST", "/users/{id}/register", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/users/{id}/register", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.respond(w, "GET", "/transactions/{id}", http.StatusNotFound, map[string]string{"error": "Transaction not found"})
			return
		}
		log.Printf("get transaction: %v", err)
		h.respond(w, "GET", "/transactions/{id}", http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, "GET", "/transactions/{id}", http.StatusOK, tx)
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
