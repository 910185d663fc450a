package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all routes. authSecret guards the trusted top-up and
// registration endpoints.
func NewRouter(h *Handler, authSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/certificates", h.IssueCertificateHandler).Methods("POST")
	apiV1.HandleFunc("/sync", h.SyncHandler).Methods("POST")
	apiV1.HandleFunc("/publickey", h.PublicKeyHandler).Methods("GET")
	apiV1.HandleFunc("/users/{id}/balance", h.GetBalanceHandler).Methods("GET")
	apiV1.HandleFunc("/users/{id}/fund", AuthMiddleware(authSecret, h.FundHandler)).Methods("POST")
	apiV1.HandleFunc("/users/{id}/register", AuthMiddleware(authSecret, h.RegisterKeyHandler)).Methods("POST")
	apiV1.HandleFunc("/transactions/{id}", h.GetTransactionHandler).Methods("GET")

	return r
}
