package main

import (
	"log"
	"net/http"

	"github.com/okolo157/tipsync/internal/api"
	"github.com/okolo157/tipsync/internal/authority"
	"github.com/okolo157/tipsync/internal/config"
	"github.com/okolo157/tipsync/internal/reconcile"
	"github.com/okolo157/tipsync/internal/signature"
	"github.com/okolo157/tipsync/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	codec, err := signature.NewCodecFromBase64(cfg.SigningSeed)
	if err != nil {
		log.Fatalf("Unable to load signing key: %v", err)
	}

	var ledger store.LedgerStore
	switch cfg.Store {
	case "memory":
		log.Println("Using in-memory store (state is not durable)")
		ledger = store.NewMemory()
	default:
		pg, err := store.NewPostgres(cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer pg.Close()
		ledger = pg
	}

	// Initialize Layers
	auth := authority.New(ledger, codec)
	engine := reconcile.NewEngine(ledger, codec, auth)
	balances := reconcile.NewBalanceQuery(ledger)
	handler := api.NewHandler(engine, auth, balances, codec, ledger)

	r := api.NewRouter(handler, cfg.AuthSecret)

	log.Printf("Server starting on :%s (env=%s, pubkey=%s)", cfg.Port, cfg.Env, codec.PublicKey())
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
