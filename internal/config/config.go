package config

import (
	"fmt"
	"os"
)

type Config struct {
	DBSource    string
	Port        string
	Env         string
	Store       string // "postgres" or "memory"
	SigningSeed string // base64 ed25519 seed, see cmd/keygen
	AuthSecret  string // HMAC secret for trusted endpoints
}

func Load() (*Config, error) {
	storeKind := getEnv("STORE", "postgres")
	if storeKind != "postgres" && storeKind != "memory" {
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", storeKind)
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" && storeKind == "postgres" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	seed := os.Getenv("SIGNING_SEED")
	if seed == "" {
		return nil, fmt.Errorf("SIGNING_SEED environment variable is required (generate with cmd/keygen)")
	}

	env := getEnv("ENVIRONMENT", "development")

	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		if env != "development" {
			return nil, fmt.Errorf("AUTH_SECRET environment variable is required outside development")
		}
		secret = "dev-only-secret"
	}

	return &Config{
		DBSource:    dbSource,
		Port:        getEnv("SERVER_PORT", "8080"),
		Env:         env,
		Store:       storeKind,
		SigningSeed: seed,
		AuthSecret:  secret,
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
