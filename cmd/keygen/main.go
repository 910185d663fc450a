package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// Generates the server signing seed consumed via SIGNING_SEED. The seed is
// written to signing.key; the derived public key is printed so it can be
// distributed to clients out of band.
func main() {
	const keyFile = "signing.key"
	if _, err := os.Stat(keyFile); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite.\n", keyFile)
		os.Exit(1)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating random seed: %v\n", err)
		os.Exit(1)
	}

	encoded := base64.StdEncoding.EncodeToString(seed)
	if err := os.WriteFile(keyFile, []byte(encoded+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", keyFile, err)
		os.Exit(1)
	}

	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	fmt.Printf("Signing seed written to %s\n", keyFile)
	fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(pub))
}
