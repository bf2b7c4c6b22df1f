// Command rotate-key re-encrypts all stored member tokens from one key to
// another. It operates directly on the member store and must only run while
// the server is stopped; it is never part of the live request path.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"runclub-milestones/internal/database"
	"runclub-milestones/internal/secretbox"
)

func main() {
	dbPath := flag.String("db", "./data.db", "Path to the SQLite database")
	oldKeyHex := flag.String("old-key", "", "Current 32-byte encryption key (hex)")
	newKeyHex := flag.String("new-key", "", "Replacement 32-byte encryption key (hex)")
	flag.Parse()

	if *oldKeyHex == "" || *newKeyHex == "" {
		fmt.Fprintln(os.Stderr, "Error: -old-key and -new-key are required")
		flag.Usage()
		os.Exit(1)
	}

	oldBox, err := boxFromHex(*oldKeyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid old key: %v\n", err)
		os.Exit(1)
	}

	newBox, err := boxFromHex(*newKeyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid new key: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	members, err := db.ListMembers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list members: %v\n", err)
		os.Exit(1)
	}

	rotated := 0
	skipped := 0
	for _, m := range members {
		if !m.Authorized() {
			skipped++
			continue
		}

		access, err := reseal(oldBox, newBox, *m.AccessToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: member %d access token: %v\n", m.ID, err)
			os.Exit(1)
		}

		refresh, err := reseal(oldBox, newBox, *m.RefreshToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: member %d refresh token: %v\n", m.ID, err)
			os.Exit(1)
		}

		if err := db.UpdateMemberTokens(m.ID, access, refresh, *m.TokenExpiresAt); err != nil {
			fmt.Fprintf(os.Stderr, "Error: member %d update: %v\n", m.ID, err)
			os.Exit(1)
		}
		rotated++
	}

	fmt.Printf("✓ Rotated tokens for %d member(s), skipped %d deauthorized\n", rotated, skipped)
}

func boxFromHex(keyHex string) (*secretbox.Box, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	return secretbox.New(key)
}

func reseal(oldBox, newBox *secretbox.Box, value string) (string, error) {
	plaintext, err := oldBox.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return newBox.Encrypt(plaintext)
}
