package security

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLen = 32

	purposeCursor    = "relay/cursor-signing/v1"
	purposeActorHash = "relay/actor-hash/v1"
)

// Keys holds the purpose-bound subkeys derived from the single configured
// signing secret. Rotating the secret invalidates every outstanding cursor.
type Keys struct {
	Cursor    []byte
	ActorHash []byte
}

// DeriveKeys expands secret with HKDF-SHA256 into independent subkeys.
func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return Keys{}, errors.New("signing secret is required")
	}
	cursor, err := derive(secret, purposeCursor)
	if err != nil {
		return Keys{}, err
	}
	actor, err := derive(secret, purposeActorHash)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Cursor: cursor, ActorHash: actor}, nil
}

func derive(secret, purpose string) ([]byte, error) {
	out := make([]byte, keyLen)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return out, nil
}
