package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// TokenSet is a static bearer-token allowlist.
type TokenSet struct {
	tokens [][]byte
}

// NewTokenSet trims and de-duplicates the configured tokens.
func NewTokenSet(tokens []string) *TokenSet {
	seen := map[string]struct{}{}
	set := &TokenSet{}
	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		set.tokens = append(set.tokens, []byte(token))
	}
	return set
}

// Contains compares against every entry in constant time per entry so the
// response time does not depend on which token matched.
func (s *TokenSet) Contains(token string) bool {
	if s == nil || token == "" {
		return false
	}
	candidate := []byte(token)
	found := 0
	for _, allowed := range s.tokens {
		found |= subtle.ConstantTimeCompare(candidate, allowed)
	}
	return found == 1
}

func (s *TokenSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tokens)
}

// ActorHasher turns bearer tokens into stable, non-reversible audit identifiers.
type ActorHasher struct {
	key []byte
}

func NewActorHasher(key []byte) *ActorHasher {
	return &ActorHasher{key: key}
}

// Hash returns the hex HMAC-SHA256 of token truncated to 16 bytes.
func (h *ActorHasher) Hash(token string) string {
	if h == nil || token == "" {
		return ""
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
