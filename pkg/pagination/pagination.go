package pagination

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 50
	// MaxLimit caps how many rows any cursor query can request.
	MaxLimit = 100

	signatureSize = sha256.Size
)

// ErrInvalidCursor is returned for any cursor that fails decoding or verification.
var ErrInvalidCursor = errors.New("invalid cursor")

var cursorEncoding = base64.RawURLEncoding.Strict()

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor represents the pagination cursor components.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Limits carries the server-side page size policy.
type Limits struct {
	Default int
	Max     int
}

// Normalize enforces the default and maximum limits.
func (l Limits) Normalize(limit int) int {
	def, max := l.Default, l.Max
	if max <= 0 {
		max = MaxLimit
	}
	if def <= 0 || def > max {
		def = min(DefaultLimit, max)
	}
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// WithBuffer returns the normalized limit plus one so a list can tell whether
// another page follows.
func (l Limits) WithBuffer(limit int) int {
	return l.Normalize(limit) + 1
}

// Codec signs and verifies opaque keyset cursors. The token is
// base64url(payload || HMAC-SHA256(payload)) where payload is
// "<RFC3339Nano created_at>|<id>".
type Codec struct {
	key []byte
}

func NewCodec(key []byte) (*Codec, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("cursor signing key must be at least 32 bytes, got %d", len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode builds a signed cursor string from the provided values.
func (c *Codec) Encode(cursor Cursor) string {
	payload := []byte(fmt.Sprintf("%s|%s", cursor.CreatedAt.UTC().Format(time.RFC3339Nano), cursor.ID.String()))
	token := make([]byte, 0, len(payload)+signatureSize)
	token = append(token, payload...)
	token = append(token, c.sign(payload)...)
	return cursorEncoding.EncodeToString(token)
}

// Decode verifies and parses a cursor. An empty value means "first page" and
// yields (nil, nil).
func (c *Codec) Decode(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	raw, err := cursorEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: decode", ErrInvalidCursor)
	}
	if len(raw) <= signatureSize {
		return nil, fmt.Errorf("%w: length", ErrInvalidCursor)
	}

	payload, sig := raw[:len(raw)-signatureSize], raw[len(raw)-signatureSize:]
	if !hmac.Equal(sig, c.sign(payload)) {
		return nil, fmt.Errorf("%w: signature", ErrInvalidCursor)
	}

	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: format", ErrInvalidCursor)
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp", ErrInvalidCursor)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: id", ErrInvalidCursor)
	}
	return &Cursor{CreatedAt: t.UTC(), ID: id}, nil
}

func (c *Codec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
