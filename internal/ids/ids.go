// Package ids generates the stable 128-bit identifiers used throughout the
// fabric: content-hash + random salt, so the same content stored twice by
// different callers still gets distinct, never-reused ids (spec.md §3).
package ids

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// NewMemoryID derives a MemoryItem id from its content and a fresh random
// salt. Two stores of identical content never collide; dedup (spec.md §4.3)
// is a similarity decision made before NewMemoryID is ever called, not an
// artifact of id collision.
func NewMemoryID(content []byte) model.ID {
	h := sha256.New()
	h.Write(content)
	salt := uuid.New()
	saltBytes, _ := salt.MarshalBinary()
	h.Write(saltBytes)
	sum := h.Sum(nil)
	return model.ID(hex.EncodeToString(sum[:16]))
}

// NewSessionID returns a fresh transport session id.
func NewSessionID() string { return uuid.NewString() }

// NewRecoveryToken returns a fresh session-recovery token, distinct from the
// session id itself so a leaked session id alone cannot be used to recover
// a closed session.
func NewRecoveryToken() string { return uuid.NewString() }

// NewDelegationID returns a fresh delegation id.
func NewDelegationID() string { return uuid.NewString() }

// NewMessageID returns a fresh message id.
func NewMessageID() string { return uuid.NewString() }

// NewRequestID returns a fresh MCP request-correlation id.
func NewRequestID() string { return uuid.NewString() }
