// Package groupkey derives the partition identity for a user's memory
// within one category. Every graph read and write is scoped by the
// derived ID; two distinct (user, category) pairs can never share one.
package groupkey

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/graph-memory-service/internal/memerr"
)

// Key identifies one (user, category) memory partition.
type Key struct {
	UserID   string
	Category string
	ID       string
}

// New validates the pair and derives the partition ID. Both fields are
// trimmed; empty values are rejected before any store access.
func New(userID, category string) (Key, error) {
	userID = strings.TrimSpace(userID)
	category = strings.TrimSpace(category)
	if userID == "" {
		return Key{}, memerr.NewValidation("user_id", "must not be empty")
	}
	if category == "" {
		return Key{}, memerr.NewValidation("category", "must not be empty")
	}
	return Key{
		UserID:   userID,
		Category: category,
		ID:       deriveID(userID, category),
	}, nil
}

// deriveID hashes the length-prefixed fields so that field contents can
// never be confused with field boundaries.
func deriveID(userID, category string) string {
	h, _ := blake2b.New(16, nil)
	var lenBuf [8]byte

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(userID)))
	h.Write(lenBuf[:])
	h.Write([]byte(userID))

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(category)))
	h.Write(lenBuf[:])
	h.Write([]byte(category))

	return "g_" + hex.EncodeToString(h.Sum(nil))
}

// String returns the partition ID.
func (k Key) String() string { return k.ID }

// Display returns a human-readable label for logs and responses.
func (k Key) Display() string {
	return "user_" + k.UserID + "_" + k.Category
}
