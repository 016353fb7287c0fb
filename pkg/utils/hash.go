package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashFields returns the lowercase hex SHA-256 of the fields joined with a
// literal "|". Approval context hashes and replay-boundary hashes are both
// derived this way, so the field order matters.
func HashFields(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}
