package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

var hashSalt string

// InitHashSalt loads the log hash salt from the environment. In production,
// set LOG_HASH_SALT.
func InitHashSalt() {
	hashSalt = os.Getenv("LOG_HASH_SALT")
	if hashSalt == "" {
		hashSalt = "default-salt-change-in-production"
	}
}

func init() {
	InitHashSalt()
}

// HashUserID creates a privacy-preserving hash of a user ID.
// This allows tracing sync activity without exposing actual user IDs.
func HashUserID(userID int64) string {
	data := fmt.Sprintf("%d:%s", userID, hashSalt)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:8]
}

// HashExternalID creates a privacy-preserving hash of a provider-side
// identifier (connection, account or transaction external id).
func HashExternalID(externalID string) string {
	hash := sha256.Sum256([]byte(externalID + ":" + hashSalt))
	return hex.EncodeToString(hash[:])[:8]
}

// SanitizeMerchant redacts merchant text while preserving length information
// for debugging. Merchant strings routinely contain personal names.
func SanitizeMerchant(merchant string) string {
	if merchant == "" {
		return "<empty>"
	}

	words := strings.Fields(merchant)
	return fmt.Sprintf("<redacted: %d words, %d chars>", len(words), len(merchant))
}
