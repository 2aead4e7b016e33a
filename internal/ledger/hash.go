package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// ZeroHash is the previous hash of a genesis entry.
var ZeroHash = strings.Repeat("0", 64)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// TimestampLayout is the ISO-8601 UTC form hashed into every entry.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders ts in UTC at second precision.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ComputeHash is SHA-256 over previousHash, payload and the formatted timestamp, hex encoded.
func ComputeHash(previousHash, payload string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write([]byte(payload))
	h.Write([]byte(FormatTimestamp(ts)))
	return hex.EncodeToString(h.Sum(nil))
}

// IsHash reports whether s is 64 lower-case hex characters.
func IsHash(s string) bool {
	return hashPattern.MatchString(s)
}

func hashEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
