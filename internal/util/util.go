package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

func Timestamp() int64 {
	return time.Now().Unix()
}

func NewDuration(v time.Duration) *time.Duration {
	return &v
}

func NewString(v string) *string {
	return &v
}

func NewInt(v int) *int {
	return &v
}

func GetHash(in []byte) (string, error) {
	h := sha256.New()
	_, err := h.Write(in)

	return hex.EncodeToString(h.Sum(nil)), err
}

// NormalizeHost makes host names comparable: IPv6 brackets are stripped
// and the result is lower-cased.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")

	return strings.ToLower(host)
}
