// Package uid provides unique identifier generation for Strongroom.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New generates a 32-character hex string suitable for use as a unique
// identifier (temp file names, request IDs) using crypto/rand.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// accessKeyAlphabet is the character set for generated access key IDs,
// matching the AWS convention of uppercase letters and digits.
const accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// NewAccessKeyID generates a 20-character access key ID with the "AK" prefix.
func NewAccessKeyID() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("AK%018X", time.Now().UnixNano())[:20]
	}
	out := make([]byte, 0, 20)
	out = append(out, 'A', 'K')
	for _, c := range b {
		out = append(out, accessKeyAlphabet[int(c)%len(accessKeyAlphabet)])
	}
	return string(out)
}

// NewSecretKey generates a secret access key with at least 30 bytes of entropy.
func NewSecretKey() string {
	b := make([]byte, 30)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%060x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
