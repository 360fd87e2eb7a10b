// Package admin implements the administrative HTTP surface: login with rate
// limiting, access key CRUD, bucket and object administration, presigned
// links, stats, and metadata export.
package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tokenTTL is the admin session token lifetime.
const tokenTTL = 24 * time.Hour

// tokenPayload is the JSON payload embedded in an admin session token.
type tokenPayload struct {
	Sub   string `json:"sub"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
	Nonce string `json:"nonce"`
}

// mintToken issues an opaque session token for the given subject:
// base64url(JSON payload) + "." + hex(SHA-256(payload + secret)).
func mintToken(sub, secret string) (string, error) {
	now := time.Now().UTC()
	payload, err := json.Marshal(tokenPayload{
		Sub:   sub,
		Iat:   now.Unix(),
		Exp:   now.Add(tokenTTL).Unix(),
		Nonce: uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling token payload: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(payload) + "." + signPayload(payload, secret), nil
}

// signPayload computes the hex SHA-256 signature over payload + secret.
func signPayload(payload []byte, secret string) string {
	sig := sha256.Sum256(append(payload, []byte(secret)...))
	return hex.EncodeToString(sig[:])
}

// verifyToken checks a token's signature and expiry, returning the payload
// when valid.
func verifyToken(token, secret string) (*tokenPayload, error) {
	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		return nil, fmt.Errorf("malformed token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return nil, fmt.Errorf("malformed token payload")
	}

	if subtle.ConstantTimeCompare([]byte(signPayload(payload, secret)), []byte(token[dot+1:])) != 1 {
		return nil, fmt.Errorf("invalid token signature")
	}

	var p tokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed token payload")
	}

	if time.Now().UTC().Unix() >= p.Exp {
		return nil, fmt.Errorf("token expired")
	}

	return &p, nil
}
