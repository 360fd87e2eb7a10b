package admin

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := mintToken("admin", "secret")
	if err != nil {
		t.Fatalf("mintToken failed: %v", err)
	}

	payload, err := verifyToken(token, "secret")
	if err != nil {
		t.Fatalf("verifyToken failed: %v", err)
	}
	if payload.Sub != "admin" {
		t.Errorf("sub = %s", payload.Sub)
	}
	if payload.Nonce == "" {
		t.Errorf("nonce missing")
	}
	if got := payload.Exp - payload.Iat; got != int64(tokenTTL/time.Second) {
		t.Errorf("ttl = %d seconds", got)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, _ := mintToken("admin", "secret")
	if _, err := verifyToken(token, "other-secret"); err == nil {
		t.Fatalf("token verified with wrong secret")
	}
}

func TestTokenTampered(t *testing.T) {
	token, _ := mintToken("admin", "secret")

	// Re-encode the payload with an inflated expiry but keep the signature.
	dot := strings.IndexByte(token, '.')
	raw, _ := base64.RawURLEncoding.DecodeString(token[:dot])
	var p tokenPayload
	json.Unmarshal(raw, &p)
	p.Exp += 1000000
	forged, _ := json.Marshal(p)
	tampered := base64.RawURLEncoding.EncodeToString(forged) + token[dot:]

	if _, err := verifyToken(tampered, "secret"); err == nil {
		t.Fatalf("tampered token verified")
	}
}

func TestTokenExpired(t *testing.T) {
	// Hand-build an expired token with a valid signature.
	expired := tokenPayload{Sub: "admin", Iat: 0, Exp: time.Now().UTC().Add(-time.Minute).Unix(), Nonce: "n"}
	payload, _ := json.Marshal(expired)
	token := base64.RawURLEncoding.EncodeToString(payload) + "." + signPayload(payload, "secret")

	if _, err := verifyToken(token, "secret"); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expired token err = %v", err)
	}
}

func TestTokenMalformed(t *testing.T) {
	for _, token := range []string{"", "nodot", "bad base64!.aaaa", "aaaa."} {
		if _, err := verifyToken(token, "secret"); err == nil {
			t.Errorf("malformed token %q verified", token)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	l := newLoginLimiter()
	defer l.Close()

	for i := 0; i < loginMaxAttempts; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d blocked within budget", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Errorf("attempt over budget allowed")
	}

	// A different IP has its own budget.
	if !l.Allow("10.0.0.2") {
		t.Errorf("independent ip blocked")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	l := newLoginLimiter()
	defer l.Close()

	for i := 0; i < loginMaxAttempts+1; i++ {
		l.Allow("10.0.0.3")
	}
	if l.Allow("10.0.0.3") {
		t.Fatalf("over-budget ip allowed")
	}

	// Force the window to expire.
	l.mu.Lock()
	l.entries["10.0.0.3"].resetAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	if !l.Allow("10.0.0.3") {
		t.Errorf("attempt after window reset blocked")
	}
}
