package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/strongroom/strongroom/internal/metadata"
)

const (
	testAccessKey = "AKTESTKEY00000000001"
	testSecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYtestsecret"
	testRegion    = "us-east-1"
)

// newTestVerifier creates a Verifier backed by a real SQLite store with one
// active credential.
func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()

	store, err := metadata.NewSQLiteStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	err = store.PutAccessKey(context.Background(), &metadata.AccessKeyRecord{
		AccessKeyID: testAccessKey,
		SecretKey:   testSecretKey,
		DisplayName: "test",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("PutAccessKey failed: %v", err)
	}

	return NewVerifier(store, testRegion)
}

// signRequestV4 signs req the way an S3 client does, attaching Authorization
// and X-Amz-Date headers. signedHeaders must be sorted and include "host".
func signRequestV4(req *http.Request, body []byte, signedHeaders []string, secret string) {
	amzDate := time.Now().UTC().Format(amzDateFormat)
	dateStr := amzDate[:8]
	req.Header.Set("X-Amz-Date", amzDate)

	payloadHash := req.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		sum := sha256.Sum256(body)
		payloadHash = hex.EncodeToString(sum[:])
	}

	canonicalRequest := buildCanonicalRequest(req, req.URL.Query(), signedHeaders, payloadHash)
	scope := fmt.Sprintf("%s/%s/%s/%s", dateStr, testRegion, service, scopeTerminator)
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
	signingKey := deriveSigningKey(secret, dateStr, testRegion, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, testAccessKey, scope, strings.Join(signedHeaders, ";"), signature))
}

func TestVerifyHeaderRoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	body := []byte("Hello World!")
	req := httptest.NewRequest(http.MethodPut, "http://localhost:3000/test-bucket/hello.txt", nil)
	signRequestV4(req, body, []string{"host"}, testSecretKey)

	cred, authErr := v.VerifyHeader(req, body)
	if authErr != nil {
		t.Fatalf("VerifyHeader failed: %v", authErr)
	}
	if cred.AccessKeyID != testAccessKey {
		t.Errorf("cred = %+v", cred)
	}
}

func TestVerifyHeaderTamperedRequest(t *testing.T) {
	v := newTestVerifier(t)

	body := []byte("payload")

	// Each mutation of a signed request must fail verification while the
	// signature is held constant.
	cases := []struct {
		name   string
		mutate func(r *http.Request) []byte
	}{
		{"body byte flipped", func(r *http.Request) []byte { return []byte("paXload") }},
		{"path changed", func(r *http.Request) []byte {
			r.URL.Path = "/test-bucket/other.txt"
			return body
		}},
		{"query added", func(r *http.Request) []byte {
			r.URL.RawQuery = "acl="
			return body
		}},
		{"method changed", func(r *http.Request) []byte {
			r.Method = http.MethodPost
			return body
		}},
		{"signed header changed", func(r *http.Request) []byte {
			r.Host = "evil.example.com"
			return body
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "http://localhost:3000/test-bucket/hello.txt", nil)
			// Pin the payload hash so the body-hash candidate cannot mask a
			// body mutation.
			sum := sha256.Sum256(body)
			req.Header.Set("X-Amz-Content-Sha256", hex.EncodeToString(sum[:]))
			signRequestV4(req, body, []string{"host", "x-amz-content-sha256"}, testSecretKey)

			mutated := tc.mutate(req)
			_, authErr := v.VerifyHeader(req, mutated)
			if authErr == nil {
				t.Fatalf("tampered request verified")
			}
			if authErr.Code != "SignatureDoesNotMatch" {
				t.Errorf("code = %s, want SignatureDoesNotMatch", authErr.Code)
			}
		})
	}
}

func TestVerifyHeaderPayloadHashCandidates(t *testing.T) {
	v := newTestVerifier(t)

	// The client signed UNSIGNED-PAYLOAD but a proxy stripped the header:
	// the candidate list must still find the match.
	body := []byte("data behind a proxy")
	req := httptest.NewRequest(http.MethodPut, "http://localhost:3000/b/k", nil)
	req.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
	signRequestV4(req, body, []string{"host"}, testSecretKey)
	req.Header.Del("X-Amz-Content-Sha256")

	if _, authErr := v.VerifyHeader(req, body); authErr != nil {
		t.Fatalf("unsigned-payload candidate not accepted: %v", authErr)
	}
}

func TestVerifyHeaderForwardedHost(t *testing.T) {
	v := newTestVerifier(t)

	// The client signed against the public host; the proxy rewrote Host and
	// recorded the original in X-Forwarded-Host.
	body := []byte("x")
	req := httptest.NewRequest(http.MethodPut, "http://s3.example.com/b/k", nil)
	signRequestV4(req, body, []string{"host"}, testSecretKey)

	req.Host = "internal-backend:9999"
	req.Header.Set("X-Forwarded-Host", "s3.example.com, cache-1.internal")

	if _, authErr := v.VerifyHeader(req, body); authErr != nil {
		t.Fatalf("forwarded-host verification failed: %v", authErr)
	}
}

func TestVerifyHeaderUnknownAndDisabledKey(t *testing.T) {
	v := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:3000/b/k", nil)
	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=AKUNKNOWNKEY00000001/20250101/us-east-1/s3/aws4_request, SignedHeaders=host, Signature=abc",
		algorithm))
	req.Header.Set("X-Amz-Date", time.Now().UTC().Format(amzDateFormat))

	_, authErr := v.VerifyHeader(req, nil)
	if authErr == nil || authErr.Code != "AccessDenied" {
		t.Fatalf("unknown key err = %v, want AccessDenied", authErr)
	}

	// Disable the real key: signatures are then rejected.
	if err := v.Meta.SetAccessKeyActive(context.Background(), testAccessKey, false); err != nil {
		t.Fatalf("SetAccessKeyActive failed: %v", err)
	}
	// New verifier to sidestep the credential cache.
	v2 := NewVerifier(v.Meta, testRegion)

	body := []byte("x")
	req = httptest.NewRequest(http.MethodPut, "http://localhost:3000/b/k", nil)
	signRequestV4(req, body, []string{"host"}, testSecretKey)
	_, authErr = v2.VerifyHeader(req, body)
	if authErr == nil || authErr.Code != "AccessDenied" {
		t.Fatalf("disabled key err = %v, want AccessDenied", authErr)
	}
}

func TestVerifyHeaderMalformed(t *testing.T) {
	v := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:3000/b/k", nil)
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 garbage")

	_, authErr := v.VerifyHeader(req, nil)
	if authErr == nil || authErr.Code != "AccessDenied" {
		t.Fatalf("malformed header err = %v, want AccessDenied", authErr)
	}
}

func TestVerifyPresignedV4RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	cred := &metadata.AccessKeyRecord{AccessKeyID: testAccessKey, SecretKey: testSecretKey}
	presigned := PresignV4(cred, "http", "localhost:3000", testRegion, "test-bucket", "file.txt", 900)

	req := httptest.NewRequest(http.MethodGet, presigned, nil)
	got, authErr := v.VerifyPresignedV4(req)
	if authErr != nil {
		t.Fatalf("VerifyPresignedV4 failed: %v", authErr)
	}
	if got.AccessKeyID != testAccessKey {
		t.Errorf("cred = %+v", got)
	}
}

func TestVerifyPresignedV4Tampered(t *testing.T) {
	v := newTestVerifier(t)

	cred := &metadata.AccessKeyRecord{AccessKeyID: testAccessKey, SecretKey: testSecretKey}
	presigned := PresignV4(cred, "http", "localhost:3000", testRegion, "test-bucket", "file.txt", 900)

	// Point the same signature at a different key.
	tampered := strings.Replace(presigned, "file.txt", "other.txt", 1)
	req := httptest.NewRequest(http.MethodGet, tampered, nil)
	_, authErr := v.VerifyPresignedV4(req)
	if authErr == nil || authErr.Code != "SignatureDoesNotMatch" {
		t.Fatalf("tampered presigned err = %v, want SignatureDoesNotMatch", authErr)
	}
}

func TestVerifyPresignedV4Expired(t *testing.T) {
	v := newTestVerifier(t)

	// Expiry is checked before the signature, so a stale X-Amz-Date with any
	// signature is rejected as expired.
	past := time.Now().UTC().Add(-time.Hour).Format(amzDateFormat)
	q := url.Values{}
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", fmt.Sprintf("%s/%s/%s/s3/aws4_request", testAccessKey, past[:8], testRegion))
	q.Set("X-Amz-Date", past)
	q.Set("X-Amz-Expires", "60")
	q.Set("X-Amz-SignedHeaders", "host")
	q.Set("X-Amz-Signature", "deadbeef")

	req := httptest.NewRequest(http.MethodGet, "http://localhost:3000/b/k?"+q.Encode(), nil)
	_, authErr := v.VerifyPresignedV4(req)
	if authErr == nil || authErr.Code != "AccessDenied" {
		t.Fatalf("expired presigned err = %v, want AccessDenied", authErr)
	}
	if !strings.Contains(authErr.Message, "expired") {
		t.Errorf("message = %q, want expiry message", authErr.Message)
	}
}

func TestCanonicalURI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/bucket/key", "/bucket/key"},
		{"/bucket/a b", "/bucket/a%20b"},
		{"/bucket/a+b", "/bucket/a%2Bb"},
		{"/bucket/ünïcode", "/bucket/%C3%BCn%C3%AFcode"},
		{"/bucket/nested/deep.txt", "/bucket/nested/deep.txt"},
	}
	for _, tc := range cases {
		if got := canonicalURI(tc.in); got != tc.want {
			t.Errorf("canonicalURI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalQueryString(t *testing.T) {
	values := url.Values{}
	values.Set("prefix", "a/b")
	values.Set("delimiter", "/")
	values.Set("max-keys", "10")

	got := canonicalQueryString(values)
	want := "delimiter=%2F&max-keys=10&prefix=a%2Fb"
	if got != want {
		t.Errorf("canonicalQueryString = %q, want %q", got, want)
	}

	if canonicalQueryString(url.Values{}) != "" {
		t.Errorf("empty query must canonicalize to empty string")
	}
}

func TestURIEncode(t *testing.T) {
	if got := URIEncode("a/b c~d_e-f.g", false); got != "a/b%20c~d_e-f.g" {
		t.Errorf("URIEncode no-slash = %q", got)
	}
	if got := URIEncode("a/b", true); got != "a%2Fb" {
		t.Errorf("URIEncode slash = %q", got)
	}
}
