// Package auth implements AWS signature verification (V4 header, V4
// presigned, V2 presigned), presigned URL generation, and the per-request
// authentication gate.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/strongroom/strongroom/internal/metadata"
)

const (
	// algorithm is the signing algorithm identifier.
	algorithm = "AWS4-HMAC-SHA256"

	// scopeTerminator is the fixed suffix of the credential scope.
	scopeTerminator = "aws4_request"

	// service is the service name for S3.
	service = "s3"

	// unsignedPayload is the constant used when payload verification is skipped.
	unsignedPayload = "UNSIGNED-PAYLOAD"

	// emptySHA256 is the SHA-256 hash of an empty string.
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// maxPresignedExpiry is the maximum presigned URL expiration in seconds (7 days).
	maxPresignedExpiry = 604800

	// amzDateFormat is the format for x-amz-date values.
	amzDateFormat = "20060102T150405Z"
)

const (
	// signingKeyTTL is the TTL for cached signing keys (24 hours).
	signingKeyTTL = 24 * time.Hour
	// credCacheTTL is the TTL for cached credential lookups (60 seconds).
	credCacheTTL = 60 * time.Second
	// maxCacheEntries is the maximum number of entries in each cache map.
	maxCacheEntries = 1000
)

// signingKeyCacheEntry holds a cached signing key with its expiration.
type signingKeyCacheEntry struct {
	key       []byte
	expiresAt time.Time
}

// credCacheEntry holds a cached credential record with its expiration.
type credCacheEntry struct {
	cred      *metadata.AccessKeyRecord
	expiresAt time.Time
}

// AuthError represents an authentication failure with an S3-compatible error code.
type AuthError struct {
	Code    string // AccessDenied, SignatureDoesNotMatch, MissingSecurityHeader, InternalError
	Message string
	// AccessKeyID is the key the failed request presented, when known.
	AccessKeyID string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verifier verifies signed S3 requests against credentials in the metadata
// store. It caches derived signing keys and credential lookups.
type Verifier struct {
	// Meta is the metadata store used to look up access keys.
	Meta metadata.MetadataStore
	// Region is the default region used in the credential scope.
	Region string

	signingKeyMu sync.RWMutex
	signingKeys  map[string]signingKeyCacheEntry

	credCacheMu sync.RWMutex
	credCache   map[string]credCacheEntry
}

// NewVerifier creates a new Verifier backed by the given metadata store.
func NewVerifier(meta metadata.MetadataStore, region string) *Verifier {
	return &Verifier{
		Meta:        meta,
		Region:      region,
		signingKeys: make(map[string]signingKeyCacheEntry),
		credCache:   make(map[string]credCacheEntry),
	}
}

// cachedDeriveSigningKey returns a cached signing key or derives and caches a new one.
func (v *Verifier) cachedDeriveSigningKey(secretKey, dateStr, region, svc string) []byte {
	cacheKey := secretKey + "\x00" + dateStr + "\x00" + region + "\x00" + svc
	now := time.Now()

	v.signingKeyMu.RLock()
	if entry, ok := v.signingKeys[cacheKey]; ok && now.Before(entry.expiresAt) {
		v.signingKeyMu.RUnlock()
		return entry.key
	}
	v.signingKeyMu.RUnlock()

	key := deriveSigningKey(secretKey, dateStr, region, svc)

	v.signingKeyMu.Lock()
	if len(v.signingKeys) >= maxCacheEntries {
		// Clear entire map to avoid unbounded growth.
		v.signingKeys = make(map[string]signingKeyCacheEntry)
	}
	v.signingKeys[cacheKey] = signingKeyCacheEntry{
		key:       key,
		expiresAt: now.Add(signingKeyTTL),
	}
	v.signingKeyMu.Unlock()

	return key
}

// lookupKey returns the credential for the access key ID, from cache when
// fresh. An unknown or disabled key yields AccessDenied.
func (v *Verifier) lookupKey(r *http.Request, accessKeyID string) (*metadata.AccessKeyRecord, *AuthError) {
	now := time.Now()

	v.credCacheMu.RLock()
	if entry, ok := v.credCache[accessKeyID]; ok && now.Before(entry.expiresAt) {
		v.credCacheMu.RUnlock()
		if entry.cred == nil || !entry.cred.Active {
			return nil, &AuthError{Code: "AccessDenied", Message: "Access Denied"}
		}
		return entry.cred, nil
	}
	v.credCacheMu.RUnlock()

	cred, err := v.Meta.GetAccessKey(r.Context(), accessKeyID)
	if err != nil {
		return nil, &AuthError{Code: "InternalError", Message: "Failed to look up credentials"}
	}

	v.credCacheMu.Lock()
	if len(v.credCache) >= maxCacheEntries {
		v.credCache = make(map[string]credCacheEntry)
	}
	v.credCache[accessKeyID] = credCacheEntry{cred: cred, expiresAt: now.Add(credCacheTTL)}
	v.credCacheMu.Unlock()

	if cred == nil || !cred.Active {
		return nil, &AuthError{Code: "AccessDenied", Message: "Access Denied"}
	}
	return cred, nil
}

// parsedAuth holds the parsed components of an Authorization header.
type parsedAuth struct {
	AccessKeyID   string
	DateStr       string // YYYYMMDD
	Region        string
	Service       string
	SignedHeaders []string
	Signature     string
}

// parseAuthorizationHeader parses the AWS SigV4 Authorization header.
// Format: AWS4-HMAC-SHA256 Credential=AKID/date/region/service/aws4_request, SignedHeaders=host;..., Signature=hex
func parseAuthorizationHeader(header string) (*parsedAuth, error) {
	if !strings.HasPrefix(header, algorithm+" ") {
		return nil, fmt.Errorf("unsupported algorithm")
	}

	rest := strings.TrimPrefix(header, algorithm+" ")

	parts := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		parts[strings.TrimSpace(part[:idx])] = strings.TrimSpace(part[idx+1:])
	}

	credential, ok := parts["Credential"]
	if !ok || credential == "" {
		return nil, fmt.Errorf("missing Credential")
	}

	signedHeadersStr, ok := parts["SignedHeaders"]
	if !ok || signedHeadersStr == "" {
		return nil, fmt.Errorf("missing SignedHeaders")
	}

	signature, ok := parts["Signature"]
	if !ok || signature == "" {
		return nil, fmt.Errorf("missing Signature")
	}

	// Parse credential: accessKeyID/date/region/service/aws4_request
	credParts := strings.SplitN(credential, "/", 5)
	if len(credParts) != 5 {
		return nil, fmt.Errorf("invalid credential format")
	}
	if credParts[4] != scopeTerminator {
		return nil, fmt.Errorf("invalid credential scope terminator: %s", credParts[4])
	}

	return &parsedAuth{
		AccessKeyID:   credParts[0],
		DateStr:       credParts[1],
		Region:        credParts[2],
		Service:       credParts[3],
		SignedHeaders: strings.Split(signedHeadersStr, ";"),
		Signature:     signature,
	}, nil
}

// VerifyHeader validates the AWS SigV4 signature carried in the
// Authorization header. The fully buffered request body is supplied so its
// hash can serve as a payload-hash candidate. Returns the credential record
// on success.
func (v *Verifier) VerifyHeader(r *http.Request, body []byte) (*metadata.AccessKeyRecord, *AuthError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing Authorization header"}
	}

	parsed, err := parseAuthorizationHeader(authHeader)
	if err != nil {
		return nil, &AuthError{Code: "AccessDenied", Message: fmt.Sprintf("Invalid Authorization header: %v", err)}
	}

	cred, authErr := v.lookupKey(r, parsed.AccessKeyID)
	if authErr != nil {
		return nil, authErr
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		amzDate = r.Header.Get("Date")
	}
	if amzDate == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-Date or Date header"}
	}

	scope := fmt.Sprintf("%s/%s/%s/%s", parsed.DateStr, parsed.Region, parsed.Service, scopeTerminator)
	signingKey := v.cachedDeriveSigningKey(cred.SecretKey, parsed.DateStr, parsed.Region, parsed.Service)

	// Intermediaries may rewrite the content-sha256 header or body between
	// client and server, so several payload hash candidates are acceptable.
	// The first candidate whose derived signature matches wins.
	for _, payloadHash := range payloadHashCandidates(r, body) {
		canonicalRequest := buildCanonicalRequest(r, r.URL.Query(), parsed.SignedHeaders, payloadHash)
		stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
		expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.Signature)) == 1 {
			return cred, nil
		}
	}

	return nil, &AuthError{
		Code:        "SignatureDoesNotMatch",
		Message:     "The request signature we calculated does not match the signature you provided",
		AccessKeyID: parsed.AccessKeyID,
	}
}

// VerifyPresignedV4 validates a V4 presigned URL by checking the X-Amz-*
// query parameters. Returns the credential record on success.
func (v *Verifier) VerifyPresignedV4(r *http.Request) (*metadata.AccessKeyRecord, *AuthError) {
	q := r.URL.Query()

	if q.Get("X-Amz-Algorithm") != algorithm {
		return nil, &AuthError{Code: "AccessDenied", Message: "Unsupported algorithm"}
	}

	credStr := q.Get("X-Amz-Credential")
	if credStr == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-Credential"}
	}
	credParts := strings.SplitN(credStr, "/", 5)
	if len(credParts) != 5 || credParts[4] != scopeTerminator {
		return nil, &AuthError{Code: "AccessDenied", Message: "Invalid credential format"}
	}

	accessKeyID := credParts[0]
	dateStr := credParts[1]
	region := credParts[2]
	svc := credParts[3]

	amzDate := q.Get("X-Amz-Date")
	if amzDate == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-Date"}
	}

	expiresStr := q.Get("X-Amz-Expires")
	if expiresStr == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-Expires"}
	}

	signedHeadersStr := q.Get("X-Amz-SignedHeaders")
	if signedHeadersStr == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-SignedHeaders"}
	}

	signature := q.Get("X-Amz-Signature")
	if signature == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing X-Amz-Signature"}
	}

	var expires int
	if _, err := fmt.Sscanf(expiresStr, "%d", &expires); err != nil || expires < 1 || expires > maxPresignedExpiry {
		return nil, &AuthError{Code: "AccessDenied", Message: fmt.Sprintf("Invalid X-Amz-Expires value: %s", expiresStr)}
	}

	requestTime, err := time.Parse(amzDateFormat, amzDate)
	if err != nil {
		return nil, &AuthError{Code: "AccessDenied", Message: "Invalid X-Amz-Date format"}
	}

	// The validity window is the request date plus X-Amz-Expires seconds.
	if time.Now().UTC().After(requestTime.Add(time.Duration(expires) * time.Second)) {
		return nil, &AuthError{Code: "AccessDenied", Message: "Request has expired"}
	}

	if dateStr != amzDate[:8] {
		return nil, &AuthError{Code: "SignatureDoesNotMatch", Message: "Credential date does not match X-Amz-Date"}
	}

	cred, authErr := v.lookupKey(r, accessKeyID)
	if authErr != nil {
		return nil, authErr
	}

	// The signature itself is excluded from the canonical query.
	canonicalQuery := r.URL.Query()
	canonicalQuery.Del("X-Amz-Signature")

	signedHeaders := strings.Split(signedHeadersStr, ";")
	canonicalRequest := buildCanonicalRequest(r, canonicalQuery, signedHeaders, unsignedPayload)

	scope := fmt.Sprintf("%s/%s/%s/%s", dateStr, region, svc, scopeTerminator)
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)

	signingKey := v.cachedDeriveSigningKey(cred.SecretKey, dateStr, region, svc)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, &AuthError{
			Code:        "SignatureDoesNotMatch",
			Message:     "The request signature we calculated does not match the signature you provided",
			AccessKeyID: accessKeyID,
		}
	}

	return cred, nil
}

// payloadHashCandidates returns the acceptable payload hashes in trial order:
// the x-amz-content-sha256 header value, the hash of the buffered body,
// UNSIGNED-PAYLOAD, and the empty-string hash.
func payloadHashCandidates(r *http.Request, body []byte) []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(h string) {
		if h != "" && !seen[h] {
			seen[h] = true
			candidates = append(candidates, h)
		}
	}

	add(r.Header.Get("X-Amz-Content-Sha256"))
	bodyHash := sha256.Sum256(body)
	add(hex.EncodeToString(bodyHash[:]))
	add(unsignedPayload)
	add(emptySHA256)
	return candidates
}

// buildCanonicalRequest builds the canonical request string.
func buildCanonicalRequest(r *http.Request, query url.Values, signedHeaders []string, payloadHash string) string {
	var sb strings.Builder

	sb.WriteString(r.Method)
	sb.WriteByte('\n')

	sb.WriteString(canonicalURI(r.URL.Path))
	sb.WriteByte('\n')

	sb.WriteString(canonicalQueryString(query))
	sb.WriteByte('\n')

	sb.WriteString(canonicalHeaders(r, signedHeaders))
	sb.WriteByte('\n')

	sb.WriteString(strings.Join(signedHeaders, ";"))
	sb.WriteByte('\n')

	sb.WriteString(payloadHash)

	return sb.String()
}

// buildStringToSign builds the string to sign for SigV4.
func buildStringToSign(amzDate, scope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return algorithm + "\n" +
		amzDate + "\n" +
		scope + "\n" +
		hex.EncodeToString(hash[:])
}

// deriveSigningKey derives the SigV4 signing key using the HMAC chain.
func deriveSigningKey(secretKey, dateStr, region, svc string) []byte {
	dateKey := hmacSHA256([]byte("AWS4"+secretKey), dateStr)
	regionKey := hmacSHA256(dateKey, region)
	serviceKey := hmacSHA256(regionKey, svc)
	return hmacSHA256(serviceKey, scopeTerminator)
}

// canonicalURI returns the URI-encoded absolute path. The decoded path is
// re-encoded segment by segment per RFC 3986; forward slashes are NOT
// encoded. Empty path becomes "/".
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = URIEncode(seg, true)
	}
	return strings.Join(segments, "/")
}

// canonicalQueryString returns the sorted, URI-encoded query string.
// Parameters with no value use empty value: "acl=".
func canonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	var pairs []string
	for key, vals := range values {
		encodedKey := URIEncode(key, true)
		if len(vals) == 0 {
			pairs = append(pairs, encodedKey+"=")
		}
		for _, val := range vals {
			pairs = append(pairs, encodedKey+"="+URIEncode(val, true))
		}
	}

	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// requestHost returns the host value used in canonical headers. When the
// request passed through a proxy, X-Forwarded-Host (first entry if
// comma-separated) carries the host the client signed.
func requestHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if r.Host != "" {
		return r.Host
	}
	return r.Header.Get("Host")
}

// canonicalHeaders builds the canonical headers string from the signed header list.
func canonicalHeaders(r *http.Request, signedHeaders []string) string {
	var sb strings.Builder
	for _, name := range signedHeaders {
		name = strings.ToLower(name)
		var values []string
		if name == "host" {
			values = []string{requestHost(r)}
		} else {
			values = r.Header.Values(http.CanonicalHeaderKey(name))
		}
		// Join multiple values with comma, trim whitespace, collapse spaces.
		joined := strings.Join(values, ",")
		joined = strings.TrimSpace(joined)
		for strings.Contains(joined, "  ") {
			joined = strings.ReplaceAll(joined, "  ", " ")
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(joined)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// URIEncode encodes a string per S3 URI encoding rules.
// Characters A-Z, a-z, 0-9, '-', '_', '.', '~' are NOT encoded.
// If encodeSlash is false, '/' is also NOT encoded.
// All other characters are percent-encoded with uppercase hex.
func URIEncode(s string, encodeSlash bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIUnreserved(c) || (!encodeSlash && c == '/') {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(hexDigit(c >> 4))
			sb.WriteByte(hexDigit(c & 0x0f))
		}
	}
	return sb.String()
}

// isURIUnreserved returns true if the byte is an unreserved URI character.
func isURIUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// hexDigit returns the uppercase hex digit for a 4-bit value.
func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'A' + b - 10
}

// hmacSHA256 computes HMAC-SHA256 of the data using the given key.
func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
