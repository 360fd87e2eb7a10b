package auth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	s3err "github.com/strongroom/strongroom/internal/errors"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/xmlutil"
)

// Principal identifies the sender of an authenticated S3 request. The
// anonymous principal (empty AccessKeyID) is attached for public-read GETs.
type Principal struct {
	AccessKeyID string
}

// Anonymous reports whether the principal is the anonymous one.
func (p Principal) Anonymous() bool { return p.AccessKeyID == "" }

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey int

const principalKey contextKey = iota

// PrincipalFromContext retrieves the authenticated principal from the request
// context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// ContextWithPrincipal sets the principal on the given context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// skipPrefixes lists paths exempt from S3 authentication: health, metrics,
// and the admin surface (which carries its own token auth).
var skipPrefixes = []string{"/health", "/metrics", "/admin"}

// maxBufferedBody caps the in-memory body buffer (5 GiB, the S3 single-PUT
// ceiling).
const maxBufferedBody = 5 << 30

// Gate returns the per-request authentication middleware. It buffers the
// request body for PUT/POST so signature verification and handlers share the
// bytes, selects the signature mode, and attaches the principal on success.
//
// Mode selection order: AWSAccessKeyId query parameter (V2 presigned), then
// X-Amz-Algorithm (V4 presigned), then the Authorization header (V4 header),
// then anonymous GET/HEAD on public-read buckets.
func Gate(verifier *Verifier, meta metadata.MetadataStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			for _, prefix := range skipPrefixes {
				if path == prefix || strings.HasPrefix(path, prefix+"/") {
					next.ServeHTTP(w, r)
					return
				}
			}
			// HEAD / is the unauthenticated health probe.
			if r.Method == http.MethodHead && path == "/" {
				next.ServeHTTP(w, r)
				return
			}

			// Buffer the body in full for PUT/POST; other methods carry none.
			var body []byte
			if r.Method == http.MethodPut || r.Method == http.MethodPost {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
				if err != nil {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			q := r.URL.Query()

			var cred *metadata.AccessKeyRecord
			var authErr *AuthError

			switch {
			case q.Get("AWSAccessKeyId") != "":
				cred, authErr = verifier.VerifyPresignedV2(r)
			case q.Get("X-Amz-Algorithm") != "":
				cred, authErr = verifier.VerifyPresignedV4(r)
			case r.Header.Get("Authorization") != "":
				cred, authErr = verifier.VerifyHeader(r, body)
			case r.Method == http.MethodGet || r.Method == http.MethodHead:
				// Anonymous read is permitted only on public-read buckets.
				bucketName := firstPathSegment(path)
				if bucketName == "" {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
					return
				}
				bucket, err := meta.GetBucket(r.Context(), bucketName)
				if err != nil {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
					return
				}
				if bucket == nil || bucket.ACL != "public-read" {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
					return
				}
				ctx := ContextWithPrincipal(r.Context(), Principal{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			default:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
				return
			}

			if authErr != nil {
				if authErr.Code == "SignatureDoesNotMatch" {
					// Never log the received signature or the secret.
					slog.Warn("signature mismatch",
						"access_key", authErr.AccessKeyID,
						"method", r.Method, "path", r.URL.Path)
				}
				writeAuthError(w, r, authErr)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), Principal{AccessKeyID: cred.AccessKeyID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// firstPathSegment returns the first path segment, i.e. the bucket name.
func firstPathSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// writeAuthError maps an AuthError to the appropriate S3 error XML response.
func writeAuthError(w http.ResponseWriter, r *http.Request, authErr *AuthError) {
	switch authErr.Code {
	case "SignatureDoesNotMatch":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrSignatureDoesNotMatch)
	case "MissingSecurityHeader":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
	case "InternalError":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
	}
}
