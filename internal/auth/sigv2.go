package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/strongroom/strongroom/internal/metadata"
)

// v2SubResources is the set of query parameters that participate in the V2
// canonicalized resource, per the legacy AWS signing rules.
var v2SubResources = map[string]bool{
	"acl":            true,
	"lifecycle":      true,
	"location":       true,
	"logging":        true,
	"notification":   true,
	"partNumber":     true,
	"policy":         true,
	"requestPayment": true,
	"torrent":        true,
	"uploadId":       true,
	"uploads":        true,
	"versionId":      true,
	"versioning":     true,
	"versions":       true,
	"website":        true,
	"delete":         true,
	"cors":           true,
	"tagging":        true,
	"restore":        true,
	"replication":    true,
}

// VerifyPresignedV2 validates a legacy V2 presigned URL, recognized by the
// AWSAccessKeyId query parameter. Returns the credential record on success.
func (v *Verifier) VerifyPresignedV2(r *http.Request) (*metadata.AccessKeyRecord, *AuthError) {
	q := r.URL.Query()

	accessKeyID := q.Get("AWSAccessKeyId")
	if accessKeyID == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing AWSAccessKeyId"}
	}

	signature := q.Get("Signature")
	if signature == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing Signature"}
	}

	expiresStr := q.Get("Expires")
	if expiresStr == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing Expires"}
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return nil, &AuthError{Code: "AccessDenied", Message: "Invalid Expires value"}
	}

	if time.Now().UTC().Unix() > expires {
		return nil, &AuthError{Code: "AccessDenied", Message: "Request has expired"}
	}

	cred, authErr := v.lookupKey(r, accessKeyID)
	if authErr != nil {
		return nil, authErr
	}

	stringToSign := buildV2StringToSign(r, expiresStr)
	mac := hmac.New(sha1.New, []byte(cred.SecretKey))
	mac.Write([]byte(stringToSign))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, &AuthError{
			Code:        "SignatureDoesNotMatch",
			Message:     "The request signature we calculated does not match the signature you provided",
			AccessKeyID: accessKeyID,
		}
	}

	return cred, nil
}

// buildV2StringToSign assembles the legacy V2 string to sign:
// METHOD, Content-MD5, Content-Type, Expires, canonicalized x-amz- headers,
// and the canonicalized resource.
func buildV2StringToSign(r *http.Request, expires string) string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-MD5"))
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-Type"))
	sb.WriteByte('\n')
	sb.WriteString(expires)
	sb.WriteByte('\n')
	sb.WriteString(canonicalizedAmzHeaders(r))
	sb.WriteString(canonicalizedResourceV2(r))
	return sb.String()
}

// canonicalizedAmzHeaders emits every x-amz-* header as "name:value\n",
// lowercased and sorted by name.
func canonicalizedAmzHeaders(r *http.Request) string {
	var names []string
	values := make(map[string]string)
	for name, vals := range r.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-") {
			names = append(names, lower)
			values[lower] = strings.TrimSpace(strings.Join(vals, ","))
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(values[name])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// canonicalizedResourceV2 is the decoded path, optionally followed by "?" and
// the signing sub-resource parameters sorted lexicographically. A parameter
// with an empty value contributes its key alone.
func canonicalizedResourceV2(r *http.Request) string {
	resource := r.URL.Path
	if resource == "" {
		resource = "/"
	}

	var params []string
	for key, vals := range r.URL.Query() {
		if !v2SubResources[key] {
			continue
		}
		val := ""
		if len(vals) > 0 {
			val = vals[0]
		}
		if val == "" {
			params = append(params, key)
		} else {
			params = append(params, fmt.Sprintf("%s=%s", key, val))
		}
	}
	if len(params) == 0 {
		return resource
	}
	sort.Strings(params)
	return resource + "?" + strings.Join(params, "&")
}
