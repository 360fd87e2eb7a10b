package auth

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/strongroom/strongroom/internal/metadata"
)

// PresignV4 builds a V4 presigned GET URL for the given object, signed with
// the supplied credential. The URL is valid for expires seconds starting now.
// host is the externally advertised host (and optional port); scheme is
// "http" or "https".
func PresignV4(cred *metadata.AccessKeyRecord, scheme, host, region, bucket, key string, expires int) string {
	now := time.Now().UTC()
	amzDate := now.Format(amzDateFormat)
	dateStr := amzDate[:8]
	scope := fmt.Sprintf("%s/%s/%s/%s", dateStr, region, service, scopeTerminator)

	path := "/" + bucket + "/" + key

	query := url.Values{}
	query.Set("X-Amz-Algorithm", algorithm)
	query.Set("X-Amz-Credential", cred.AccessKeyID+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", fmt.Sprintf("%d", expires))
	query.Set("X-Amz-SignedHeaders", "host")

	// Canonical request over the unsigned query (the signature itself is
	// excluded), host as the sole signed header, UNSIGNED-PAYLOAD.
	var sb strings.Builder
	sb.WriteString("GET\n")
	sb.WriteString(canonicalURI(path))
	sb.WriteByte('\n')
	sb.WriteString(canonicalQueryString(query))
	sb.WriteByte('\n')
	sb.WriteString("host:" + host + "\n")
	sb.WriteByte('\n')
	sb.WriteString("host\n")
	sb.WriteString(unsignedPayload)

	stringToSign := buildStringToSign(amzDate, scope, sb.String())
	signingKey := deriveSigningKey(cred.SecretKey, dateStr, region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	query.Set("X-Amz-Signature", signature)

	return fmt.Sprintf("%s://%s%s?%s", scheme, host, canonicalURI(path), query.Encode())
}
