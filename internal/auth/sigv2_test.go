package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// presignV2URL builds a legacy V2 presigned GET URL the way an old SDK does.
func presignV2URL(secret, bucket, key string, expires int64, subresource string) string {
	resource := "/" + bucket + "/" + key
	if subresource != "" {
		resource += "?" + subresource
	}

	stringToSign := fmt.Sprintf("GET\n\n\n%d\n%s", expires, resource)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("AWSAccessKeyId", testAccessKey)
	q.Set("Expires", fmt.Sprintf("%d", expires))
	q.Set("Signature", signature)

	u := fmt.Sprintf("http://localhost:3000/%s/%s?%s", bucket, key, q.Encode())
	if subresource != "" {
		u += "&" + subresource
	}
	return u
}

func TestVerifyPresignedV2RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	expires := time.Now().UTC().Add(15 * time.Minute).Unix()
	presigned := presignV2URL(testSecretKey, "test-bucket", "file.txt", expires, "")

	req := httptest.NewRequest(http.MethodGet, presigned, nil)
	cred, authErr := v.VerifyPresignedV2(req)
	if authErr != nil {
		t.Fatalf("VerifyPresignedV2 failed: %v", authErr)
	}
	if cred.AccessKeyID != testAccessKey {
		t.Errorf("cred = %+v", cred)
	}
}

func TestVerifyPresignedV2SubResource(t *testing.T) {
	v := newTestVerifier(t)

	// The uploads sub-resource participates in the canonicalized resource.
	expires := time.Now().UTC().Add(15 * time.Minute).Unix()
	presigned := presignV2URL(testSecretKey, "test-bucket", "big.bin", expires, "uploads")

	req := httptest.NewRequest(http.MethodGet, presigned, nil)
	if _, authErr := v.VerifyPresignedV2(req); authErr != nil {
		t.Fatalf("VerifyPresignedV2 with sub-resource failed: %v", authErr)
	}
}

func TestVerifyPresignedV2Expired(t *testing.T) {
	v := newTestVerifier(t)

	expires := time.Now().UTC().Add(-time.Second).Unix()
	presigned := presignV2URL(testSecretKey, "test-bucket", "file.txt", expires, "")

	req := httptest.NewRequest(http.MethodGet, presigned, nil)
	_, authErr := v.VerifyPresignedV2(req)
	if authErr == nil {
		t.Fatalf("expired V2 URL verified")
	}
	if authErr.Code != "AccessDenied" && authErr.Code != "SignatureDoesNotMatch" {
		t.Errorf("code = %s, want a 403 kind", authErr.Code)
	}
}

func TestVerifyPresignedV2WrongSignature(t *testing.T) {
	v := newTestVerifier(t)

	expires := time.Now().UTC().Add(15 * time.Minute).Unix()
	presigned := presignV2URL("wrong-secret", "test-bucket", "file.txt", expires, "")

	req := httptest.NewRequest(http.MethodGet, presigned, nil)
	_, authErr := v.VerifyPresignedV2(req)
	if authErr == nil || authErr.Code != "SignatureDoesNotMatch" {
		t.Fatalf("wrong-secret err = %v, want SignatureDoesNotMatch", authErr)
	}
}

func TestCanonicalizedResourceV2(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://h/bkt/key?uploads=&prefix=x&acl=", nil)
	got := canonicalizedResourceV2(req)
	// prefix is not a signing sub-resource; acl and uploads are, sorted.
	want := "/bkt/key?acl&uploads"
	if got != want {
		t.Errorf("canonicalizedResourceV2 = %q, want %q", got, want)
	}

	req = httptest.NewRequest(http.MethodGet, "http://h/bkt/key?partNumber=2&uploadId=u", nil)
	got = canonicalizedResourceV2(req)
	want = "/bkt/key?partNumber=2&uploadId=u"
	if got != want {
		t.Errorf("canonicalizedResourceV2 = %q, want %q", got, want)
	}
}
