package handlers

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// initiateUpload starts a multipart upload and returns the upload ID.
func initiateUpload(t *testing.T, env *testEnv, target string) string {
	t.Helper()

	rec := httptest.NewRecorder()
	env.multipart().CreateMultipartUpload(rec, newRequest(http.MethodPost, target+"?uploads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("CreateMultipartUpload = %d, %s", rec.Code, rec.Body.String())
	}

	var result struct {
		UploadID string `xml:"UploadId"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal InitiateMultipartUploadResult: %v", err)
	}
	if result.UploadID == "" {
		t.Fatalf("empty upload id in %s", rec.Body.String())
	}
	return result.UploadID
}

// uploadPart uploads one part and returns its ETag.
func uploadPart(t *testing.T, env *testEnv, target, uploadID string, n int, body string) string {
	t.Helper()

	url := fmt.Sprintf("%s?uploadId=%s&partNumber=%d", target, uploadID, n)
	rec := httptest.NewRecorder()
	env.multipart().UploadPart(rec, newRequest(http.MethodPut, url, strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("UploadPart %d = %d, %s", n, rec.Code, rec.Body.String())
	}
	return rec.Header().Get("ETag")
}

func TestMultipartOutOfOrderUpload(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/big/file.bin"
	uploadID := initiateUpload(t, env, target)

	// Parts arrive out of order; ascending order is asserted only at
	// Complete time.
	etag2 := uploadPart(t, env, target, uploadID, 2, "BBBB")
	etag1 := uploadPart(t, env, target, uploadID, 1, "AAAA")

	if etag1 != `"e2fc714c4727ee9395f324cd2e7f331f"` {
		t.Errorf("part 1 etag = %s", etag1)
	}
	if etag2 != `"f6a6263167c92de8644ac998b3c4e4d1"` {
		t.Errorf("part 2 etag = %s", etag2)
	}

	body := fmt.Sprintf(
		`<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part><Part><PartNumber>2</PartNumber><ETag>%s</ETag></Part></CompleteMultipartUpload>`,
		etag1, etag2)
	rec := httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Complete = %d, %s", rec.Code, rec.Body.String())
	}

	// The final ETag is md5 over the concatenated binary part digests.
	h := md5.New()
	for _, e := range []string{etag1, etag2} {
		raw, _ := hex.DecodeString(strings.Trim(e, `"`))
		h.Write(raw)
	}
	wantETag := fmt.Sprintf(`"%x-2"`, h.Sum(nil))
	if !strings.Contains(rec.Body.String(), wantETag) {
		t.Errorf("Complete result = %s, want etag %s", rec.Body.String(), wantETag)
	}
	if !strings.Contains(rec.Body.String(), "<Location>/test-bucket/big/file.bin</Location>") {
		t.Errorf("Complete result = %s, want location", rec.Body.String())
	}

	// The assembled object reads back as AAAABBBB.
	rec = httptest.NewRecorder()
	env.objects().GetObject(rec, newRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "AAAABBBB" {
		t.Errorf("assembled GET = %d, %q", rec.Code, rec.Body.String())
	}
	if etag := rec.Header().Get("ETag"); etag != wantETag {
		t.Errorf("assembled etag = %s, want %s", etag, wantETag)
	}

	// The upload state is gone.
	rec = httptest.NewRecorder()
	env.multipart().ListParts(rec, newRequest(http.MethodGet, target+"?uploadId="+uploadID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("ListParts after complete = %d, want 404", rec.Code)
	}
}

func TestMultipartPartOverwrite(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/re.bin"
	uploadID := initiateUpload(t, env, target)

	uploadPart(t, env, target, uploadID, 1, "old-bytes")
	etag := uploadPart(t, env, target, uploadID, 1, "XX")

	body := fmt.Sprintf(
		`<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part></CompleteMultipartUpload>`, etag)
	rec := httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Complete = %d, %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	env.objects().GetObject(rec, newRequest(http.MethodGet, target, nil))
	if rec.Body.String() != "XX" {
		t.Errorf("body = %q, want overwritten part", rec.Body.String())
	}
}

func TestCompleteSinglePartElement(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/single.bin"
	uploadID := initiateUpload(t, env, target)
	etag := uploadPart(t, env, target, uploadID, 1, "only")

	// A single <Part> child must parse the same as an array.
	body := fmt.Sprintf(
		`<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part></CompleteMultipartUpload>`, etag)
	rec := httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("single-part Complete = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestCompleteInvalidPartOrder(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/ord.bin"
	uploadID := initiateUpload(t, env, target)

	etag1 := uploadPart(t, env, target, uploadID, 1, "AAAA")
	etag2 := uploadPart(t, env, target, uploadID, 2, "BBBB")

	body := fmt.Sprintf(
		`<CompleteMultipartUpload><Part><PartNumber>2</PartNumber><ETag>%s</ETag></Part><Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part></CompleteMultipartUpload>`,
		etag2, etag1)
	rec := httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "InvalidPartOrder") {
		t.Errorf("descending Complete = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestCompleteUndeclaredPart(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/gap.bin"
	uploadID := initiateUpload(t, env, target)

	uploadPart(t, env, target, uploadID, 1, "AAAA")

	// Part 7 was never staged.
	body := `<CompleteMultipartUpload><Part><PartNumber>7</PartNumber><ETag>"deadbeef"</ETag></Part></CompleteMultipartUpload>`
	rec := httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "InvalidArgument") {
		t.Errorf("missing part Complete = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestUploadPartValidation(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/v.bin"
	uploadID := initiateUpload(t, env, target)

	// Unknown upload ID.
	rec := httptest.NewRecorder()
	env.multipart().UploadPart(rec,
		newRequest(http.MethodPut, target+"?uploadId=not-a-real-id&partNumber=1", strings.NewReader("x")))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "NoSuchUpload") {
		t.Errorf("unknown upload = %d, %s", rec.Code, rec.Body.String())
	}

	// Part numbers outside 1-10000.
	for _, pn := range []string{"0", "10001", "abc"} {
		rec = httptest.NewRecorder()
		env.multipart().UploadPart(rec,
			newRequest(http.MethodPut, target+"?uploadId="+uploadID+"&partNumber="+pn, strings.NewReader("x")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("partNumber %s = %d, want 400", pn, rec.Code)
		}
	}
}

func TestListParts(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/lp.bin"
	uploadID := initiateUpload(t, env, target)

	uploadPart(t, env, target, uploadID, 3, "CC")
	uploadPart(t, env, target, uploadID, 1, "AA")

	rec := httptest.NewRecorder()
	env.multipart().ListParts(rec, newRequest(http.MethodGet, target+"?uploadId="+uploadID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ListParts = %d", rec.Code)
	}

	var result struct {
		Parts []struct {
			PartNumber int   `xml:"PartNumber"`
			Size       int64 `xml:"Size"`
		} `xml:"Part"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Parts) != 2 || result.Parts[0].PartNumber != 1 || result.Parts[1].PartNumber != 3 {
		t.Errorf("parts = %+v, want sorted by number", result.Parts)
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	env := newTestEnv(t)
	target := "/test-bucket/ab.bin"
	uploadID := initiateUpload(t, env, target)
	uploadPart(t, env, target, uploadID, 1, "AAAA")

	rec := httptest.NewRecorder()
	env.multipart().AbortMultipartUpload(rec, newRequest(http.MethodDelete, target+"?uploadId="+uploadID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Abort = %d", rec.Code)
	}

	// Upload state is gone; a second abort reports NoSuchUpload.
	rec = httptest.NewRecorder()
	env.multipart().AbortMultipartUpload(rec, newRequest(http.MethodDelete, target+"?uploadId="+uploadID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second Abort = %d, want 404", rec.Code)
	}

	// Complete after abort also reports NoSuchUpload.
	rec = httptest.NewRecorder()
	env.multipart().CompleteMultipartUpload(rec,
		newRequest(http.MethodPost, target+"?uploadId="+uploadID, strings.NewReader("<CompleteMultipartUpload/>")))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Complete after abort = %d, want 404", rec.Code)
	}
}

func TestCompositeETagPartition(t *testing.T) {
	// The composite of three known parts matches the documented formula.
	parts := []string{"aaaa", "bbbb", "cccc"}
	var etags []string
	h := md5.New()
	for _, p := range parts {
		sum := md5.Sum([]byte(p))
		etags = append(etags, `"`+hex.EncodeToString(sum[:])+`"`)
		h.Write(sum[:])
	}

	want := fmt.Sprintf(`"%x-3"`, h.Sum(nil))
	if got := computeCompositeETag(etags); got != want {
		t.Errorf("computeCompositeETag = %s, want %s", got, want)
	}
}
