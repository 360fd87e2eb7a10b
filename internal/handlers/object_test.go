package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strongroom/strongroom/internal/metadata"
)

func TestPutGetObject(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	// Scenario: PUT hello.txt with a known body and content type.
	req := newRequest(http.MethodPut, "/test-bucket/hello.txt", strings.NewReader("Hello World!"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	objects.PutObject(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("PutObject status = %d, body %s", rec.Code, rec.Body.String())
	}
	if etag := rec.Header().Get("ETag"); etag != `"ed076287532e86365e841e92bfc50d8c"` {
		t.Errorf("ETag = %s", etag)
	}

	// GET returns the same bytes with the stored headers.
	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/hello.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GetObject status = %d", rec.Code)
	}
	if rec.Body.String() != "Hello World!" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %s", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "12" {
		t.Errorf("Content-Length = %s", cl)
	}
	if ar := rec.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %s", ar)
	}
	if lm := rec.Header().Get("Last-Modified"); lm == "" {
		t.Errorf("Last-Modified missing")
	}
}

func TestPutObjectDefaultsContentType(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/raw", strings.NewReader("x")))
	if rec.Code != http.StatusOK {
		t.Fatalf("PutObject status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/raw", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %s, want application/octet-stream", ct)
	}
}

func TestPutObjectUserMetadataRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	req := newRequest(http.MethodPut, "/test-bucket/meta.txt", strings.NewReader("m"))
	req.Header.Set("x-amz-meta-Author", "amy")
	req.Header.Set("X-Amz-Meta-Purpose", "testing")
	rec := httptest.NewRecorder()
	objects.PutObject(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PutObject status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	objects.HeadObject(rec, newRequest(http.MethodHead, "/test-bucket/meta.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HeadObject status = %d", rec.Code)
	}
	if got := rec.Header().Get("x-amz-meta-author"); got != "amy" {
		t.Errorf("x-amz-meta-author = %q", got)
	}
	if got := rec.Header().Get("x-amz-meta-purpose"); got != "testing" {
		t.Errorf("x-amz-meta-purpose = %q", got)
	}
}

func TestPutObjectOverwrites(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	for _, body := range []string{"first", "second version"} {
		rec := httptest.NewRecorder()
		objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/k", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("PutObject status = %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/k", nil))
	if rec.Body.String() != "second version" {
		t.Errorf("body = %q, want overwrite", rec.Body.String())
	}
}

func TestGetObjectRange(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/r.txt", strings.NewReader("Hello World!")))
	if rec.Code != http.StatusOK {
		t.Fatalf("PutObject status = %d", rec.Code)
	}

	req := newRequest(http.MethodGet, "/test-bucket/r.txt", nil)
	req.Header.Set("Range", "bytes=5-7")
	rec = httptest.NewRecorder()
	objects.GetObject(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("range status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != " Wo" {
		t.Errorf("range body = %q, want \" Wo\"", rec.Body.String())
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 5-7/12" {
		t.Errorf("Content-Range = %s", cr)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "3" {
		t.Errorf("Content-Length = %s", cl)
	}
}

func TestGetObjectRangeClampsEnd(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/c.txt", strings.NewReader("abcdef")))

	req := newRequest(http.MethodGet, "/test-bucket/c.txt", nil)
	req.Header.Set("Range", "bytes=3-100")
	rec = httptest.NewRecorder()
	objects.GetObject(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "def" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 3-5/6" {
		t.Errorf("Content-Range = %s", cr)
	}
}

func TestGetObjectInvalidRange(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/i.txt", strings.NewReader("short")))

	// Start beyond the object.
	req := newRequest(http.MethodGet, "/test-bucket/i.txt", nil)
	req.Header.Set("Range", "bytes=100-200")
	rec = httptest.NewRecorder()
	objects.GetObject(rec, req)
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("status = %d, want 416", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "InvalidRange") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetObjectMissing(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/absent", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NoSuchKey") {
		t.Errorf("body = %s, want NoSuchKey", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/no-such-bucket/x", nil))
	if !strings.Contains(rec.Body.String(), "NoSuchBucket") {
		t.Errorf("body = %s, want NoSuchBucket", rec.Body.String())
	}
}

func TestHeadObjectNoBody(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/h.txt", strings.NewReader("head me")))

	rec = httptest.NewRecorder()
	objects.HeadObject(rec, newRequest(http.MethodHead, "/test-bucket/h.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HeadObject status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body length = %d, want 0", rec.Body.Len())
	}
	if cl := rec.Header().Get("Content-Length"); cl != "7" {
		t.Errorf("Content-Length = %s", cl)
	}

	// Missing object: 404, still no XML body.
	rec = httptest.NewRecorder()
	objects.HeadObject(rec, newRequest(http.MethodHead, "/test-bucket/absent", nil))
	if rec.Code != http.StatusNotFound || rec.Body.Len() != 0 {
		t.Errorf("missing HEAD = %d, body %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestDeleteObjectIdempotent(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/d.txt", strings.NewReader("x")))

	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		objects.DeleteObject(rec, newRequest(http.MethodDelete, "/test-bucket/d.txt", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete %d status = %d, want 204", i+1, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/d.txt", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("object still present after delete")
	}
}

func TestDeleteObjectsBatch(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	for _, key := range []string{"b1", "b2"} {
		rec := httptest.NewRecorder()
		objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/"+key, strings.NewReader("x")))
	}

	body := `<Delete><Object><Key>b1</Key></Object><Object><Key>b2</Key></Object><Object><Key>missing</Key></Object></Delete>`
	rec := httptest.NewRecorder()
	objects.DeleteObjects(rec, newRequest(http.MethodPost, "/test-bucket?delete", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("DeleteObjects status = %d", rec.Code)
	}
	out := rec.Body.String()
	// All three report Deleted: batch delete of a missing key succeeds.
	if strings.Count(out, "<Deleted>") != 3 {
		t.Errorf("DeleteResult = %s", out)
	}

	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/test-bucket/b1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("b1 still present")
	}
}

func TestDeleteObjectsSingleChild(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	rec := httptest.NewRecorder()
	objects.PutObject(rec, newRequest(http.MethodPut, "/test-bucket/solo", strings.NewReader("x")))

	// A single <Object> child must parse the same as an array.
	body := `<Delete><Object><Key>solo</Key></Object></Delete>`
	rec = httptest.NewRecorder()
	objects.DeleteObjects(rec, newRequest(http.MethodPost, "/test-bucket?delete", strings.NewReader(body)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<Key>solo</Key>") {
		t.Errorf("single-child DeleteObjects = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestCopyObject(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "dst-bucket")
	objects := env.objects()

	req := newRequest(http.MethodPut, "/test-bucket/src.txt", strings.NewReader("copy me"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("x-amz-meta-origin", "source")
	rec := httptest.NewRecorder()
	objects.PutObject(rec, req)
	srcETag := rec.Header().Get("ETag")

	req = newRequest(http.MethodPut, "/dst-bucket/copied.txt", nil)
	req.Header.Set("X-Amz-Copy-Source", "/test-bucket/src.txt")
	rec = httptest.NewRecorder()
	objects.CopyObject(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("CopyObject status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), srcETag) {
		t.Errorf("CopyObjectResult = %s, want source etag %s", rec.Body.String(), srcETag)
	}

	// Destination carries the source's bytes, type, and metadata.
	rec = httptest.NewRecorder()
	objects.GetObject(rec, newRequest(http.MethodGet, "/dst-bucket/copied.txt", nil))
	if rec.Body.String() != "copy me" {
		t.Errorf("copied body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("copied Content-Type = %s", ct)
	}
	if meta := rec.Header().Get("x-amz-meta-origin"); meta != "source" {
		t.Errorf("copied metadata = %q", meta)
	}
}

func TestCopyObjectMissingSource(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	req := newRequest(http.MethodPut, "/test-bucket/dst", nil)
	req.Header.Set("X-Amz-Copy-Source", "/test-bucket/nope")
	rec := httptest.NewRecorder()
	objects.CopyObject(rec, req)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "NoSuchKey") {
		t.Errorf("missing source = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestPutObjectEntityTooLarge(t *testing.T) {
	env := newTestEnv(t)
	objects := env.objects()

	// A bucket with a 4-byte cap.
	if err := env.meta.CreateBucket(context.Background(), &metadata.BucketRecord{
		Name:      "capped",
		OwnerID:   testOwner,
		Region:    "us-east-1",
		ACL:       "private",
		MaxSize:   4,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}

	req := newRequest(http.MethodPut, "/capped/too-big", strings.NewReader("way too many bytes"))
	rec := httptest.NewRecorder()
	objects.PutObject(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "EntityTooLarge") {
		t.Errorf("capped PUT = %d, %s", rec.Code, rec.Body.String())
	}

	// Under the cap passes.
	req = newRequest(http.MethodPut, "/capped/ok", strings.NewReader("tiny"))
	rec = httptest.NewRecorder()
	objects.PutObject(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("under-cap PUT = %d", rec.Code)
	}
}
