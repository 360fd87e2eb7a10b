package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strongroom/strongroom/internal/auth"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/storage"
)

const testOwner = "AKTESTKEY00000000001"

// testEnv bundles real SQLite metadata and local filesystem storage for
// handler tests.
type testEnv struct {
	meta  *metadata.SQLiteStore
	store *storage.LocalStore
}

// newTestEnv creates the stores, one credential, and the "test-bucket"
// bucket.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	meta, err := metadata.NewSQLiteStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	now := time.Now().UTC()
	if err := meta.PutAccessKey(context.Background(), &metadata.AccessKeyRecord{
		AccessKeyID: testOwner,
		SecretKey:   "secret-secret-secret-secret-secret",
		DisplayName: "test",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("PutAccessKey failed: %v", err)
	}

	env := &testEnv{meta: meta, store: store}
	env.createBucket(t, "test-bucket")
	return env
}

func (e *testEnv) createBucket(t *testing.T, name string) {
	t.Helper()
	if err := e.meta.CreateBucket(context.Background(), &metadata.BucketRecord{
		Name:      name,
		OwnerID:   testOwner,
		Region:    "us-east-1",
		ACL:       "private",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if err := e.store.CreateBucket(context.Background(), name); err != nil {
		t.Fatalf("CreateBucket storage failed: %v", err)
	}
}

// newRequest builds a request carrying the test principal.
func newRequest(method, target string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{AccessKeyID: testOwner})
	return r.WithContext(ctx)
}

func (e *testEnv) objects() *ObjectHandler       { return NewObjectHandler(e.meta, e.store) }
func (e *testEnv) buckets() *BucketHandler       { return NewBucketHandler(e.meta, e.store, "us-east-1") }
func (e *testEnv) multipart() *MultipartHandler  { return NewMultipartHandler(e.meta, e.store) }
