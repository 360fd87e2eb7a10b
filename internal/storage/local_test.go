package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestStore creates a LocalStore rooted at a temp dir.
func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	body := []byte("Hello World!")
	size, etag, path, err := store.PutObject(ctx, "bkt", "hello.txt", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
	if etag != `"ed076287532e86365e841e92bfc50d8c"` {
		t.Errorf("etag = %s, want quoted md5 of body", etag)
	}
	if !strings.HasPrefix(path, store.RootDir) {
		t.Errorf("storage path %q not under root %q", path, store.RootDir)
	}

	reader, n, err := store.GetObject(ctx, "bkt", "hello.txt", nil)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer reader.Close()
	if n != int64(len(body)) {
		t.Errorf("GetObject size = %d, want %d", n, len(body))
	}
	got, _ := io.ReadAll(reader)
	if !bytes.Equal(got, body) {
		t.Errorf("GetObject body = %q, want %q", got, body)
	}
}

func TestGetObjectRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutObject(ctx, "bkt", "r.txt", strings.NewReader("Hello World!")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	reader, n, err := store.GetObject(ctx, "bkt", "r.txt", &ByteRange{Start: 5, End: 7})
	if err != nil {
		t.Fatalf("GetObject range failed: %v", err)
	}
	defer reader.Close()

	if n != 3 {
		t.Errorf("range length = %d, want 3", n)
	}
	got, _ := io.ReadAll(reader)
	if string(got) != " Wo" {
		t.Errorf("range body = %q, want \" Wo\"", got)
	}
}

func TestNestedKeyCreatesDirectories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutObject(ctx, "bkt", "a/b/c.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.RootDir, "bkt", "a", "b", "c.txt")); err != nil {
		t.Errorf("expected nested file on disk: %v", err)
	}
}

func TestFolderMarker(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	size, etag, _, err := store.PutObject(ctx, "bkt", "dir/", strings.NewReader(""))
	if err != nil {
		t.Fatalf("PutObject folder marker failed: %v", err)
	}
	if size != 0 {
		t.Errorf("folder marker size = %d, want 0", size)
	}
	if etag != emptyMD5 {
		t.Errorf("folder marker etag = %s, want %s", etag, emptyMD5)
	}

	info, err := os.Stat(filepath.Join(store.RootDir, "bkt", "dir"))
	if err != nil {
		t.Fatalf("stat folder marker: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("folder marker is not a directory")
	}
}

func TestFileToDirectoryReshape(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A prior client wrote a zero-byte file where a directory belongs.
	if _, _, _, err := store.PutObject(ctx, "bkt", "seg", strings.NewReader("")); err != nil {
		t.Fatalf("PutObject file failed: %v", err)
	}

	// A later write needs "seg" to be a directory.
	if _, _, _, err := store.PutObject(ctx, "bkt", "seg/inner.txt", strings.NewReader("data")); err != nil {
		t.Fatalf("PutObject after reshape failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(store.RootDir, "bkt", "seg"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at reshaped segment, err=%v", err)
	}

	reader, _, err := store.GetObject(ctx, "bkt", "seg/inner.txt", nil)
	if err != nil {
		t.Fatalf("GetObject after reshape failed: %v", err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "data" {
		t.Errorf("body = %q, want data", got)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutObject(ctx, "bkt", "../../etc/passwd", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
	if _, _, err := store.GetObject(ctx, "bkt", "../outside", nil); err == nil {
		t.Fatalf("expected traversal read to be rejected")
	}
}

func TestDeleteObjectIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutObject(ctx, "bkt", "a/b.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := store.DeleteObject(ctx, "bkt", "a/b.txt"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	// Second delete of a missing object is not an error.
	if err := store.DeleteObject(ctx, "bkt", "a/b.txt"); err != nil {
		t.Fatalf("second DeleteObject failed: %v", err)
	}
	// Empty parent directory was cleaned.
	if _, err := os.Stat(filepath.Join(store.RootDir, "bkt", "a")); !os.IsNotExist(err) {
		t.Errorf("expected empty parent directory removed, err=%v", err)
	}
}

func TestMultipartStagingAndAssembly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uploadID := "upload-1"

	// Upload parts out of order.
	if _, _, _, err := store.PutPart(ctx, uploadID, 2, strings.NewReader("BBBB")); err != nil {
		t.Fatalf("PutPart 2 failed: %v", err)
	}
	if _, etag, path, err := store.PutPart(ctx, uploadID, 1, strings.NewReader("AAAA")); err != nil {
		t.Fatalf("PutPart 1 failed: %v", err)
	} else {
		if etag != `"e2fc714c4727ee9395f324cd2e7f331f"` {
			t.Errorf("part 1 etag = %s", etag)
		}
		want := filepath.Join(store.RootDir, ".multipart", uploadID, "part-1")
		if path != want {
			t.Errorf("part path = %q, want %q", path, want)
		}
	}

	size, objPath, err := store.AssembleParts(ctx, "bkt", "big/file.bin", uploadID, []int{1, 2})
	if err != nil {
		t.Fatalf("AssembleParts failed: %v", err)
	}
	if size != 8 {
		t.Errorf("assembled size = %d, want 8", size)
	}

	got, err := os.ReadFile(objPath)
	if err != nil {
		t.Fatalf("reading assembled object: %v", err)
	}
	if string(got) != "AAAABBBB" {
		t.Errorf("assembled body = %q, want AAAABBBB", got)
	}

	// Staging directory was purged.
	if _, err := os.Stat(filepath.Join(store.RootDir, ".multipart", uploadID)); !os.IsNotExist(err) {
		t.Errorf("expected staging directory purged, err=%v", err)
	}
}

func TestPartOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutPart(ctx, "u", 1, strings.NewReader("old")); err != nil {
		t.Fatalf("PutPart failed: %v", err)
	}
	if _, _, _, err := store.PutPart(ctx, "u", 1, strings.NewReader("newer")); err != nil {
		t.Fatalf("PutPart overwrite failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(store.RootDir, ".multipart", "u", "part-1"))
	if err != nil {
		t.Fatalf("reading part: %v", err)
	}
	if string(got) != "newer" {
		t.Errorf("part body = %q, want newer", got)
	}
}

func TestDeleteParts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutPart(ctx, "u2", 1, strings.NewReader("x")); err != nil {
		t.Fatalf("PutPart failed: %v", err)
	}
	if err := store.DeleteParts(ctx, "u2"); err != nil {
		t.Fatalf("DeleteParts failed: %v", err)
	}
	if err := store.DeleteParts(ctx, "u2"); err != nil {
		t.Fatalf("second DeleteParts failed: %v", err)
	}
}

func TestTotalSizeExcludesStaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, _, err := store.PutObject(ctx, "bkt", "a.txt", strings.NewReader("12345")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if _, _, _, err := store.PutObject(ctx, "bkt", "sub/b.txt", strings.NewReader("1234567")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if _, _, _, err := store.PutPart(ctx, "u3", 1, strings.NewReader("staged-bytes")); err != nil {
		t.Fatalf("PutPart failed: %v", err)
	}

	total, err := store.TotalSize(ctx)
	if err != nil {
		t.Fatalf("TotalSize failed: %v", err)
	}
	if total != 12 {
		t.Errorf("total = %d, want 12 (staging excluded)", total)
	}
}

func TestDeleteBucketRecursive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateBucket(ctx, "bkt"); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if _, _, _, err := store.PutObject(ctx, "bkt", "deep/nested/file", strings.NewReader("x")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := store.DeleteBucket(ctx, "bkt"); err != nil {
		t.Fatalf("DeleteBucket failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.RootDir, "bkt")); !os.IsNotExist(err) {
		t.Errorf("expected bucket directory removed, err=%v", err)
	}
}
