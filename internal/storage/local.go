package storage

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/strongroom/strongroom/internal/uid"
)

// multipartDir is the staging directory name under the storage root.
const multipartDir = ".multipart"

// tmpDir holds in-flight writes before their atomic rename.
const tmpDir = ".tmp"

// emptyMD5 is the quoted MD5 of the empty byte string, used for folder markers.
const emptyMD5 = `"d41d8cd98f00b204e9800998ecf8427e"`

// LocalStore implements Store using the local filesystem. Objects are stored
// as files within a configurable root directory, organized by bucket and key
// path, with "/" in keys preserved as directory separators.
type LocalStore struct {
	// RootDir is the absolute base directory under which all bucket and
	// object data is stored.
	RootDir string
}

// NewLocalStore creates a LocalStore rooted at the given directory. It
// creates the root and the temp directory if they do not exist.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root %q: %w", rootDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", abs, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &LocalStore{RootDir: abs}, nil
}

// CleanTempFiles removes all files in the temp directory. Called on startup;
// any temp files left behind indicate incomplete writes from a previous crash.
func (b *LocalStore) CleanTempFiles() error {
	entries, err := os.ReadDir(filepath.Join(b.RootDir, tmpDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(b.RootDir, tmpDir, entry.Name()))
		}
	}
	return nil
}

// objectPath joins bucket and key under the root and verifies the result
// still resolves inside the root. Keys with ".."-segments that escape are
// refused.
func (b *LocalStore) objectPath(bucket, key string) (string, error) {
	p := filepath.Join(b.RootDir, bucket, filepath.FromSlash(key))
	p = filepath.Clean(p)
	if p != b.RootDir && !strings.HasPrefix(p, b.RootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %s/%s", bucket, key)
	}
	return p, nil
}

// tempPath returns a unique temporary file path in the temp directory.
func (b *LocalStore) tempPath() string {
	return filepath.Join(b.RootDir, tmpDir, "tmp-"+uid.New())
}

// ensureDir creates dir and all its parents. When an ancestor segment exists
// as a regular file (a folder marker written as a file by an earlier client),
// the file is removed and a directory takes its place.
func (b *LocalStore) ensureDir(dir string) error {
	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		return nil
	}

	// Walk from the root down, clearing any file blocking a path segment.
	rel, relErr := filepath.Rel(b.RootDir, dir)
	if relErr != nil {
		return err
	}
	p := b.RootDir
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		p = filepath.Join(p, seg)
		info, statErr := os.Stat(p)
		if statErr != nil {
			break
		}
		if !info.IsDir() {
			if rmErr := os.Remove(p); rmErr != nil {
				return fmt.Errorf("clearing file at %q for directory: %w", p, rmErr)
			}
			break
		}
	}
	return os.MkdirAll(dir, 0o755)
}

// PutObject writes object data using the atomic write pattern: write to temp
// file, fsync, rename. Keys ending in "/" are treated as folder markers.
func (b *LocalStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader) (int64, string, string, error) {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return 0, "", "", err
	}

	// Folder marker: create the directory, record no file body.
	if strings.HasSuffix(key, "/") {
		if err := b.ensureDir(objPath); err != nil {
			return 0, "", "", fmt.Errorf("creating folder marker %q/%q: %w", bucket, key, err)
		}
		// Drain the body so keep-alive connections stay usable.
		io.Copy(io.Discard, reader)
		return 0, emptyMD5, objPath, nil
	}

	if err := b.ensureDir(filepath.Dir(objPath)); err != nil {
		return 0, "", "", fmt.Errorf("creating parent directories for %q/%q: %w", bucket, key, err)
	}

	size, etag, err := b.writeAtomic(objPath, reader)
	if err != nil {
		return 0, "", "", err
	}
	return size, etag, objPath, nil
}

// writeAtomic writes reader to dst via a temp file, computing the MD5 along
// the way. Returns the byte count and quoted hex ETag.
func (b *LocalStore) writeAtomic(dst string, reader io.Reader) (int64, string, error) {
	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}

	h := md5.New()
	tee := io.TeeReader(reader, h)

	bytesWritten, err := io.Copy(tmpFile, tee)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("writing object data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("closing temp file: %w", err)
	}

	// A stale folder marker directory at the destination blocks the rename.
	if info, statErr := os.Stat(dst); statErr == nil && info.IsDir() {
		os.Remove(dst)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("renaming temp file to final path: %w", err)
	}

	return bytesWritten, fmt.Sprintf(`"%x"`, h.Sum(nil)), nil
}

// rangeReader caps delivery of an opened file at a range end and closes the
// underlying file.
type rangeReader struct {
	io.Reader
	f *os.File
}

func (r *rangeReader) Close() error { return r.f.Close() }

// GetObject opens the object file for reading, positioned at rng.Start when
// a range is supplied.
func (b *LocalStore) GetObject(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, int64, error) {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("object not found: %s/%s", bucket, key)
		}
		return nil, 0, fmt.Errorf("opening object file %q/%q: %w", bucket, key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat object file %q/%q: %w", bucket, key, err)
	}

	if rng == nil {
		return file, info.Size(), nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("seeking to range start: %w", err)
	}
	length := rng.End - rng.Start + 1
	return &rangeReader{Reader: io.LimitReader(file, length), f: file}, length, nil
}

// DeleteObject removes the object file. Idempotent: deleting a non-existent
// file is not an error. Empty parent directories are cleaned up to the
// bucket root.
func (b *LocalStore) DeleteObject(ctx context.Context, bucket, key string) error {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		// Folder markers are directories; a marker with children under it
		// stays until the children are deleted.
		if info, statErr := os.Stat(objPath); statErr == nil && info.IsDir() {
			os.Remove(objPath)
		} else {
			return fmt.Errorf("removing object file %q/%q: %w", bucket, key, err)
		}
	}

	cleanEmptyParents(filepath.Dir(objPath), filepath.Join(b.RootDir, bucket))
	return nil
}

// CopyObject copies an object file from source to destination using the
// atomic write pattern.
func (b *LocalStore) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, string, error) {
	srcPath, err := b.objectPath(srcBucket, srcKey)
	if err != nil {
		return "", "", err
	}

	srcFile, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("source object not found: %s/%s", srcBucket, srcKey)
		}
		return "", "", fmt.Errorf("opening source object: %w", err)
	}
	defer srcFile.Close()

	dstPath, err := b.objectPath(dstBucket, dstKey)
	if err != nil {
		return "", "", err
	}
	if err := b.ensureDir(filepath.Dir(dstPath)); err != nil {
		return "", "", fmt.Errorf("creating parent directories: %w", err)
	}

	_, etag, err := b.writeAtomic(dstPath, srcFile)
	if err != nil {
		return "", "", fmt.Errorf("copying object data: %w", err)
	}
	return etag, dstPath, nil
}

// partPath returns the staging path for a part.
func (b *LocalStore) partPath(uploadID string, partNumber int) string {
	return filepath.Join(b.RootDir, multipartDir, uploadID, fmt.Sprintf("part-%d", partNumber))
}

// PutPart stages a single multipart part at .multipart/<uploadId>/part-<N>.
func (b *LocalStore) PutPart(ctx context.Context, uploadID string, partNumber int, reader io.Reader) (int64, string, string, error) {
	partDir := filepath.Join(b.RootDir, multipartDir, uploadID)
	if err := os.MkdirAll(partDir, 0o755); err != nil {
		return 0, "", "", fmt.Errorf("creating part directory: %w", err)
	}

	partPath := b.partPath(uploadID, partNumber)
	size, etag, err := b.writeAtomic(partPath, reader)
	if err != nil {
		return 0, "", "", fmt.Errorf("writing part %d: %w", partNumber, err)
	}
	return size, etag, partPath, nil
}

// AssembleParts concatenates the staged parts in strict ascending order into
// the destination object path, then purges the staging directory.
func (b *LocalStore) AssembleParts(ctx context.Context, bucket, key, uploadID string, partNumbers []int) (int64, string, error) {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return 0, "", err
	}
	if err := b.ensureDir(filepath.Dir(objPath)); err != nil {
		return 0, "", fmt.Errorf("creating parent directories: %w", err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file for assembly: %w", err)
	}

	var total int64
	for _, pn := range partNumbers {
		partFile, err := os.Open(b.partPath(uploadID, pn))
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, "", fmt.Errorf("opening part %d: %w", pn, err)
		}

		n, err := io.Copy(tmpFile, partFile)
		partFile.Close()
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return 0, "", fmt.Errorf("copying part %d: %w", pn, err)
		}
		total += n
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("syncing assembled file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("closing assembled temp file: %w", err)
	}

	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("renaming assembled file: %w", err)
	}

	os.RemoveAll(filepath.Join(b.RootDir, multipartDir, uploadID))

	return total, objPath, nil
}

// DeleteParts removes the staging directory for the upload. Idempotent.
func (b *LocalStore) DeleteParts(ctx context.Context, uploadID string) error {
	partDir := filepath.Join(b.RootDir, multipartDir, uploadID)
	if err := os.RemoveAll(partDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing part directory %q: %w", partDir, err)
	}
	// Best-effort: remove the staging root when empty.
	os.Remove(filepath.Join(b.RootDir, multipartDir))
	return nil
}

// CreateBucket creates a directory for the bucket under the root directory.
func (b *LocalStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(b.RootDir, bucket), 0o755); err != nil {
		return fmt.Errorf("creating bucket directory %q: %w", bucket, err)
	}
	return nil
}

// DeleteBucket removes the bucket directory and everything under it.
func (b *LocalStore) DeleteBucket(ctx context.Context, bucket string) error {
	if err := os.RemoveAll(filepath.Join(b.RootDir, bucket)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing bucket directory %q: %w", bucket, err)
	}
	return nil
}

// TotalSize walks the storage root and returns the cumulative byte size,
// excluding multipart staging and temp files.
func (b *LocalStore) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(b.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != b.RootDir && (name == multipartDir || name == tmpDir) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking storage root: %w", err)
	}
	return total, nil
}

// cleanEmptyParents removes empty directories starting from dir up to (but
// not including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}
