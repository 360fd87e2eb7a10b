// Package storage persists object bytes on the local filesystem, serves
// range reads, and stages and assembles multipart upload parts.
package storage

import (
	"context"
	"io"
)

// ByteRange is an inclusive byte range within an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Store defines the byte-storage operations required by the S3 handlers.
// Implementations must be safe for concurrent use across distinct paths.
type Store interface {
	// CreateBucket creates the directory for a bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// DeleteBucket removes the bucket directory and everything under it.
	DeleteBucket(ctx context.Context, bucket string) error

	// PutObject writes object data, creating parent directories as needed.
	// Keys ending in "/" are folder markers: an empty directory is created
	// and no file body is written. Returns the byte count, the quoted MD5
	// ETag, and the storage path.
	PutObject(ctx context.Context, bucket, key string, reader io.Reader) (int64, string, string, error)

	// GetObject opens the object for reading. When rng is non-nil the
	// reader is positioned at rng.Start and delivery is capped at rng.End
	// inclusive. Returns the reader and the number of bytes it will yield.
	GetObject(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, int64, error)

	// DeleteObject removes the object file. Idempotent.
	DeleteObject(ctx context.Context, bucket, key string) error

	// CopyObject copies object bytes between locations. Returns the quoted
	// MD5 ETag and the destination storage path.
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, string, error)

	// PutPart stages a single multipart part. Returns the byte count, the
	// quoted MD5 ETag, and the staging path.
	PutPart(ctx context.Context, uploadID string, partNumber int, reader io.Reader) (int64, string, string, error)

	// AssembleParts concatenates the staged parts in the given (strictly
	// ascending) order into the destination object path and purges the
	// staging directory. Returns the assembled size and the storage path.
	AssembleParts(ctx context.Context, bucket, key, uploadID string, partNumbers []int) (int64, string, error)

	// DeleteParts removes the staging directory for the upload. Idempotent.
	DeleteParts(ctx context.Context, uploadID string) error

	// TotalSize walks the storage root and returns the cumulative byte
	// size, excluding multipart staging.
	TotalSize(ctx context.Context) (int64, error)
}
