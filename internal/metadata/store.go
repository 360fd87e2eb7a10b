// Package metadata defines the interface and implementations for Strongroom's
// metadata storage layer, which tracks access keys, buckets, objects, and
// multipart uploads in a relational database.
package metadata

import (
	"context"
	"io"
	"time"
)

// AccessKeyRecord represents a set of S3 API credentials.
type AccessKeyRecord struct {
	AccessKeyID string
	SecretKey   string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BucketRecord represents the metadata for a single bucket.
type BucketRecord struct {
	Name    string
	OwnerID string // access key ID of the owning credential
	Region  string
	// ACL is "private" or "public-read". Public-read buckets permit
	// anonymous GET/HEAD on their objects.
	ACL string
	// MaxSize is the maximum object size in bytes. 0 means unlimited.
	MaxSize   int64
	CreatedAt time.Time
}

// ObjectRecord represents the metadata for a single stored object.
type ObjectRecord struct {
	Bucket      string
	Key         string
	Size        int64
	ETag        string
	ContentType string
	// StoragePath records where the bytes were written. It is advisory:
	// readers derive the filesystem path from (bucket, key).
	StoragePath  string
	UserMetadata map[string]string
	LastModified time.Time
	CreatedAt    time.Time
}

// MultipartUploadRecord represents an in-progress multipart upload.
type MultipartUploadRecord struct {
	UploadID     string
	Bucket       string
	Key          string
	ContentType  string
	UserMetadata map[string]string
	InitiatedAt  time.Time
}

// PartRecord represents the metadata for a single uploaded part.
type PartRecord struct {
	UploadID    string
	PartNumber  int
	Size        int64
	ETag        string
	StoragePath string
	CreatedAt   time.Time
}

// ListObjectsOptions specifies filtering and pagination options for listing objects.
type ListObjectsOptions struct {
	Prefix string
	// StartAfter is the exclusive lower bound on keys (continuation token
	// or V1 marker).
	StartAfter string
	MaxKeys    int
}

// ListObjectsResult holds one page of a key-ordered object scan. Delimiter
// grouping is applied by the caller.
type ListObjectsResult struct {
	Objects               []ObjectRecord
	IsTruncated           bool
	NextContinuationToken string
}

// StoreStats summarizes the contents of the metadata store.
type StoreStats struct {
	Buckets   int64
	Objects   int64
	TotalSize int64
}

// MetadataStore defines the interface for all metadata operations required by
// Strongroom. Implementations must be safe for concurrent use.
type MetadataStore interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Bucket operations

	// CreateBucket creates a new bucket record. Fails with an "already
	// exists" error on name collision.
	CreateBucket(ctx context.Context, bucket *BucketRecord) error

	// GetBucket retrieves the metadata for the named bucket. Returns
	// (nil, nil) when the bucket does not exist.
	GetBucket(ctx context.Context, name string) (*BucketRecord, error)

	// DeleteBucket removes the named bucket row. The caller is responsible
	// for the emptiness precondition.
	DeleteBucket(ctx context.Context, name string) error

	// ListBuckets returns all bucket records in the store, ordered by name.
	ListBuckets(ctx context.Context) ([]BucketRecord, error)

	// CountObjects returns the number of objects in the named bucket.
	CountObjects(ctx context.Context, bucket string) (int64, error)

	// Object operations

	// PutObject creates or replaces the metadata for an object, keyed by
	// (bucket, key).
	PutObject(ctx context.Context, obj *ObjectRecord) error

	// GetObject retrieves the metadata for the specified object. Returns
	// (nil, nil) when the object does not exist.
	GetObject(ctx context.Context, bucket, key string) (*ObjectRecord, error)

	// DeleteObject removes the metadata for the specified object. Deleting
	// a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ListObjects returns one key-ordered page of objects matching the options.
	ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) (*ListObjectsResult, error)

	// Multipart upload operations

	// CreateMultipartUpload persists a new multipart upload record. The
	// caller supplies the upload ID.
	CreateMultipartUpload(ctx context.Context, upload *MultipartUploadRecord) error

	// GetMultipartUpload retrieves an upload by its ID. Returns (nil, nil)
	// when the upload does not exist.
	GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUploadRecord, error)

	// PutPart records metadata for an uploaded part, keyed by
	// (uploadID, partNumber). Re-uploading a part number overwrites.
	PutPart(ctx context.Context, part *PartRecord) error

	// ListParts returns all parts for the upload, ordered by part number.
	ListParts(ctx context.Context, uploadID string) ([]PartRecord, error)

	// CompleteMultipartUpload finalizes a multipart upload in one
	// transaction: upserts the final object record and deletes the upload
	// and its parts.
	CompleteMultipartUpload(ctx context.Context, uploadID string, obj *ObjectRecord) error

	// AbortMultipartUpload deletes the upload record and all its part
	// records in one transaction.
	AbortMultipartUpload(ctx context.Context, uploadID string) error

	// Access key operations

	// GetAccessKey retrieves a credential record by access key ID. Returns
	// (nil, nil) when the key does not exist.
	GetAccessKey(ctx context.Context, accessKeyID string) (*AccessKeyRecord, error)

	// PutAccessKey creates or updates a credential record.
	PutAccessKey(ctx context.Context, key *AccessKeyRecord) error

	// SetAccessKeyActive enables or disables a credential.
	SetAccessKeyActive(ctx context.Context, accessKeyID string, active bool) error

	// DeleteAccessKey removes a credential. Buckets owned by the key are
	// reassigned to another key; the delete fails when the key owns buckets
	// and no other key exists.
	DeleteAccessKey(ctx context.Context, accessKeyID string) error

	// ListAccessKeys returns all credential records, ordered by creation time.
	ListAccessKeys(ctx context.Context) ([]AccessKeyRecord, error)

	// Stats returns bucket count, object count, and total stored bytes.
	Stats(ctx context.Context) (*StoreStats, error)
}
