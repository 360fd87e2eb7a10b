package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	s3err "github.com/strongroom/strongroom/internal/errors"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/storage"
	"github.com/strongroom/strongroom/internal/xmlutil"
)

// BucketHandler contains handlers for S3 bucket-level operations.
type BucketHandler struct {
	meta   metadata.MetadataStore
	store  storage.Store
	region string
}

// NewBucketHandler creates a new BucketHandler with the given dependencies.
func NewBucketHandler(meta metadata.MetadataStore, store storage.Store, region string) *BucketHandler {
	return &BucketHandler{
		meta:   meta,
		store:  store,
		region: region,
	}
}

// ListBuckets handles GET / and returns all buckets in the store. The Owner
// block carries the caller's access key ID.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	buckets, err := h.meta.ListBuckets(ctx)
	if err != nil {
		slog.Error("ListBuckets error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	caller := callerAccessKeyID(r)

	var xmlBuckets []xmlutil.Bucket
	for _, b := range buckets {
		xmlBuckets = append(xmlBuckets, xmlutil.Bucket{
			Name:         b.Name,
			CreationDate: xmlutil.FormatTimeS3(b.CreatedAt),
		})
	}

	result := &xmlutil.ListAllMyBucketsResult{
		Owner: xmlutil.Owner{
			ID:          caller,
			DisplayName: caller,
		},
		Buckets: xmlBuckets,
	}

	xmlutil.Render(w, result)
}

// CreateBucket handles PUT /{bucket}: validates the name, rejects
// duplicates, inserts the bucket row with the caller as owner and the
// configured default region, and creates the filesystem directory.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)

	if !validBucketName(bucketName) {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidBucketName)
		return
	}

	existing, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("CreateBucket GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if existing != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketAlreadyExists)
		return
	}

	record := &metadata.BucketRecord{
		Name:      bucketName,
		OwnerID:   callerAccessKeyID(r),
		Region:    h.region,
		ACL:       "private",
		CreatedAt: time.Now().UTC(),
	}

	if err := h.meta.CreateBucket(ctx, record); err != nil {
		// Race: the bucket was created between our check and the insert.
		if strings.Contains(err.Error(), "already exists") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketAlreadyExists)
			return
		}
		slog.Error("CreateBucket metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := h.store.CreateBucket(ctx, bucketName); err != nil {
		// The directory will be created on first object write.
		slog.Error("CreateBucket storage error", "error", err)
	}

	w.Header().Set("Location", "/"+bucketName)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket}. The bucket must contain no objects.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("DeleteBucket GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	count, err := h.meta.CountObjects(ctx, bucketName)
	if err != nil {
		slog.Error("DeleteBucket CountObjects error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if count > 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketNotEmpty)
		return
	}

	if err := h.meta.DeleteBucket(ctx, bucketName); err != nil {
		if strings.Contains(err.Error(), "not found") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		slog.Error("DeleteBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := h.store.DeleteBucket(ctx, bucketName); err != nil {
		slog.Error("DeleteBucket storage cleanup error", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{bucket}.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("HeadBucket error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if bucket == nil {
		// HEAD requests: no body, status code only.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("x-amz-bucket-region", bucket.Region)
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation handles GET /{bucket}?location.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	bucket := h.requireBucket(w, r)
	if bucket == nil {
		return
	}
	xmlutil.Render(w, xmlutil.LocationConstraint{Location: bucket.Region})
}

// GetBucketVersioning handles GET /{bucket}?versioning. Versioning is not
// supported; the configuration document is acknowledged but empty.
func (h *BucketHandler) GetBucketVersioning(w http.ResponseWriter, r *http.Request) {
	bucket := h.requireBucket(w, r)
	if bucket == nil {
		return
	}
	xmlutil.Render(w, xmlutil.VersioningConfiguration{})
}

// GetBucketAcl handles GET /{bucket}?acl, granting FULL_CONTROL to the
// bucket owner.
func (h *BucketHandler) GetBucketAcl(w http.ResponseWriter, r *http.Request) {
	bucket := h.requireBucket(w, r)
	if bucket == nil {
		return
	}
	xmlutil.Render(w, ownerACL(bucket.OwnerID))
}

// ListObjects handles GET /{bucket} for both listing shapes: V2 when
// list-type=2 is supplied, V1 (marker-based) otherwise.
func (h *BucketHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	q := r.URL.Query()

	bucket := h.requireBucket(w, r)
	if bucket == nil {
		return
	}

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	v2 := q.Get("list-type") == "2"

	maxKeys := 1000
	if mk := q.Get("max-keys"); mk != "" {
		if parsed, err := strconv.Atoi(mk); err == nil && parsed >= 0 && parsed <= 1000 {
			maxKeys = parsed
		}
	}

	startAfter := q.Get("marker")
	continuationToken := q.Get("continuation-token")
	if v2 && continuationToken != "" {
		startAfter = continuationToken
	}

	page, err := h.meta.ListObjects(ctx, bucketName, metadata.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: startAfter,
		MaxKeys:    maxKeys,
	})
	if err != nil {
		slog.Error("ListObjects error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	contents, commonPrefixes := groupByDelimiter(page.Objects, prefix, delimiter)

	if v2 {
		result := &xmlutil.ListBucketV2Result{
			Name:           bucketName,
			Prefix:         prefix,
			Delimiter:      delimiter,
			MaxKeys:        maxKeys,
			KeyCount:       len(contents) + len(commonPrefixes),
			IsTruncated:    page.IsTruncated,
			Contents:       contents,
			CommonPrefixes: commonPrefixes,
		}
		if continuationToken != "" {
			result.ContinuationToken = continuationToken
		}
		if page.IsTruncated {
			result.NextContinuationToken = page.NextContinuationToken
		}
		xmlutil.Render(w, result)
		return
	}

	result := &xmlutil.ListBucketResult{
		Name:           bucketName,
		Prefix:         prefix,
		Marker:         q.Get("marker"),
		Delimiter:      delimiter,
		MaxKeys:        maxKeys,
		IsTruncated:    page.IsTruncated,
		Contents:       contents,
		CommonPrefixes: commonPrefixes,
	}
	if page.IsTruncated {
		result.NextMarker = page.NextContinuationToken
	}
	xmlutil.Render(w, result)
}

// groupByDelimiter partitions one page of objects into Contents and
// deduplicated, sorted CommonPrefixes. For each key the prefix is stripped
// and the first delimiter occurrence in the remainder decides the grouping.
func groupByDelimiter(objects []metadata.ObjectRecord, prefix, delimiter string) ([]xmlutil.Object, []xmlutil.CommonPrefix) {
	var contents []xmlutil.Object

	if delimiter == "" {
		for _, obj := range objects {
			contents = append(contents, xmlutil.Object{
				Key:          obj.Key,
				LastModified: xmlutil.FormatTimeS3(obj.LastModified),
				ETag:         obj.ETag,
				Size:         obj.Size,
				StorageClass: "STANDARD",
			})
		}
		return contents, nil
	}

	prefixSet := make(map[string]bool)
	for _, obj := range objects {
		remainder := strings.TrimPrefix(obj.Key, prefix)
		if idx := strings.Index(remainder, delimiter); idx >= 0 {
			prefixSet[prefix+remainder[:idx+len(delimiter)]] = true
			continue
		}
		contents = append(contents, xmlutil.Object{
			Key:          obj.Key,
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}

	var sorted []string
	for p := range prefixSet {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var commonPrefixes []xmlutil.CommonPrefix
	for _, p := range sorted {
		commonPrefixes = append(commonPrefixes, xmlutil.CommonPrefix{Prefix: p})
	}
	return contents, commonPrefixes
}

// requireBucket resolves the bucket named in the path, writing NoSuchBucket
// or InternalError when it cannot. Returns nil after writing a response.
func (h *BucketHandler) requireBucket(w http.ResponseWriter, r *http.Request) *metadata.BucketRecord {
	bucket, err := h.meta.GetBucket(r.Context(), extractBucketName(r))
	if err != nil {
		slog.Error("GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return nil
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return nil
	}
	return bucket
}
