package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	s3err "github.com/strongroom/strongroom/internal/errors"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/storage"
	"github.com/strongroom/strongroom/internal/xmlutil"
)

// ObjectHandler contains handlers for S3 object-level operations.
type ObjectHandler struct {
	meta  metadata.MetadataStore
	store storage.Store
}

// NewObjectHandler creates a new ObjectHandler with the given dependencies.
func NewObjectHandler(meta metadata.MetadataStore, store storage.Store) *ObjectHandler {
	return &ObjectHandler{
		meta:  meta,
		store: store,
	}
}

// PutObject handles PUT /{bucket}/{key...}: writes the body via the storage
// layer, then upserts the object row. The filesystem write completes before
// the metadata upsert so a reader sees either the old or the new version.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	if key == "" || len(key) > maxKeyLength {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("PutObject GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	if bucket.MaxSize > 0 && r.ContentLength > bucket.MaxSize {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrEntityTooLarge)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	userMeta := extractUserMetadata(r)

	size, etag, storagePath, err := h.store.PutObject(ctx, bucketName, key, r.Body)
	if err != nil {
		slog.Error("PutObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	now := time.Now().UTC()
	objRecord := &metadata.ObjectRecord{
		Bucket:       bucketName,
		Key:          key,
		Size:         size,
		ETag:         etag,
		ContentType:  contentType,
		StoragePath:  storagePath,
		UserMetadata: userMeta,
		LastModified: now,
		CreatedAt:    now,
	}

	if err := h.meta.PutObject(ctx, objRecord); err != nil {
		slog.Error("PutObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{key...}, including Range requests.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r, true)
}

// HeadObject handles HEAD /{bucket}/{key...}: identical to GetObject with an
// empty body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r, false)
}

// serveObject implements GetObject and HeadObject.
func (h *ObjectHandler) serveObject(w http.ResponseWriter, r *http.Request, withBody bool) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("GetObject GetBucket error", "error", err)
		h.objectError(w, r, s3err.ErrInternalError, withBody)
		return
	}
	if bucket == nil {
		h.objectError(w, r, s3err.ErrNoSuchBucket, withBody)
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObject metadata error", "error", err)
		h.objectError(w, r, s3err.ErrInternalError, withBody)
		return
	}
	if objMeta == nil {
		h.objectError(w, r, s3err.ErrNoSuchKey, withBody)
		return
	}

	lastModified := xmlutil.FormatTimeHTTP(objMeta.LastModified)

	var rng *storage.ByteRange
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, rangeErr := parseRange(rangeHeader, objMeta.Size)
		if rangeErr != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", objMeta.Size))
			h.objectError(w, r, s3err.ErrInvalidRange, withBody)
			return
		}
		rng = &storage.ByteRange{Start: start, End: end}
	}

	if !withBody {
		setObjectResponseHeaders(w, objMeta.ContentType, objMeta.ETag, objMeta.Size, lastModified, objMeta.UserMetadata)
		w.WriteHeader(http.StatusOK)
		return
	}

	reader, length, err := h.store.GetObject(ctx, bucketName, key, rng)
	if err != nil {
		slog.Error("GetObject storage error", "error", err)
		h.objectError(w, r, s3err.ErrInternalError, withBody)
		return
	}
	defer reader.Close()

	if rng != nil {
		setObjectResponseHeaders(w, objMeta.ContentType, objMeta.ETag, length, lastModified, objMeta.UserMetadata)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, objMeta.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		setObjectResponseHeaders(w, objMeta.ContentType, objMeta.ETag, objMeta.Size, lastModified, objMeta.UserMetadata)
		w.WriteHeader(http.StatusOK)
	}

	io.Copy(w, reader)
}

// objectError writes an error response; HEAD responses carry no XML body.
func (h *ObjectHandler) objectError(w http.ResponseWriter, r *http.Request, s3Err *s3err.S3Error, withBody bool) {
	if withBody {
		xmlutil.WriteErrorResponse(w, r, s3Err)
		return
	}
	w.WriteHeader(s3Err.HTTPStatus)
}

// DeleteObject handles DELETE /{bucket}/{key...}. Idempotent: responds 204
// whether or not the object existed.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("DeleteObject GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	if err := h.deleteOne(r, bucketName, key); err != nil {
		slog.Error("DeleteObject error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteOne removes an object's bytes and row. Missing objects are not an error.
func (h *ObjectHandler) deleteOne(r *http.Request, bucketName, key string) error {
	ctx := r.Context()

	if err := h.store.DeleteObject(ctx, bucketName, key); err != nil {
		return err
	}
	return h.meta.DeleteObject(ctx, bucketName, key)
}

// DeleteObjects handles POST /{bucket}?delete: a batch delete whose XML body
// lists the keys. Successes accumulate into Deleted, failures into Error
// entries.
func (h *ObjectHandler) DeleteObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("DeleteObjects GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	deleteReq, err := xmlutil.ParseDeleteRequest(r.Body)
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	result := &xmlutil.DeleteResult{}

	for _, obj := range deleteReq.Objects {
		if err := h.deleteOne(r, bucketName, obj.Key); err != nil {
			slog.Error("DeleteObjects error", "key", obj.Key, "error", err)
			result.Errors = append(result.Errors, xmlutil.DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: err.Error(),
			})
			continue
		}

		if !deleteReq.Quiet {
			result.Deleted = append(result.Deleted, xmlutil.DeletedItem{Key: obj.Key})
		}
	}

	xmlutil.Render(w, result)
}

// CopyObject handles PUT /{bucket}/{key...} with an X-Amz-Copy-Source
// header: copies the bytes and upserts the destination row with the source's
// size, ETag, content type, and metadata.
func (h *ObjectHandler) CopyObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dstBucket := extractBucketName(r)
	dstKey := extractObjectKey(r)

	if dstKey == "" || len(dstKey) > maxKeyLength {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	srcBucket, srcKey, ok := parseCopySource(r.Header.Get("X-Amz-Copy-Source"))
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	dstBucketRec, err := h.meta.GetBucket(ctx, dstBucket)
	if err != nil {
		slog.Error("CopyObject GetBucket (dst) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if dstBucketRec == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	srcBucketRec, err := h.meta.GetBucket(ctx, srcBucket)
	if err != nil {
		slog.Error("CopyObject GetBucket (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcBucketRec == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	srcObj, err := h.meta.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		slog.Error("CopyObject GetObject (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcObj == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	_, storagePath, err := h.store.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
	if err != nil {
		slog.Error("CopyObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	now := time.Now().UTC()
	dstObj := &metadata.ObjectRecord{
		Bucket:       dstBucket,
		Key:          dstKey,
		Size:         srcObj.Size,
		ETag:         srcObj.ETag,
		ContentType:  srcObj.ContentType,
		StoragePath:  storagePath,
		UserMetadata: srcObj.UserMetadata,
		LastModified: now,
		CreatedAt:    now,
	}

	if err := h.meta.PutObject(ctx, dstObj); err != nil {
		slog.Error("CopyObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	xmlutil.Render(w, &xmlutil.CopyObjectResult{
		LastModified: xmlutil.FormatTimeS3(now),
		ETag:         srcObj.ETag,
	})
}

// GetObjectAcl handles GET /{bucket}/{key...}?acl, granting FULL_CONTROL to
// the bucket owner.
func (h *ObjectHandler) GetObjectAcl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("GetObjectAcl GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObjectAcl GetObject error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	xmlutil.Render(w, ownerACL(bucket.OwnerID))
}

// contentLengthOf reports the declared body length, for size-limit checks.
func contentLengthOf(r *http.Request) int64 {
	if r.ContentLength >= 0 {
		return r.ContentLength
	}
	if v := r.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}
