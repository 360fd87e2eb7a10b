package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	s3err "github.com/strongroom/strongroom/internal/errors"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/storage"
	"github.com/strongroom/strongroom/internal/xmlutil"
)

// MultipartHandler contains handlers for S3 multipart upload operations.
type MultipartHandler struct {
	meta  metadata.MetadataStore
	store storage.Store
}

// NewMultipartHandler creates a new MultipartHandler with the given dependencies.
func NewMultipartHandler(meta metadata.MetadataStore, store storage.Store) *MultipartHandler {
	return &MultipartHandler{
		meta:  meta,
		store: store,
	}
}

// CreateMultipartUpload handles POST /{bucket}/{key...}?uploads: generates a
// random upload ID and persists the upload record with the content type and
// x-amz-meta-* headers captured for the final object.
func (h *MultipartHandler) CreateMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	if key == "" || len(key) > maxKeyLength {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("CreateMultipartUpload GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	upload := &metadata.MultipartUploadRecord{
		UploadID:     uuid.NewString(),
		Bucket:       bucketName,
		Key:          key,
		ContentType:  contentType,
		UserMetadata: extractUserMetadata(r),
		InitiatedAt:  time.Now().UTC(),
	}

	if err := h.meta.CreateMultipartUpload(ctx, upload); err != nil {
		slog.Error("CreateMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	xmlutil.Render(w, &xmlutil.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      key,
		UploadID: upload.UploadID,
	})
}

// UploadPart handles PUT /{bucket}/{key...}?uploadId=X&partNumber=N: stages
// the part bytes and upserts the part row. Re-uploading a part number
// overwrites the previous part.
func (h *MultipartHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	uploadID := q.Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		slog.Error("UploadPart GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	bucket, err := h.meta.GetBucket(ctx, upload.Bucket)
	if err != nil {
		slog.Error("UploadPart GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket != nil && bucket.MaxSize > 0 && contentLengthOf(r) > bucket.MaxSize {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrEntityTooLarge)
		return
	}

	size, etag, storagePath, err := h.store.PutPart(ctx, uploadID, partNumber, r.Body)
	if err != nil {
		slog.Error("UploadPart storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	partRecord := &metadata.PartRecord{
		UploadID:    uploadID,
		PartNumber:  partNumber,
		Size:        size,
		ETag:        etag,
		StoragePath: storagePath,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.meta.PutPart(ctx, partRecord); err != nil {
		slog.Error("UploadPart metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

// ListParts handles GET /{bucket}/{key...}?uploadId=X, returning all parts
// sorted by part number.
func (h *MultipartHandler) ListParts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		slog.Error("ListParts GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	parts, err := h.meta.ListParts(ctx, uploadID)
	if err != nil {
		slog.Error("ListParts error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListPartsResult{
		Bucket:   bucketName,
		Key:      key,
		UploadID: uploadID,
	}
	for _, p := range parts {
		result.Parts = append(result.Parts, xmlutil.Part{
			PartNumber:   p.PartNumber,
			LastModified: xmlutil.FormatTimeS3(p.CreatedAt),
			ETag:         p.ETag,
			Size:         p.Size,
		})
	}

	xmlutil.Render(w, result)
}

// CompleteMultipartUpload handles POST /{bucket}/{key...}?uploadId=X:
// validates the declared part list (strictly ascending, every part staged),
// assembles the parts, computes the composite ETag from the declared
// sequence, upserts the final object, and destroys the upload state in one
// metadata transaction.
func (h *MultipartHandler) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucketName := extractBucketName(r)
	key := extractObjectKey(r)
	uploadID := r.URL.Query().Get("uploadId")

	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		slog.Error("CompleteMultipartUpload GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	declared, err := xmlutil.ParseCompleteMultipartUpload(r.Body)
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}
	if len(declared) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	// Part numbers must be strictly increasing.
	for i := 1; i < len(declared); i++ {
		if declared[i].PartNumber <= declared[i-1].PartNumber {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidPartOrder)
			return
		}
	}

	staged, err := h.meta.ListParts(ctx, uploadID)
	if err != nil {
		slog.Error("CompleteMultipartUpload ListParts error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	stagedByNumber := make(map[int]metadata.PartRecord, len(staged))
	for _, p := range staged {
		stagedByNumber[p.PartNumber] = p
	}

	partNumbers := make([]int, len(declared))
	partETags := make([]string, len(declared))
	var totalSize int64
	for i, p := range declared {
		stored, ok := stagedByNumber[p.PartNumber]
		if !ok {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
			return
		}
		if strings.Trim(p.ETag, `"`) != strings.Trim(stored.ETag, `"`) {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
			return
		}
		partNumbers[i] = p.PartNumber
		partETags[i] = stored.ETag
		totalSize += stored.Size
	}

	assembledSize, storagePath, err := h.store.AssembleParts(ctx, bucketName, key, uploadID, partNumbers)
	if err != nil {
		slog.Error("CompleteMultipartUpload AssembleParts error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if assembledSize != totalSize {
		// Staged bytes and recorded sizes disagree; trust the assembly.
		totalSize = assembledSize
	}

	compositeETag := computeCompositeETag(partETags)

	now := time.Now().UTC()
	obj := &metadata.ObjectRecord{
		Bucket:       bucketName,
		Key:          key,
		Size:         totalSize,
		ETag:         compositeETag,
		ContentType:  upload.ContentType,
		StoragePath:  storagePath,
		UserMetadata: upload.UserMetadata,
		LastModified: now,
		CreatedAt:    now,
	}

	if err := h.meta.CompleteMultipartUpload(ctx, uploadID, obj); err != nil {
		slog.Error("CompleteMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	xmlutil.Render(w, &xmlutil.CompleteMultipartUploadResult{
		Location: fmt.Sprintf("/%s/%s", bucketName, key),
		Bucket:   bucketName,
		Key:      key,
		ETag:     compositeETag,
	})
}

// AbortMultipartUpload handles DELETE /{bucket}/{key...}?uploadId=X: deletes
// the staging directory and the upload and part rows. Responds 204.
func (h *MultipartHandler) AbortMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uploadID := r.URL.Query().Get("uploadId")

	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		slog.Error("AbortMultipartUpload GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	if err := h.store.DeleteParts(ctx, uploadID); err != nil {
		// Metadata deletion is authoritative.
		slog.Error("AbortMultipartUpload storage error", "error", err)
	}

	if err := h.meta.AbortMultipartUpload(ctx, uploadID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
			return
		}
		slog.Error("AbortMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
