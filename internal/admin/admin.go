package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/strongroom/strongroom/internal/auth"
	"github.com/strongroom/strongroom/internal/config"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/metrics"
	"github.com/strongroom/strongroom/internal/storage"
	"github.com/strongroom/strongroom/internal/uid"
)

// API is the admin HTTP surface, a thin CRUD layer over the metadata store.
type API struct {
	cfg     *config.Config
	meta    metadata.MetadataStore
	store   storage.Store
	limiter *loginLimiter
}

// New creates the admin API.
func New(cfg *config.Config, meta metadata.MetadataStore, store storage.Store) *API {
	return &API{
		cfg:     cfg,
		meta:    meta,
		store:   store,
		limiter: newLoginLimiter(),
	}
}

// requireToken validates the Bearer token in an Authorization header value.
func (a *API) requireToken(authorization string) error {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return huma.Error401Unauthorized("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if _, err := verifyToken(token, a.cfg.Admin.JWTSecret); err != nil {
		return huma.Error401Unauthorized("invalid token")
	}
	return nil
}

// ---- JSON shapes ----

// KeyInfo is the credential representation returned by the admin API.
// The secret is included only in the create response.
type KeyInfo struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey,omitempty"`
	DisplayName     string    `json:"displayName"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BucketInfo is the bucket representation returned by the admin API.
type BucketInfo struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Region    string    `json:"region"`
	ACL       string    `json:"acl"`
	MaxSize   int64     `json:"maxSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// ---- Huma operations ----

type authedInput struct {
	Authorization string `header:"Authorization"`
}

type listKeysOutput struct {
	Body struct {
		Keys []KeyInfo `json:"keys"`
	}
}

type createKeyInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		DisplayName string `json:"displayName" doc:"Human-readable key label"`
	}
}

type createKeyOutput struct {
	Body KeyInfo
}

type patchKeyInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id"`
	Body          struct {
		IsActive bool `json:"isActive"`
	}
}

type patchKeyOutput struct {
	Body KeyInfo
}

type deleteKeyInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id"`
}

type listBucketsOutput struct {
	Body struct {
		Buckets []BucketInfo `json:"buckets"`
	}
}

type createBucketInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Name    string `json:"name"`
		OwnerID string `json:"ownerId"`
		ACL     string `json:"acl,omitempty" enum:"private,public-read"`
		MaxSize int64  `json:"maxSize,omitempty"`
	}
}

type createBucketOutput struct {
	Body BucketInfo
}

type deleteBucketInput struct {
	Authorization string `header:"Authorization"`
	Bucket        string `path:"bucket"`
}

type statsOutput struct {
	Body struct {
		Buckets     int64 `json:"buckets"`
		Objects     int64 `json:"objects"`
		TotalSize   int64 `json:"totalSize"`
		StorageSize int64 `json:"storageSize"`
	}
}

// Register wires the admin routes onto the Huma API and the Chi router.
// Login, verify, and the object-key-bearing routes (greedy keys) are plain
// Chi handlers; the CRUD surface is typed Huma operations.
func (a *API) Register(api huma.API, router chi.Router) {
	router.Post("/admin/auth/login", a.handleLogin)
	router.Post("/admin/auth/verify", a.handleVerify)
	router.Get("/admin/buckets/{bucket}/objects", a.handleListObjects)
	router.Delete("/admin/buckets/{bucket}/objects/*", a.handleDeleteObject)
	router.Get("/admin/buckets/{bucket}/link/*", a.handleLink)
	router.Get("/admin/export", a.handleExport)

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-keys",
		Method:      http.MethodGet,
		Path:        "/admin/keys",
		Summary:     "List access keys",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *authedInput) (*listKeysOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}
		keys, err := a.meta.ListAccessKeys(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("listing keys failed")
		}
		out := &listKeysOutput{}
		for _, k := range keys {
			out.Body.Keys = append(out.Body.Keys, KeyInfo{
				AccessKeyID: k.AccessKeyID,
				DisplayName: k.DisplayName,
				IsActive:    k.Active,
				CreatedAt:   k.CreatedAt,
				UpdatedAt:   k.UpdatedAt,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-create-key",
		Method:        http.MethodPost,
		Path:          "/admin/keys",
		Summary:       "Create an access key",
		Description:   "Generates a new credential. The secret is returned exactly once.",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *createKeyInput) (*createKeyOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		record := &metadata.AccessKeyRecord{
			AccessKeyID: uid.NewAccessKeyID(),
			SecretKey:   uid.NewSecretKey(),
			DisplayName: input.Body.DisplayName,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := a.meta.PutAccessKey(ctx, record); err != nil {
			return nil, huma.Error500InternalServerError("creating key failed")
		}

		return &createKeyOutput{Body: KeyInfo{
			AccessKeyID:     record.AccessKeyID,
			SecretAccessKey: record.SecretKey,
			DisplayName:     record.DisplayName,
			IsActive:        record.Active,
			CreatedAt:       record.CreatedAt,
			UpdatedAt:       record.UpdatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-patch-key",
		Method:      http.MethodPatch,
		Path:        "/admin/keys/{id}",
		Summary:     "Enable or disable an access key",
		Tags:        []string{"Keys"},
	}, func(ctx context.Context, input *patchKeyInput) (*patchKeyOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}
		if err := a.meta.SetAccessKeyActive(ctx, input.ID, input.Body.IsActive); err != nil {
			if strings.Contains(err.Error(), "not found") {
				return nil, huma.Error404NotFound("access key not found")
			}
			return nil, huma.Error500InternalServerError("updating key failed")
		}
		key, err := a.meta.GetAccessKey(ctx, input.ID)
		if err != nil || key == nil {
			return nil, huma.Error500InternalServerError("reading key failed")
		}
		return &patchKeyOutput{Body: KeyInfo{
			AccessKeyID: key.AccessKeyID,
			DisplayName: key.DisplayName,
			IsActive:    key.Active,
			CreatedAt:   key.CreatedAt,
			UpdatedAt:   key.UpdatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-delete-key",
		Method:        http.MethodDelete,
		Path:          "/admin/keys/{id}",
		Summary:       "Delete an access key",
		Description:   "Buckets owned by the key are reassigned to another key; the delete fails when no other key exists.",
		Tags:          []string{"Keys"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *deleteKeyInput) (*struct{}, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}
		if err := a.meta.DeleteAccessKey(ctx, input.ID); err != nil {
			if strings.Contains(err.Error(), "not found") {
				return nil, huma.Error404NotFound("access key not found")
			}
			if strings.Contains(err.Error(), "no other key") {
				return nil, huma.Error409Conflict(err.Error())
			}
			return nil, huma.Error500InternalServerError("deleting key failed")
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-buckets",
		Method:      http.MethodGet,
		Path:        "/admin/buckets",
		Summary:     "List buckets",
		Tags:        []string{"Buckets"},
	}, func(ctx context.Context, input *authedInput) (*listBucketsOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}
		buckets, err := a.meta.ListBuckets(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("listing buckets failed")
		}
		out := &listBucketsOutput{}
		for _, b := range buckets {
			out.Body.Buckets = append(out.Body.Buckets, BucketInfo{
				Name:      b.Name,
				OwnerID:   b.OwnerID,
				Region:    b.Region,
				ACL:       b.ACL,
				MaxSize:   b.MaxSize,
				CreatedAt: b.CreatedAt,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-create-bucket",
		Method:        http.MethodPost,
		Path:          "/admin/buckets",
		Summary:       "Create a bucket",
		Tags:          []string{"Buckets"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *createBucketInput) (*createBucketOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}

		acl := input.Body.ACL
		if acl == "" {
			acl = "private"
		}
		record := &metadata.BucketRecord{
			Name:      input.Body.Name,
			OwnerID:   input.Body.OwnerID,
			Region:    a.cfg.Server.Region,
			ACL:       acl,
			MaxSize:   input.Body.MaxSize,
			CreatedAt: time.Now().UTC(),
		}
		if err := a.meta.CreateBucket(ctx, record); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				return nil, huma.Error409Conflict("bucket already exists")
			}
			return nil, huma.Error500InternalServerError("creating bucket failed")
		}
		if err := a.store.CreateBucket(ctx, record.Name); err != nil {
			slog.Error("admin create bucket storage error", "error", err)
		}

		return &createBucketOutput{Body: BucketInfo{
			Name:      record.Name,
			OwnerID:   record.OwnerID,
			Region:    record.Region,
			ACL:       record.ACL,
			MaxSize:   record.MaxSize,
			CreatedAt: record.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "admin-delete-bucket",
		Method:        http.MethodDelete,
		Path:          "/admin/buckets/{bucket}",
		Summary:       "Delete a bucket",
		Description:   "Purges all objects in the bucket first.",
		Tags:          []string{"Buckets"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *deleteBucketInput) (*struct{}, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}

		bucket, err := a.meta.GetBucket(ctx, input.Bucket)
		if err != nil {
			return nil, huma.Error500InternalServerError("reading bucket failed")
		}
		if bucket == nil {
			return nil, huma.Error404NotFound("bucket not found")
		}

		if err := a.purgeBucket(ctx, input.Bucket); err != nil {
			return nil, huma.Error500InternalServerError("purging bucket failed")
		}

		if err := a.meta.DeleteBucket(ctx, input.Bucket); err != nil {
			return nil, huma.Error500InternalServerError("deleting bucket failed")
		}
		if err := a.store.DeleteBucket(ctx, input.Bucket); err != nil {
			slog.Error("admin delete bucket storage error", "error", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-stats",
		Method:      http.MethodGet,
		Path:        "/admin/stats",
		Summary:     "Service statistics",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *authedInput) (*statsOutput, error) {
		if err := a.requireToken(input.Authorization); err != nil {
			return nil, err
		}
		stats, err := a.meta.Stats(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("reading stats failed")
		}
		storageSize, err := a.store.TotalSize(ctx)
		if err != nil {
			slog.Error("admin stats storage walk error", "error", err)
		}
		out := &statsOutput{}
		out.Body.Buckets = stats.Buckets
		out.Body.Objects = stats.Objects
		out.Body.TotalSize = stats.TotalSize
		out.Body.StorageSize = storageSize
		return out, nil
	})
}

// purgeBucket deletes every object row and file in the bucket.
func (a *API) purgeBucket(ctx context.Context, bucket string) error {
	for {
		page, err := a.meta.ListObjects(ctx, bucket, metadata.ListObjectsOptions{MaxKeys: 1000})
		if err != nil {
			return err
		}
		for _, obj := range page.Objects {
			if err := a.store.DeleteObject(ctx, bucket, obj.Key); err != nil {
				return err
			}
			if err := a.meta.DeleteObject(ctx, bucket, obj.Key); err != nil {
				return err
			}
		}
		if !page.IsTruncated {
			return nil
		}
	}
}

// ---- Chi handlers ----

// clientIP extracts the client address for rate limiting.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleLogin handles POST /admin/auth/login, rate limited to 5 attempts per
// 15 minutes per IP.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.limiter.Allow(ip) {
		metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"})
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(body.Username), []byte(a.cfg.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(body.Password), []byte(a.cfg.Admin.Password)) == 1
	if a.cfg.Admin.Username == "" || !userOK || !passOK {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := mintToken(body.Username, a.cfg.Admin.JWTSecret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token generation failed"})
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleVerify handles POST /admin/auth/verify.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	payload, err := verifyToken(body.Token, a.cfg.Admin.JWTSecret)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"sub":   payload.Sub,
		"exp":   payload.Exp,
	})
}

// requireTokenHTTP enforces the Bearer token on plain Chi handlers.
func (a *API) requireTokenHTTP(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return false
	}
	if _, err := verifyToken(token, a.cfg.Admin.JWTSecret); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return false
	}
	return true
}

// handleListObjects handles GET /admin/buckets/{bucket}/objects.
func (a *API) handleListObjects(w http.ResponseWriter, r *http.Request) {
	if !a.requireTokenHTTP(w, r) {
		return
	}

	bucket := chi.URLParam(r, "bucket")
	q := r.URL.Query()

	maxKeys := 1000
	if mk := q.Get("max-keys"); mk != "" {
		if parsed, err := strconv.Atoi(mk); err == nil && parsed > 0 && parsed <= 1000 {
			maxKeys = parsed
		}
	}

	page, err := a.meta.ListObjects(r.Context(), bucket, metadata.ListObjectsOptions{
		Prefix:     q.Get("prefix"),
		StartAfter: q.Get("start-after"),
		MaxKeys:    maxKeys,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing objects failed"})
		return
	}

	type objectInfo struct {
		Key          string    `json:"key"`
		Size         int64     `json:"size"`
		ETag         string    `json:"etag"`
		ContentType  string    `json:"contentType"`
		LastModified time.Time `json:"lastModified"`
	}

	objects := make([]objectInfo, 0, len(page.Objects))
	for _, obj := range page.Objects {
		objects = append(objects, objectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"objects":     objects,
		"isTruncated": page.IsTruncated,
		"nextToken":   page.NextContinuationToken,
	})
}

// handleDeleteObject handles DELETE /admin/buckets/{bucket}/objects/{key...}.
func (a *API) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if !a.requireTokenHTTP(w, r) {
		return
	}

	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing object key"})
		return
	}

	if err := a.store.DeleteObject(r.Context(), bucket, key); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "deleting object failed"})
		return
	}
	if err := a.meta.DeleteObject(r.Context(), bucket, key); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "deleting object metadata failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLink handles GET /admin/buckets/{bucket}/link/{key...}, returning a
// V4 presigned GET URL on the advertised public host, signed with the bucket
// owner's credential.
func (a *API) handleLink(w http.ResponseWriter, r *http.Request) {
	if !a.requireTokenHTTP(w, r) {
		return
	}

	bucketName := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing object key"})
		return
	}

	expires := 900
	if e := r.URL.Query().Get("expires"); e != "" {
		if parsed, err := strconv.Atoi(e); err == nil && parsed > 0 && parsed <= 604800 {
			expires = parsed
		}
	}

	bucket, err := a.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reading bucket failed"})
		return
	}
	if bucket == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "bucket not found"})
		return
	}

	cred, err := a.meta.GetAccessKey(r.Context(), bucket.OwnerID)
	if err != nil || cred == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "owner credential unavailable"})
		return
	}

	url := auth.PresignV4(cred, "http", a.cfg.Server.PublicHost, bucket.Region, bucketName, key, expires)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":     url,
		"expires": expires,
	})
}

// handleExport handles GET /admin/export, streaming a JSON export of the
// metadata tables.
func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if !a.requireTokenHTTP(w, r) {
		return
	}

	exporter, ok := a.meta.(Exporter)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "export not supported by this metadata engine"})
		return
	}

	includeSecrets := r.URL.Query().Get("include-credentials") == "true"
	out, err := exporter.Export(r.Context(), includeSecrets)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("export failed: %v", err)})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="strongroom-export.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// Exporter is implemented by metadata stores that support JSON export.
type Exporter interface {
	Export(ctx context.Context, includeSecrets bool) ([]byte, error)
}

// Close releases admin resources (the login limiter sweep loop).
func (a *API) Close() {
	a.limiter.Close()
}
