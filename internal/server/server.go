// Package server implements the Strongroom HTTP server and the S3-compatible
// request dispatcher.
package server

import (
	"context"
	"net/http"

	"github.com/strongroom/strongroom/internal/admin"
	"github.com/strongroom/strongroom/internal/auth"
	"github.com/strongroom/strongroom/internal/config"
	s3err "github.com/strongroom/strongroom/internal/errors"
	"github.com/strongroom/strongroom/internal/handlers"
	"github.com/strongroom/strongroom/internal/metadata"
	"github.com/strongroom/strongroom/internal/storage"
	"github.com/strongroom/strongroom/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the Strongroom HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on the request method, path, and
// query parameters, and hosts the admin API on /admin.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	meta       metadata.MetadataStore
	store      storage.Store
	verifier   *auth.Verifier
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	multi      *handlers.MultipartHandler
	admin      *admin.API
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server with the given configuration, metadata store, and
// storage backend, wiring the S3 dispatcher and the admin API onto one Chi
// router.
func New(cfg *config.Config, meta metadata.MetadataStore, store storage.Store) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Strongroom Admin API", "1.0.0")
	humaConfig.DocsPath = "/admin/docs"
	humaConfig.OpenAPIPath = "/admin/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		meta:   meta,
		store:  store,
	}

	s.verifier = auth.NewVerifier(meta, cfg.Server.Region)

	s.bucket = handlers.NewBucketHandler(meta, store, cfg.Server.Region)
	s.object = handlers.NewObjectHandler(meta, store)
	s.multi = handlers.NewMultipartHandler(meta, store)
	s.admin = admin.New(cfg, meta, store)

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// Middleware chain: metrics -> common headers -> CORS -> auth gate ->
// metadata header rewrite -> router.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	handler = auth.Gate(s.verifier, s.meta)(handler)
	// WebDAV probes are refused before the auth gate.
	handler = propfindCheck(handler)
	handler = corsMiddleware(s.cfg.CORS.Origins)(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma admin routes
// and /metrics are registered first; the S3 catch-all /* runs last. Chi
// matches more specific routes first.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the Strongroom server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Huma registers one method per operation; HEAD probes get their own route.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.admin.Register(s.api, s.router)

	// S3 catch-all: everything else goes through the dispatcher.
	s.router.HandleFunc("/*", s.dispatch)
	s.router.MethodNotAllowed(s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// dispatch maps (method, path, query) onto the S3 operation. Path-style
// only: the first segment names the bucket, the greedy remainder the key.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	// Some WebDAV clients probe with PROPFIND.
	if r.Method == "PROPFIND" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		return
	}

	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Names under the service surfaces never resolve as buckets. Unmatched
	// /admin paths land here because of the catch-all; they are not S3
	// resources.
	switch bucket {
	case "admin", "health", "metrics":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.bucket.ListBuckets(w, r)
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("partNumber") && q.Has("uploadId"):
				s.multi.UploadPart(w, r)
			case r.Header.Get("X-Amz-Copy-Source") != "":
				s.object.CopyObject(w, r)
			default:
				s.object.PutObject(w, r)
			}
		case http.MethodGet:
			switch {
			case q.Has("uploadId"):
				s.multi.ListParts(w, r)
			case q.Has("acl"):
				s.object.GetObjectAcl(w, r)
			default:
				s.object.GetObject(w, r)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r)
		case http.MethodDelete:
			if q.Has("uploadId") {
				s.multi.AbortMultipartUpload(w, r)
			} else {
				s.object.DeleteObject(w, r)
			}
		case http.MethodPost:
			switch {
			case q.Has("uploads"):
				s.multi.CreateMultipartUpload(w, r)
			case q.Has("uploadId"):
				s.multi.CompleteMultipartUpload(w, r)
			default:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
			}
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		s.bucket.CreateBucket(w, r)
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucket.GetBucketLocation(w, r)
		case q.Has("versioning"):
			s.bucket.GetBucketVersioning(w, r)
		case q.Has("acl"):
			s.bucket.GetBucketAcl(w, r)
		default:
			s.bucket.ListObjects(w, r)
		}
	case http.MethodHead:
		s.bucket.HeadBucket(w, r)
	case http.MethodDelete:
		s.bucket.DeleteBucket(w, r)
	case http.MethodPost:
		if q.Has("delete") {
			s.object.DeleteObjects(w, r)
		} else {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
	}
}
