package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
)

// Request headers carrying blob headers
const (
	HeaderBlobName      = "X-Blob-Name"
	HeaderBlobCreatedBy = "X-Blob-Created-By"
	HeaderBlobTemporary = "X-Blob-Temporary"
	HeaderBlobSHA1      = "X-Blob-Sha1"
)

// BlobStore is the part of *blobstore.Store served over HTTP
type BlobStore interface {
	Create(ctx context.Context, r io.Reader, headers map[string]string) (*blobstore.Blob, error)
	Get(ctx context.Context, id blobstore.BlobID) (*blobstore.Blob, bool, error)
	Copy(ctx context.Context, sourceID blobstore.BlobID, headers map[string]string) (*blobstore.Blob, error)
	Delete(ctx context.Context, id blobstore.BlobID, reason string) (bool, error)
	DeleteHard(ctx context.Context, id blobstore.BlobID) (bool, error)
	Metrics() (blobstore.Metrics, error)
	Compact(ctx context.Context) error
	BlobIDs(ctx context.Context) iter.Seq2[blobstore.BlobID, error]
	BlobAttributes(ctx context.Context, id blobstore.BlobID) (*blobstore.BlobAttributes, bool, error)
}

var _ BlobStore = (*blobstore.Store)(nil)

// BlobHandler handles HTTP requests for blobs
type BlobHandler struct {
	store  BlobStore
	logger *slog.Logger
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(store BlobStore, logger *slog.Logger) *BlobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobHandler{store: store, logger: logger}
}

// Routes returns the routes for blobs
func (h *BlobHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/blobs", h.CreateBlob)
	r.Get("/blobs", h.ListBlobs)
	r.Get("/blobs/{id}", h.GetBlob)
	r.Get("/blobs/{id}/attributes", h.GetAttributes)
	r.Post("/blobs/{id}/copy", h.CopyBlob)
	r.Delete("/blobs/{id}", h.DeleteBlob)

	r.Get("/stats", h.GetStats)
	r.Post("/compact", h.Compact)

	return r
}

// ErrorResponse is the response body for a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// BlobResponse is the response body for a blob
type BlobResponse struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers"`
	SHA1    string            `json:"sha1"`
	Size    int64             `json:"size"`
	Created time.Time         `json:"created_at"`
}

func newBlobResponse(blob *blobstore.Blob) BlobResponse {
	return BlobResponse{
		ID:      blob.ID.String(),
		Headers: blob.Headers,
		SHA1:    blob.Metrics.SHA1,
		Size:    blob.Metrics.ContentSize,
		Created: blob.Metrics.CreationTime,
	}
}

// ListItem is one line of the blob listing
type ListItem struct {
	ID string `json:"id"`
}

func statusFor(err error) int {
	var storageErr *blobstore.StorageError
	switch {
	case errors.Is(err, blobstore.ErrInvalidHeaders):
		return http.StatusBadRequest
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, blobstore.ErrInvalidState), errors.Is(err, blobstore.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, blobstore.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &storageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *BlobHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", r.URL.Path, "status", status, "err", err)
	} else {
		h.logger.Warn(msg, "path", r.URL.Path, "status", status, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func (h *BlobHandler) notFound(w http.ResponseWriter, r *http.Request, id blobstore.BlobID) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, ErrorResponse{Error: "blob not found: " + id.String()})
}

// blobID reads the id path parameter, rejecting values that could leave the
// blob's directory.
func blobID(w http.ResponseWriter, r *http.Request) (blobstore.BlobID, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid blob ID"})
		return "", false
	}
	return blobstore.BlobID(id), true
}

// blobHeaders maps request headers onto blob headers. Missing mandatory
// headers are left out so the store can reject them.
func blobHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string)
	if v := r.Header.Get(HeaderBlobName); v != "" {
		headers[blobstore.BlobNameHeader] = v
	}
	if v := r.Header.Get(HeaderBlobCreatedBy); v != "" {
		headers[blobstore.CreatedByHeader] = v
	}
	if v := r.Header.Get("Content-Type"); v != "" {
		headers[blobstore.ContentTypeHeader] = v
	}
	if temp, _ := strconv.ParseBool(r.Header.Get(HeaderBlobTemporary)); temp {
		headers[blobstore.TemporaryBlobHeader] = "true"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		headers[blobstore.CreatedByIPHeader] = host
	}
	return headers
}

// CreateBlob stores the request body as a new blob
func (h *BlobHandler) CreateBlob(w http.ResponseWriter, r *http.Request) {
	blob, err := h.store.Create(r.Context(), r.Body, blobHeaders(r))
	if err != nil {
		h.writeError(w, r, "Failed to create blob", err)
		return
	}

	h.logger.Info("Blob created", "blob_id", blob.ID, "size", blob.Metrics.ContentSize)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newBlobResponse(blob))
}

// ListBlobs streams permanent blob IDs as newline delimited JSON
func (h *BlobHandler) ListBlobs(w http.ResponseWriter, r *http.Request) {
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false

	for id, err := range h.store.BlobIDs(r.Context()) {
		if err != nil {
			if !started {
				h.writeError(w, r, "Failed to list blobs", err)
				return
			}
			// the status line is gone; end the stream early
			h.logger.Error("Failed to list blobs", "err", err)
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ListItem{ID: id.String()}); err != nil {
			h.logger.Warn("Client went away during listing", "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// GetBlob streams blob content
func (h *BlobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	id, ok := blobID(w, r)
	if !ok {
		return
	}

	blob, found, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to get blob", err)
		return
	}
	if !found {
		h.notFound(w, r, id)
		return
	}

	rc, err := blob.Open(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to open blob", err)
		return
	}
	defer rc.Close()

	contentType := blob.Headers[blobstore.ContentTypeHeader]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(blob.Metrics.ContentSize, 10))
	w.Header().Set(HeaderBlobSHA1, blob.Metrics.SHA1)
	if name := blob.Headers[blobstore.BlobNameHeader]; name != "" {
		w.Header().Set(HeaderBlobName, name)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Failed to stream blob", "blob_id", id, "err", err)
	}
}

// GetAttributes returns the persisted attributes of a blob
func (h *BlobHandler) GetAttributes(w http.ResponseWriter, r *http.Request) {
	id, ok := blobID(w, r)
	if !ok {
		return
	}

	attrs, found, err := h.store.BlobAttributes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to get blob attributes", err)
		return
	}
	if !found {
		h.notFound(w, r, id)
		return
	}
	render.JSON(w, r, attrs)
}

// CopyBlob creates a new blob with the content of an existing one
func (h *BlobHandler) CopyBlob(w http.ResponseWriter, r *http.Request) {
	id, ok := blobID(w, r)
	if !ok {
		return
	}

	blob, err := h.store.Copy(r.Context(), id, blobHeaders(r))
	if err != nil {
		h.writeError(w, r, "Failed to copy blob", err)
		return
	}

	h.logger.Info("Blob copied", "source_id", id, "blob_id", blob.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newBlobResponse(blob))
}

// DeleteBlob deletes a blob. hard=true skips the soft delete path.
func (h *BlobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	id, ok := blobID(w, r)
	if !ok {
		return
	}

	_, found, err := h.store.BlobAttributes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to get blob attributes", err)
		return
	}
	if !found {
		h.notFound(w, r, id)
		return
	}

	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if hard {
		_, err = h.store.DeleteHard(r.Context(), id)
	} else {
		_, err = h.store.Delete(r.Context(), id, r.URL.Query().Get("reason"))
	}
	if err != nil {
		h.writeError(w, r, "Failed to delete blob", err)
		return
	}

	h.logger.Info("Blob deleted", "blob_id", id, "hard", hard)
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns aggregate store metrics
func (h *BlobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.Metrics()
	if err != nil {
		h.writeError(w, r, "Failed to get metrics", err)
		return
	}
	render.JSON(w, r, metrics)
}

// Compact runs store maintenance
func (h *BlobHandler) Compact(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Compact(r.Context()); err != nil {
		h.writeError(w, r, "Failed to compact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
