// Package blobstore stores the signed documents attached to a case (the
// final dictamen and its annexes). The core only records the returned key;
// bytes live in the selected backend: in-memory for development and tests,
// S3 (or MinIO) in production.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrBlobExists         = errors.New("blob already exists")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingKey         = errors.New("blob key is required")
)

// MaxFileSize is the maximum allowed blob size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the formats accepted for signed artifacts.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/html":       true,
}

// BlobMetadata describes a stored artifact.
type BlobMetadata struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CaseNumber  string    `json:"case_number,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// BlobStore is the contract every backend satisfies. Keys are chosen by the
// caller and are create-only.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactKey builds the key for a case document. The random suffix keeps
// two uploads in the same second apart.
func ArtifactKey(caseNumber, kind string, at time.Time) string {
	return fmt.Sprintf("cases/%s/%s-%d-%s.pdf", caseNumber, kind, at.Unix(), uuid.NewString()[:8])
}

func validate(meta BlobMetadata) error {
	if strings.TrimSpace(meta.Key) == "" {
		return ErrMissingKey
	}
	if meta.ContentType != "" && !AllowedContentTypes[meta.ContentType] {
		return ErrInvalidContentType
	}
	return nil
}

// readLimited reads content up to MaxFileSize and returns it with its SHA-256.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for development and tests.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[meta.Key]; exists {
		return nil, ErrBlobExists
	}
	s.blobs[meta.Key] = &storedBlob{metadata: meta, content: data}

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Config selects and configures a backend.
type Config struct {
	Driver     string // "memory" or "s3"
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	PathStyle  bool
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (BlobStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewInMemoryBlobStore(), nil
	case "s3":
		return NewS3BlobStore(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// BlobHandler serves stored artifacts back to the document collaborators.
type BlobHandler struct {
	store BlobStore
}

func NewBlobHandler(store BlobStore) *BlobHandler {
	return &BlobHandler{store: store}
}

// RegisterRoutes mounts GET /artifacts/<key> on g.
func (h *BlobHandler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/artifacts/*", h.handleDownload, mw...)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "artifact key is required")
	}

	rc, meta, err := h.store.Download(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	name := meta.FileName
	if name == "" {
		name = key[strings.LastIndex(key, "/")+1:]
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Stream(http.StatusOK, contentType, rc)
}
