package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/placement"
)

// Handlers serves blobs by content id
type Handlers struct {
	pool      *objstore.Pool
	scheme    placement.Scheme
	logger    *slog.Logger
	chunkSize int
}

// NewHandlers creates blob handlers reading through pool
func NewHandlers(pool *objstore.Pool, scheme placement.Scheme, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		pool:      pool,
		scheme:    scheme,
		logger:    logger,
		chunkSize: objstore.DefaultChunkSize,
	}
}

// GetBlob handles GET /blobs/{id}
func (h *Handlers) GetBlob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	loc := h.scheme.Locate(id)

	reader := objstore.NewReader(r.Context(), h.pool, loc.Container, loc.Object, objstore.WithChunkSize(h.chunkSize))
	defer reader.Close()

	if err := reader.Open(); err != nil {
		h.writeError(w, r, id, err)
		return
	}
	info := reader.Info()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		setBlobHeaders(w, info)
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, reader); err != nil {
			h.logCopyError(r, id, err)
		}
		return
	}

	start, end, err := parseRangeHeader(rangeHeader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Suffix range (bytes=-N means last N bytes)
	if start < 0 {
		start = max(info.Size+start, 0)
		end = info.Size - 1
	}
	// Open-ended range (bytes=N-)
	if end < 0 || end >= info.Size {
		end = info.Size - 1
	}
	if start > end || start >= info.Size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := reader.Seek(start, io.SeekStart); err != nil {
		h.writeError(w, r, id, err)
		return
	}

	length := end - start + 1
	setBlobHeaders(w, info)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, reader, length); err != nil {
		h.logCopyError(r, id, err)
		return
	}
	if end == info.Size-1 {
		// Read through to end of body so the connection is pooled.
		reader.Read(make([]byte, 1))
	}
}

// HeadBlob handles HEAD /blobs/{id}
func (h *Handlers) HeadBlob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	loc := h.scheme.Locate(id)

	var (
		info     objstore.ObjectInfo
		notFound error
	)
	err := h.pool.With(r.Context(), func(conn objstore.Conn) error {
		var err error
		info, err = conn.ObjectHead(r.Context(), loc.Container, loc.Object)
		if objstore.IsNotFound(err) {
			// The connection is healthy; keep it pooled.
			notFound = err
			return nil
		}
		return err
	})
	if err == nil {
		err = notFound
	}
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}

	setBlobHeaders(w, info)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id > placement.MaxID {
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, id uint64, err error) {
	switch {
	case objstore.IsNotFound(err):
		http.Error(w, "blob not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		h.logger.Error("object store request failed",
			"id", id, "request_id", GetRequestID(r), "error", err)
		http.Error(w, "object store unavailable", http.StatusBadGateway)
	}
}

func (h *Handlers) logCopyError(r *http.Request, id uint64, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Warn("blob transfer interrupted", "id", id, "request_id", GetRequestID(r), "error", err)
}

func setBlobHeaders(w http.ResponseWriter, info objstore.ObjectInfo) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	// A manifest's ETag is not the content MD5.
	if info.ETag != "" && !info.IsManifest() {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
}

// parseRangeHeader parses a single-range header value.
// Returns start, end (-1 means unspecified); a negative start is a suffix length.
func parseRangeHeader(rangeHeader string) (start, end int64, err error) {
	byteRange, ok := strings.CutPrefix(rangeHeader, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range header")
	}
	if strings.Contains(byteRange, ",") {
		return 0, 0, fmt.Errorf("multiple ranges are not supported")
	}

	first, last, ok := strings.Cut(byteRange, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid range suffix")
		}
		return -n, -1, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range start")
	}
	if last == "" {
		return start, -1, nil
	}

	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid range end")
	}
	return start, end, nil
}
