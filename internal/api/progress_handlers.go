package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
)

const (
	defaultFailedLimit = 100
	maxFailedLimit     = 1000
)

// Ledger reads the current ledger contents.
type Ledger interface {
	Entries() (map[string]artwork.ProgressEntry, error)
}

// FileLedger re-reads the ledger file on every call, so the server never
// holds the writer's lock.
type FileLedger string

// Entries implements Ledger.
func (p FileLedger) Entries() (map[string]artwork.ProgressEntry, error) {
	return progress.ReadFile(string(p))
}

// ProgressHandler exposes read-only ledger endpoints.
type ProgressHandler struct {
	ledger Ledger
	logger *zap.Logger
}

// NewProgressHandler wires the ledger and logger.
func NewProgressHandler(ledger Ledger, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{ledger: ledger, logger: logger}
}

// Summary handles GET /v1/progress.
func (h *ProgressHandler) Summary(w http.ResponseWriter, _ *http.Request) {
	entries, ok := h.read(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, progress.Summarize(entries))
}

// Failed handles GET /v1/progress/failed?limit=&offset= and returns
// {"total": n, "entries": [...]} ordered by id.
func (h *ProgressHandler) Failed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultFailedLimit, maxFailedLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, ok := h.read(w)
	if !ok {
		return
	}
	ids := progress.FailedIDs(entries)
	page := []artwork.ProgressEntry{}
	for i := offset; i < len(ids) && len(page) < limit; i++ {
		page = append(page, entries[ids[i]])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(ids),
		"entries": page,
	})
}

// Get handles GET /v1/progress/{artwork_id}.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "artwork_id")
	entries, ok := h.read(w)
	if !ok {
		return
	}
	entry, found := entries[id]
	if !found {
		writeError(w, http.StatusNotFound, "artwork not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Ready handles GET /readyz: the ledger must be readable.
func (h *ProgressHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	if _, ok := h.read(w); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *ProgressHandler) read(w http.ResponseWriter) (map[string]artwork.ProgressEntry, bool) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "progress ledger unavailable")
		return nil, false
	}
	entries, err := h.ledger.Entries()
	if err != nil {
		h.logger.Error("read progress ledger failed", zap.Error(err))
		if errors.Is(err, artwork.ErrCorruptStore) {
			writeError(w, http.StatusInternalServerError, "progress ledger is corrupt")
			return nil, false
		}
		writeError(w, http.StatusServiceUnavailable, "progress ledger unavailable")
		return nil, false
	}
	return entries, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
