package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vsfy/vsfy/client"
	"vsfy/vsfy/downloads"
	"vsfy/vsfy/shared"
	"vsfy/vsfy/transfer"
	"vsfy/vsfy/uploads"
)

// Directory is the part of a connected client the API drives.
type Directory interface {
	RequestList(ctx context.Context) iter.Seq2[string, error]
	RequestInfo(ctx context.Context, clientID string) (string, error)
	Fetch(ctx context.Context, item string, consumer transfer.Consumer) (transfer.Result, error)
}

type APIHandler struct {
	identity  *shared.ClientIdentity
	dir       Directory
	consumer  transfer.Consumer
	uploads   *uploads.UploadManager
	downloads *downloads.DownloadManager
	logger    *slog.Logger
}

func NewAPIHandler(identity *shared.ClientIdentity, dir Directory, consumer transfer.Consumer, um *uploads.UploadManager, dm *downloads.DownloadManager, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		identity:  identity,
		dir:       dir,
		consumer:  consumer,
		uploads:   um,
		downloads: dm,
		logger:    logger,
	}
}

// NewRouter mounts the control API and the prometheus endpoint.
func NewRouter(h *APIHandler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/identity", h.GetIdentity)
	mux.Get("/list", h.List)
	mux.Get("/info/{clientId}", h.Info)
	mux.Get("/request", h.Request)
	mux.Get("/uploads", h.ListUploads)
	mux.Get("/downloads", h.ListDownloads)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (h *APIHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  h.identity.Name,
		"port":  h.identity.Port(),
		"items": h.identity.Catalog(),
	})
}

func (h *APIHandler) List(w http.ResponseWriter, r *http.Request) {
	items := make([]string, 0)
	for line, err := range h.dir.RequestList(r.Context()) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		items = append(items, line)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *APIHandler) Info(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	if clientID == "" {
		http.Error(w, "Missing clientId parameter", http.StatusBadRequest)
		return
	}
	line, err := h.dir.RequestInfo(r.Context(), clientID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID, "info": line})
}

func (h *APIHandler) Request(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	if item == "" {
		http.Error(w, "Missing item parameter", http.StatusBadRequest)
		return
	}
	result, err := h.dir.Fetch(r.Context(), item, h.consumer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"uploads": h.uploads.ListUploads()})
}

func (h *APIHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"downloads": h.downloads.ListDownloads()})
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, client.ErrTimeout), errors.Is(err, transfer.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, client.ErrConnectionClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	h.logger.Warn("API request failed", "status", status, "err", err)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
