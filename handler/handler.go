// Package handler provides the HTTP handlers for the collection server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stevemurr/collection-server/collection"
	"github.com/stevemurr/collection-server/store"
)

// maxBodyBytes caps request bodies read by the JSON endpoints.
const maxBodyBytes = 1 << 20

// Handler holds the server dependencies and registers routes.
type Handler struct {
	svc *collection.Service
	log *slog.Logger
	mux *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(svc *collection.Service, log *slog.Logger) *Handler {
	h := &Handler{svc: svc, log: log, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /collections", h.listCollections)

	// --- users ---
	h.mux.HandleFunc("GET /users", h.getAll("users", false))
	h.mux.HandleFunc("GET /prettyusers", h.getAll("users", true))
	h.mux.HandleFunc("POST /users", h.create("users"))
	h.mux.HandleFunc("GET /api/users/{id}", h.getByID("users"))
	h.mux.HandleFunc("PUT /api/users/{id}", h.update("users"))
	h.mux.HandleFunc("DELETE /api/users/{id}", h.remove("users"))

	// --- read-only collections ---
	h.mux.HandleFunc("GET /api/products", h.getAll("products", false))
	h.mux.HandleFunc("GET /api/orders", h.getAll("orders", false))

	// --- echo endpoints, no persistence ---
	h.mux.HandleFunc("PUT /api/putExample/{id}", h.putExample)
	h.mux.HandleFunc("DELETE /api/deleteExample/{id}", h.deleteExample)
	h.mux.HandleFunc("GET /{api}/{route}/{variable}", h.echoParams)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeIndentedJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// readRecord decodes the request body as a single JSON object.
func readRecord(w http.ResponseWriter, r *http.Request) (store.Record, error) {
	defer r.Body.Close()
	var rec store.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("unexpected data after the JSON object")
	}
	if rec == nil {
		return nil, errors.New("expected a JSON object")
	}
	return rec, nil
}

func parseID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// writeServiceError maps collection errors onto status codes. Store details
// are logged, not returned.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, collection.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.log.Error("collection request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, collection.ErrUnavailable.Error())
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "Collection Server",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Collections()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// ---------- collection endpoints ----------

func (h *Handler) getAll(collection string, pretty bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := h.svc.GetAll(collection)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if pretty {
			writeIndentedJSON(w, http.StatusOK, records)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func (h *Handler) getByID(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := h.svc.GetByID(collection, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) create(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, err := readRecord(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		rec, err := h.svc.Create(collection, fields, h.svc.Defaults(collection))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.log.Info("record created", "collection", collection, "id", rec["id"])
		writeJSON(w, http.StatusCreated, rec)
	}
}

func (h *Handler) update(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		fields, err := readRecord(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		rec, err := h.svc.Update(collection, id, fields)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) remove(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := h.svc.Delete(collection, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// ---------- echo endpoints ----------

func (h *Handler) putExample(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "Updated item with ID: "+r.PathValue("id"))
}

func (h *Handler) deleteExample(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "Deleted item with ID: "+r.PathValue("id"))
}

func (h *Handler) echoParams(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, fmt.Sprintf("API: %s, Route: %s, Variable: %s",
		r.PathValue("api"), r.PathValue("route"), r.PathValue("variable")))
}
