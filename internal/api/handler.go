package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/registry"
	"github.com/coalmine/coalmine/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	registry *registry.Registry
	store    *store.Store
	mux      *http.ServeMux
}

// New creates a Handler wired to the registry and store and registers all routes.
func New(reg *registry.Registry, st *store.Store) http.Handler {
	h := &Handler{registry: reg, store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/clients/register", h.register)
	h.mux.HandleFunc("/api/v1/clients/deregister", h.deregister)
	h.mux.HandleFunc("/api/v1/clients", h.listClients)
	h.mux.HandleFunc("/api/v1/clients/", h.clientHistory) // subtree — extracts {name}/history
	h.mux.HandleFunc("/api/v1/results", h.results)
	h.mux.HandleFunc("/api/v1/notifications", h.notifications)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — liveness only.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// register handles POST /api/v1/clients/register.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reg, err := h.registry.Register(r.Context(), req.Name, req.Tags)
	switch {
	case errors.Is(err, registry.ErrValidation):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	default:
		jsonResp(w, http.StatusOK, reg)
	}
}

// deregister handles POST /api/v1/clients/deregister.
func (h *Handler) deregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DeregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResp(w, http.StatusBadRequest, StatusResponse{Code: http.StatusBadRequest, Message: "invalid JSON body"})
		return
	}

	err := h.registry.Deregister(r.Context(), req.Name)
	switch {
	case errors.Is(err, registry.ErrValidation):
		jsonResp(w, http.StatusBadRequest, StatusResponse{Code: http.StatusBadRequest, Message: err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		jsonResp(w, http.StatusNotFound, StatusResponse{Code: http.StatusNotFound, Message: err.Error()})
	case err != nil:
		jsonResp(w, http.StatusInternalServerError, StatusResponse{Code: http.StatusInternalServerError, Message: err.Error()})
	default:
		jsonResp(w, http.StatusOK, StatusResponse{Code: http.StatusOK, Message: "client deactivated"})
	}
}

// listClients returns GET /api/v1/clients — all client records.
func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.Clients())
}

// clientHistory returns GET /api/v1/clients/{name}/history.
func (h *Handler) clientHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/clients/")
	name, ok := strings.CutSuffix(rest, "/history")
	if !ok || name == "" || strings.Contains(name, "/") {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if _, exists := h.store.GetClient(name); !exists {
		jsonErr(w, http.StatusNotFound, "client not found")
		return
	}
	jsonResp(w, http.StatusOK, h.store.HistoryFor(name))
}

// results returns GET /api/v1/results?group=&check=&source= — the ordered
// result history for one check identity.
func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	group, check, source := q.Get("group"), q.Get("check"), q.Get("source")
	if group == "" || check == "" || source == "" {
		jsonErr(w, http.StatusBadRequest, "group, check and source query parameters are required")
		return
	}
	key := model.ResultKey(group, check, source)
	jsonResp(w, http.StatusOK, h.store.ResultsFor(key))
}

// notifications returns GET /api/v1/notifications — the audit trail.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.Notifications())
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
