package api

import (
	"encoding/json"
	"net/http"

	"github.com/talkhouse/talkhouse/internal/channel"
)

// ClientCounter reports how many connections are currently open.
// Implemented by the websocket hub.
type ClientCounter interface {
	Count() int
}

// HealthResponse is the payload for GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Clients  int    `json:"clients"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler is the HTTP handler for the read-only /api/* endpoints.
type Handler struct {
	store   *channel.Store
	clients ClientCounter
	mux     *http.ServeMux
}

// New creates a Handler wired to the channel store and registers all routes.
func New(store *channel.Store, clients ClientCounter) http.Handler {
	h := &Handler{store: store, clients: clients, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/channels", h.channels)
	h.mux.HandleFunc("/api/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// channels returns GET /api/channels — each configured channel with its
// total stored message count.
func (h *Handler) channels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.Stats())
}

// health returns GET /api/health — liveness plus channel and client counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Channels: len(h.store.Names()),
		Clients:  h.clients.Count(),
	})
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
