package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourusername/task-relay/pkg/tasks"
)

// Handler serves dashboard pages
type Handler struct {
	service *Service
}

// NewHandler creates a new dashboard handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers dashboard routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.HandleIndex)
	mux.HandleFunc("/api/state", h.HandleState)
	mux.HandleFunc("/api/journal", h.HandleJournal)
}

// HandleIndex renders the home page
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	journal, err := h.service.GetJournal(r.Context(), 20)
	if err != nil {
		// The page still renders live state without the journal
		slog.Warn("dashboard journal unavailable", "error", err)
	}

	data := map[string]interface{}{
		"Title":      "Dashboard",
		"Stats":      h.service.GetStats(),
		"State":      h.service.GetState(),
		"Messages":   h.service.GetRecentMessages(),
		"Journal":    journal,
		"ActivePage": "home",
	}

	if err := Render(w, "index.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleState returns the current system state as JSON
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.service.GetState())
}

// HandleJournal returns journaled outcomes as JSON
func (h *Handler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	outcomes, err := h.service.GetJournal(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if outcomes == nil {
		outcomes = []tasks.Outcome{}
	}

	writeJSON(w, http.StatusOK, outcomes)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
