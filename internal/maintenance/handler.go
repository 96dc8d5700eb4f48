package maintenance

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"web-gateway/internal/observability"
)

// Sweeper drops expired state held in process memory and reports how many
// entries went away.
type Sweeper interface {
	Sweep() int
}

type SweepFunc func() int

func (f SweepFunc) Sweep() int { return f() }

// CleanupHandler runs every registered sweeper on an authenticated cron call.
type CleanupHandler struct {
	sweepers   map[string]Sweeper
	logger     *observability.Logger
	cronSecret string
}

func NewCleanupHandler(logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		sweepers:   make(map[string]Sweeper),
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

// Register adds a named sweeper. A nil sweeper is ignored.
func (h *CleanupHandler) Register(name string, sweeper Sweeper) *CleanupHandler {
	if sweeper != nil {
		h.sweepers[name] = sweeper
	}
	return h
}

// Run sweeps everything once and returns the per-sweeper counts.
func (h *CleanupHandler) Run() map[string]int {
	result := make(map[string]int, len(h.sweepers))
	for name, sweeper := range h.sweepers {
		result[name] = sweeper.Sweep()
	}
	return result
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result := h.Run()
	h.logger.Info("cleanup_completed", map[string]any{"removed": result})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
