package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthMux builds the gateway process's own tiny health/debug router,
// separate from the main request surface's gin engine (spec §6): a second,
// minimal mux dedicated to operational checks so it keeps working even if
// the main engine's middleware chain misbehaves.
func (g *Gateway) HealthMux() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	r.Get("/debug/connections", func(w http.ResponseWriter, r *http.Request) {
		g.mu.RLock()
		defer g.mu.RUnlock()
		type connInfo struct {
			ID       string `json:"id"`
			SubnetID string `json:"subnet_id"`
			AgentID  string `json:"agent_id"`
			State    string `json:"state"`
		}
		out := make([]connInfo, 0, len(g.byID))
		for _, c := range g.byID {
			c.mu.Lock()
			out = append(out, connInfo{ID: c.id, SubnetID: c.subnetID, AgentID: c.agentID, State: string(c.state)})
			c.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return r
}
