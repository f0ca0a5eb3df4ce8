// Package api exposes the HTTP surface of the server: agent registration and
// heartbeats, command delivery and results, and the operator dashboard.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route table.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	// Agent-facing endpoints.
	agents := r.PathPrefix("/api/agents").Subrouter()
	agents.HandleFunc("/health", h.health).Methods(http.MethodGet)
	agents.HandleFunc("/register", h.register).Methods(http.MethodPost)
	agents.HandleFunc("/heartbeat", h.requireAgent(h.heartbeat)).Methods(http.MethodPost)
	agents.HandleFunc("/commands", h.requireAgent(h.pollCommands)).Methods(http.MethodGet)
	agents.HandleFunc("/commands/{id}/result", h.requireAgent(h.commandResult)).Methods(http.MethodPost)

	// Operator auth.
	r.HandleFunc("/api/auth/login", h.rateLimitLogin(h.login)).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/verify", h.requireOperator(h.verify)).Methods(http.MethodGet)

	// Dashboard.
	machines := r.PathPrefix("/api/machines").Subrouter()
	machines.HandleFunc("", h.requireOperator(h.listMachines)).Methods(http.MethodGet)
	machines.HandleFunc("/{id}", h.requireOperator(h.getMachine)).Methods(http.MethodGet)
	machines.HandleFunc("/{id}", h.requireOperator(h.deleteMachine)).Methods(http.MethodDelete)
	machines.HandleFunc("/{id}/sleep", h.requireOperator(h.queueSleep)).Methods(http.MethodPost)
	machines.HandleFunc("/{id}/shutdown", h.requireOperator(h.queueShutdown)).Methods(http.MethodPost)

	r.HandleFunc("/api/dashboard/stats", h.requireOperator(h.dashboardStats)).Methods(http.MethodGet)

	// Settings.
	r.HandleFunc("/api/settings", h.requireOperator(h.getSettings)).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", h.requireOperator(h.putSettings)).Methods(http.MethodPut)
	r.HandleFunc("/api/settings/{key}", h.requireOperator(h.putSetting)).Methods(http.MethodPut)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
