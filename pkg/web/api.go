package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dbehnke/intercom-bridge/pkg/button"
	"github.com/dbehnke/intercom-bridge/pkg/database"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/network"
	"github.com/dbehnke/intercom-bridge/pkg/scheduler"
	"github.com/dbehnke/intercom-bridge/pkg/status"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Controller is the part of a node the API reads and drives
type Controller interface {
	Snapshot() status.Snapshot
	TransportStats() network.Stats
	AudioStats() scheduler.Stats
	ResetStats()
	SetButton(b button.Button, pressed bool) bool
	ButtonHeld(b button.Button) bool
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Transport network.Stats   `json:"transport"`
	Audio     scheduler.Stats `json:"audio"`
}

// ButtonRequest is the body of POST /api/buttons/{button}
type ButtonRequest struct {
	Pressed *bool `json:"pressed"`
}

// ButtonStatus is the body of GET /api/buttons/{button}
type ButtonStatus struct {
	Button  string `json:"button"`
	Pressed bool   `json:"pressed"`
}

// API handles REST API endpoints
type API struct {
	node   Controller
	db     *database.DB
	logger *logger.Logger
}

// NewAPI creates a new API instance. db may be nil when history is disabled.
func NewAPI(node Controller, db *database.DB, log *logger.Logger) *API {
	return &API{
		node:   node,
		db:     db,
		logger: log,
	}
}

// HandleStatus handles GET /api/status
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	version, commit, _ := GetVersionInfo()
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": version,
		"commit":  commit,
		"node":    a.node.Snapshot(),
	})
}

// HandleStats handles GET /api/stats
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, StatsResponse{
		Transport: a.node.TransportStats(),
		Audio:     a.node.AudioStats(),
	})
}

// HandleResetStats handles POST /api/stats/reset
func (a *API) HandleResetStats(w http.ResponseWriter, r *http.Request) {
	a.node.ResetStats()
	a.logger.Info("Statistics reset via API")
	w.WriteHeader(http.StatusNoContent)
}

// HandleButton handles POST /api/buttons/{button}
func (a *API) HandleButton(w http.ResponseWriter, r *http.Request) {
	b, err := button.Parse(chi.URLParam(r, "button"))
	if err != nil {
		a.writeError(w, http.StatusNotFound, err)
		return
	}

	var req ButtonRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Pressed == nil {
		a.writeError(w, http.StatusBadRequest, errors.New("missing field: pressed"))
		return
	}

	if !a.node.SetButton(b, *req.Pressed) {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("button queue full"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleButtonStatus handles GET /api/buttons/{button}
func (a *API) HandleButtonStatus(w http.ResponseWriter, r *http.Request) {
	b, err := button.Parse(chi.URLParam(r, "button"))
	if err != nil {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ButtonStatus{Button: b.String(), Pressed: a.node.ButtonHeld(b)})
}

// HandleBursts handles GET /api/history/bursts
func (a *API) HandleBursts(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		a.writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	bursts, err := a.db.Bursts().GetRecent(historyLimit(r))
	if err != nil {
		a.logger.Error("Failed to load talk bursts", logger.Error(err))
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if bursts == nil {
		bursts = []database.TalkBurst{}
	}
	a.writeJSON(w, http.StatusOK, bursts)
}

// HandleCalls handles GET /api/history/calls
func (a *API) HandleCalls(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		a.writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	events, err := a.db.Calls().GetRecent(historyLimit(r))
	if err != nil {
		a.logger.Error("Failed to load call events", logger.Error(err))
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []database.CallEvent{}
	}
	a.writeJSON(w, http.StatusOK, events)
}

func historyLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
}
