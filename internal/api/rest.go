package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *server.Service
	logger *zap.Logger
}

// NewHTTPHandler exposes the ingestor and the operator paths over HTTP.
func NewHTTPHandler(svc *server.Service, logger *zap.Logger) http.Handler {
	h := &Handler{
		svc:    svc,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("POST /telemetry", h.handleTelemetry)

	mux.HandleFunc("POST /machines", h.handleRegister)
	mux.HandleFunc("GET /machines", h.handleListMachines)
	mux.HandleFunc("GET /machines/{id}", h.handleGetMachine)
	mux.HandleFunc("GET /machines/{id}/telemetry", h.handleSamples)
	mux.HandleFunc("POST /machines/{id}/command", h.handleEnqueue)
	mux.HandleFunc("GET /machines/{id}/command", h.handlePeek)
	mux.HandleFunc("POST /machines/{id}/command-result", h.handleCommandResult)

	mux.HandleFunc("GET /alerts", h.handleAlerts)
	mux.HandleFunc("PUT /alerts/{id}/resolve", h.handleResolve)

	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from fleetwatch"})
}

func (h *Handler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req server.HeartbeatRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Heartbeat(r.Context(), req)
	switch {
	case errors.Is(err, server.ErrMachineIDRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("heartbeat failed", zap.String("machine_id", req.MachineID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, res.Response())
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req server.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, created, err := h.svc.RegisterMachine(r.Context(), req)
	switch {
	case errors.Is(err, server.ErrMachineIDRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("register failed", zap.String("machine_id", req.MachineID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to register machine")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, m)
}

func (h *Handler) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.svc.ListMachines(r.Context())
	if err != nil {
		h.logger.Error("list machines failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list machines")
		return
	}
	if machines == nil {
		machines = []*models.Machine{}
	}
	writeJSON(w, http.StatusOK, machines)
}

func (h *Handler) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMachine(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, err, "machine")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	samples, err := h.svc.RecentSamples(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.storeError(w, err, "machine")
		return
	}
	if samples == nil {
		samples = []models.TelemetrySample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req server.CommandRequest
	if !h.decode(w, r, &req) {
		return
	}
	cmd, err := h.svc.EnqueueCommand(r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "queued",
		"machineId": r.PathValue("id"),
		"command":   cmd,
	})
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.svc.PeekCommand(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": true, "command": cmd})
}

func (h *Handler) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.svc.CommandResult(r.Context(), r.PathValue("id"), body); err != nil {
		h.writeError(w, http.StatusBadGateway, "failed to publish command result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var f models.AlertFilter
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		f.Resolved = &resolved
	}
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	f.Limit = limit

	alerts, err := h.svc.Alerts(r.Context(), f)
	if err != nil {
		h.logger.Error("list alerts failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.ResolveAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		h.writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.logger.Error("store read failed", zap.String("entity", what), zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.logger.Debug("request rejected", zap.Int("status", status), zap.String("error", msg))
}
