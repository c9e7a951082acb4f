package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/septivank/water-meter-bridge/internal/logging"
	"github.com/septivank/water-meter-bridge/internal/service"
	"go.uber.org/zap"
)

type sendReadingRequest struct {
	UserID   *int `json:"user_id" validate:"required"`
	DeviceID *int `json:"device_id" validate:"required"`
	RawValue *int `json:"reading_5digit" validate:"required"`
}

type saveTokenRequest struct {
	UserID    *int    `json:"user_id" validate:"required,gte=0"`
	ExpoToken *string `json:"expo_token"`
	FCMToken  *string `json:"fcm_token"`
}

type sendNotificationRequest struct {
	UserID  *int   `json:"user_id" validate:"required,gte=0"`
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "Water Bridge Online",
		"forward_url": h.forwardURL,
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](r.Context()); err != nil {
			logging.FromContext(r.Context(), h.logger).Warn("health check failed",
				zap.String("check", name),
				zap.Error(err),
			)
			http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// sendReading answers 200 for every handled outcome, including a failed
// local write; only unusable input gets a 4xx.
func (h *handler) sendReading(w http.ResponseWriter, r *http.Request) {
	var req sendReadingRequest
	if err := h.decodeJSONBody(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	result, err := h.bridge.Submit(r.Context(), *req.UserID, *req.DeviceID, *req.RawValue)
	switch {
	case errors.Is(err, service.ErrInvalidReading):
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: service.StatusError, Message: err.Error()})
	case result != nil:
		writeJSON(w, http.StatusOK, result)
	case err != nil:
		writeJSON(w, http.StatusOK, errorResponse{Status: service.StatusError, Message: err.Error()})
	}
}

func (h *handler) saveToken(w http.ResponseWriter, r *http.Request) {
	var req saveTokenRequest
	if err := h.decodeJSONBody(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.bridge.SaveToken(r.Context(), *req.UserID, req.ExpoToken, req.FCMToken); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: service.StatusError, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "user_id": *req.UserID})
}

func (h *handler) sendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := h.decodeJSONBody(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	result, err := h.bridge.Notify(r.Context(), *req.UserID, req.Title, req.Message)
	if err != nil && result.Outcome == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: service.StatusError, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *handler) checkConsumption(w http.ResponseWriter, r *http.Request) {
	result, err := h.bridge.CheckAbnormal(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: service.StatusError, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	var mr *MalformedRequestError
	if errors.As(err, &mr) {
		status = mr.Status
	}

	logging.FromContext(r.Context(), h.logger).Debug("rejected request", zap.Error(err))
	writeJSON(w, status, errorResponse{Status: service.StatusError, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
