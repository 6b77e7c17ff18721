package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/inspectsync/inspectsync-go/internal/middleware"
	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/service"
)

const (
	msgInternal        = "Internal server error"
	msgInvalidBody     = "Invalid request body"
	msgBodyTooLarge    = "Request body too large"
	msgInvalidSince    = "Invalid since parameter"
	msgMissingIdentity = "Missing access token"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(msg string) model.ErrorBody {
	return model.ErrorBody{Success: false, Error: model.ErrorDetail{Message: msg}}
}

// writeServiceError maps a service failure onto the error envelope. Access
// rejections keep their status and message; anything else is logged and
// reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ae *service.AccessError
	if errors.As(err, &ae) {
		if ae.Status >= http.StatusInternalServerError {
			slog.Error(op+" failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		}
		writeJSON(w, ae.Status, errorResponse(ae.Message))
		return
	}

	slog.Error(op+" failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusInternalServerError, errorResponse(msgInternal))
}

// decodeJSON reads at most limit bytes of JSON from the body into v. It
// reports whether decoding succeeded, writing the error response otherwise.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(msgBodyTooLarge))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(msgInvalidBody))
		return false
	}
	return true
}

// HandleHealth handles GET /health requests.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
