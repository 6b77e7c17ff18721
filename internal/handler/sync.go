package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/middleware"
	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/service"
)

const maxPushBodyBytes = 10 << 20 // 10MB

// SyncHandler handles HTTP requests for the mobile sync endpoints.
type SyncHandler struct {
	pull *service.PullService
	push *service.PushService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(pull *service.PullService, push *service.PushService) *SyncHandler {
	return &SyncHandler{pull: pull, push: push}
}

// HandlePull handles GET /sync/pull requests.
func (h *SyncHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(msgMissingIdentity))
		return
	}

	req, ok := parsePullQuery(w, r)
	if !ok {
		return
	}

	resp, err := h.pull.Pull(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, "sync pull", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandlePush handles POST /sync/push requests.
func (h *SyncHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(msgMissingIdentity))
		return
	}

	var req model.PushRequest
	if !decodeJSON(w, r, maxPushBodyBytes, &req) {
		return
	}

	resp, err := h.push.Push(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, "sync push", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleBootstrap handles GET /sync/bootstrap requests.
func (h *SyncHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(msgMissingIdentity))
		return
	}

	resp, err := h.pull.Bootstrap(r.Context(), id, r.URL.Query().Get("business"))
	if err != nil {
		writeServiceError(w, r, "sync bootstrap", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parsePullQuery reads business, since and entities from the query string.
// An absent or empty entities parameter selects every entity type.
func parsePullQuery(w http.ResponseWriter, r *http.Request) (model.PullRequest, bool) {
	q := r.URL.Query()
	req := model.PullRequest{Business: q.Get("business")}

	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(msgInvalidSince))
			return req, false
		}
		since = since.UTC()
		req.Since = &since
	}

	if raw := q.Get("entities"); strings.TrimSpace(raw) != "" {
		req.Entities = []string{}
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				req.Entities = append(req.Entities, e)
			}
		}
	}

	return req, true
}
