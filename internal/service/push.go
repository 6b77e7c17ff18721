package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
)

const (
	msgMissingTenantID = "tenant_id is required"
	msgMissingItems    = "items array is required"
)

// PushService replays a client's outbox batch against the store.
type PushService struct {
	guard     *Guard
	processor *ItemProcessor
	maxItems  int
	now       func() time.Time
}

// NewPushService creates a new PushService. maxItems <= 0 disables the batch cap.
func NewPushService(guard *Guard, processor *ItemProcessor, maxItems int) *PushService {
	return &PushService{guard: guard, processor: processor, maxItems: maxItems, now: time.Now}
}

// Push validates the batch shape, admits the caller as a member of the batch's
// tenant, then applies every item in order. A failing item never stops the batch
// and never rolls back items already applied.
func (s *PushService) Push(ctx context.Context, id model.Identity, req model.PushRequest) (model.PushResponse, error) {
	if id.UserID == "" {
		return model.PushResponse{}, reject(http.StatusUnauthorized, msgMissingToken)
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return model.PushResponse{}, reject(http.StatusBadRequest, msgMissingTenantID)
	}
	if req.Items == nil {
		return model.PushResponse{}, reject(http.StatusBadRequest, msgMissingItems)
	}
	items := *req.Items
	if s.maxItems > 0 && len(items) > s.maxItems {
		return model.PushResponse{}, reject(http.StatusBadRequest,
			fmt.Sprintf("Too many items: %d exceeds the limit of %d", len(items), s.maxItems))
	}

	access, err := s.guard.AuthorizeMember(ctx, id, tenantID)
	if err != nil {
		return model.PushResponse{}, err
	}

	start := time.Now()
	resp := model.PushResponse{
		Success: true,
		Results: make([]model.ItemResult, 0, len(items)),
	}
	for _, item := range items {
		result := s.processItem(ctx, access, item)
		resp.Processed++
		if result.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}
	resp.SyncedAt = s.now().UTC()

	slog.Info("sync push completed",
		"tenant_id", tenantID,
		"user_id", id.UserID,
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"duration", time.Since(start),
	)

	return resp, nil
}

func (s *PushService) processItem(ctx context.Context, access *AccessContext, item model.OutboxItem) (result model.ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync item panicked", "item_id", item.ID, "entity_type", item.EntityType, "panic", r)
			result = model.ItemResult{ID: item.ID, Success: false, Error: msgItemFailed}
		}
	}()
	return s.processor.Process(ctx, access.Tenant.ID, access.UserID, item)
}
