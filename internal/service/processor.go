package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inspectsync/inspectsync-go/internal/model"
)

const msgItemFailed = "Failed to apply item"

// ItemProcessor applies single outbox items. Replaying an item yields the
// same row state because every write is keyed by the client-supplied id.
type ItemProcessor struct {
	router *EntityRouter
}

// NewItemProcessor creates a new ItemProcessor.
func NewItemProcessor(router *EntityRouter) *ItemProcessor {
	return &ItemProcessor{router: router}
}

// Process applies item for the caller in tenantID. Failures are reported in
// the result, never returned.
func (p *ItemProcessor) Process(ctx context.Context, tenantID, callerID string, item model.OutboxItem) model.ItemResult {
	if err := p.apply(ctx, tenantID, callerID, item); err != nil {
		return model.ItemResult{ID: item.ID, Success: false, Error: clientMessage(err, item)}
	}
	return model.ItemResult{ID: item.ID, Success: true}
}

func (p *ItemProcessor) apply(ctx context.Context, tenantID, callerID string, item model.OutboxItem) error {
	if item.Operation != model.OpUpsert && item.Operation != model.OpDelete {
		return itemErr("Invalid operation: %s", item.Operation)
	}
	if item.EntityID == "" {
		return itemErr("entity_id is required")
	}

	if item.Operation == model.OpUpsert {
		if raw, ok := item.Payload["tenant_id"]; ok && raw != nil && fmt.Sprint(raw) != tenantID {
			return itemErr("Tenant mismatch")
		}
	}

	handler, ok := p.router.Route(item.EntityType)
	if !ok {
		return itemErr("Unknown entity type: %s", item.EntityType)
	}

	payload := item.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return handler.Apply(ctx, ApplyInput{
		TenantID:  tenantID,
		CallerID:  callerID,
		Operation: item.Operation,
		EntityID:  item.EntityID,
		Payload:   payload,
	})
}

// clientMessage keeps store and driver errors out of the response body.
func clientMessage(err error, item model.OutboxItem) string {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.Message
	}
	slog.Error("sync item failed",
		"item_id", item.ID,
		"entity_type", item.EntityType,
		"entity_id", item.EntityID,
		"error", err,
	)
	return msgItemFailed
}
