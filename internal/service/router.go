package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

// ItemError is a per-item failure whose message is safe to return to the client.
type ItemError struct {
	Message string
}

func (e *ItemError) Error() string { return e.Message }

func itemErr(format string, args ...any) *ItemError {
	return &ItemError{Message: fmt.Sprintf(format, args...)}
}

// ApplyInput is one mutation routed to an EntityHandler.
type ApplyInput struct {
	TenantID  string
	CallerID  string
	Operation model.Operation
	EntityID  string
	Payload   map[string]any
}

// EntityHandler owns the write shape of exactly one table.
type EntityHandler interface {
	Apply(ctx context.Context, in ApplyInput) error
}

// EntityRouter maps push entity-type tags to their handlers. The set is closed.
type EntityRouter struct {
	handlers map[string]EntityHandler
}

// NewEntityRouter wires the handlers for every pushable entity type.
func NewEntityRouter(store RecordStore) *EntityRouter {
	return newEntityRouter(store, time.Now)
}

func newEntityRouter(store RecordStore, now func() time.Time) *EntityRouter {
	return &EntityRouter{handlers: map[string]EntityHandler{
		model.EntityInspection: &tableHandler{
			store: store, now: now, table: tableInspections,
			fields: []field{
				{name: "job_id", kind: kindString, required: true},
				{name: "template_id", kind: kindString},
				{name: "template_version", kind: kindInteger},
				{name: "inspector_id", kind: kindString},
				{name: "status", kind: kindString, notNull: true},
				{name: "started_at", kind: kindTimestamp},
				{name: "completed_at", kind: kindTimestamp},
				{name: "weather_conditions", kind: kindString},
				{name: "temperature", kind: kindString},
				{name: "present_parties", kind: kindString},
				{name: "notes", kind: kindString},
			},
			parent:       &parentRef{column: "job_id", table: tableJobs, label: "Job"},
			callerColumn: "inspector_id",
		},
		model.EntityAnswer: &tableHandler{
			store: store, now: now, table: tableAnswers,
			fields: []field{
				{name: "inspection_id", kind: kindString, required: true},
				{name: "template_item_id", kind: kindString, required: true},
				{name: "section_id", kind: kindString},
				{name: "value", kind: kindString},
				{name: "notes", kind: kindString},
			},
			parent: inspectionParent,
		},
		model.EntityFinding: &tableHandler{
			store: store, now: now, table: tableFindings,
			fields: []field{
				{name: "inspection_id", kind: kindString, required: true},
				{name: "section_id", kind: kindString},
				{name: "template_item_id", kind: kindString},
				{name: "defect_library_id", kind: kindString},
				{name: "title", kind: kindString, required: true},
				{name: "description", kind: kindString},
				{name: "severity", kind: kindString, required: true},
				{name: "location", kind: kindString},
				{name: "recommendation", kind: kindString},
				{name: "estimated_cost_min", kind: kindNumber},
				{name: "estimated_cost_max", kind: kindNumber},
			},
			parent: inspectionParent,
		},
		model.EntitySignature: &tableHandler{
			store: store, now: now, table: tableSignatures,
			fields: []field{
				{name: "inspection_id", kind: kindString, required: true},
				{name: "signer_name", kind: kindString, required: true},
				{name: "signer_type", kind: kindString, required: true},
				{name: "signature_data", kind: kindString, required: true},
				{name: "signed_at", kind: kindTimestamp},
			},
			parent: inspectionParent,
		},
		model.EntityJobStatus: &jobStatusHandler{store: store, now: now},
	}}
}

// Route returns the handler for entityType.
func (r *EntityRouter) Route(entityType string) (EntityHandler, bool) {
	h, ok := r.handlers[entityType]
	return h, ok
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindInteger
	kindTimestamp
)

type field struct {
	name     string
	kind     fieldKind
	required bool
	notNull  bool // null payload values are dropped so the column default applies
}

// tableHandler upserts and deletes rows of one tenant-scoped table by id.
type tableHandler struct {
	store  RecordStore
	now    func() time.Time
	table  string
	fields []field

	// parent, when set, must reference a row in the caller's tenant.
	parent *parentRef
	// callerColumn is filled with the caller's id on first insert when the payload omits it.
	callerColumn string
}

type parentRef struct {
	column string
	table  string
	label  string
}

var inspectionParent = &parentRef{column: "inspection_id", table: tableInspections, label: "Inspection"}

var timestampFields = []field{
	{name: "created_at", kind: kindTimestamp},
	{name: "updated_at", kind: kindTimestamp},
}

func (h *tableHandler) Apply(ctx context.Context, in ApplyInput) error {
	if in.Operation == model.OpDelete {
		_, err := h.store.DeleteWhere(ctx, h.table,
			repository.Eq("id", in.EntityID),
			repository.Eq("tenant_id", in.TenantID),
		)
		return err
	}

	if pid, ok := in.Payload["id"]; ok && pid != nil && fmt.Sprint(pid) != in.EntityID {
		return itemErr("Entity id mismatch")
	}

	rec, err := coerceFields(in.Payload, append(h.fields, timestampFields...))
	if err != nil {
		return err
	}
	for _, f := range h.fields {
		if f.required && rec[f.name] == nil {
			return itemErr("%s is required", f.name)
		}
	}

	existing, err := h.store.FindByID(ctx, h.table, in.EntityID)
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		existing = nil
	case err != nil:
		return err
	case existing.String("tenant_id") != in.TenantID:
		return itemErr("Tenant mismatch")
	}

	if h.parent != nil {
		parent, err := h.store.FindByID(ctx, h.parent.table, rec[h.parent.column].(string))
		if errors.Is(err, repository.ErrRecordNotFound) || (err == nil && parent.String("tenant_id") != in.TenantID) {
			return itemErr("%s not found or tenant mismatch", h.parent.label)
		}
		if err != nil {
			return err
		}
	}

	// created_at is insert-only, so a stored value is never replaced.
	updateCols := make([]string, 0, len(rec)+1)
	for col := range rec {
		if col != "created_at" {
			updateCols = append(updateCols, col)
		}
	}

	now := h.now().UTC()
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = now
	}
	if _, ok := rec["updated_at"]; !ok {
		rec["updated_at"] = now
		updateCols = append(updateCols, "updated_at")
	}
	if h.callerColumn != "" && existing == nil {
		if _, ok := rec[h.callerColumn]; !ok {
			rec[h.callerColumn] = in.CallerID
		}
	}

	rec["id"] = in.EntityID
	rec["tenant_id"] = in.TenantID

	return h.store.Upsert(ctx, h.table, rec, updateCols)
}

// jobStatusHandler updates only a job's status; it never upserts a job row.
type jobStatusHandler struct {
	store RecordStore
	now   func() time.Time
}

func (h *jobStatusHandler) Apply(ctx context.Context, in ApplyInput) error {
	if in.Operation != model.OpUpsert {
		return itemErr("Unsupported operation for %s: %s", model.EntityJobStatus, in.Operation)
	}

	rec, err := coerceFields(in.Payload, []field{
		{name: "status", kind: kindString},
		{name: "updated_at", kind: kindTimestamp},
	})
	if err != nil {
		return err
	}
	status, _ := rec["status"].(string)
	if status == "" {
		return itemErr("status is required")
	}

	job, err := h.store.FindByID(ctx, tableJobs, in.EntityID)
	if errors.Is(err, repository.ErrRecordNotFound) || (err == nil && job.String("tenant_id") != in.TenantID) {
		return itemErr("Job not found or tenant mismatch")
	}
	if err != nil {
		return err
	}

	updatedAt, ok := rec["updated_at"].(time.Time)
	if !ok {
		updatedAt = h.now().UTC()
	}

	_, err = h.store.UpdateWhere(ctx, tableJobs,
		model.Record{"status": status, "updated_at": updatedAt},
		repository.Eq("id", in.EntityID),
		repository.Eq("tenant_id", in.TenantID),
	)
	return err
}

// coerceFields copies whitelisted fields present in payload into a record,
// converting each to its column type. Unknown payload keys are ignored.
func coerceFields(payload map[string]any, fields []field) (model.Record, error) {
	rec := make(model.Record, len(fields))
	for _, f := range fields {
		raw, ok := payload[f.name]
		if !ok {
			continue
		}
		v, err := coerce(raw, f.kind)
		if err != nil {
			return nil, itemErr("Invalid value for %s", f.name)
		}
		if v == nil && (f.notNull || f.required) {
			continue
		}
		rec[f.name] = v
	}
	return rec, nil
}

var errBadValue = errors.New("bad value")

func coerce(raw any, kind fieldKind) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch kind {
	case kindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case json.Number:
			return v.String(), nil
		case bool:
			return strconv.FormatBool(v), nil
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}

	case kindNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case json.Number:
			return v.Float64()
		case string:
			if v == "" {
				return nil, nil
			}
			return strconv.ParseFloat(v, 64)
		}

	case kindInteger:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
				return nil, errBadValue
			}
			return int64(v), nil
		case json.Number:
			return v.Int64()
		case string:
			if v == "" {
				return nil, nil
			}
			return strconv.ParseInt(v, 10, 64)
		}

	case kindTimestamp:
		if v, ok := raw.(string); ok {
			if v == "" {
				return nil, nil
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, err
			}
			return t.UTC(), nil
		}
	}

	return nil, errBadValue
}
