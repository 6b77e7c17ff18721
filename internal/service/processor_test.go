package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

func newTestProcessor(store RecordStore) *ItemProcessor {
	return NewItemProcessor(newEntityRouter(store, func() time.Time { return testNow }))
}

func answerItem(id, entityID, value string) model.OutboxItem {
	return model.OutboxItem{
		ID:         id,
		EntityType: model.EntityAnswer,
		EntityID:   entityID,
		Operation:  model.OpUpsert,
		Payload: map[string]any{
			"id":               entityID,
			"inspection_id":    "insp-1",
			"template_item_id": "item-9",
			"value":            value,
			"updated_at":       "2024-01-01T00:00:00Z",
		},
	}
}

func TestProcess_UpsertIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := p.Process(ctx, "t1", "ina", answerItem("a1", "ans-1", "Pass"))
		if !res.Success || res.ID != "a1" {
			t.Fatalf("attempt %d: result = %+v, want success for a1", i+1, res)
		}
	}

	if n := env.count(t, "answers"); n != 2 {
		t.Errorf("answers = %d, want 2 (seeded ans-0 plus ans-1)", n)
	}
	rec := env.get(t, "answers", "ans-1")
	if rec.String("value") != "Pass" || rec.String("tenant_id") != "t1" {
		t.Errorf("row = %v, want value Pass in t1", rec)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got, _ := rec["updated_at"].(time.Time); !got.Equal(want) {
		t.Errorf("updated_at = %v, want client-supplied %v", rec["updated_at"], want)
	}
}

func TestProcess_CreatedAtSurvivesReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	ctx := context.Background()

	first := newTestProcessor(env.records)
	if res := first.Process(ctx, "t1", "ina", answerItem("a1", "ans-1", "Pass")); !res.Success {
		t.Fatalf("first upsert failed: %s", res.Error)
	}

	later := NewItemProcessor(newEntityRouter(env.records, func() time.Time { return testNow.Add(48 * time.Hour) }))
	item := answerItem("a2", "ans-1", "Fail")
	item.Payload["updated_at"] = "2024-01-02T00:00:00Z"
	if res := later.Process(ctx, "t1", "ina", item); !res.Success {
		t.Fatalf("second upsert failed: %s", res.Error)
	}

	rec := env.get(t, "answers", "ans-1")
	if rec.String("value") != "Fail" {
		t.Errorf("value = %q, want Fail", rec.String("value"))
	}
	if got, _ := rec["created_at"].(time.Time); !got.Equal(testNow) {
		t.Errorf("created_at = %v, want first write %v", rec["created_at"], testNow)
	}
}

func TestProcess_PayloadCreatedAtOnlyOnInsert(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)
	ctx := context.Background()

	first := answerItem("a1", "ans-1", "Pass")
	first.Payload["created_at"] = "2024-05-30T08:00:00Z"
	if res := p.Process(ctx, "t1", "ina", first); !res.Success {
		t.Fatalf("first upsert failed: %s", res.Error)
	}

	second := answerItem("a2", "ans-1", "Fail")
	second.Payload["created_at"] = "2020-01-01T00:00:00Z"
	if res := p.Process(ctx, "t1", "ina", second); !res.Success {
		t.Fatalf("second upsert failed: %s", res.Error)
	}

	rec := env.get(t, "answers", "ans-1")
	if rec.String("value") != "Fail" {
		t.Errorf("value = %q, want Fail", rec.String("value"))
	}
	want := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	if got, _ := rec["created_at"].(time.Time); !got.Equal(want) {
		t.Errorf("created_at = %v, want %v", rec["created_at"], want)
	}
}

func TestProcess_DeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)
	ctx := context.Background()

	del := model.OutboxItem{ID: "d1", EntityType: model.EntityAnswer, EntityID: "ans-0", Operation: model.OpDelete}
	for i := 0; i < 2; i++ {
		if res := p.Process(ctx, "t1", "ina", del); !res.Success {
			t.Fatalf("delete attempt %d failed: %s", i+1, res.Error)
		}
	}
	if n := env.count(t, "answers"); n != 0 {
		t.Errorf("answers = %d, want 0", n)
	}

	missing := model.OutboxItem{ID: "d2", EntityType: model.EntityFinding, EntityID: "never-existed", Operation: model.OpDelete}
	if res := p.Process(ctx, "t1", "ina", missing); !res.Success {
		t.Errorf("deleting a missing row failed: %s", res.Error)
	}
}

func TestProcess_DeleteIsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)

	res := p.Process(context.Background(), "t1", "ina", model.OutboxItem{
		ID: "d1", EntityType: model.EntityInspection, EntityID: "insp-oscar", Operation: model.OpDelete,
	})

	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	env.get(t, "inspections", "insp-oscar")
}

func TestProcess_TenantMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)

	item := answerItem("a1", "ans-1", "Pass")
	item.Payload["tenant_id"] = "t2"
	res := p.Process(context.Background(), "t1", "ina", item)

	if res.Success || res.Error != "Tenant mismatch" {
		t.Errorf("result = %+v, want Tenant mismatch", res)
	}
	if _, err := env.records.FindByID(context.Background(), "answers", "ans-1"); !errors.Is(err, repository.ErrRecordNotFound) {
		t.Errorf("expected no row written, got %v", err)
	}
}

func TestProcess_ExistingRowOfOtherTenant(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)

	res := p.Process(context.Background(), "t1", "ina", model.OutboxItem{
		ID: "i1", EntityType: model.EntityInspection, EntityID: "insp-oscar", Operation: model.OpUpsert,
		Payload: map[string]any{"job_id": "job-ina-1", "status": "completed"},
	})

	if res.Success || res.Error != "Tenant mismatch" {
		t.Errorf("result = %+v, want Tenant mismatch", res)
	}
	if got := env.get(t, "inspections", "insp-oscar"); got.String("tenant_id") != "t2" || got.String("status") != "draft" {
		t.Errorf("row of other tenant was modified: %v", got)
	}
}

func TestProcess_ItemFailures(t *testing.T) {
	tests := []struct {
		name    string
		item    model.OutboxItem
		wantErr string
	}{
		{
			name:    "unknown entity type",
			item:    model.OutboxItem{ID: "x", EntityType: "invoice", EntityID: "inv-1", Operation: model.OpUpsert, Payload: map[string]any{}},
			wantErr: "Unknown entity type: invoice",
		},
		{
			name:    "invalid operation",
			item:    model.OutboxItem{ID: "x", EntityType: model.EntityAnswer, EntityID: "ans-1", Operation: "merge"},
			wantErr: "Invalid operation: merge",
		},
		{
			name:    "missing entity id",
			item:    model.OutboxItem{ID: "x", EntityType: model.EntityAnswer, Operation: model.OpDelete},
			wantErr: "entity_id is required",
		},
		{
			name: "payload id differs from entity id",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityAnswer, EntityID: "ans-1", Operation: model.OpUpsert,
				Payload: map[string]any{"id": "ans-2", "inspection_id": "insp-1", "template_item_id": "item-9"}},
			wantErr: "Entity id mismatch",
		},
		{
			name: "missing required field",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityFinding, EntityID: "find-1", Operation: model.OpUpsert,
				Payload: map[string]any{"inspection_id": "insp-1", "severity": "major"}},
			wantErr: "title is required",
		},
		{
			name: "parent inspection missing",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityAnswer, EntityID: "ans-1", Operation: model.OpUpsert,
				Payload: map[string]any{"inspection_id": "insp-nope", "template_item_id": "item-9"}},
			wantErr: "Inspection not found or tenant mismatch",
		},
		{
			name: "parent inspection in other tenant",
			item: model.OutboxItem{ID: "x", EntityType: model.EntitySignature, EntityID: "sig-1", Operation: model.OpUpsert,
				Payload: map[string]any{"inspection_id": "insp-oscar", "signer_name": "Dana", "signer_type": "client", "signature_data": "data:image/png;base64,AA=="}},
			wantErr: "Inspection not found or tenant mismatch",
		},
		{
			name: "bad timestamp",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityAnswer, EntityID: "ans-1", Operation: model.OpUpsert,
				Payload: map[string]any{"inspection_id": "insp-1", "template_item_id": "item-9", "updated_at": "yesterday"}},
			wantErr: "Invalid value for updated_at",
		},
		{
			name: "fractional template version",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityInspection, EntityID: "insp-2", Operation: model.OpUpsert,
				Payload: map[string]any{"job_id": "job-ina-1", "template_version": 1.5}},
			wantErr: "Invalid value for template_version",
		},
		{
			name: "parent job missing",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityInspection, EntityID: "insp-2", Operation: model.OpUpsert,
				Payload: map[string]any{"job_id": "job-nope"}},
			wantErr: "Job not found or tenant mismatch",
		},
		{
			name: "parent job in other tenant",
			item: model.OutboxItem{ID: "x", EntityType: model.EntityInspection, EntityID: "insp-2", Operation: model.OpUpsert,
				Payload: map[string]any{"job_id": "job-oscar-1", "status": "in_progress"}},
			wantErr: "Job not found or tenant mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seedField(t)
			p := newTestProcessor(env.records)

			res := p.Process(context.Background(), "t1", "ina", tt.item)

			if res.Success {
				t.Fatal("expected failure")
			}
			if res.ID != "x" {
				t.Errorf("ID = %q, want x", res.ID)
			}
			if res.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantErr)
			}
		})
	}
}

func TestProcess_PayloadIsWhitelisted(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)

	res := p.Process(context.Background(), "t1", "ina", model.OutboxItem{
		ID: "f1", EntityType: model.EntityFinding, EntityID: "find-1", Operation: model.OpUpsert,
		Payload: map[string]any{
			"inspection_id":      "insp-1",
			"title":              "Loose railing",
			"severity":           "major",
			"estimated_cost_min": "150.5",
			"estimated_cost_max": float64(400),
			"is_admin":           true,
			"tenant_id":          "t1",
			"DROP TABLE":         "findings",
		},
	})
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	rec := env.get(t, "findings", "find-1")
	if _, ok := rec["is_admin"]; ok {
		t.Error("unknown payload key was written")
	}
	if rec["estimated_cost_min"] != 150.5 {
		t.Errorf("estimated_cost_min = %v, want 150.5", rec["estimated_cost_min"])
	}
}

func TestProcess_InspectionDefaultsInspectorToCaller(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)

	res := p.Process(context.Background(), "t1", "ina", model.OutboxItem{
		ID: "i1", EntityType: model.EntityInspection, EntityID: "insp-new", Operation: model.OpUpsert,
		Payload: map[string]any{
			"job_id":           "job-ina-1",
			"template_version": float64(2),
			"started_at":       "2024-06-01T09:30:00.250Z",
			"present_parties":  []any{"buyer", "agent"},
		},
	})
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	rec := env.get(t, "inspections", "insp-new")
	if rec.String("inspector_id") != "ina" {
		t.Errorf("inspector_id = %q, want ina", rec.String("inspector_id"))
	}
	if rec.String("status") != "draft" {
		t.Errorf("status = %q, want column default draft", rec.String("status"))
	}
	if rec.String("present_parties") != `["buyer","agent"]` {
		t.Errorf("present_parties = %q", rec.String("present_parties"))
	}
}

func TestProcess_JobStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedField(t)
	p := newTestProcessor(env.records)
	ctx := context.Background()

	res := p.Process(ctx, "t1", "ina", model.OutboxItem{
		ID: "s1", EntityType: model.EntityJobStatus, EntityID: "job-ina-1", Operation: model.OpUpsert,
		Payload: map[string]any{"status": "in_progress", "updated_at": "2024-06-01T10:00:00Z", "inspector_id": "bob"},
	})
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	job := env.get(t, "jobs", "job-ina-1")
	if job.String("status") != "in_progress" {
		t.Errorf("status = %q, want in_progress", job.String("status"))
	}
	if job.String("inspector_id") != "ina" {
		t.Errorf("inspector_id changed to %q", job.String("inspector_id"))
	}
	if got, _ := job["updated_at"].(time.Time); !got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("updated_at = %v", job["updated_at"])
	}

	failures := []struct {
		name    string
		item    model.OutboxItem
		wantErr string
	}{
		{"other tenant", model.OutboxItem{ID: "s2", EntityType: model.EntityJobStatus, EntityID: "job-oscar-1", Operation: model.OpUpsert,
			Payload: map[string]any{"status": "canceled"}}, "Job not found or tenant mismatch"},
		{"missing job", model.OutboxItem{ID: "s3", EntityType: model.EntityJobStatus, EntityID: "job-nope", Operation: model.OpUpsert,
			Payload: map[string]any{"status": "canceled"}}, "Job not found or tenant mismatch"},
		{"missing status", model.OutboxItem{ID: "s4", EntityType: model.EntityJobStatus, EntityID: "job-ina-1", Operation: model.OpUpsert,
			Payload: map[string]any{}}, "status is required"},
		{"delete", model.OutboxItem{ID: "s5", EntityType: model.EntityJobStatus, EntityID: "job-ina-1", Operation: model.OpDelete},
			"Unsupported operation for job_status: delete"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Process(ctx, "t1", "ina", tt.item)
			if res.Success || res.Error != tt.wantErr {
				t.Errorf("result = %+v, want error %q", res, tt.wantErr)
			}
		})
	}

	if got := env.get(t, "jobs", "job-oscar-1"); got.String("status") != "scheduled" {
		t.Errorf("other tenant's job status = %q, want scheduled", got.String("status"))
	}
}

type failingStore struct {
	RecordStore
	err error
}

func (f failingStore) FindByID(context.Context, string, string) (model.Record, error) {
	return nil, f.err
}

func (f failingStore) DeleteWhere(context.Context, string, ...repository.Condition) (int64, error) {
	return 0, f.err
}

func TestProcess_StoreErrorsAreNotLeaked(t *testing.T) {
	p := newTestProcessor(failingStore{err: errors.New("pq: connection reset by peer")})

	res := p.Process(context.Background(), "t1", "ina", answerItem("a1", "ans-1", "Pass"))

	if res.Success || res.Error != msgItemFailed {
		t.Errorf("result = %+v, want generic %q", res, msgItemFailed)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		kind    fieldKind
		want    any
		wantErr bool
	}{
		{"string", "Pass", kindString, "Pass", false},
		{"number as string", float64(72.5), kindString, "72.5", false},
		{"bool as string", true, kindString, "true", false},
		{"object as string", map[string]any{"a": float64(1)}, kindString, `{"a":1}`, false},
		{"numeric string", "12.25", kindNumber, 12.25, false},
		{"empty numeric string", "", kindNumber, nil, false},
		{"bad numeric string", "twelve", kindNumber, nil, true},
		{"integer", float64(3), kindInteger, int64(3), false},
		{"fractional integer", 3.5, kindInteger, nil, true},
		{"integer overflow", 1e20, kindInteger, nil, true},
		{"integer underflow", -1e20, kindInteger, nil, true},
		{"integer string", "7", kindInteger, int64(7), false},
		{"timestamp offset", "2024-01-01T02:00:00+02:00", kindTimestamp, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"timestamp as number", float64(1700000000), kindTimestamp, nil, true},
		{"null", nil, kindString, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.raw, tt.kind)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) || gt.Location() != time.UTC {
					t.Errorf("coerce() = %v, want %v in UTC", gt, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("coerce() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
