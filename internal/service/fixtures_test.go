package service

import (
	"context"
	"testing"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

// testNow is the fixed clock used by store-backed tests.
var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db      *repository.DB
	records *repository.RecordRepository
	tenants *repository.TenantRepository
	guard   *Guard
	billing *fakeBilling
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.NewDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewDB() unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() unexpected error: %v", err)
	}

	env := &testEnv{
		db:      db,
		records: repository.NewRecordRepository(db),
		tenants: repository.NewTenantRepository(db),
		billing: &fakeBilling{access: model.BillingAccess{Allowed: true}},
	}
	env.guard = NewGuard(env.tenants, env.billing)
	env.seedAccounts(t)
	return env
}

func (e *testEnv) insert(t *testing.T, table string, rec model.Record) {
	t.Helper()
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = testNow
	}
	if _, ok := rec["updated_at"]; !ok && table != "tenant_members" {
		rec["updated_at"] = testNow
	}
	if err := e.records.Upsert(context.Background(), table, rec, nil); err != nil {
		t.Fatalf("seeding %s %v: %v", table, rec["id"], err)
	}
}

func (e *testEnv) get(t *testing.T, table, id string) model.Record {
	t.Helper()
	rec, err := e.records.FindByID(context.Background(), table, id)
	if err != nil {
		t.Fatalf("FindByID(%s, %s) unexpected error: %v", table, id, err)
	}
	return rec
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	recs, err := e.records.Find(context.Background(), table)
	if err != nil {
		t.Fatalf("Find(%s) unexpected error: %v", table, err)
	}
	return len(recs)
}

// seedAccounts creates tenants t1 (acme) and t2 (globex). ina and bob are
// inspectors in t1, oscar is an inspector in t2, and olive is office staff in t1.
func (e *testEnv) seedAccounts(t *testing.T) {
	e.insert(t, "tenants", model.Record{"id": "t1", "name": "Acme Inspections", "slug": "acme", "business_id": "ACME01", "settings": "{}"})
	e.insert(t, "tenants", model.Record{"id": "t2", "name": "Globex", "slug": "globex", "business_id": "GLBX02", "settings": "{}"})

	for _, p := range []struct{ id, email string }{
		{"ina", "ina@acme.test"}, {"bob", "bob@acme.test"}, {"oscar", "oscar@globex.test"}, {"olive", "olive@acme.test"},
	} {
		e.insert(t, "profiles", model.Record{"id": p.id, "email": p.email, "full_name": p.id, "is_inspector": false})
	}

	for _, m := range []struct{ id, tenant, user, role string }{
		{"m1", "t1", "ina", model.RoleInspector},
		{"m2", "t1", "bob", model.RoleInspector},
		{"m3", "t2", "oscar", model.RoleInspector},
		{"m4", "t1", "olive", "admin"},
	} {
		e.insert(t, "tenant_members", model.Record{"id": m.id, "tenant_id": m.tenant, "user_id": m.user, "role": m.role, "status": "active"})
	}
}

func date(days int) string {
	return testNow.AddDate(0, 0, days).Format(dateLayout)
}

// seedField creates the t1 reference data plus jobs and inspections for ina
// and bob. job-ina-far is scheduled outside the sync window.
func (e *testEnv) seedField(t *testing.T) {
	e.insert(t, "templates", model.Record{"id": "tpl-1", "tenant_id": "t1", "name": "Residential", "version": 2, "is_active": true})
	e.insert(t, "templates", model.Record{"id": "tpl-old", "tenant_id": "t1", "name": "Retired", "is_active": false})
	e.insert(t, "templates", model.Record{"id": "tpl-t2", "tenant_id": "t2", "name": "Globex", "is_active": true})
	e.insert(t, "template_sections", model.Record{"id": "sec-1", "template_id": "tpl-1", "name": "Roof", "sort_order": 1})
	e.insert(t, "template_sections", model.Record{"id": "sec-2", "template_id": "tpl-1", "name": "Plumbing", "sort_order": 2})
	e.insert(t, "template_items", model.Record{"id": "item-9", "section_id": "sec-1", "name": "Shingles", "item_type": "select", "options": `["Pass","Fail"]`, "is_required": true})

	e.insert(t, "properties", model.Record{"id": "prop-1", "tenant_id": "t1", "address": "1 Main St"})
	e.insert(t, "properties", model.Record{"id": "prop-far", "tenant_id": "t1", "address": "9 Far Rd"})
	e.insert(t, "properties", model.Record{"id": "prop-bob", "tenant_id": "t1", "address": "2 Side St"})
	e.insert(t, "clients", model.Record{"id": "client-1", "tenant_id": "t1", "name": "Dana"})
	e.insert(t, "clients", model.Record{"id": "client-bob", "tenant_id": "t1", "name": "Eli"})

	e.insert(t, "jobs", model.Record{"id": "job-ina-1", "tenant_id": "t1", "inspector_id": "ina", "property_id": "prop-1", "client_id": "client-1", "template_id": "tpl-1", "scheduled_date": date(1)})
	e.insert(t, "jobs", model.Record{"id": "job-ina-far", "tenant_id": "t1", "inspector_id": "ina", "property_id": "prop-far", "scheduled_date": date(30)})
	e.insert(t, "jobs", model.Record{"id": "job-bob-1", "tenant_id": "t1", "inspector_id": "bob", "property_id": "prop-bob", "client_id": "client-bob", "scheduled_date": date(2)})
	e.insert(t, "jobs", model.Record{"id": "job-oscar-1", "tenant_id": "t2", "inspector_id": "oscar", "scheduled_date": date(1)})

	e.insert(t, "inspections", model.Record{"id": "insp-1", "tenant_id": "t1", "job_id": "job-ina-1", "inspector_id": "ina", "status": "draft"})
	e.insert(t, "inspections", model.Record{"id": "insp-far", "tenant_id": "t1", "job_id": "job-ina-far", "inspector_id": "ina", "status": "draft"})
	e.insert(t, "inspections", model.Record{"id": "insp-bob", "tenant_id": "t1", "job_id": "job-bob-1", "inspector_id": "bob", "status": "draft"})
	e.insert(t, "inspections", model.Record{"id": "insp-oscar", "tenant_id": "t2", "job_id": "job-oscar-1", "inspector_id": "oscar", "status": "draft"})

	e.insert(t, "answers", model.Record{"id": "ans-0", "tenant_id": "t1", "inspection_id": "insp-1", "template_item_id": "item-9", "value": "Fail"})
	e.insert(t, "findings", model.Record{"id": "find-0", "tenant_id": "t1", "inspection_id": "insp-1", "title": "Cracked tile", "severity": "minor"})

	e.insert(t, "defect_library", model.Record{"id": "def-1", "tenant_id": "t1", "name": "Cracked tile"})
	e.insert(t, "services", model.Record{"id": "svc-1", "tenant_id": "t1", "name": "Radon", "is_active": true})
	e.insert(t, "services", model.Record{"id": "svc-off", "tenant_id": "t1", "name": "Mold", "is_active": false})
}
