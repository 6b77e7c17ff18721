package service

import (
	"context"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

// RecordStore reads and writes syncable rows. Implemented by repository.RecordRepository.
type RecordStore interface {
	Find(ctx context.Context, table string, conds ...repository.Condition) ([]model.Record, error)
	FindByID(ctx context.Context, table, id string) (model.Record, error)
	Upsert(ctx context.Context, table string, rec model.Record, updateCols []string) error
	UpdateWhere(ctx context.Context, table string, set model.Record, conds ...repository.Condition) (int64, error)
	DeleteWhere(ctx context.Context, table string, conds ...repository.Condition) (int64, error)
}

// TenantStore resolves tenants, memberships and profiles. Implemented by
// repository.TenantRepository.
type TenantStore interface {
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	GetByBusinessID(ctx context.Context, businessID string) (*model.Tenant, error)
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*model.Membership, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// BillingVerifier reports whether a tenant's subscription allows access.
// A non-nil error means the lookup itself failed.
type BillingVerifier interface {
	VerifyAccess(ctx context.Context, tenantID string) (model.BillingAccess, error)
}

// Table names of the syncable entities.
const (
	tableTemplates        = "templates"
	tableTemplateSections = "template_sections"
	tableTemplateItems    = "template_items"
	tableJobs             = "jobs"
	tableProperties       = "properties"
	tableClients          = "clients"
	tableInspections      = "inspections"
	tableAnswers          = "answers"
	tableFindings         = "findings"
	tableSignatures       = "signatures"
	tableDefectLibrary    = "defect_library"
	tableServices         = "services"
)
