package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

const (
	dateLayout        = "2006-01-02"
	defaultWindowDays = 14
)

// PullService assembles cursor-filtered change sets scoped to one inspector.
type PullService struct {
	guard      *Guard
	records    RecordStore
	tenants    TenantStore
	windowDays int
	now        func() time.Time
}

// NewPullService creates a new PullService. windowDays bounds how far ahead
// scheduled jobs are synced.
func NewPullService(guard *Guard, records RecordStore, tenants TenantStore, windowDays int) *PullService {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	return &PullService{
		guard:      guard,
		records:    records,
		tenants:    tenants,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// Pull admits the caller as an inspector of req.Business and returns every
// requested entity type changed after req.Since.
func (s *PullService) Pull(ctx context.Context, id model.Identity, req model.PullRequest) (model.PullResponse, error) {
	access, err := s.guard.AuthorizeInspector(ctx, id, req.Business)
	if err != nil {
		return model.PullResponse{}, err
	}

	changes, err := s.Changes(ctx, access.Tenant.ID, access.UserID, req.Since, req.Entities)
	if err != nil {
		return model.PullResponse{}, err
	}

	return model.PullResponse{Success: true, Changes: changes, SyncedAt: s.now().UTC()}, nil
}

// Changes computes the change set for callerID in tenantID. A nil entities
// slice means every known type; unknown names are ignored. Any store error
// fails the whole call.
func (s *PullService) Changes(ctx context.Context, tenantID, callerID string, since *time.Time, entities []string) (map[string][]model.Record, error) {
	want := wantedEntities(entities)
	changes := make(map[string][]model.Record, len(want))

	if want[model.PullTemplates] {
		templates, err := s.templates(ctx, tenantID, since)
		if err != nil {
			return nil, fmt.Errorf("pulling templates: %w", err)
		}
		changes[model.PullTemplates] = templates
	}

	if want[model.PullJobs] || want[model.PullProperties] || want[model.PullClients] {
		jobs, err := s.jobs(ctx, tenantID, callerID, since)
		if err != nil {
			return nil, fmt.Errorf("pulling jobs: %w", err)
		}
		if want[model.PullJobs] {
			changes[model.PullJobs] = jobs
		}
		if want[model.PullProperties] {
			props, err := s.referenced(ctx, tableProperties, tenantID, jobs, "property_id")
			if err != nil {
				return nil, fmt.Errorf("pulling properties: %w", err)
			}
			changes[model.PullProperties] = props
		}
		if want[model.PullClients] {
			clients, err := s.referenced(ctx, tableClients, tenantID, jobs, "client_id")
			if err != nil {
				return nil, fmt.Errorf("pulling clients: %w", err)
			}
			changes[model.PullClients] = clients
		}
	}

	if want[model.PullInspections] {
		inspections, err := s.inspections(ctx, tenantID, callerID, since)
		if err != nil {
			return nil, fmt.Errorf("pulling inspections: %w", err)
		}
		changes[model.PullInspections] = inspections
	}

	if want[model.PullDefectLibrary] {
		defects, err := s.find(ctx, tableDefectLibrary, since, repository.Eq("tenant_id", tenantID))
		if err != nil {
			return nil, fmt.Errorf("pulling defect library: %w", err)
		}
		changes[model.PullDefectLibrary] = defects
	}

	if want[model.PullServices] {
		services, err := s.find(ctx, tableServices, since,
			repository.Eq("tenant_id", tenantID),
			repository.Eq("is_active", true),
		)
		if err != nil {
			return nil, fmt.Errorf("pulling services: %w", err)
		}
		changes[model.PullServices] = services
	}

	return changes, nil
}

// Bootstrap returns a full snapshot plus the tenant and caller blocks a
// freshly provisioned device needs.
func (s *PullService) Bootstrap(ctx context.Context, id model.Identity, business string) (model.BootstrapResponse, error) {
	access, err := s.guard.AuthorizeInspector(ctx, id, business)
	if err != nil {
		return model.BootstrapResponse{}, err
	}

	changes, err := s.Changes(ctx, access.Tenant.ID, access.UserID, nil, nil)
	if err != nil {
		return model.BootstrapResponse{}, err
	}

	user := model.BootstrapUser{ID: access.UserID, Email: id.Email, Role: access.Membership.Role}
	profile, err := s.tenants.GetProfile(ctx, access.UserID)
	switch {
	case err == nil:
		user.Email = profile.Email
		user.FullName = profile.FullName
		user.AvatarURL = profile.AvatarURL
	case errors.Is(err, repository.ErrProfileNotFound):
		slog.Warn("bootstrap without profile", "user_id", access.UserID)
	default:
		return model.BootstrapResponse{}, fmt.Errorf("loading profile: %w", err)
	}

	return model.BootstrapResponse{
		Success: true,
		Data: model.BootstrapData{
			Tenant: model.BootstrapTenant{
				ID:   access.Tenant.ID,
				Name: access.Tenant.Name,
				Slug: access.Tenant.Slug,
			},
			User:          user,
			Templates:     changes[model.PullTemplates],
			Jobs:          changes[model.PullJobs],
			Properties:    changes[model.PullProperties],
			Clients:       changes[model.PullClients],
			DefectLibrary: changes[model.PullDefectLibrary],
			Services:      changes[model.PullServices],
			Inspections:   changes[model.PullInspections],
		},
		SyncedAt: s.now().UTC(),
	}, nil
}

func wantedEntities(entities []string) map[string]bool {
	want := make(map[string]bool, len(model.PullEntities))
	if entities == nil {
		for _, e := range model.PullEntities {
			want[e] = true
		}
		return want
	}
	for _, e := range model.PullEntities {
		for _, r := range entities {
			if r == e {
				want[e] = true
			}
		}
	}
	return want
}

// find runs a tenant-scoped query with the strict updated_at cursor applied.
// The result is never nil so every requested type serializes as an array.
func (s *PullService) find(ctx context.Context, table string, since *time.Time, conds ...repository.Condition) ([]model.Record, error) {
	if since != nil {
		conds = append(conds, repository.Gt("updated_at", since.UTC()))
	}
	recs, err := s.records.Find(ctx, table, conds...)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.Record{}
	}
	for _, rec := range recs {
		normalize(rec)
	}
	return recs, nil
}

// templates returns active templates with their sections and items nested.
// The cursor applies to the template row only.
func (s *PullService) templates(ctx context.Context, tenantID string, since *time.Time) ([]model.Record, error) {
	templates, err := s.find(ctx, tableTemplates, since,
		repository.Eq("tenant_id", tenantID),
		repository.Eq("is_active", true),
	)
	if err != nil || len(templates) == 0 {
		return templates, err
	}

	sections, err := s.find(ctx, tableTemplateSections, nil, repository.In("template_id", ids(templates)))
	if err != nil {
		return nil, err
	}
	items, err := s.find(ctx, tableTemplateItems, nil, repository.In("section_id", ids(sections)))
	if err != nil {
		return nil, err
	}

	itemsBySection := groupBy(items, "section_id")
	for _, sec := range sections {
		sec["template_items"] = orEmpty(itemsBySection[sec.ID()])
	}
	sectionsByTemplate := groupBy(sections, "template_id")
	for _, tpl := range templates {
		tpl["template_sections"] = orEmpty(sectionsByTemplate[tpl.ID()])
	}
	return templates, nil
}

// jobs returns the caller's jobs scheduled between today and today+windowDays (UTC).
func (s *PullService) jobs(ctx context.Context, tenantID, callerID string, since *time.Time) ([]model.Record, error) {
	today := s.now().UTC()
	end := today.AddDate(0, 0, s.windowDays)

	return s.find(ctx, tableJobs, since,
		repository.Eq("tenant_id", tenantID),
		repository.Eq("inspector_id", callerID),
		repository.Gte("scheduled_date", today.Format(dateLayout)),
		repository.Lte("scheduled_date", end.Format(dateLayout)),
	)
}

// referenced loads the rows of table whose ids appear in the jobs' refCol.
// No cursor is applied; these rows have no ownership scope of their own.
func (s *PullService) referenced(ctx context.Context, table, tenantID string, jobs []model.Record, refCol string) ([]model.Record, error) {
	refs := distinct(jobs, refCol)
	if len(refs) == 0 {
		return []model.Record{}, nil
	}
	return s.find(ctx, table, nil,
		repository.Eq("tenant_id", tenantID),
		repository.In("id", refs),
	)
}

// inspections returns inspections on any of the caller's jobs, each carrying
// its answers, findings and signatures.
func (s *PullService) inspections(ctx context.Context, tenantID, callerID string, since *time.Time) ([]model.Record, error) {
	jobs, err := s.records.Find(ctx, tableJobs,
		repository.Eq("tenant_id", tenantID),
		repository.Eq("inspector_id", callerID),
	)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return []model.Record{}, nil
	}

	inspections, err := s.find(ctx, tableInspections, since,
		repository.Eq("tenant_id", tenantID),
		repository.In("job_id", ids(jobs)),
	)
	if err != nil || len(inspections) == 0 {
		return inspections, err
	}

	inspectionIDs := ids(inspections)
	for _, child := range []string{tableAnswers, tableFindings, tableSignatures} {
		rows, err := s.find(ctx, child, nil, repository.In("inspection_id", inspectionIDs))
		if err != nil {
			return nil, err
		}
		byInspection := groupBy(rows, "inspection_id")
		for _, insp := range inspections {
			insp[child] = orEmpty(byInspection[insp.ID()])
		}
	}
	return inspections, nil
}

// normalize smooths over driver differences in how rows come back.
func normalize(rec model.Record) {
	for _, col := range []string{"is_active", "is_required"} {
		if v, ok := rec[col]; ok && v != nil {
			rec[col] = asBool(v)
		}
	}
	if t, ok := rec["scheduled_date"].(time.Time); ok {
		rec["scheduled_date"] = t.Format(dateLayout)
	}
	if opts, ok := rec["options"].(string); ok && json.Valid([]byte(opts)) {
		rec["options"] = json.RawMessage(opts)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

func ids(recs []model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func distinct(recs []model.Record, col string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		v := r.String(col)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func groupBy(recs []model.Record, col string) map[string][]model.Record {
	out := make(map[string][]model.Record)
	for _, r := range recs {
		key := r.String(col)
		out[key] = append(out[key], r)
	}
	return out
}

func orEmpty(recs []model.Record) []model.Record {
	if recs == nil {
		return []model.Record{}
	}
	return recs
}
