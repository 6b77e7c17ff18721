package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/inspectsync/inspectsync-go/internal/model"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrProfileNotFound    = errors.New("profile not found")
)

// TenantRepository handles tenant, membership and profile lookups.
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, slug, COALESCE(business_id, ''), settings, created_at, updated_at`

// GetBySlug retrieves a tenant by its exact slug.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return r.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = ?`, slug)
}

// GetByBusinessID retrieves a tenant by its business code. Codes are stored upper-case.
func (r *TenantRepository) GetByBusinessID(ctx context.Context, businessID string) (*model.Tenant, error) {
	return r.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE business_id = ?`, strings.ToUpper(businessID))
}

// GetByID retrieves a tenant by its ID.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	return r.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
}

func (r *TenantRepository) getTenant(ctx context.Context, query string, arg string) (*model.Tenant, error) {
	t := &model.Tenant{}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), arg).Scan(
		&t.ID, &t.Name, &t.Slug, &t.BusinessID, &t.Settings, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetMembership retrieves the user's membership in a tenant, including the
// inspector flag from the user's profile.
func (r *TenantRepository) GetMembership(ctx context.Context, tenantID, userID string) (*model.Membership, error) {
	query := `SELECT m.id, m.tenant_id, m.user_id, m.role, m.status, COALESCE(p.is_inspector, ` + r.db.falseLiteral() + `)
		FROM tenant_members m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.tenant_id = ? AND m.user_id = ?`

	m := &model.Membership{}
	var isInspector any
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), tenantID, userID).Scan(
		&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.Status, &isInspector,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	m.IsInspector = truthy(isInspector)
	return m, nil
}

// GetProfile retrieves a user profile by ID.
func (r *TenantRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	query := `SELECT id, email, COALESCE(full_name, ''), COALESCE(avatar_url, ''), is_inspector
		FROM profiles WHERE id = ?`

	p := &model.Profile{}
	var isInspector any
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), userID).Scan(
		&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &isInspector,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	p.IsInspector = truthy(isInspector)
	return p, nil
}

// Rebind rewrites ? placeholders into the dialect's bind markers.
func (db *DB) Rebind(query string) string {
	if db.Dialect.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString(db.Dialect.Placeholder(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (db *DB) falseLiteral() string {
	if db.Dialect.Name() == "postgres" {
		return "FALSE"
	}
	return "0"
}

// truthy normalizes boolean columns across drivers (bool, integer, text).
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case []byte:
		parsed, _ := strconv.ParseBool(string(b))
		return parsed
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}
