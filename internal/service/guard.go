package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

// Client-facing rejection messages.
const (
	msgMissingToken        = "Missing access token"
	msgMissingBusiness     = "Missing business parameter"
	msgNotBusinessMember   = "Not a member of this business"
	msgNotTenantMember     = "Not a member of this tenant"
	msgBillingLookupFailed = "Failed to verify business billing status"
	msgBillingUnpaid       = "Business subscription is unpaid. Access is disabled until payment is received."
	msgInspectorOnly       = "Inspector mobile access is restricted to inspector seats."
)

// AccessError is a terminal rejection carrying the HTTP status to report.
type AccessError struct {
	Status  int
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AccessError) Unwrap() error { return e.Err }

func reject(status int, msg string) *AccessError {
	return &AccessError{Status: status, Message: msg}
}

// AccessContext is the authenticated caller scoped to one tenant.
type AccessContext struct {
	UserID     string
	Tenant     *model.Tenant
	Membership *model.Membership
}

// Guard is the shared precondition check in front of Pull, Push and Bootstrap.
// It performs no writes.
type Guard struct {
	tenants TenantStore
	billing BillingVerifier
}

// NewGuard creates a new Guard.
func NewGuard(tenants TenantStore, billing BillingVerifier) *Guard {
	return &Guard{tenants: tenants, billing: billing}
}

// ResolveTenant finds a tenant by exact slug, then by upper-cased business code.
func (g *Guard) ResolveTenant(ctx context.Context, identifier string) (*model.Tenant, error) {
	identifier = strings.TrimSpace(identifier)

	tenant, err := g.tenants.GetBySlug(ctx, identifier)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrTenantNotFound) {
		return nil, fmt.Errorf("resolving tenant by slug: %w", err)
	}

	tenant, err = g.tenants.GetByBusinessID(ctx, strings.ToUpper(identifier))
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving tenant by business id: %w", err)
	}
	return tenant, nil
}

// AuthorizeInspector admits an inspector of the business named by slug or
// business code, provided the business's billing is current.
func (g *Guard) AuthorizeInspector(ctx context.Context, id model.Identity, business string) (*AccessContext, error) {
	if id.UserID == "" {
		return nil, reject(http.StatusUnauthorized, msgMissingToken)
	}
	if strings.TrimSpace(business) == "" {
		return nil, reject(http.StatusBadRequest, msgMissingBusiness)
	}

	tenant, err := g.ResolveTenant(ctx, business)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			// Same answer as a missing membership so tenants cannot be enumerated.
			return nil, reject(http.StatusUnauthorized, msgNotBusinessMember)
		}
		return nil, err
	}

	membership, err := g.activeMembership(ctx, tenant.ID, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, reject(http.StatusUnauthorized, msgNotBusinessMember)
		}
		return nil, err
	}

	access, err := g.billing.VerifyAccess(ctx, tenant.ID)
	if err != nil {
		return nil, &AccessError{Status: http.StatusInternalServerError, Message: msgBillingLookupFailed, Err: err}
	}
	if !access.Allowed {
		return nil, reject(http.StatusPaymentRequired, msgBillingUnpaid)
	}

	if !membership.HasInspectorSeat() {
		return nil, reject(http.StatusUnauthorized, msgInspectorOnly)
	}

	return &AccessContext{UserID: id.UserID, Tenant: tenant, Membership: membership}, nil
}

// AuthorizeMember admits any active member of the tenant with the given id.
func (g *Guard) AuthorizeMember(ctx context.Context, id model.Identity, tenantID string) (*AccessContext, error) {
	if id.UserID == "" {
		return nil, reject(http.StatusUnauthorized, msgMissingToken)
	}

	membership, err := g.activeMembership(ctx, tenantID, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, reject(http.StatusUnauthorized, msgNotTenantMember)
		}
		return nil, err
	}

	return &AccessContext{
		UserID:     id.UserID,
		Tenant:     &model.Tenant{ID: tenantID},
		Membership: membership,
	}, nil
}

func (g *Guard) activeMembership(ctx context.Context, tenantID, userID string) (*model.Membership, error) {
	m, err := g.tenants.GetMembership(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading membership: %w", err)
	}
	if !m.IsActive() {
		return nil, repository.ErrMembershipNotFound
	}
	return m, nil
}
