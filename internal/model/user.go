package model

import "time"

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	UserID string
	Email  string
}

// Profile represents a user profile row.
type Profile struct {
	ID          string
	Email       string
	FullName    string
	AvatarURL   string
	IsInspector bool
}

// Tenant represents a customer business.
type Tenant struct {
	ID         string
	Name       string
	Slug       string
	BusinessID string
	Settings   string // raw JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Membership links a user to a tenant.
type Membership struct {
	ID          string
	TenantID    string
	UserID      string
	Role        string
	Status      string
	IsInspector bool // from the member's profile
}

// Member roles and statuses.
const (
	RoleInspector = "inspector"

	MembershipActive = "active"
)

// HasInspectorSeat reports whether the member may use the inspector mobile sync.
func (m Membership) HasInspectorSeat() bool {
	return m.Role == RoleInspector || m.IsInspector
}

// IsActive reports whether the membership is currently active.
func (m Membership) IsActive() bool {
	return m.Status == "" || m.Status == MembershipActive
}

// BillingAccess is the result of a billing gate check.
type BillingAccess struct {
	Allowed bool
	Status  string
}
