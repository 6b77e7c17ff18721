package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
	"github.com/tidwall/gjson"
)

var ErrInvalidBillingSettings = errors.New("tenant billing settings are not valid JSON")

// Subscription states that lock a business out unless a grace period is running.
var lockedSubscriptionStatuses = map[string]bool{
	"past_due":           true,
	"unpaid":             true,
	"canceled":           true,
	"incomplete":         true,
	"incomplete_expired": true,
	"paused":             true,
}

// TenantBillingVerifier reads billing state from the tenant's settings JSON.
type TenantBillingVerifier struct {
	tenants TenantStore
	now     func() time.Time
}

// NewTenantBillingVerifier creates a new TenantBillingVerifier.
func NewTenantBillingVerifier(tenants TenantStore) *TenantBillingVerifier {
	return &TenantBillingVerifier{tenants: tenants, now: time.Now}
}

// VerifyAccess implements BillingVerifier.
func (v *TenantBillingVerifier) VerifyAccess(ctx context.Context, tenantID string) (model.BillingAccess, error) {
	tenant, err := v.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return model.BillingAccess{}, fmt.Errorf("loading tenant %s for billing: %w", tenantID, err)
	}
	return EvaluateBilling(tenant.Settings, v.now())
}

// EvaluateBilling decides access from settings of the form
// {"billing": {"subscriptionStatus": "...", "graceEndsAt": "<RFC3339>"}}.
func EvaluateBilling(settings string, now time.Time) (model.BillingAccess, error) {
	if strings.TrimSpace(settings) == "" {
		return model.BillingAccess{Allowed: true}, nil
	}
	if !gjson.Valid(settings) {
		return model.BillingAccess{}, ErrInvalidBillingSettings
	}

	status := strings.ToLower(strings.TrimSpace(gjson.Get(settings, "billing.subscriptionStatus").String()))
	if !lockedSubscriptionStatuses[status] {
		return model.BillingAccess{Allowed: true, Status: status}, nil
	}

	if grace := gjson.Get(settings, "billing.graceEndsAt").String(); grace != "" {
		if ends, err := time.Parse(time.RFC3339Nano, grace); err == nil && ends.After(now) {
			return model.BillingAccess{Allowed: true, Status: status}, nil
		}
	}

	return model.BillingAccess{Allowed: false, Status: status}, nil
}
