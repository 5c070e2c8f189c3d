package entitlement

import (
	"context"
	"fmt"
	"time"
)

// PermissionInput is the argument bundle for CanCopy and CanDownload. The
// access level is pre-computed by the caller (see ResolveAccessLevel); the
// entitlements are the user's grants in the course's tenant.
type PermissionInput struct {
	// Policy is the tenant's protection policy; nil denies
	Policy *ProtectionPolicy
	// Entitlements are the user's grants, scanned for add-on licenses
	Entitlements []Entitlement
	// AccessLevel is the resolved LOCKED/PREVIEW/FULL state
	AccessLevel AccessLevel
	// Now is the reference instant; the zero value means time.Now()
	Now time.Time
}

func (in PermissionInput) at() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// CanCopy reports whether copying the content is currently permitted under
// the tenant's copy monetization mode.
func CanCopy(in PermissionInput) bool {
	if in.Policy == nil {
		return false
	}
	return modePermits(in, in.Policy.CopyMode, GrantCopyLicense)
}

// CanDownload reports whether downloading the content is currently permitted
// under the tenant's download monetization mode.
func CanDownload(in PermissionInput) bool {
	if in.Policy == nil {
		return false
	}
	return modePermits(in, in.Policy.DownloadMode, GrantDownloadLicense)
}

// modePermits applies the shared mode logic. Previews never permit
// copy/download regardless of mode, and the ADDON mode deliberately requires
// both full access and the matching license: a license alone must never
// unlock content, and access alone must never unlock a separately monetized
// right.
func modePermits(in PermissionInput, mode MonetizationMode, license GrantType) bool {
	if in.AccessLevel == AccessLocked || in.AccessLevel == AccessPreview {
		return false
	}

	switch mode {
	case ModeIncluded:
		return in.AccessLevel == AccessFull
	case ModeAddon:
		return in.AccessLevel == AccessFull && hasLicense(in.Entitlements, license, in.at())
	default:
		// DISALLOW, and any unknown mode, denies.
		return false
	}
}

// HasCopyLicense reports whether an active copy license is present.
func HasCopyLicense(entitlements []Entitlement, now time.Time) bool {
	return hasLicense(entitlements, GrantCopyLicense, now)
}

// HasDownloadLicense reports whether an active download license is present.
func HasDownloadLicense(entitlements []Entitlement, now time.Time) bool {
	return hasLicense(entitlements, GrantDownloadLicense, now)
}

func hasLicense(entitlements []Entitlement, license GrantType, now time.Time) bool {
	for i := range entitlements {
		if entitlements[i].Type == license && entitlements[i].ActiveAt(now) {
			return true
		}
	}
	return false
}

// DefaultProtectionPolicy is the documented fail-closed default used when a
// tenant has no stored policy: content protected, previews off, copying and
// downloading disallowed.
func DefaultProtectionPolicy(schoolID string) ProtectionPolicy {
	return ProtectionPolicy{
		SchoolID:       schoolID,
		ProtectContent: true,
		CopyMode:       ModeDisallow,
		DownloadMode:   ModeDisallow,
	}
}

// ProtectionPolicy loads the tenant's protection policy, falling back to
// DefaultProtectionPolicy when the tenant has none. Access is never allowed
// by omission.
func (e *Engine) ProtectionPolicy(ctx context.Context, schoolID string) (ProtectionPolicy, error) {
	recs, err := e.gw.Filter(ctx, CollectionProtectionPolicies, schoolID, Predicate{}, WithLimit(1))
	if err != nil {
		return ProtectionPolicy{}, fmt.Errorf("failed to load protection policy: %w", err)
	}
	if len(recs) == 0 {
		return DefaultProtectionPolicy(schoolID), nil
	}
	return policyFromRecord(recs[0]), nil
}

// UserEntitlements loads every grant the user holds in the tenant, decoded
// and normalized. Callers feed the result to CanCopy / CanDownload.
func (e *Engine) UserEntitlements(ctx context.Context, userEmail, schoolID string) ([]Entitlement, error) {
	recs, err := e.gw.Filter(ctx, CollectionEntitlements, schoolID, Predicate{"user_email": userEmail})
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlements: %w", err)
	}
	return entitlementsFromRecords(recs), nil
}
