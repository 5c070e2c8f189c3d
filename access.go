package entitlement

import (
	"context"
	"fmt"
	"time"
)

// HasAccessToCourse reports whether the user holds an active grant covering
// the course in the given tenant.
//
// The user's grants are loaded in one query and selected by decoded type, so
// records stored under historical field spellings still count. Catalog-wide
// ALL_COURSES grants cover any course; otherwise an active course-scoped
// grant must match. Missing identifiers resolve to denial, not to an error.
func (e *Engine) HasAccessToCourse(ctx context.Context, userEmail, courseID, schoolID string) (bool, error) {
	if userEmail == "" || courseID == "" || schoolID == "" {
		return false, nil
	}

	recs, err := e.gw.Filter(ctx, CollectionEntitlements, schoolID, Predicate{"user_email": userEmail})
	if err != nil {
		return false, fmt.Errorf("failed to query grants: %w", err)
	}

	now := e.now()
	for _, grant := range entitlementsFromRecords(recs) {
		if !grant.ActiveAt(now) {
			continue
		}
		if grant.Type == GrantAllCourses {
			return true, nil
		}
		if grant.Type == GrantCourse && grant.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

// CheckCourseAccess is the full course-access decision, composing role,
// course visibility, and entitlements.
//
// Staff roles always see their tenant's own content. FREE courses are open
// to any authenticated member. PAID and PRIVATE courses delegate to
// HasAccessToCourse. A legacy "free" access tier is honored when the modern
// visibility field is empty. When tenant Cedar policies are installed they
// are consulted last and can only add a grant. Every branch that does not
// explicitly grant falls through to denial.
func (e *Engine) CheckCourseAccess(ctx context.Context, course Course, userEmail string, role Role) (bool, error) {
	start := time.Now()
	allowed, reason, err := e.checkCourseAccess(ctx, course, userEmail, role)
	if e.metrics != nil {
		e.metrics.RecordAccessDuration(time.Since(start))
	}
	if err != nil {
		return false, err
	}

	e.auditAccess(ctx, AccessDecision{
		SchoolID:  course.SchoolID,
		UserEmail: userEmail,
		CourseID:  course.ID,
		Role:      role,
		Allowed:   allowed,
		Reason:    reason,
	})
	return allowed, nil
}

func (e *Engine) checkCourseAccess(ctx context.Context, course Course, userEmail string, role Role) (bool, string, error) {
	if role.Staff() {
		return true, "staff", nil
	}
	if course.ID == "" || userEmail == "" {
		return false, "missing_input", nil
	}

	switch course.AccessLevel {
	case VisibilityFree:
		return true, "free_course", nil
	case VisibilityPaid, VisibilityPrivate:
		ok, err := e.HasAccessToCourse(ctx, userEmail, course.ID, course.SchoolID)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "entitlement", nil
		}
	case "":
		// Legacy records predate the visibility field.
		if course.LegacyTier == "free" {
			return true, "legacy_free_tier", nil
		}
	}

	if e.policyAllows(course, userEmail, role) {
		return true, "tenant_policy", nil
	}

	return false, "no_grant", nil
}

// ResolveAccessLevel computes the LOCKED/PREVIEW/FULL state for a (user,
// course) pair. This is the pre-computed input the permission evaluator
// expects: FULL when CheckCourseAccess grants, PREVIEW when the tenant
// policy allows previews, LOCKED otherwise.
func (e *Engine) ResolveAccessLevel(ctx context.Context, course Course, userEmail string, role Role) (AccessLevel, error) {
	full, err := e.CheckCourseAccess(ctx, course, userEmail, role)
	if err != nil {
		return AccessLocked, err
	}
	if full {
		return AccessFull, nil
	}

	policy, err := e.ProtectionPolicy(ctx, course.SchoolID)
	if err != nil {
		return AccessLocked, err
	}
	if policy.AllowPreviews {
		return AccessPreview, nil
	}
	return AccessLocked, nil
}
