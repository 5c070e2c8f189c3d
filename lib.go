// Package entitlement implements the entitlement and content-access engine of
// a multi-tenant e-learning platform.
//
// Schools (tenants) sell access to courses, bundles, subscriptions, and add-on
// usage rights such as copying and downloading. The engine decides, for a
// given learner and a given piece of paid content, exactly what they may see,
// copy, or download, and converts commerce events — a completed payment, a
// renewed subscription, a redeemed coupon, a referral conversion — into
// durable access grants, exactly once, even when the triggering event is
// delivered more than once.
//
// Three properties hold simultaneously:
//   - Tenant isolation: a grant in one school never leaks into another; every
//     operation takes the school id explicitly.
//   - Temporal correctness: grants carry activation/expiry windows and are
//     evaluated against a single clock via Entitlement.ActiveAt.
//   - Idempotency: provisioning and the referral/coupon ledgers are keyed to
//     their originating transaction, so webhook retries and duplicate client
//     submissions never double-grant, double-pay, or double-count.
//
// Access decisions fail closed: any missing input resolves to denial. The
// referral and coupon ledgers fail open but non-destructively: their errors
// are caught and reported as skip reasons, never thrown, so bookkeeping can
// never block a completed sale.
//
// Basic usage:
//
//	gw := entitlement.NewInMemoryGateway()
//	engine := entitlement.NewEngine(gw)
//
//	ok, err := engine.CheckCourseAccess(ctx, course, "learner@example.com", entitlement.RoleStudent)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if ok {
//		// Serve the content.
//	}
package entitlement

import "time"

// NewCourseGrant builds a course-scoped entitlement from a purchase. This is
// a low-level constructor; provisioning normally goes through
// Engine.ProvisionPurchase.
func NewCourseGrant(schoolID, userEmail, courseID, transactionID string, startsAt time.Time) Entitlement {
	return Entitlement{
		SchoolID:  schoolID,
		UserEmail: userEmail,
		Type:      GrantCourse,
		CourseID:  courseID,
		Source:    SourcePurchase,
		SourceID:  transactionID,
		StartsAt:  startsAt,
	}
}

// NewCatalogGrant builds an all-courses entitlement from a purchase.
func NewCatalogGrant(schoolID, userEmail, transactionID string, startsAt time.Time) Entitlement {
	return Entitlement{
		SchoolID:  schoolID,
		UserEmail: userEmail,
		Type:      GrantAllCourses,
		Source:    SourcePurchase,
		SourceID:  transactionID,
		StartsAt:  startsAt,
	}
}

// NewLicenseGrant builds a perpetual copy or download license entitlement.
func NewLicenseGrant(schoolID, userEmail string, license GrantType, transactionID string, startsAt time.Time) Entitlement {
	return Entitlement{
		SchoolID:  schoolID,
		UserEmail: userEmail,
		Type:      license,
		Source:    SourcePurchase,
		SourceID:  transactionID,
		StartsAt:  startsAt,
	}
}
