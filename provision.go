package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProvisionPurchase converts a completed one-time purchase into grants,
// idempotently.
//
// The set of entitlements already recorded for the transaction id is the
// idempotency anchor: every grant the offer calls for is created only if the
// anchor does not already contain it, and grants found present are reported
// in Skipped with reason "already_exists". Gateway errors propagate — the
// caller retries the whole call, and idempotency makes the retry safe. A
// bundle's per-course grants are created independently, so a partial failure
// leaves a retryable partial result.
func (e *Engine) ProvisionPurchase(ctx context.Context, tx Transaction, offer Offer, schoolID string) (ProvisionResult, error) {
	if tx.ID == "" || schoolID == "" {
		return ProvisionResult{}, &EngineError{Code: ErrorCodeInvalidInput, Message: "transaction id and school id are required"}
	}

	existing, err := e.grantsBySource(ctx, schoolID, tx.ID)
	if err != nil {
		return ProvisionResult{}, err
	}

	now := e.now()
	var result ProvisionResult

	switch {
	case offer.Type == OfferAddon:
		license := licenseTypeForOffer(offer)
		err = e.createGrantIfMissing(ctx, &result, existing, Entitlement{
			SchoolID:  schoolID,
			UserEmail: tx.UserEmail,
			Type:      license,
			Source:    SourcePurchase,
			SourceID:  tx.ID,
			StartsAt:  now,
			// Perpetual license: no EndsAt.
		})

	case offer.Scope == ScopeAllCourses || offer.Type == OfferSubscription:
		err = e.createGrantIfMissing(ctx, &result, existing, Entitlement{
			SchoolID:  schoolID,
			UserEmail: tx.UserEmail,
			Type:      GrantAllCourses,
			Source:    SourcePurchase,
			SourceID:  tx.ID,
			StartsAt:  now,
		})

	default:
		var rows []OfferCourseRow
		rows, err = e.offerCourses(ctx, schoolID, offer.ID)
		if err != nil {
			return result, err
		}
		for _, row := range rows {
			if err = e.createGrantIfMissing(ctx, &result, existing, Entitlement{
				SchoolID:  schoolID,
				UserEmail: tx.UserEmail,
				Type:      GrantCourse,
				CourseID:  row.CourseID,
				Source:    SourcePurchase,
				SourceID:  tx.ID,
				StartsAt:  now,
			}); err != nil {
				break
			}
		}
	}

	if err != nil {
		return result, err
	}

	e.log.Info("purchase provisioned",
		"school_id", schoolID,
		"transaction_id", tx.ID,
		"created", len(result.Created),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// ProvisionSubscription converts a subscription event into time-boxed
// grants. The grants' windows close at the subscription's current period
// end; on each renewal event the same call refreshes the window of grants
// already recorded for the subscription instead of duplicating them.
func (e *Engine) ProvisionSubscription(ctx context.Context, sub Subscription, offer Offer, schoolID string) (ProvisionResult, error) {
	if sub.ID == "" || schoolID == "" {
		return ProvisionResult{}, &EngineError{Code: ErrorCodeInvalidInput, Message: "subscription id and school id are required"}
	}

	existing, err := e.grantsBySource(ctx, schoolID, sub.ID)
	if err != nil {
		return ProvisionResult{}, err
	}

	now := e.now()
	windowEnd := sub.PeriodEnd()
	var result ProvisionResult

	provision := func(grantType GrantType, courseID string) error {
		grant := Entitlement{
			SchoolID:  schoolID,
			UserEmail: sub.UserEmail,
			Type:      grantType,
			CourseID:  courseID,
			Source:    SourceSubscription,
			SourceID:  sub.ID,
			StartsAt:  now,
			EndsAt:    windowEnd,
		}
		if prior := findGrant(existing, grantType, courseID); prior != nil {
			if err := e.refreshGrantWindow(ctx, schoolID, *prior, windowEnd); err != nil {
				return err
			}
			result.Skipped = append(result.Skipped, SkippedGrant{
				Type:     grantType,
				CourseID: courseID,
				Reason:   SkipAlreadyExists,
			})
			return nil
		}
		created, err := e.createGrant(ctx, schoolID, grant)
		if err != nil {
			return err
		}
		result.Created = append(result.Created, created)
		return nil
	}

	if offer.Scope != ScopeSelectedCourses {
		err = provision(GrantAllCourses, "")
	} else {
		var rows []OfferCourseRow
		rows, err = e.offerCourses(ctx, schoolID, offer.ID)
		if err != nil {
			return result, err
		}
		for _, row := range rows {
			if err = provision(GrantCourse, row.CourseID); err != nil {
				break
			}
		}
	}
	if err != nil {
		return result, err
	}

	e.log.Info("subscription provisioned",
		"school_id", schoolID,
		"subscription_id", sub.ID,
		"created", len(result.Created),
		"refreshed", len(result.Skipped),
	)
	return result, nil
}

// CancelSubscriptionGrants closes every grant sourced from the subscription
// by setting its window end to the given instant. The write goes through the
// gateway's audited update path.
func (e *Engine) CancelSubscriptionGrants(ctx context.Context, subscriptionID, schoolID string, at time.Time) error {
	grants, err := e.grantsBySource(ctx, schoolID, subscriptionID)
	if err != nil {
		return err
	}

	for _, grant := range grants {
		if _, err := e.gw.Update(ctx, CollectionEntitlements, grant.ID, Record{"ends_at": at}, schoolID, true); err != nil {
			return fmt.Errorf("failed to close grant %s: %w", grant.ID, err)
		}
		grant.EndsAt = &at
		e.auditGrant(ctx, "cancel", grant)
	}
	return nil
}

// grantsBySource reads the idempotency anchor: every entitlement the tenant
// holds for the given transaction or subscription id.
func (e *Engine) grantsBySource(ctx context.Context, schoolID, sourceID string) ([]Entitlement, error) {
	recs, err := e.gw.Filter(ctx, CollectionEntitlements, schoolID, Predicate{"source_id": sourceID})
	if err != nil {
		return nil, fmt.Errorf("failed to query grants for source %s: %w", sourceID, err)
	}
	return entitlementsFromRecords(recs), nil
}

func (e *Engine) offerCourses(ctx context.Context, schoolID, offerID string) ([]OfferCourseRow, error) {
	recs, err := e.gw.Filter(ctx, CollectionOfferCourses, schoolID, Predicate{"offer_id": offerID})
	if err != nil {
		return nil, fmt.Errorf("failed to query offer courses: %w", err)
	}
	rows := make([]OfferCourseRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, offerCourseFromRecord(rec))
	}
	return rows, nil
}

func findGrant(grants []Entitlement, grantType GrantType, courseID string) *Entitlement {
	for i := range grants {
		if grants[i].Type == grantType && grants[i].CourseID == courseID {
			return &grants[i]
		}
	}
	return nil
}

func (e *Engine) createGrantIfMissing(ctx context.Context, result *ProvisionResult, existing []Entitlement, grant Entitlement) error {
	if findGrant(existing, grant.Type, grant.CourseID) != nil {
		result.Skipped = append(result.Skipped, SkippedGrant{
			Type:     grant.Type,
			CourseID: grant.CourseID,
			Reason:   SkipAlreadyExists,
		})
		return nil
	}
	created, err := e.createGrant(ctx, grant.SchoolID, grant)
	if err != nil {
		return err
	}
	result.Created = append(result.Created, created)
	return nil
}

func (e *Engine) createGrant(ctx context.Context, schoolID string, grant Entitlement) (Entitlement, error) {
	rec, err := e.gw.Create(ctx, CollectionEntitlements, schoolID, grant.fields())
	if err != nil {
		return Entitlement{}, fmt.Errorf("failed to create %s grant: %w", grant.Type, err)
	}
	created := entitlementFromRecord(rec)
	e.auditGrant(ctx, "provision", created)
	return created, nil
}

func (e *Engine) refreshGrantWindow(ctx context.Context, schoolID string, grant Entitlement, windowEnd *time.Time) error {
	// An absent period end makes the renewed window unbounded, so the prior
	// window must be cleared, not left in place. The legacy spelling is
	// cleared too so decoding cannot fall back to the old boundary.
	fields := Record{"ends_at": nil, "end_date": nil}
	if windowEnd != nil {
		fields["ends_at"] = *windowEnd
	}
	if _, err := e.gw.Update(ctx, CollectionEntitlements, grant.ID, fields, schoolID, true); err != nil {
		return fmt.Errorf("failed to refresh grant %s: %w", grant.ID, err)
	}
	grant.EndsAt = windowEnd
	e.auditGrant(ctx, "renew", grant)
	return nil
}

// licenseTypeForOffer derives the add-on license type from the offer name:
// offers named for copying sell copy licenses, everything else sells
// download licenses.
func licenseTypeForOffer(offer Offer) GrantType {
	if strings.Contains(strings.ToLower(offer.Name), "copy") {
		return GrantCopyLicense
	}
	return GrantDownloadLicense
}
