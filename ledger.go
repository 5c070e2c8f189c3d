package entitlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProcessReferral attributes a completed transaction to the affiliate whose
// code rode in on the transaction metadata.
//
// The referral record is keyed by transaction id, so re-processing the same
// transaction reports "already_exists" and never pays commission twice.
// Referral accounting is explicitly best-effort: every failure is caught,
// logged, and reported as a skip — a bookkeeping problem must never block
// the purchase flow that already completed.
func (e *Engine) ProcessReferral(ctx context.Context, tx Transaction, schoolID string) ReferralOutcome {
	code := tx.ReferralCode()
	if code == "" {
		return ReferralOutcome{Skipped: SkipNoReferralCode}
	}

	outcome, err := e.processReferral(ctx, tx, schoolID, code)
	if err != nil {
		e.log.Error("referral processing failed",
			"school_id", schoolID,
			"transaction_id", tx.ID,
			"code", code,
			"error", err,
		)
		return ReferralOutcome{Skipped: SkipError, Err: err}
	}
	return outcome
}

func (e *Engine) processReferral(ctx context.Context, tx Transaction, schoolID, code string) (ReferralOutcome, error) {
	existing, err := e.gw.Filter(ctx, CollectionReferrals, schoolID, Predicate{"transaction_id": tx.ID}, WithLimit(1))
	if err != nil {
		return ReferralOutcome{}, fmt.Errorf("failed to query referrals: %w", err)
	}
	if len(existing) > 0 {
		return ReferralOutcome{Skipped: SkipAlreadyExists}, nil
	}

	affiliates, err := e.gw.Filter(ctx, CollectionAffiliates, schoolID, Predicate{"code": code}, WithLimit(1))
	if err != nil {
		return ReferralOutcome{}, fmt.Errorf("failed to query affiliates: %w", err)
	}
	if len(affiliates) == 0 {
		return ReferralOutcome{Skipped: SkipAffiliateNotFound}, nil
	}
	affiliate := affiliateFromRecord(affiliates[0])

	commission := commissionCents(tx.AmountCents, affiliate.CommissionRate)

	referral := Referral{
		SchoolID:        schoolID,
		AffiliateID:     affiliate.ID,
		ReferredEmail:   tx.UserEmail,
		TransactionID:   tx.ID,
		CommissionCents: commission,
		Status:          ReferralConverted,
		ConvertedAt:     e.now(),
	}
	rec, err := e.gw.Create(ctx, CollectionReferrals, schoolID, referral.fields())
	if err != nil {
		return ReferralOutcome{}, fmt.Errorf("failed to create referral: %w", err)
	}
	created := referralFromRecord(rec)

	// Read-modify-write on the affiliate's running totals. Not transactional
	// against the gateway; concurrent conversions can under-count.
	if _, err := e.gw.Update(ctx, CollectionAffiliates, affiliate.ID, Record{
		"total_earnings_cents": affiliate.TotalEarningsCents + commission,
		"total_referrals":      affiliate.TotalReferrals + 1,
	}, schoolID, true); err != nil {
		return ReferralOutcome{}, fmt.Errorf("failed to update affiliate totals: %w", err)
	}

	e.log.Info("referral converted",
		"school_id", schoolID,
		"transaction_id", tx.ID,
		"affiliate_id", affiliate.ID,
		"commission_cents", commission,
	)
	return ReferralOutcome{Referral: &created}, nil
}

// commissionCents computes floor(amount * rate / 100) in integer cents.
// Rates may be fractional percentages, so the arithmetic stays in decimal
// until the final floor.
func commissionCents(amountCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(rate).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// RecordCouponRedemption records one coupon use against a transaction and
// bumps the coupon's usage counter.
//
// Redemptions are keyed by transaction id per tenant, making the call
// idempotent. Like referral processing it is best-effort and never returns
// an error to the caller.
func (e *Engine) RecordCouponRedemption(ctx context.Context, in RedemptionInput) RedemptionOutcome {
	outcome, err := e.recordCouponRedemption(ctx, in)
	if err != nil {
		e.log.Error("coupon redemption recording failed",
			"school_id", in.SchoolID,
			"transaction_id", in.Transaction.ID,
			"coupon_id", in.Coupon.ID,
			"error", err,
		)
		return RedemptionOutcome{Skipped: SkipError, Err: err}
	}
	return outcome
}

func (e *Engine) recordCouponRedemption(ctx context.Context, in RedemptionInput) (RedemptionOutcome, error) {
	existing, err := e.gw.Filter(ctx, CollectionRedemptions, in.SchoolID, Predicate{"transaction_id": in.Transaction.ID}, WithLimit(1))
	if err != nil {
		return RedemptionOutcome{}, fmt.Errorf("failed to query redemptions: %w", err)
	}
	if len(existing) > 0 {
		return RedemptionOutcome{Skipped: SkipAlreadyExists}, nil
	}

	redemption := CouponRedemption{
		SchoolID:      in.SchoolID,
		CouponID:      in.Coupon.ID,
		TransactionID: in.Transaction.ID,
		UserEmail:     in.UserEmail,
		DiscountCents: in.Transaction.DiscountCents,
	}
	rec, err := e.gw.Create(ctx, CollectionRedemptions, in.SchoolID, redemption.fields())
	if err != nil {
		return RedemptionOutcome{}, fmt.Errorf("failed to create redemption: %w", err)
	}
	created := redemptionFromRecord(rec)

	if _, err := e.gw.Update(ctx, CollectionCoupons, in.Coupon.ID, Record{
		"usage_count": in.Coupon.UsageCount + 1,
	}, in.SchoolID, true); err != nil {
		return RedemptionOutcome{}, fmt.Errorf("failed to update coupon usage: %w", err)
	}

	return RedemptionOutcome{Redemption: &created}, nil
}
