package entitlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record decoding. Entities are stored under canonical field names, but
// records written by earlier versions of the platform used alternate
// spellings (entitlement_type for type, start_date/end_date for
// starts_at/ends_at). Normalization happens here, once, so every read site
// sees a single canonical shape.

func recString(rec Record, keys ...string) string {
	for _, key := range keys {
		if s, ok := toStringValue(rec[key]); ok && s != "" {
			return s
		}
	}
	return ""
}

func recInt64(rec Record, keys ...string) int64 {
	for _, key := range keys {
		switch n := rec[key].(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	return 0
}

func recBool(rec Record, key string) bool {
	b, _ := rec[key].(bool)
	return b
}

func recFloat(rec Record, key string) float64 {
	f, _ := toFloat(rec[key])
	return f
}

// recTime accepts native time values and the RFC 3339 strings a JSON round
// trip produces.
func recTime(rec Record, keys ...string) *time.Time {
	for _, key := range keys {
		switch t := rec[key].(type) {
		case time.Time:
			out := t
			return &out
		case *time.Time:
			if t != nil {
				out := *t
				return &out
			}
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func recDecimal(rec Record, key string) decimal.Decimal {
	switch v := rec[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	case int:
		return decimal.NewFromInt(int64(v))
	}
	return decimal.Zero
}

func entitlementFromRecord(rec Record) Entitlement {
	e := Entitlement{
		ID:        recString(rec, "id"),
		SchoolID:  recString(rec, "school_id"),
		UserEmail: recString(rec, "user_email"),
		Type:      GrantType(recString(rec, "type", "entitlement_type")),
		CourseID:  recString(rec, "course_id"),
		Source:    GrantSource(recString(rec, "source")),
		SourceID:  recString(rec, "source_id"),
		EndsAt:    recTime(rec, "ends_at", "end_date"),
	}
	if t := recTime(rec, "starts_at", "start_date"); t != nil {
		e.StartsAt = *t
	}
	if t := recTime(rec, "created_at"); t != nil {
		e.CreatedAt = *t
	}
	if t := recTime(rec, "updated_at"); t != nil {
		e.UpdatedAt = *t
	}
	return e
}

func entitlementsFromRecords(recs []Record) []Entitlement {
	out := make([]Entitlement, 0, len(recs))
	for _, rec := range recs {
		out = append(out, entitlementFromRecord(rec))
	}
	return out
}

// EntitlementsFromRecords decodes raw gateway records into entitlements,
// normalizing historical field names. Callers holding records from outside
// the engine should decode through this before calling the permission
// evaluator.
func EntitlementsFromRecords(recs []Record) []Entitlement {
	return entitlementsFromRecords(recs)
}

func (e Entitlement) fields() Record {
	rec := Record{
		"school_id":  e.SchoolID,
		"user_email": e.UserEmail,
		"type":       string(e.Type),
		"source":     string(e.Source),
		"source_id":  e.SourceID,
		"starts_at":  e.StartsAt,
	}
	if e.CourseID != "" {
		rec["course_id"] = e.CourseID
	}
	if e.EndsAt != nil {
		rec["ends_at"] = *e.EndsAt
	}
	return rec
}

func policyFromRecord(rec Record) ProtectionPolicy {
	return ProtectionPolicy{
		ID:                         recString(rec, "id"),
		SchoolID:                   recString(rec, "school_id"),
		ProtectContent:             recBool(rec, "protect_content"),
		RequirePaymentForMaterials: recBool(rec, "require_payment_for_materials"),
		AllowPreviews:              recBool(rec, "allow_previews"),
		MaxPreviewSeconds:          int(recInt64(rec, "max_preview_seconds")),
		MaxPreviewChars:            int(recInt64(rec, "max_preview_chars")),
		WatermarkEnabled:           recBool(rec, "watermark_enabled"),
		WatermarkOpacity:           recFloat(rec, "watermark_opacity"),
		BlockRightClick:            recBool(rec, "block_right_click"),
		BlockCopy:                  recBool(rec, "block_copy"),
		BlockPrint:                 recBool(rec, "block_print"),
		CopyMode:                   MonetizationMode(recString(rec, "copy_mode")),
		DownloadMode:               MonetizationMode(recString(rec, "download_mode")),
	}
}

func offerCourseFromRecord(rec Record) OfferCourseRow {
	return OfferCourseRow{
		OfferID:  recString(rec, "offer_id"),
		CourseID: recString(rec, "course_id"),
	}
}

func affiliateFromRecord(rec Record) Affiliate {
	return Affiliate{
		ID:                 recString(rec, "id"),
		SchoolID:           recString(rec, "school_id"),
		Code:               recString(rec, "code"),
		CommissionRate:     recDecimal(rec, "commission_rate"),
		TotalEarningsCents: recInt64(rec, "total_earnings_cents"),
		TotalReferrals:     recInt64(rec, "total_referrals"),
	}
}

func referralFromRecord(rec Record) Referral {
	r := Referral{
		ID:              recString(rec, "id"),
		SchoolID:        recString(rec, "school_id"),
		AffiliateID:     recString(rec, "affiliate_id"),
		ReferredEmail:   recString(rec, "referred_email"),
		TransactionID:   recString(rec, "transaction_id"),
		CommissionCents: recInt64(rec, "commission_cents"),
		Status:          ReferralStatus(recString(rec, "status")),
	}
	if t := recTime(rec, "converted_at"); t != nil {
		r.ConvertedAt = *t
	}
	return r
}

func (r Referral) fields() Record {
	return Record{
		"school_id":        r.SchoolID,
		"affiliate_id":     r.AffiliateID,
		"referred_email":   r.ReferredEmail,
		"transaction_id":   r.TransactionID,
		"commission_cents": r.CommissionCents,
		"status":           string(r.Status),
		"converted_at":     r.ConvertedAt,
	}
}

func redemptionFromRecord(rec Record) CouponRedemption {
	return CouponRedemption{
		ID:            recString(rec, "id"),
		SchoolID:      recString(rec, "school_id"),
		CouponID:      recString(rec, "coupon_id"),
		TransactionID: recString(rec, "transaction_id"),
		UserEmail:     recString(rec, "user_email"),
		DiscountCents: recInt64(rec, "discount_cents"),
	}
}

func (r CouponRedemption) fields() Record {
	return Record{
		"school_id":      r.SchoolID,
		"coupon_id":      r.CouponID,
		"transaction_id": r.TransactionID,
		"user_email":     r.UserEmail,
		"discount_cents": r.DiscountCents,
	}
}
