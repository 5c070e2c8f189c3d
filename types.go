package entitlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GrantType categorizes what an entitlement unlocks.
//
// Grant types distinguish broad catalog access from per-course access and
// from the separately monetized copy/download licenses.
type GrantType string

const (
	// GrantAllCourses unlocks every course in the tenant's catalog
	GrantAllCourses GrantType = "ALL_COURSES"
	// GrantCourse unlocks a single course identified by CourseID
	GrantCourse GrantType = "COURSE"
	// GrantCopyLicense is the add-on right to copy protected content
	GrantCopyLicense GrantType = "COPY_LICENSE"
	// GrantDownloadLicense is the add-on right to download protected content
	GrantDownloadLicense GrantType = "DOWNLOAD_LICENSE"
)

// GrantSource records which kind of commerce event produced a grant.
type GrantSource string

const (
	// SourcePurchase marks grants produced by a one-time purchase
	SourcePurchase GrantSource = "PURCHASE"
	// SourceSubscription marks grants produced by a recurring subscription
	SourceSubscription GrantSource = "SUBSCRIPTION"
)

// Entitlement is a time-bounded access grant held by a user within a tenant.
//
// Entitlements are created exclusively by the provisioning engine in response
// to commerce events. They are never deleted in normal operation; expiry is
// time-based. The only mutation after creation is the originating
// subscription's renewal or cancellation adjusting EndsAt.
//
// Example:
//
//	grant := Entitlement{
//		SchoolID:  "school-1",
//		UserEmail: "learner@example.com",
//		Type:      GrantCourse,
//		CourseID:  "course-42",
//		Source:    SourcePurchase,
//		SourceID:  "txn-9",
//		StartsAt:  time.Now(),
//	}
type Entitlement struct {
	// ID is the unique identifier for this grant
	ID string `json:"id"`
	// SchoolID is the owning tenant; grants never cross tenants
	SchoolID string `json:"school_id"`
	// UserEmail identifies the learner holding the grant
	UserEmail string `json:"user_email"`
	// Type categorizes what the grant unlocks
	Type GrantType `json:"type"`
	// CourseID scopes the grant to one course; set iff Type is GrantCourse
	CourseID string `json:"course_id,omitempty"`
	// Source records the kind of commerce event that produced the grant
	Source GrantSource `json:"source"`
	// SourceID is the originating transaction or subscription id and the
	// idempotency anchor for provisioning
	SourceID string `json:"source_id"`
	// StartsAt is the activation instant
	StartsAt time.Time `json:"starts_at"`
	// EndsAt is the exclusive expiry instant; nil means unbounded
	EndsAt *time.Time `json:"ends_at,omitempty"`
	// CreatedAt records when this grant was first written
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt records when this grant was last written
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveAt reports whether the grant is live at the given instant.
//
// A grant is active iff StartsAt <= now and (EndsAt is nil or now < EndsAt).
// A nil entitlement is never active. This predicate is the single source of
// truth for grant liveness; nothing else in the module compares grant dates.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	if e == nil {
		return false
	}
	if now.Before(e.StartsAt) {
		return false
	}
	if e.EndsAt != nil && !now.Before(*e.EndsAt) {
		return false
	}
	return true
}

// Role is a member's role within a tenant.
type Role string

const (
	RoleOwner      Role = "OWNER"
	RoleAdmin      Role = "ADMIN"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStudent    Role = "STUDENT"
)

// Staff reports whether the role always sees the tenant's own content.
func (r Role) Staff() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleInstructor
}

// CourseVisibility is a course's pricing tier.
type CourseVisibility string

const (
	VisibilityFree    CourseVisibility = "FREE"
	VisibilityPaid    CourseVisibility = "PAID"
	VisibilityPrivate CourseVisibility = "PRIVATE"
)

// Course carries the fields the access resolver needs; course content itself
// lives outside this library.
type Course struct {
	// ID is the unique identifier for this course
	ID string `json:"id"`
	// SchoolID is the owning tenant
	SchoolID string `json:"school_id"`
	// AccessLevel is the modern pricing tier field
	AccessLevel CourseVisibility `json:"access_level,omitempty"`
	// LegacyTier is the pre-migration tier field; "free" is still honored
	// when AccessLevel is empty
	LegacyTier string `json:"access_tier,omitempty"`
}

// AccessLevel is the resolved access state for a (user, course) pair and the
// pre-computed input to the permission evaluator.
type AccessLevel string

const (
	AccessLocked  AccessLevel = "LOCKED"
	AccessPreview AccessLevel = "PREVIEW"
	AccessFull    AccessLevel = "FULL"
)

// MonetizationMode controls how copy and download rights are sold.
type MonetizationMode string

const (
	// ModeDisallow never permits the action
	ModeDisallow MonetizationMode = "DISALLOW"
	// ModeIncluded permits the action for anyone with full access
	ModeIncluded MonetizationMode = "INCLUDED_WITH_ACCESS"
	// ModeAddon requires full access plus a separately purchased license
	ModeAddon MonetizationMode = "ADDON"
)

// ProtectionPolicy is a tenant's content protection configuration.
//
// Exactly one policy exists per tenant. When a tenant has no stored policy,
// callers must use DefaultProtectionPolicy — never "allow by omission".
type ProtectionPolicy struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`

	ProtectContent             bool `json:"protect_content"`
	RequirePaymentForMaterials bool `json:"require_payment_for_materials"`
	AllowPreviews              bool `json:"allow_previews"`
	MaxPreviewSeconds          int  `json:"max_preview_seconds"`
	MaxPreviewChars            int  `json:"max_preview_chars"`

	WatermarkEnabled bool    `json:"watermark_enabled"`
	WatermarkOpacity float64 `json:"watermark_opacity"`
	BlockRightClick  bool    `json:"block_right_click"`
	BlockCopy        bool    `json:"block_copy"`
	BlockPrint       bool    `json:"block_print"`

	CopyMode     MonetizationMode `json:"copy_mode"`
	DownloadMode MonetizationMode `json:"download_mode"`
}

// OfferType is the kind of sellable unit.
type OfferType string

const (
	OfferCourse       OfferType = "COURSE"
	OfferBundle       OfferType = "BUNDLE"
	OfferSubscription OfferType = "SUBSCRIPTION"
	OfferAddon        OfferType = "ADDON"
)

// AccessScope is the breadth of catalog access an offer grants.
type AccessScope string

const (
	ScopeAllCourses      AccessScope = "ALL_COURSES"
	ScopeSelectedCourses AccessScope = "SELECTED_COURSES"
)

// Offer is a sellable unit: a single course, a bundle, a subscription, or a
// copy/download add-on.
type Offer struct {
	ID       string      `json:"id"`
	SchoolID string      `json:"school_id"`
	Type     OfferType   `json:"offer_type"`
	Scope    AccessScope `json:"access_scope,omitempty"`
	Name     string      `json:"name"`
}

// OfferCourseRow joins an offer to one of its courses.
type OfferCourseRow struct {
	OfferID  string `json:"offer_id"`
	CourseID string `json:"course_id"`
}

// Transaction is a completed purchase as handed to the engine by the checkout
// layer. Metadata may carry a referral code.
type Transaction struct {
	ID            string            `json:"id"`
	UserEmail     string            `json:"user_email"`
	AmountCents   int64             `json:"amount_cents"`
	DiscountCents int64             `json:"discount_cents"`
	OfferID       string            `json:"offer_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ReferralCode extracts the affiliate code from transaction metadata,
// accepting both historical metadata keys.
func (t Transaction) ReferralCode() string {
	if code := t.Metadata["referral_code"]; code != "" {
		return code
	}
	return t.Metadata["ref"]
}

// Subscription is a recurring grant source.
type Subscription struct {
	ID        string `json:"id"`
	UserEmail string `json:"user_email"`
	// CurrentPeriodEnd closes the current billing window
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	// EndDate is the older window field, used when CurrentPeriodEnd is unset
	EndDate *time.Time `json:"end_date,omitempty"`
}

// PeriodEnd returns the end of the current billing window, preferring
// CurrentPeriodEnd over the legacy EndDate.
func (s Subscription) PeriodEnd() *time.Time {
	if s.CurrentPeriodEnd != nil {
		return s.CurrentPeriodEnd
	}
	return s.EndDate
}

// Affiliate earns commission on referred purchases. Code is unique per
// tenant; CommissionRate is a percentage and may be fractional.
type Affiliate struct {
	ID                 string          `json:"id"`
	SchoolID           string          `json:"school_id"`
	Code               string          `json:"code"`
	CommissionRate     decimal.Decimal `json:"commission_rate"`
	TotalEarningsCents int64           `json:"total_earnings_cents"`
	TotalReferrals     int64           `json:"total_referrals"`
}

// ReferralStatus is the lifecycle state of a referral conversion.
type ReferralStatus string

const (
	ReferralConverted ReferralStatus = "CONVERTED"
)

// Referral attributes one transaction to an affiliate. TransactionID is the
// idempotency key: at most one referral exists per (tenant, transaction).
type Referral struct {
	ID              string         `json:"id"`
	SchoolID        string         `json:"school_id"`
	AffiliateID     string         `json:"affiliate_id"`
	ReferredEmail   string         `json:"referred_email"`
	TransactionID   string         `json:"transaction_id"`
	CommissionCents int64          `json:"commission_cents"`
	Status          ReferralStatus `json:"status"`
	ConvertedAt     time.Time      `json:"converted_at"`
}

// Coupon is a discount code with a running usage counter.
type Coupon struct {
	ID         string `json:"id"`
	SchoolID   string `json:"school_id"`
	Code       string `json:"code"`
	UsageCount int64  `json:"usage_count"`
}

// CouponRedemption records one coupon use, keyed uniquely by TransactionID
// per tenant.
type CouponRedemption struct {
	ID            string `json:"id"`
	SchoolID      string `json:"school_id"`
	CouponID      string `json:"coupon_id"`
	TransactionID string `json:"transaction_id"`
	UserEmail     string `json:"user_email"`
	DiscountCents int64  `json:"discount_cents"`
}

// SkipReason explains why a ledger or provisioning step did nothing.
type SkipReason string

const (
	// SkipAlreadyExists means the idempotency key already has a record
	SkipAlreadyExists SkipReason = "already_exists"
	// SkipNoReferralCode means the transaction carried no referral code
	SkipNoReferralCode SkipReason = "no_ref"
	// SkipAffiliateNotFound means no affiliate matches the referral code
	SkipAffiliateNotFound SkipReason = "affiliate_not_found"
	// SkipError means the attempt failed and was swallowed by design
	SkipError SkipReason = "error"
)

// SkippedGrant identifies a grant the provisioning engine found already
// present (or otherwise did not create) and why.
type SkippedGrant struct {
	Type     GrantType  `json:"type"`
	CourseID string     `json:"course_id,omitempty"`
	Reason   SkipReason `json:"reason"`
}

// ProvisionResult reports exactly which grants a provisioning call newly made
// versus found already present, so callers can re-invoke on retry without
// inspecting prior state.
type ProvisionResult struct {
	Created []Entitlement  `json:"created"`
	Skipped []SkippedGrant `json:"skipped"`
}

// ReferralOutcome is the best-effort result of referral processing. Exactly
// one of Referral or Skipped is meaningful; Err accompanies SkipError.
type ReferralOutcome struct {
	Referral *Referral  `json:"referral,omitempty"`
	Skipped  SkipReason `json:"skipped,omitempty"`
	Err      error      `json:"-"`
}

// RedemptionOutcome is the best-effort result of recording a coupon
// redemption.
type RedemptionOutcome struct {
	Redemption *CouponRedemption `json:"redemption,omitempty"`
	Skipped    SkipReason        `json:"skipped,omitempty"`
	Err        error             `json:"-"`
}

// RedemptionInput is the argument bundle for Engine.RecordCouponRedemption.
type RedemptionInput struct {
	SchoolID    string
	Coupon      Coupon
	Transaction Transaction
	UserEmail   string
}

// Collection names used against the tenant data gateway.
const (
	CollectionEntitlements       = "entitlements"
	CollectionProtectionPolicies = "content_protection_policies"
	CollectionOfferCourses       = "offer_courses"
	CollectionAffiliates         = "affiliates"
	CollectionReferrals          = "referrals"
	CollectionCoupons            = "coupons"
	CollectionRedemptions        = "coupon_redemptions"
)

// ErrorCode categorizes engine failures.
type ErrorCode string

const (
	// ErrorCodeNotFound indicates a requested record was not found
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeInvalidInput indicates invalid or malformed input data
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCodeStorageError indicates a problem with the gateway backend
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"
)

// EngineError is a structured error with categorization and optional cause
// chaining.
type EngineError struct {
	// Code categorizes the type of error
	Code ErrorCode `json:"code"`
	// Message provides a human-readable description of the error
	Message string `json:"message"`
	// Cause optionally wraps the underlying error
	Cause error `json:"cause,omitempty"`
}

// Error implements the error interface for EngineError.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// AccessDecision captures one course-access check for audit logging.
type AccessDecision struct {
	SchoolID  string    `json:"school_id"`
	UserEmail string    `json:"user_email"`
	CourseID  string    `json:"course_id"`
	Role      Role      `json:"role"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// GrantChange captures one provisioning mutation for audit logging.
type GrantChange struct {
	// Operation describes what kind of change was made (provision, renew, cancel)
	Operation string `json:"operation"`
	// Entitlement is the grant that was written
	Entitlement Entitlement `json:"entitlement"`
	// Timestamp records when the change occurred
	Timestamp time.Time `json:"timestamp"`
}

// AuditLogger captures security-relevant events: access decisions and grant
// mutations. Implementations must be safe for concurrent use.
type AuditLogger interface {
	// LogAccessDecision records course access decisions for audit purposes
	LogAccessDecision(ctx context.Context, decision AccessDecision)
	// LogGrantChange records grant mutations for audit purposes
	LogGrantChange(ctx context.Context, change GrantChange)
}

// MetricsCollector gathers performance and usage statistics from the engine.
type MetricsCollector interface {
	// IncrementAccessCount tracks the number of access checks
	IncrementAccessCount(allowed bool)
	// RecordAccessDuration tracks how long access checks take
	RecordAccessDuration(duration time.Duration)
	// IncrementGrantCount tracks provisioning operations
	IncrementGrantCount(operation string)
}
