package billing

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/telemart/telemart/internal/service/tier"
)

// Payment is one accepted billing-period credit. The tx_hash uniqueness
// constraint on this record is the idempotency boundary for the whole
// verification flow.
type Payment struct {
	ID          int64
	UUID        uuid.UUID
	ShopID      int64
	Tier        tier.Tier
	Amount      decimal.Decimal
	Currency    string
	TxHash      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      string
	CreatedAt   time.Time
	VerifiedAt  sql.NullTime
}

// Payment statuses.
const (
	PaymentStatusActive    = "active"
	PaymentStatusExpired   = "expired"
	PaymentStatusCancelled = "cancelled"
)

// VerificationStatus classifies the outcome of a payment claim.
type VerificationStatus string

const (
	StatusConfirmed VerificationStatus = "confirmed"
	StatusPending   VerificationStatus = "pending"
	StatusFailed    VerificationStatus = "failed"
)

// FailureReason explains a terminal verification failure. The claimant
// must submit a new, correct transaction; retrying the same hash will
// not change the outcome.
type FailureReason string

const (
	ReasonNotFound            FailureReason = "not_found"
	ReasonUnderpaid           FailureReason = "underpaid"
	ReasonWrongAddress        FailureReason = "wrong_address"
	ReasonConflictingClaim    FailureReason = "conflicting_claim"
	ReasonUnsupportedCurrency FailureReason = "unsupported_currency"
)

// VerificationResult is the typed outcome of Verify. Expected failures of
// untrusted claims travel here, not as errors.
type VerificationResult struct {
	Status        VerificationStatus
	Reason        FailureReason
	Payment       *Payment
	Confirmations int64
	Required      int64
}

func confirmed(p *Payment) VerificationResult {
	return VerificationResult{Status: StatusConfirmed, Payment: p}
}

func pending(confirmations, required int64) VerificationResult {
	return VerificationResult{Status: StatusPending, Confirmations: confirmations, Required: required}
}

func failed(reason FailureReason) VerificationResult {
	return VerificationResult{Status: StatusFailed, Reason: reason}
}

// UpgradeQuote prices a mid-period move from free to pro.
type UpgradeQuote struct {
	Amount        decimal.Decimal
	CurrentTier   tier.Tier
	NewTier       tier.Tier
	PeriodStart   time.Time
	PeriodEnd     time.Time
	RemainingDays int
}

// SubscriptionStatus is the read model served to the settings UI.
type SubscriptionStatus struct {
	ShopID           int64
	Tier             tier.Tier
	Status           string
	IsActive         bool
	NextPaymentDue   *time.Time
	GracePeriodUntil *time.Time
	Price            decimal.Decimal
	Current          *Payment
}

// SweepStats summarizes one sweeper pass.
type SweepStats struct {
	Expired     int64
	GracePeriod int
	Deactivated int
	Failed      int
}
