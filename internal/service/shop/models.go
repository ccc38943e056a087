package shop

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/telemart/telemart/internal/service/tier"
)

// Subscription statuses stored on the shop record.
const (
	StatusActive      = "active"
	StatusGracePeriod = "grace_period"
	StatusInactive    = "inactive"
)

// Shop is one seller's storefront. Billing fields are mutated only
// through lifecycle transitions, never by CRUD code.
type Shop struct {
	ID                 int64
	UUID               uuid.UUID
	Name               string
	OwnerTelegramID    int64
	Tier               tier.Tier
	SubscriptionStatus string
	NextPaymentDue     sql.NullTime
	GracePeriodUntil   sql.NullTime
	RegistrationPaid   bool
	PaymentAddress     string
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectiveStatus evaluates the lifecycle lazily at read time: a shop
// whose due date or grace deadline has passed reads as the aged status
// even if the sweeper has not visited it yet. The stored record is left
// untouched.
func (s *Shop) EffectiveStatus(now time.Time) string {
	switch s.SubscriptionStatus {
	case StatusActive:
		if s.NextPaymentDue.Valid && s.NextPaymentDue.Time.Before(now) {
			grace := s.NextPaymentDue.Time.Add(tier.GracePeriod(s.Tier))
			if grace.Before(now) {
				return StatusInactive
			}
			return StatusGracePeriod
		}
	case StatusGracePeriod:
		if s.GracePeriodUntil.Valid && s.GracePeriodUntil.Time.Before(now) {
			return StatusInactive
		}
	}

	return s.SubscriptionStatus
}
