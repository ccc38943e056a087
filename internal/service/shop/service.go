package shop

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/telemart/telemart/internal/service/tier"
)

// Service is the durable store for shop subscription state. Shops are
// provisioned by the storefront CRUD (outside this service); billing owns
// the lifecycle columns.
type Service struct {
	db     *pgxpool.Pool
	logger *zerolog.Logger
}

var ErrNotFound = errors.New("shop not found")

const shopColumns = `id, uuid, name, owner_telegram_id, tier, subscription_status,
	       next_payment_due, grace_period_until, registration_paid, payment_address,
	       is_active, created_at, updated_at`

func New(db *pgxpool.Pool, logger *zerolog.Logger) *Service {
	log := logger.With().Str("channel", "shop_service").Logger()

	return &Service{
		db:     db,
		logger: &log,
	}
}

func (s *Service) GetByID(ctx context.Context, shopID int64) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`

	var sh Shop
	err := s.db.QueryRow(ctx, query, shopID).Scan(
		&sh.ID, &sh.UUID, &sh.Name, &sh.OwnerTelegramID, &sh.Tier, &sh.SubscriptionStatus,
		&sh.NextPaymentDue, &sh.GracePeriodUntil, &sh.RegistrationPaid, &sh.PaymentAddress,
		&sh.IsActive, &sh.CreatedAt, &sh.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get shop")
	}

	return &sh, nil
}

// ApplyCredit moves the shop to active after a verified payment. Applies
// from any prior state, including reactivation of an inactive shop.
func (s *Service) ApplyCredit(ctx context.Context, shopID int64, t tier.Tier, nextPaymentDue time.Time) error {
	query := `UPDATE shops
	          SET tier = $2,
	              subscription_status = $3,
	              next_payment_due = $4,
	              grace_period_until = NULL,
	              registration_paid = TRUE,
	              is_active = TRUE,
	              updated_at = NOW()
	          WHERE id = $1`

	ct, err := s.db.Exec(ctx, query, shopID, t, StatusActive, nextPaymentDue)
	if err != nil {
		return errors.Wrap(err, "unable to apply subscription credit")
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// StartGracePeriod transitions an overdue active shop into grace. The
// WHERE clause re-checks the due date so a concurrently recorded credit
// wins the race and the transition becomes a no-op.
func (s *Service) StartGracePeriod(ctx context.Context, shopID int64, until, now time.Time) (bool, error) {
	query := `UPDATE shops
	          SET subscription_status = $2,
	              grace_period_until = $3,
	              updated_at = NOW()
	          WHERE id = $1
	            AND subscription_status = $4
	            AND next_payment_due < $5`

	ct, err := s.db.Exec(ctx, query, shopID, StatusGracePeriod, until, StatusActive, now)
	if err != nil {
		return false, errors.Wrap(err, "unable to start grace period")
	}

	return ct.RowsAffected() > 0, nil
}

// Deactivate disables a shop whose grace period has elapsed. Both the
// grace deadline and the due date are re-checked inside the statement;
// if a credit landed meanwhile the update matches nothing.
func (s *Service) Deactivate(ctx context.Context, shopID int64, now time.Time) (bool, error) {
	query := `UPDATE shops
	          SET subscription_status = $2,
	              is_active = FALSE,
	              updated_at = NOW()
	          WHERE id = $1
	            AND subscription_status = $3
	            AND grace_period_until < $4
	            AND next_payment_due < $4`

	ct, err := s.db.Exec(ctx, query, shopID, StatusInactive, StatusGracePeriod, now)
	if err != nil {
		return false, errors.Wrap(err, "unable to deactivate shop")
	}

	return ct.RowsAffected() > 0, nil
}

// SetTier flips the shop's tier without touching lifecycle dates. Used by
// mid-period pro upgrades where the paid period is unchanged.
func (s *Service) SetTier(ctx context.Context, shopID int64, t tier.Tier) error {
	ct, err := s.db.Exec(ctx, `UPDATE shops SET tier = $2, updated_at = NOW() WHERE id = $1`, shopID, t)
	if err != nil {
		return errors.Wrap(err, "unable to set shop tier")
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListOverdue returns shops whose due date has passed and that have not
// been deactivated yet. Consumed by the sweeper.
func (s *Service) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Shop, error) {
	query := `SELECT ` + shopColumns + `
	          FROM shops
	          WHERE next_payment_due < $1
	            AND subscription_status != $2
	          ORDER BY next_payment_due ASC
	          LIMIT $3`

	return s.list(ctx, query, now, StatusInactive, limit)
}

// ListDueBetween returns active shops whose due date falls inside the
// window. Consumed by the reminder job.
func (s *Service) ListDueBetween(ctx context.Context, from, to time.Time) ([]*Shop, error) {
	query := `SELECT ` + shopColumns + `
	          FROM shops
	          WHERE subscription_status = $1
	            AND next_payment_due BETWEEN $2 AND $3
	          ORDER BY next_payment_due ASC`

	return s.list(ctx, query, StatusActive, from, to)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]*Shop, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list shops")
	}
	defer rows.Close()

	var shops []*Shop
	for rows.Next() {
		var sh Shop
		err := rows.Scan(
			&sh.ID, &sh.UUID, &sh.Name, &sh.OwnerTelegramID, &sh.Tier, &sh.SubscriptionStatus,
			&sh.NextPaymentDue, &sh.GracePeriodUntil, &sh.RegistrationPaid, &sh.PaymentAddress,
			&sh.IsActive, &sh.CreatedAt, &sh.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan shop")
		}
		shops = append(shops, &sh)
	}

	return shops, nil
}
