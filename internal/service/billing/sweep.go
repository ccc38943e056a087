package billing

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/telemart/telemart/internal/bus"
	"github.com/telemart/telemart/internal/service/shop"
)

const sweepBatchSize = 500

// reminderWindow is how far ahead of the due date owners get notified.
const reminderWindow = 3 * 24 * time.Hour

// Sweep ages every overdue shop through the lifecycle: active shops past
// their due date enter grace, shops past their grace deadline are
// deactivated. Shops are processed independently; one failure is counted
// and logged, the rest of the batch continues. Re-running against
// already-settled shops is a no-op.
func (l *Lifecycle) Sweep(ctx context.Context) (SweepStats, error) {
	now := clockNow()
	stats := SweepStats{}

	shops, err := l.shops.ListOverdue(ctx, now, sweepBatchSize)
	if err != nil {
		return stats, errors.Wrap(err, "unable to list overdue shops")
	}

	for _, sh := range shops {
		switch sh.SubscriptionStatus {
		case shop.StatusActive:
			applied, err := l.startGrace(ctx, sh)
			if err != nil {
				stats.Failed++
				l.logger.Error().Err(err).Int64("shop_id", sh.ID).Msg("unable to start grace period")
				continue
			}
			if applied {
				stats.GracePeriod++
			}

		case shop.StatusGracePeriod:
			if !sh.GracePeriodUntil.Valid || !sh.GracePeriodUntil.Time.Before(now) {
				continue
			}

			applied, err := l.deactivate(ctx, sh)
			if err != nil {
				stats.Failed++
				l.logger.Error().Err(err).Int64("shop_id", sh.ID).Msg("unable to deactivate shop")
				continue
			}
			if applied {
				stats.Deactivated++
			}
		}
	}

	expired, err := l.payments.ExpireLapsed(ctx, now)
	if err != nil {
		return stats, errors.Wrap(err, "unable to expire lapsed payments")
	}
	stats.Expired = expired

	l.logger.Info().
		Int64("expired", stats.Expired).
		Int("grace_period", stats.GracePeriod).
		Int("deactivated", stats.Deactivated).
		Int("failed", stats.Failed).
		Msg("subscription sweep complete")

	return stats, nil
}

// RemindUpcoming publishes a reminder event for every active shop whose
// payment falls due within the reminder window. Delivery is the
// notifier's concern.
func (l *Lifecycle) RemindUpcoming(ctx context.Context) (int, error) {
	now := clockNow()

	shops, err := l.shops.ListDueBetween(ctx, now, now.Add(reminderWindow))
	if err != nil {
		return 0, errors.Wrap(err, "unable to list shops due soon")
	}

	for _, sh := range shops {
		daysLeft := int(math.Ceil(sh.NextPaymentDue.Time.Sub(now).Hours() / 24))
		if daysLeft < 0 {
			daysLeft = 0
		}

		l.events.Publish(bus.TopicPaymentReminder, bus.PaymentReminder{
			ShopID:   sh.ID,
			ShopName: sh.Name,
			OwnerID:  sh.OwnerTelegramID,
			Tier:     sh.Tier.String(),
			DueAt:    sh.NextPaymentDue.Time,
			DaysLeft: daysLeft,
		})
	}

	return len(shops), nil
}
