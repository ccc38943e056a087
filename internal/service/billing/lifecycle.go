package billing

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/telemart/telemart/internal/bus"
	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/internal/service/tier"
)

// Lifecycle applies the billing state machine to shops. All transitions
// go through guarded store updates so a credit racing a sweep-driven
// transition always wins.
type Lifecycle struct {
	shops    ShopStore
	payments PaymentStore
	events   *bus.Bus
	logger   *zerolog.Logger
}

func NewLifecycle(shops ShopStore, payments PaymentStore, events *bus.Bus, logger *zerolog.Logger) *Lifecycle {
	log := logger.With().Str("channel", "subscription_lifecycle").Logger()

	return &Lifecycle{
		shops:    shops,
		payments: payments,
		events:   events,
		logger:   &log,
	}
}

// Credit moves a shop to active after a verified payment. Valid from any
// state: an inactive shop is reactivated, a shop in grace returns to
// active with the due date extended from the new payment's period end,
// not from the stale one.
func (l *Lifecycle) Credit(ctx context.Context, sh *shop.Shop, p *Payment) error {
	if err := l.shops.ApplyCredit(ctx, sh.ID, p.Tier, p.PeriodEnd); err != nil {
		return errors.Wrap(err, "unable to credit shop subscription")
	}

	l.logger.Info().
		Int64("shop_id", sh.ID).
		Str("tier", p.Tier.String()).
		Str("tx_hash", p.TxHash).
		Time("next_payment_due", p.PeriodEnd).
		Msg("subscription credited")

	l.events.Publish(bus.TopicSubscriptionCredited, bus.SubscriptionCredited{
		ShopID:    sh.ID,
		OwnerID:   sh.OwnerTelegramID,
		Tier:      p.Tier.String(),
		TxHash:    p.TxHash,
		Currency:  p.Currency,
		PeriodEnd: p.PeriodEnd,
	})

	return nil
}

// startGrace transitions one overdue shop into its grace period. Returns
// false when the guarded update matched nothing, i.e. a concurrent credit
// already moved the due date forward.
func (l *Lifecycle) startGrace(ctx context.Context, sh *shop.Shop) (bool, error) {
	if !sh.NextPaymentDue.Valid {
		return false, nil
	}

	until := sh.NextPaymentDue.Time.Add(tier.GracePeriod(sh.Tier))

	applied, err := l.shops.StartGracePeriod(ctx, sh.ID, until, clockNow())
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	l.logger.Warn().
		Int64("shop_id", sh.ID).
		Str("shop_name", sh.Name).
		Time("grace_period_until", until).
		Msg("shop entered grace period")

	l.events.Publish(bus.TopicShopEnteredGrace, bus.ShopEnteredGrace{
		ShopID:     sh.ID,
		ShopName:   sh.Name,
		OwnerID:    sh.OwnerTelegramID,
		GraceUntil: until,
	})

	return true, nil
}

// deactivate disables a shop whose grace period has elapsed. The store
// re-checks both deadlines inside the update, so a payment recorded
// between the sweep's read and this write aborts the deactivation.
func (l *Lifecycle) deactivate(ctx context.Context, sh *shop.Shop) (bool, error) {
	applied, err := l.shops.Deactivate(ctx, sh.ID, clockNow())
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	l.logger.Warn().
		Int64("shop_id", sh.ID).
		Str("shop_name", sh.Name).
		Msg("shop deactivated after grace period expiry")

	l.events.Publish(bus.TopicShopDeactivated, bus.ShopDeactivated{
		ShopID:   sh.ID,
		ShopName: sh.Name,
		OwnerID:  sh.OwnerTelegramID,
	})

	return true, nil
}
