// Package notifier turns billing lifecycle events into owner-facing
// notices. Delivery itself (Telegram bot, email) sits behind the Sender
// interface; the notifier owns subscription wiring and message text.
package notifier

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/telemart/telemart/internal/bus"
)

// Sender delivers one rendered notice to a shop owner.
type Sender interface {
	Send(ctx context.Context, ownerID int64, text string) error
}

type Service struct {
	events *bus.Bus
	sender Sender
	logger *zerolog.Logger
}

func New(events *bus.Bus, sender Sender, logger *zerolog.Logger) *Service {
	log := logger.With().Str("channel", "notifier_service").Logger()

	return &Service{
		events: events,
		sender: sender,
		logger: &log,
	}
}

// Start subscribes to every billing lifecycle topic. Handlers run
// asynchronously; a failed delivery is logged and dropped, it never
// blocks the billing flow that published the event.
func (s *Service) Start() error {
	subscriptions := map[string]any{
		bus.TopicSubscriptionCredited: s.onCredited,
		bus.TopicShopEnteredGrace:     s.onEnteredGrace,
		bus.TopicShopDeactivated:      s.onDeactivated,
		bus.TopicPaymentReminder:      s.onReminder,
	}

	for topic, handler := range subscriptions {
		if err := s.events.Subscribe(topic, handler); err != nil {
			return errors.Wrapf(err, "unable to subscribe to %s", topic)
		}
	}

	return nil
}

func (s *Service) onCredited(event bus.SubscriptionCredited) {
	text := fmt.Sprintf(
		"✅ Payment received! Your %s subscription is active until %s.",
		event.Tier, event.PeriodEnd.Format("Jan 2, 2006"),
	)

	s.deliver(event.ShopID, event.OwnerID, text)
}

func (s *Service) onEnteredGrace(event bus.ShopEnteredGrace) {
	text := fmt.Sprintf(
		"⚠️ Payment overdue for %s. Your shop stays online until %s — renew now to avoid deactivation.",
		event.ShopName, event.GraceUntil.Format("Jan 2, 2006 15:04 MST"),
	)

	s.deliver(event.ShopID, event.OwnerID, text)
}

func (s *Service) onDeactivated(event bus.ShopDeactivated) {
	text := fmt.Sprintf(
		"❌ %s has been deactivated for non-payment. Renew your subscription to bring it back online.",
		event.ShopName,
	)

	s.deliver(event.ShopID, event.OwnerID, text)
}

func (s *Service) onReminder(event bus.PaymentReminder) {
	var when string
	switch event.DaysLeft {
	case 0:
		when = "today"
	case 1:
		when = "tomorrow"
	default:
		when = fmt.Sprintf("in %d days", event.DaysLeft)
	}

	text := fmt.Sprintf(
		"🔔 Reminder: the %s subscription for %s is due %s (%s).",
		event.Tier, event.ShopName, when, event.DueAt.Format("Jan 2"),
	)

	s.deliver(event.ShopID, event.OwnerID, text)
}

func (s *Service) deliver(shopID, ownerID int64, text string) {
	if err := s.sender.Send(context.Background(), ownerID, text); err != nil {
		s.logger.Error().Err(err).
			Int64("shop_id", shopID).
			Int64("owner_id", ownerID).
			Msg("unable to deliver notification")
		return
	}

	s.logger.Info().
		Int64("shop_id", shopID).
		Int64("owner_id", ownerID).
		Msg("notification delivered")
}
