package bus

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Topics for billing lifecycle events.
const (
	TopicSubscriptionCredited = "billing.subscription.credited"
	TopicShopEnteredGrace     = "billing.shop.grace_period"
	TopicShopDeactivated      = "billing.shop.deactivated"
	TopicPaymentReminder      = "billing.payment.reminder"
)

type SubscriptionCredited struct {
	ShopID    int64
	OwnerID   int64
	Tier      string
	TxHash    string
	Currency  string
	PeriodEnd time.Time
}

type ShopEnteredGrace struct {
	ShopID     int64
	ShopName   string
	OwnerID    int64
	GraceUntil time.Time
}

type ShopDeactivated struct {
	ShopID   int64
	ShopName string
	OwnerID  int64
}

type PaymentReminder struct {
	ShopID   int64
	ShopName string
	OwnerID  int64
	Tier     string
	DueAt    time.Time
	DaysLeft int
}

// Bus is a thin wrapper around EventBus with async publishing and
// error-logged subscriptions.
type Bus struct {
	inner  EventBus.Bus
	logger *zerolog.Logger
}

func New(logger *zerolog.Logger) *Bus {
	log := logger.With().Str("channel", "event_bus").Logger()

	return &Bus{
		inner:  EventBus.New(),
		logger: &log,
	}
}

// Publish delivers payload to subscribers asynchronously. Delivery is
// best-effort: billing state is already durable by the time an event is
// published.
func (b *Bus) Publish(topic string, payload any) {
	b.inner.Publish(topic, payload)
}

func (b *Bus) Subscribe(topic string, fn any) error {
	if err := b.inner.SubscribeAsync(topic, fn, false); err != nil {
		return errors.Wrapf(err, "unable to subscribe to %s", topic)
	}

	return nil
}

// Wait blocks until all async handlers have finished. Used on shutdown
// and in tests.
func (b *Bus) Wait() {
	b.inner.WaitAsync()
}
