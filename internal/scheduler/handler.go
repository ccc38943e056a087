package scheduler

import (
	"context"

	"github.com/pkg/errors"

	"github.com/telemart/telemart/internal/service/billing"
)

// LifecycleService runs the periodic billing transitions.
type LifecycleService interface {
	Sweep(ctx context.Context) (billing.SweepStats, error)
	RemindUpcoming(ctx context.Context) (int, error)
}

// Handler holds the scheduled jobs. Each job method takes a context and
// returns an error; the scheduler wraps them with logging and overlap
// protection.
type Handler struct {
	lifecycle LifecycleService
}

func NewHandler(lifecycle LifecycleService) *Handler {
	return &Handler{lifecycle: lifecycle}
}

// SweepSubscriptions ages overdue shops through grace and deactivation
// and expires lapsed payment periods.
func (h *Handler) SweepSubscriptions(ctx context.Context) error {
	if _, err := h.lifecycle.Sweep(ctx); err != nil {
		return errors.Wrap(err, "unable to sweep subscriptions")
	}

	return nil
}

// SendPaymentReminders notifies owners whose payment falls due soon.
func (h *Handler) SendPaymentReminders(ctx context.Context) error {
	if _, err := h.lifecycle.RemindUpcoming(ctx); err != nil {
		return errors.Wrap(err, "unable to send payment reminders")
	}

	return nil
}
