package billing

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/telemart/telemart/internal/service/tier"
)

// UpgradeQuote prices a mid-period free-to-pro upgrade: the daily price
// difference over the days remaining in the running period.
func (s *Service) UpgradeQuote(ctx context.Context, shopID int64) (*UpgradeQuote, error) {
	sh, err := s.shops.GetByID(ctx, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve shop")
	}
	if sh.Tier == tier.Pro {
		return nil, ErrAlreadyPro
	}

	current, err := s.payments.CurrentForShop(ctx, shopID, clockNow())
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return nil, ErrNoActiveSubscription
	case err != nil:
		return nil, errors.Wrap(err, "unable to get current payment")
	}

	now := clockNow()
	remaining := int(current.PeriodEnd.Sub(now).Hours() / 24)
	if remaining < 0 {
		remaining = 0
	}

	return &UpgradeQuote{
		Amount:        tier.ProratedUpgradeAmount(current.PeriodStart, current.PeriodEnd, now),
		CurrentTier:   sh.Tier,
		NewTier:       tier.Pro,
		PeriodStart:   current.PeriodStart,
		PeriodEnd:     current.PeriodEnd,
		RemainingDays: remaining,
	}, nil
}

// Upgrade verifies a prorated payment and switches the shop to pro for
// the remainder of the running period. The next due date does not move:
// the pro record covers the same period bounds and the old record is
// cancelled.
func (s *Service) Upgrade(ctx context.Context, shopID int64, txHash, currencyTicker string, declared decimal.Decimal) (VerificationResult, error) {
	if !declared.IsPositive() {
		return VerificationResult{}, ErrInvalidAmount
	}

	currency, err := tier.ResolveCurrency(currencyTicker)
	if err != nil {
		return failed(ReasonUnsupportedCurrency), nil
	}

	if err := currency.ValidateTxHash(txHash); err != nil {
		return VerificationResult{}, err
	}

	sh, err := s.shops.GetByID(ctx, shopID)
	if err != nil {
		return VerificationResult{}, errors.Wrap(err, "unable to resolve shop")
	}

	// Existing record first: a re-claim of the hash that already paid
	// for this upgrade stays idempotent even though the shop is pro now.
	if result, done, err := s.resolveExisting(ctx, txHash, shopID); done {
		return result, err
	}

	if sh.Tier == tier.Pro {
		return VerificationResult{}, ErrAlreadyPro
	}

	current, err := s.payments.CurrentForShop(ctx, shopID, clockNow())
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return VerificationResult{}, ErrNoActiveSubscription
	case err != nil:
		return VerificationResult{}, errors.Wrap(err, "unable to get current payment")
	}

	required := tier.ProratedUpgradeAmount(current.PeriodStart, current.PeriodEnd, clockNow())

	result, _, err := s.checkOnChain(ctx, currency, txHash, sh.PaymentAddress, declared, required)
	if err != nil || result.Status != StatusConfirmed {
		return result, err
	}

	// The pro record inherits the period bounds so the due date stays.
	payment, err := s.recordPayment(ctx, CreatePaymentParams{
		ShopID:      shopID,
		Tier:        tier.Pro,
		Amount:      required,
		Currency:    currency.Ticker,
		TxHash:      txHash,
		PeriodStart: current.PeriodStart,
		PeriodEnd:   current.PeriodEnd,
	})
	if err != nil {
		return VerificationResult{}, err
	}
	if payment == nil {
		result, _, err := s.resolveExisting(ctx, txHash, shopID)
		return result, err
	}

	if err := s.payments.Cancel(ctx, current.ID); err != nil {
		return VerificationResult{}, errors.Wrap(err, "unable to cancel superseded payment")
	}

	if err := s.shops.SetTier(ctx, shopID, tier.Pro); err != nil {
		return VerificationResult{}, errors.Wrap(err, "unable to switch shop tier")
	}

	s.logger.Info().
		Int64("shop_id", shopID).
		Str("tx_hash", txHash).
		Str("amount", required.String()).
		Msg("shop upgraded to pro")

	return confirmed(payment), nil
}
