package billing

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/internal/service/tier"
)

// clockNow is swapped in tests.
var clockNow = time.Now

var (
	ErrInvalidAmount        = errors.New("declared amount must be positive")
	ErrNoPaymentAddress     = errors.New("shop has no payment address on record")
	ErrAlreadyPro           = errors.New("shop is already on the pro tier")
	ErrNoActiveSubscription = errors.New("no active subscription period")
)

// LedgerOracle answers confirmation and amount queries for one claimed
// transaction. Implemented by oracle.Service; scripted in tests.
type LedgerOracle interface {
	LookupTransaction(ctx context.Context, currency tier.Currency, txHash string) (oracle.TxInfo, error)
}

// Service orchestrates payment verification: it validates claims, asks
// the ledger oracle, applies the confirmation and amount policy, records
// the outcome and triggers the subscription credit. Safe for concurrent
// use; the tx_hash unique constraint is the only serialization point.
type Service struct {
	payments  PaymentStore
	shops     ShopStore
	oracle    LedgerOracle
	lifecycle *Lifecycle
	logger    *zerolog.Logger
}

func New(payments PaymentStore, shops ShopStore, ledger LedgerOracle, lifecycle *Lifecycle, logger *zerolog.Logger) *Service {
	log := logger.With().Str("channel", "billing_service").Logger()

	return &Service{
		payments:  payments,
		shops:     shops,
		oracle:    ledger,
		lifecycle: lifecycle,
		logger:    &log,
	}
}

func (s *Service) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// Verify processes one payment claim for the shop's current tier. Calling
// it any number of times with the same hash yields the same result and at
// most one credit. Expected failures of untrusted claims are returned in
// the result; an error means infrastructure trouble and the caller should
// retry later.
func (s *Service) Verify(ctx context.Context, shopID int64, txHash, currencyTicker string, declared decimal.Decimal) (VerificationResult, error) {
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

	// Idempotency pre-check before any network call.
	if result, done, err := s.resolveExisting(ctx, txHash, shopID); done {
		return result, err
	}

	required, err := tier.Price(sh.Tier)
	if err != nil {
		return VerificationResult{}, err
	}

	result, info, err := s.checkOnChain(ctx, currency, txHash, sh.PaymentAddress, declared, required)
	if err != nil || result.Status != StatusConfirmed {
		return result, err
	}

	now := clockNow()
	payment, err := s.recordPayment(ctx, CreatePaymentParams{
		ShopID:      shopID,
		Tier:        sh.Tier,
		Amount:      required,
		Currency:    currency.Ticker,
		TxHash:      txHash,
		PeriodStart: now,
		PeriodEnd:   now.Add(tier.Period(sh.Tier)),
	})
	if err != nil {
		return VerificationResult{}, err
	}
	if payment == nil {
		// Lost the insert race; answer from the winning record.
		result, _, err := s.resolveExisting(ctx, txHash, shopID)
		return result, err
	}

	if err := s.lifecycle.Credit(ctx, sh, payment); err != nil {
		return VerificationResult{}, err
	}

	s.logger.Info().
		Int64("shop_id", shopID).
		Str("tx_hash", txHash).
		Str("currency", currency.Ticker).
		Int64("confirmations", info.Confirmations).
		Msg("payment verified and credited")

	return confirmed(payment), nil
}

// resolveExisting answers a claim from an already-recorded payment. done
// is false when no record exists and verification should proceed.
func (s *Service) resolveExisting(ctx context.Context, txHash string, shopID int64) (VerificationResult, bool, error) {
	existing, err := s.payments.GetByTxHash(ctx, txHash)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return VerificationResult{}, false, nil
	case err != nil:
		return VerificationResult{}, true, errors.Wrap(err, "unable to check existing payment")
	}

	// One transaction can never credit two shops.
	if existing.ShopID != shopID {
		return failed(ReasonConflictingClaim), true, nil
	}

	return confirmed(existing), true, nil
}

// checkOnChain queries the oracle and applies the amount, address and
// confirmation policy. A Confirmed result means the claim is creditable;
// nothing has been written yet.
func (s *Service) checkOnChain(
	ctx context.Context,
	currency tier.Currency,
	txHash, expectedAddress string,
	declared, required decimal.Decimal,
) (VerificationResult, oracle.TxInfo, error) {
	if expectedAddress == "" {
		// Addresses are assigned by the backend; a missing one is a
		// provisioning bug, not a claimant mistake.
		return VerificationResult{}, oracle.TxInfo{}, ErrNoPaymentAddress
	}

	if err := currency.ValidateAddress(expectedAddress); err != nil {
		// The address on record belongs to a different chain than the
		// declared currency: the claim cannot possibly pay it.
		return failed(ReasonWrongAddress), oracle.TxInfo{}, nil
	}

	floor := requiredFloor(required)
	if declared.LessThan(floor) {
		return failed(ReasonUnderpaid), oracle.TxInfo{}, nil
	}

	info, err := s.oracle.LookupTransaction(ctx, currency, txHash)
	switch {
	case errors.Is(err, oracle.ErrTxNotFound):
		return failed(ReasonNotFound), oracle.TxInfo{}, nil
	case err != nil:
		return VerificationResult{}, oracle.TxInfo{}, errors.Wrap(err, "oracle lookup failed")
	}

	// A reverted transaction transferred nothing.
	if !info.Success {
		return failed(ReasonNotFound), info, nil
	}

	received, found := info.AmountTo(currency, expectedAddress)
	if !found {
		return failed(ReasonWrongAddress), info, nil
	}

	// Received may fall short of declared by the slippage band (fee
	// rounding), but never below the required minimum.
	declaredFloor := declared.Mul(decimal.NewFromInt(1).Sub(tier.SlippageTolerance()))
	if received.LessThan(declaredFloor) || received.LessThan(floor) {
		return failed(ReasonUnderpaid), info, nil
	}

	if info.Confirmations < currency.MinConfirmations {
		return pending(info.Confirmations, currency.MinConfirmations), info, nil
	}

	return VerificationResult{Status: StatusConfirmed}, info, nil
}

// recordPayment inserts the accepted payment. A nil payment with nil
// error signals a lost duplicate-insert race.
func (s *Service) recordPayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	payment, err := s.payments.Create(ctx, params)
	switch {
	case errors.Is(err, ErrDuplicateTxHash):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "unable to record payment")
	}

	return payment, nil
}

// requiredFloor is the lowest acceptable amount for a given price after
// the slippage band.
func requiredFloor(required decimal.Decimal) decimal.Decimal {
	return required.Mul(decimal.NewFromInt(1).Sub(tier.SlippageTolerance()))
}

// Status returns the read model for the settings UI. Lifecycle aging is
// evaluated lazily so a shop overdue since the last sweep reads with its
// effective status.
func (s *Service) Status(ctx context.Context, shopID int64) (*SubscriptionStatus, error) {
	sh, err := s.shops.GetByID(ctx, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve shop")
	}

	price, err := tier.Price(sh.Tier)
	if err != nil {
		return nil, err
	}

	status := &SubscriptionStatus{
		ShopID:   sh.ID,
		Tier:     sh.Tier,
		Status:   sh.EffectiveStatus(clockNow()),
		IsActive: sh.IsActive,
		Price:    price,
	}

	if sh.NextPaymentDue.Valid {
		due := sh.NextPaymentDue.Time
		status.NextPaymentDue = &due
	}
	if sh.GracePeriodUntil.Valid {
		until := sh.GracePeriodUntil.Time
		status.GracePeriodUntil = &until
	} else if status.Status == shop.StatusGracePeriod && sh.NextPaymentDue.Valid {
		// Aged on read before the sweeper stored the deadline; derive it.
		until := sh.NextPaymentDue.Time.Add(tier.GracePeriod(sh.Tier))
		status.GracePeriodUntil = &until
	}

	current, err := s.payments.CurrentForShop(ctx, shopID, clockNow())
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		// No running period; status fields already reflect that.
	case err != nil:
		return nil, errors.Wrap(err, "unable to get current payment")
	default:
		status.Current = current
	}

	return status, nil
}

// ListHistory returns the shop's payment history, newest first.
func (s *Service) ListHistory(ctx context.Context, shopID int64, limit int) ([]*Payment, error) {
	return s.payments.ListByShop(ctx, shopID, limit)
}

func (s *Service) GetShop(ctx context.Context, shopID int64) (*shop.Shop, error) {
	return s.shops.GetByID(ctx, shopID)
}
