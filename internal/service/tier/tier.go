package tier

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Tier is a named subscription plan.
type Tier string

const (
	Free Tier = "free"
	Pro  Tier = "pro"
)

var ErrUnknownTier = errors.New("unknown subscription tier")

// Billing constants shared by the verifier and the lifecycle manager.
// Kept here so the state machine carries no magic numbers.
const (
	PeriodDays = 30
	GraceDays  = 2
)

var (
	priceFree = decimal.NewFromFloat(25.00)
	pricePro  = decimal.NewFromFloat(35.00)

	// slippageTolerance allows the received amount to fall short of the
	// declared amount by up to 1% to absorb network fee rounding. The
	// floor below the required price is still enforced by the verifier.
	slippageTolerance = decimal.NewFromFloat(0.01)

	featuresFree = []string{"storefront", "up_to_50_products", "crypto_payments"}
	featuresPro  = []string{"storefront", "unlimited_products", "crypto_payments", "priority_support", "shop_analytics"}
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == Free || t == Pro
}

func (t Tier) String() string {
	return string(t)
}

// Price returns the monthly subscription price in USD.
func Price(t Tier) (decimal.Decimal, error) {
	switch t {
	case Free:
		return priceFree, nil
	case Pro:
		return pricePro, nil
	}

	return decimal.Zero, errors.Wrapf(ErrUnknownTier, "%q", t)
}

// Period returns the length of one paid subscription period.
func Period(t Tier) time.Duration {
	return PeriodDays * 24 * time.Hour
}

// GracePeriod returns how long a shop stays in grace after a missed
// payment before deactivation.
func GracePeriod(t Tier) time.Duration {
	return GraceDays * 24 * time.Hour
}

// SlippageTolerance returns the fraction of the declared amount that may
// be lost to fee rounding without failing verification.
func SlippageTolerance() decimal.Decimal {
	return slippageTolerance
}

// Features returns the feature list shown on the pricing page.
func Features(t Tier) []string {
	switch t {
	case Pro:
		return featuresPro
	default:
		return featuresFree
	}
}

// ProratedUpgradeAmount computes the payment required to move a running
// free-tier period to pro: the daily price difference multiplied by the
// days remaining in the period, floored at $0.01.
func ProratedUpgradeAmount(periodStart, periodEnd, now time.Time) decimal.Decimal {
	totalDays := decimal.NewFromFloat(periodEnd.Sub(periodStart).Hours() / 24).Ceil()
	remainingDays := decimal.NewFromFloat(periodEnd.Sub(now).Hours() / 24).Ceil()

	minimum := decimal.NewFromFloat(0.01)
	if totalDays.LessThanOrEqual(decimal.Zero) || remainingDays.LessThanOrEqual(decimal.Zero) {
		return minimum
	}

	daily := pricePro.Sub(priceFree).Div(totalDays)
	amount := daily.Mul(remainingDays).Round(2)

	if amount.LessThan(minimum) {
		return minimum
	}

	return amount
}
