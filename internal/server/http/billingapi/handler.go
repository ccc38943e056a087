// Package billingapi exposes payment verification and subscription
// state over HTTP for the storefront backend.
package billingapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/telemart/telemart/internal/server/http/common"
	"github.com/telemart/telemart/internal/service/billing"
	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/internal/service/tier"
	"github.com/telemart/telemart/internal/util"
)

const ParamShopID = "shopId"

type Handler struct {
	billingService *billing.Service
	logger         *zerolog.Logger
}

func New(billingService *billing.Service, logger *zerolog.Logger) *Handler {
	log := logger.With().Str("channel", "billing_api").Logger()

	return &Handler{
		billingService: billingService,
		logger:         &log,
	}
}

// Request / response structures

type VerifyRequest struct {
	TxHash   string          `json:"tx_hash" validate:"required"`
	Currency string          `json:"currency" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
}

type VerifyResponse struct {
	Status        string           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	Confirmations int64            `json:"confirmations,omitempty"`
	Required      int64            `json:"required_confirmations,omitempty"`
	Payment       *PaymentResponse `json:"payment,omitempty"`
}

type PaymentResponse struct {
	UUID        string          `json:"uuid"`
	Tier        string          `json:"tier"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	TxHash      string          `json:"tx_hash"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Status      string          `json:"status"`
}

type StatusResponse struct {
	ShopID           int64            `json:"shop_id"`
	Tier             string           `json:"tier"`
	Status           string           `json:"status"`
	IsActive         bool             `json:"is_active"`
	Price            decimal.Decimal  `json:"price_usd"`
	NextPaymentDue   *string          `json:"next_payment_due,omitempty"`
	GracePeriodUntil *string          `json:"grace_period_until,omitempty"`
	Current          *PaymentResponse `json:"current_payment,omitempty"`
}

type PlanResponse struct {
	Tier     string          `json:"tier"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	Features []string        `json:"features"`
}

type CurrencyResponse struct {
	Ticker           string `json:"ticker"`
	Name             string `json:"name"`
	Network          string `json:"network"`
	MinConfirmations int64  `json:"min_confirmations"`
}

type PlansResponse struct {
	Plans      []PlanResponse     `json:"plans"`
	Currencies []CurrencyResponse `json:"currencies"`
	PeriodDays int                `json:"period_days"`
	GraceDays  int                `json:"grace_days"`
}

type UpgradeQuoteResponse struct {
	CurrentTier   string          `json:"current_tier"`
	NewTier       string          `json:"new_tier"`
	Amount        decimal.Decimal `json:"amount_usd"`
	PeriodEnd     string          `json:"period_end"`
	RemainingDays int             `json:"remaining_days"`
}

// Handlers

// GetPlans returns the public pricing page data.
// GET /api/billing/v1/subscription/plans
func (h *Handler) GetPlans(c echo.Context) error {
	tiers := []tier.Tier{tier.Free, tier.Pro}

	plans := make([]PlanResponse, 0, len(tiers))
	for _, t := range tiers {
		price, err := tier.Price(t)
		if err != nil {
			return common.InternalErrorResponse(c, "unable to list plans")
		}

		plans = append(plans, PlanResponse{
			Tier:     t.String(),
			PriceUSD: price,
			Features: tier.Features(t),
		})
	}

	currencies := tier.SupportedCurrencies()
	currencyResponses := make([]CurrencyResponse, 0, len(currencies))
	for _, cur := range currencies {
		currencyResponses = append(currencyResponses, CurrencyResponse{
			Ticker:           cur.Ticker,
			Name:             cur.Name,
			Network:          cur.Network,
			MinConfirmations: cur.MinConfirmations,
		})
	}

	return c.JSON(http.StatusOK, PlansResponse{
		Plans:      plans,
		Currencies: currencyResponses,
		PeriodDays: tier.PeriodDays,
		GraceDays:  tier.GraceDays,
	})
}

// VerifyPayment checks a claimed on-chain payment and credits the shop.
// POST /api/billing/v1/shop/:shopId/subscription/verify
func (h *Handler) VerifyPayment(c echo.Context) error {
	ctx := c.Request().Context()

	shopID, err := resolveShopID(c)
	if err != nil {
		return common.ValidationErrorResponse(c, "invalid shop id")
	}

	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return common.ValidationErrorResponse(c, "invalid request body")
	}
	if req.TxHash == "" || req.Currency == "" {
		return common.ValidationErrorResponse(c, "tx_hash and currency are required")
	}

	result, err := h.billingService.Verify(ctx, shopID, req.TxHash, req.Currency, req.Amount)
	if err != nil {
		return h.mapVerifyError(c, shopID, err)
	}

	return c.JSON(http.StatusOK, verifyResultToResponse(result))
}

// GetSubscription returns the shop's subscription status.
// GET /api/billing/v1/shop/:shopId/subscription
func (h *Handler) GetSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	shopID, err := resolveShopID(c)
	if err != nil {
		return common.ValidationErrorResponse(c, "invalid shop id")
	}

	status, err := h.billingService.Status(ctx, shopID)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return common.NotFoundResponse(c, "shop not found")
		}

		h.logger.Error().Err(err).Int64("shop_id", shopID).Msg("unable to get subscription status")
		return common.InternalErrorResponse(c, "unable to get subscription status")
	}

	return c.JSON(http.StatusOK, statusToResponse(status))
}

// ListHistory returns the shop's payment history, newest first.
// GET /api/billing/v1/shop/:shopId/subscription/history
func (h *Handler) ListHistory(c echo.Context) error {
	ctx := c.Request().Context()

	shopID, err := resolveShopID(c)
	if err != nil {
		return common.ValidationErrorResponse(c, "invalid shop id")
	}

	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			return common.ValidationErrorResponse(c, "limit must be between 1 and 100")
		}
		limit = parsed
	}

	payments, err := h.billingService.ListHistory(ctx, shopID, limit)
	if err != nil {
		h.logger.Error().Err(err).Int64("shop_id", shopID).Msg("unable to list payment history")
		return common.InternalErrorResponse(c, "unable to list payment history")
	}

	return c.JSON(http.StatusOK, util.MapSlice(payments, paymentToResponse))
}

// GetUpgradeCost prices a mid-period free-to-pro upgrade.
// GET /api/billing/v1/shop/:shopId/subscription/upgrade-cost
func (h *Handler) GetUpgradeCost(c echo.Context) error {
	ctx := c.Request().Context()

	shopID, err := resolveShopID(c)
	if err != nil {
		return common.ValidationErrorResponse(c, "invalid shop id")
	}

	quote, err := h.billingService.UpgradeQuote(ctx, shopID)
	if err != nil {
		switch {
		case errors.Is(err, shop.ErrNotFound):
			return common.NotFoundResponse(c, "shop not found")
		case errors.Is(err, billing.ErrAlreadyPro):
			return common.ConflictResponse(c, "shop is already on the pro tier")
		case errors.Is(err, billing.ErrNoActiveSubscription):
			return common.ConflictResponse(c, "no active subscription period")
		}

		h.logger.Error().Err(err).Int64("shop_id", shopID).Msg("unable to quote upgrade")
		return common.InternalErrorResponse(c, "unable to quote upgrade")
	}

	return c.JSON(http.StatusOK, UpgradeQuoteResponse{
		CurrentTier:   quote.CurrentTier.String(),
		NewTier:       quote.NewTier.String(),
		Amount:        quote.Amount,
		PeriodEnd:     quote.PeriodEnd.Format(time.RFC3339),
		RemainingDays: quote.RemainingDays,
	})
}

// UpgradeSubscription verifies a prorated payment and switches the shop
// to pro for the remainder of the period.
// POST /api/billing/v1/shop/:shopId/subscription/upgrade
func (h *Handler) UpgradeSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	shopID, err := resolveShopID(c)
	if err != nil {
		return common.ValidationErrorResponse(c, "invalid shop id")
	}

	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return common.ValidationErrorResponse(c, "invalid request body")
	}
	if req.TxHash == "" || req.Currency == "" {
		return common.ValidationErrorResponse(c, "tx_hash and currency are required")
	}

	result, err := h.billingService.Upgrade(ctx, shopID, req.TxHash, req.Currency, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrAlreadyPro):
			return common.ConflictResponse(c, "shop is already on the pro tier")
		case errors.Is(err, billing.ErrNoActiveSubscription):
			return common.ConflictResponse(c, "no active subscription period")
		}

		return h.mapVerifyError(c, shopID, err)
	}

	return c.JSON(http.StatusOK, verifyResultToResponse(result))
}

func (h *Handler) mapVerifyError(c echo.Context, shopID int64, err error) error {
	switch {
	case errors.Is(err, billing.ErrInvalidAmount):
		return common.ValidationErrorResponse(c, "amount must be positive")
	case errors.Is(err, tier.ErrInvalidTxHash):
		return common.ValidationErrorResponse(c, "malformed transaction hash")
	case errors.Is(err, shop.ErrNotFound):
		return common.NotFoundResponse(c, "shop not found")
	}

	h.logger.Error().Err(err).Int64("shop_id", shopID).Msg("payment verification failed")
	return common.InternalErrorResponse(c, "unable to verify payment, please retry later")
}

// Response mapping

func verifyResultToResponse(result billing.VerificationResult) VerifyResponse {
	return VerifyResponse{
		Status:        string(result.Status),
		Reason:        string(result.Reason),
		Confirmations: result.Confirmations,
		Required:      result.Required,
		Payment:       paymentToResponse(result.Payment),
	}
}

func paymentToResponse(p *billing.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}

	return &PaymentResponse{
		UUID:        p.UUID.String(),
		Tier:        p.Tier.String(),
		Amount:      p.Amount,
		Currency:    p.Currency,
		TxHash:      p.TxHash,
		PeriodStart: p.PeriodStart.Format(time.RFC3339),
		PeriodEnd:   p.PeriodEnd.Format(time.RFC3339),
		Status:      p.Status,
	}
}

func statusToResponse(status *billing.SubscriptionStatus) StatusResponse {
	response := StatusResponse{
		ShopID:   status.ShopID,
		Tier:     status.Tier.String(),
		Status:   status.Status,
		IsActive: status.IsActive,
		Price:    status.Price,
		Current:  paymentToResponse(status.Current),
	}

	if status.NextPaymentDue != nil {
		response.NextPaymentDue = util.Ptr(status.NextPaymentDue.Format(time.RFC3339))
	}
	if status.GracePeriodUntil != nil {
		response.GracePeriodUntil = util.Ptr(status.GracePeriodUntil.Format(time.RFC3339))
	}

	return response
}

func resolveShopID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param(ParamShopID), 10, 64)
}
