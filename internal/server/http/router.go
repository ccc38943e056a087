package http

import (
	mw "github.com/labstack/echo/v4/middleware"

	"github.com/telemart/telemart/internal/server/http/billingapi"
)

// WithBillingAPI attaches the storefront billing routes.
func WithBillingAPI(handler *billingapi.Handler) Opt {
	return func(s *Server) {
		billingAPI := s.echo.Group("/api/billing/v1")

		billingAPI.GET("/subscription/plans", handler.GetPlans)

		shopGroup := billingAPI.Group("/shop/:" + billingapi.ParamShopID)

		// Verification hits external block explorers; keep abuse cheap.
		verifyRL := mw.NewRateLimiterMemoryStore(5)
		shopGroup.POST("/subscription/verify", handler.VerifyPayment, mw.RateLimiter(verifyRL))
		shopGroup.POST("/subscription/upgrade", handler.UpgradeSubscription, mw.RateLimiter(verifyRL))

		shopGroup.GET("/subscription", handler.GetSubscription)
		shopGroup.GET("/subscription/history", handler.ListHistory)
		shopGroup.GET("/subscription/upgrade-cost", handler.GetUpgradeCost)
	}
}
