package router

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"bestelling-engine/app/controller"
)

type Controllers struct {
	Basket  *controller.BasketController
	Order   *controller.OrderController
	Payment *controller.PaymentController
	Health  *controller.HealthController
}

const webhookPath = "/payments/webhook"

func rateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		// the provider retries webhooks on its own schedule
		Skipper: func(c echo.Context) bool { return c.Path() == webhookPath },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(10),
				Burst:     30,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "rate limiter unavailable"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
	})
}

// SetupRoutes builds the echo instance with every route registered.
func SetupRoutes(controllers *Controllers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(rateLimiter())

	// Health
	e.GET("/ping", controllers.Health.Ping)
	e.GET("/health", controllers.Health.Health)

	// Basket routes
	e.GET("/baskets/:account", controllers.Basket.Get)
	e.POST("/baskets/:account/items", controllers.Basket.Reserve)
	e.DELETE("/baskets/:account/items/:line", controllers.Basket.Remove)
	e.PUT("/baskets/:account/transport", controllers.Basket.ChangeTransport)
	e.PUT("/baskets/:account/address", controllers.Basket.ChangeAddress)
	e.POST("/baskets/:account/checkout", controllers.Basket.Checkout)

	// Order routes
	e.GET("/accounts/:account/orders", controllers.Order.ListByAccount)
	e.GET("/orders/:id", controllers.Order.Get)
	e.POST("/orders/:id/payments", controllers.Order.StartPayment)
	e.POST("/orders/:id/cancel", controllers.Order.Cancel)
	e.POST("/orders/:id/transfers", controllers.Order.ManualTransfer)
	e.POST("/orders/:id/lines/:line/withdraw", controllers.Order.Withdraw)

	// Payment provider callbacks
	e.POST(webhookPath, controllers.Payment.Webhook)

	return e
}
