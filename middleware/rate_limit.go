package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"autofilter/utils"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	WebhookLimiter     fiber.Handler
	AdminLimiter       fiber.Handler
	LightweightLimiter fiber.Handler
}

func newLimiter(storage fiber.Storage, max int, expiration time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": message,
			})
		},
	})
}

// NewRateLimitConfig creates all rate limiters using Redis storage
func NewRateLimitConfig(rdb *redis.Client) *RateLimitConfig {
	// Shared across replicas through the existing client
	storage := redisstorage.NewFromConnection(rdb)

	return &RateLimitConfig{
		// Telegram delivers from a handful of addresses and may burst after downtime
		WebhookLimiter: newLimiter(storage, 1200, time.Minute, "Too many webhook deliveries. Please try again later."),
		AdminLimiter:   newLimiter(storage, 60, time.Minute, "Too many admin requests. Please try again later."),
		// Health probes and webhook registration
		LightweightLimiter: newLimiter(storage, 200, time.Minute, "Too many requests. Please try again later."),
	}
}
