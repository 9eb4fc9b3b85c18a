package middleware

import (
	"log"
	"net"

	"github.com/gofiber/fiber/v2"

	appcrypto "autofilter/crypto"
	"autofilter/metrics"
	"autofilter/utils"
)

// SecretTokenHeader carries the secret_token registered with setWebhook
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecretMiddleware rejects webhook deliveries whose secret token does
// not match. With ipCheck set, requests must also come from Telegram's
// published address ranges.
func WebhookSecretMiddleware(secret string, ipCheck bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ipCheck {
			ip := utils.ClientIP(c)
			if !utils.IsTelegramIP(net.ParseIP(ip)) {
				metrics.IncrementError("forbidden_ip", "webhook")
				log.Printf("⚠️ Webhook from non-Telegram address %s rejected", ip)
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
			}
		}

		if secret != "" && !appcrypto.Equal(c.Get(SecretTokenHeader), secret) {
			metrics.IncrementError("bad_secret", "webhook")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid secret token"})
		}

		return c.Next()
	}
}
