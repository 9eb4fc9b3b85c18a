package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"autofilter/buildinfo"
	"autofilter/config"
	"autofilter/services"
	"autofilter/telegram"
	"autofilter/utils"
)

// UpdateDeduper recognizes redelivered updates
type UpdateDeduper interface {
	FirstSeen(ctx context.Context, updateID int64) (bool, error)
}

// TaskQueue runs work off the request path
type TaskQueue interface {
	Submit(name string, fn services.Task) bool
}

// UpdateProcessor handles a decoded update
type UpdateProcessor interface {
	HandleUpdate(ctx context.Context, update *telegram.Update)
}

// WebhookHandler acknowledges Telegram deliveries and queues their processing
type WebhookHandler struct {
	deduper   UpdateDeduper
	queue     TaskQueue
	processor UpdateProcessor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(deduper UpdateDeduper, queue TaskQueue, processor UpdateProcessor) *WebhookHandler {
	return &WebhookHandler{deduper: deduper, queue: queue, processor: processor}
}

// HandleWebhook receives an update. Anything that parses is acknowledged with
// {"ok":true} so Telegram does not redeliver it; processing happens on the queue.
func (h *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	var update telegram.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "Invalid update payload"})
	}
	if update.UpdateID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "update_id is required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	first, err := h.deduper.FirstSeen(ctx, update.UpdateID)
	if err != nil {
		utils.LogRequestError(c, "DEDUPE", err, "update_id", update.UpdateID)
	}
	if !first {
		log.Printf("Skipping duplicate update %d", update.UpdateID)
		return c.JSON(fiber.Map{"ok": true})
	}

	name := "update:" + strconv.FormatInt(update.UpdateID, 10)
	if !h.queue.Submit(name, func(ctx context.Context) error {
		h.processor.HandleUpdate(ctx, &update)
		return nil
	}) {
		log.Printf("⚠️ Dispatcher full, dropped update %d", update.UpdateID)
	}

	return c.JSON(fiber.Map{"ok": true})
}

// WebhookSetter registers the webhook URL with Telegram
type WebhookSetter interface {
	SetWebhook(ctx context.Context, url, secretToken string) (map[string]any, error)
}

// SetWebhookHandler points Telegram at EXPOSED_URL/webhook and relays the Bot API reply
func SetWebhookHandler(cfg *config.Config, setter WebhookSetter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url := cfg.WebhookURL()
		if url == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Set EXPOSED_URL env var first"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), telegram.DefaultTimeout)
		defer cancel()

		result, err := setter.SetWebhook(ctx, url, cfg.WebhookSecret)
		if err != nil {
			utils.LogRequestError(c, "SET_WEBHOOK", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Telegram request failed"})
		}
		return c.JSON(result)
	}
}

// VersionHandler reports the toolchain and module set compiled into the binary
func VersionHandler(c *fiber.Ctx) error {
	info, ok := buildinfo.Read()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Build information unavailable"})
	}
	return c.JSON(info)
}
