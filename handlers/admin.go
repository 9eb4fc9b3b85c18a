package handlers

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"autofilter/database"
	"autofilter/services"
	"autofilter/utils"
)

// AdminStore is the persistence behind the admin API
type AdminStore interface {
	Stats(ctx context.Context) (database.Stats, error)
	ListBroadcasts(ctx context.Context, limit int) ([]database.Broadcast, error)
	SetUploadChannel(ctx context.Context, chatID int64) error
	GetUploadChannel(ctx context.Context) (int64, error)
}

// BroadcastRunner starts broadcasts and reports whether any replica is running one
type BroadcastRunner interface {
	BroadcastStarter
	Running(ctx context.Context) (bool, error)
}

// QueueDepth reports updates accepted but not yet picked up by a worker
type QueueDepth interface {
	Pending() int
}

// NoticeBacklog reports bot notices still waiting to be auto-deleted
type NoticeBacklog interface {
	Pending(ctx context.Context) (int64, error)
}

// SubscriberCount reports live event stream subscribers
type SubscriberCount interface {
	ConnectionCount() int
}

// AdminHandler serves the JWT-protected operator API
type AdminHandler struct {
	store       AdminStore
	filter      WordFilter
	broadcaster BroadcastRunner
	queue       QueueDepth
	notices     NoticeBacklog
	subscribers SubscriberCount
}

// NewAdminHandler creates a new admin handler. queue, notices and
// subscribers may be nil.
func NewAdminHandler(store AdminStore, filter WordFilter, broadcaster BroadcastRunner, queue QueueDepth, notices NoticeBacklog, subscribers SubscriberCount) *AdminHandler {
	return &AdminHandler{
		store:       store,
		filter:      filter,
		broadcaster: broadcaster,
		queue:       queue,
		notices:     notices,
		subscribers: subscribers,
	}
}

// StatsResponse is the body of GET /admin/stats
type StatsResponse struct {
	database.Stats
	BroadcastRunning  bool  `json:"broadcast_running"`
	DispatcherPending int   `json:"dispatcher_pending"`
	NoticesPending    int64 `json:"notices_pending"`
	EventSubscribers  int   `json:"event_subscribers"`
}

// BroadcastRequest is the body of POST /admin/broadcast
type BroadcastRequest struct {
	Text string `json:"text"`
}

// BannedWordRequest is the body of POST /admin/banned-words
type BannedWordRequest struct {
	Word string `json:"word"`
}

// UploadChannelRequest is the body of PUT /admin/upload-channel
type UploadChannelRequest struct {
	ChatID int64 `json:"chat_id"`
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), 5*time.Second)
}

// GetStats returns user, group and file totals plus in-flight work.
// Redis failures only zero the live counters.
func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		utils.LogRequestError(c, "ADMIN_STATS", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load stats"})
	}

	resp := StatsResponse{Stats: stats}
	if resp.BroadcastRunning, err = h.broadcaster.Running(ctx); err != nil {
		utils.LogRequestError(c, "ADMIN_STATS_BROADCAST", err)
	}
	if h.queue != nil {
		resp.DispatcherPending = h.queue.Pending()
	}
	if h.notices != nil {
		if resp.NoticesPending, err = h.notices.Pending(ctx); err != nil {
			utils.LogRequestError(c, "ADMIN_STATS_NOTICES", err)
		}
	}
	if h.subscribers != nil {
		resp.EventSubscribers = h.subscribers.ConnectionCount()
	}
	return c.JSON(resp)
}

// StartBroadcast starts a broadcast to every private chat
func (h *AdminHandler) StartBroadcast(c *fiber.Ctx) error {
	var req BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	id, err := h.broadcaster.Start(ctx, req.Text, adminSubjectID(c))
	switch {
	case errors.Is(err, services.ErrEmptyBroadcast):
		return c.Status(400).JSON(fiber.Map{"error": "text is required"})
	case errors.Is(err, services.ErrBroadcastInProgress):
		return c.Status(409).JSON(fiber.Map{"error": "A broadcast is already running"})
	case errors.Is(err, services.ErrBroadcasterClosed):
		return c.Status(503).JSON(fiber.Map{"error": "Service is shutting down"})
	case err != nil:
		utils.LogRequestError(c, "ADMIN_BROADCAST", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to start broadcast"})
	}

	return c.Status(202).JSON(fiber.Map{"id": id, "status": "started"})
}

// ListBroadcasts returns recent broadcast history, newest first
func (h *AdminHandler) ListBroadcasts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	ctx, cancel := requestContext(c)
	defer cancel()

	broadcasts, err := h.store.ListBroadcasts(ctx, limit)
	if err != nil {
		utils.LogRequestError(c, "ADMIN_BROADCASTS", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load broadcasts"})
	}
	if broadcasts == nil {
		broadcasts = []database.Broadcast{}
	}
	return c.JSON(fiber.Map{"broadcasts": broadcasts})
}

// ListBannedWords returns the effective banned-word set
func (h *AdminHandler) ListBannedWords(c *fiber.Ctx) error {
	words := h.filter.Words()
	if words == nil {
		words = []string{}
	}
	return c.JSON(fiber.Map{"words": words})
}

// AddBannedWord adds a word to the filter
func (h *AdminHandler) AddBannedWord(c *fiber.Ctx) error {
	var req BannedWordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	word, added, err := h.filter.Add(ctx, req.Word)
	switch {
	case errors.Is(err, services.ErrEmptyWord):
		return c.Status(400).JSON(fiber.Map{"error": "word is required"})
	case err != nil:
		utils.LogRequestError(c, "ADMIN_BANNED_ADD", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to add banned word"})
	}

	status := 201
	if !added {
		status = 200
	}
	return c.Status(status).JSON(fiber.Map{"word": word, "added": added})
}

// RemoveBannedWord removes an admin-managed word
func (h *AdminHandler) RemoveBannedWord(c *fiber.Ctx) error {
	raw, err := url.PathUnescape(c.Params("word"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid word"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	word, removed, err := h.filter.Remove(ctx, raw)
	switch {
	case errors.Is(err, services.ErrEmptyWord):
		return c.Status(400).JSON(fiber.Map{"error": "word is required"})
	case errors.Is(err, services.ErrBuiltinWord):
		return c.Status(409).JSON(fiber.Map{"error": "Built-in words cannot be removed"})
	case err != nil:
		utils.LogRequestError(c, "ADMIN_BANNED_REMOVE", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove banned word"})
	case !removed:
		return c.Status(404).JSON(fiber.Map{"error": "Word not found"})
	}
	return c.JSON(fiber.Map{"word": word, "removed": true})
}

// GetUploadChannel returns the runtime upload channel (0 when unset)
func (h *AdminHandler) GetUploadChannel(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	chatID, err := h.store.GetUploadChannel(ctx)
	if err != nil {
		utils.LogRequestError(c, "ADMIN_UPLOAD_CHANNEL", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load upload channel"})
	}
	return c.JSON(fiber.Map{"chat_id": chatID})
}

// SetUploadChannel changes where saved files are forwarded
func (h *AdminHandler) SetUploadChannel(c *fiber.Ctx) error {
	var req UploadChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ChatID == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "chat_id is required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.store.SetUploadChannel(ctx, req.ChatID); err != nil {
		utils.LogRequestError(c, "ADMIN_SET_UPLOAD_CHANNEL", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to save upload channel"})
	}
	return c.JSON(fiber.Map{"chat_id": req.ChatID})
}

// adminSubjectID maps a numeric token subject to a Telegram user id
func adminSubjectID(c *fiber.Ctx) int64 {
	subject, _ := c.Locals("admin_subject").(string)
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
