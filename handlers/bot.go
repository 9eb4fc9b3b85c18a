package handlers

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"autofilter/config"
	"autofilter/database"
	"autofilter/metrics"
	"autofilter/services"
	"autofilter/telegram"
	"autofilter/utils"
)

// Messenger is the outbound Bot API surface used while handling updates
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// BotStore is the persistence used while handling updates
type BotStore interface {
	UpsertChat(ctx context.Context, c database.Chat) error
	SaveFile(ctx context.Context, f database.File) (int64, error)
	Stats(ctx context.Context) (database.Stats, error)
	SetUploadChannel(ctx context.Context, chatID int64) error
	GetUploadChannel(ctx context.Context) (int64, error)
}

// WordFilter is the banned-word set
type WordFilter interface {
	Match(text string) (string, bool)
	Words() []string
	Add(ctx context.Context, word string) (string, bool, error)
	Remove(ctx context.Context, word string) (string, bool, error)
}

// BroadcastStarter launches a background broadcast
type BroadcastStarter interface {
	Start(ctx context.Context, text string, startedBy int64) (uuid.UUID, error)
}

// NoticeScheduler removes bot notices after a delay
type NoticeScheduler interface {
	Enabled() bool
	Schedule(ctx context.Context, chatID, messageID int64) error
}

// Bot turns Telegram updates into replies, filter actions and stored files
type Bot struct {
	cfg         *config.Config
	store       BotStore
	messenger   Messenger
	filter      WordFilter
	broadcaster BroadcastStarter
	notices     NoticeScheduler
	publisher   services.Publisher
}

// BotDeps groups the collaborators of a Bot
type BotDeps struct {
	Config      *config.Config
	Store       BotStore
	Messenger   Messenger
	Filter      WordFilter
	Broadcaster BroadcastStarter
	Notices     NoticeScheduler
	Publisher   services.Publisher
}

// NewBot creates a Bot
func NewBot(deps BotDeps) *Bot {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = services.NopPublisher{}
	}
	return &Bot{
		cfg:         deps.Config,
		store:       deps.Store,
		messenger:   deps.Messenger,
		filter:      deps.Filter,
		broadcaster: deps.Broadcaster,
		notices:     deps.Notices,
		publisher:   publisher,
	}
}

// HandleUpdate processes one update. Failures are logged and never returned:
// Telegram has already been acknowledged.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) {
	if cb := update.CallbackQuery; cb != nil {
		metrics.IncrementUpdate("callback_query")
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.EffectiveMessage()
	if msg == nil {
		metrics.IncrementUpdate("other")
		return
	}
	if update.Message != nil {
		metrics.IncrementUpdate("message")
	} else {
		metrics.IncrementUpdate("edited_message")
	}

	b.rememberChat(ctx, msg)

	text := msg.Content()
	if cmd, arg, ok := telegram.ParseCommand(text); ok {
		if b.handleCommand(ctx, msg, cmd, arg) {
			return
		}
	}

	if b.applyFilter(ctx, msg, text) {
		return
	}

	b.saveFile(ctx, msg)
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	var reply string
	switch cb.Data {
	case callbackHelp:
		reply = helpText
	case callbackAddGroup:
		reply = addGroupText
	default:
		return
	}

	if err := b.messenger.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		log.Printf("answerCallbackQuery %s: %v", cb.ID, err)
	}
	b.reply(ctx, cb.From.ID, reply)
}

func (b *Bot) rememberChat(ctx context.Context, msg *telegram.Message) {
	chat := database.Chat{
		ID:       msg.Chat.ID,
		Type:     msg.Chat.Type,
		Title:    msg.Chat.Title,
		Username: msg.Chat.Username,
	}
	if msg.From != nil {
		chat.FirstName = msg.From.FirstName
		chat.LastName = msg.From.LastName
	}
	if err := b.store.UpsertChat(ctx, chat); err != nil {
		utils.LogChatError(chat.ID, "UPSERT_CHAT", err)
		metrics.IncrementError("store", "webhook")
		return
	}
	b.publisher.Publish(services.EventChatSeen, chat.ID, chat.Type)
}

// applyFilter removes messages containing a banned word and reports whether it did
func (b *Bot) applyFilter(ctx context.Context, msg *telegram.Message, text string) bool {
	word, matched := b.filter.Match(text)
	if !matched {
		return false
	}
	metrics.IncrementFilterMatch()
	chatID := msg.Chat.ID

	if err := b.messenger.DeleteMessage(ctx, chatID, msg.MessageID); err != nil {
		// The bot may lack delete rights in this chat
		log.Printf("Filter: could not delete message %d in chat %d: %v", msg.MessageID, chatID, err)
	}

	if noticeID := b.reply(ctx, chatID, filterNoticeText); noticeID != 0 && b.notices != nil && b.notices.Enabled() {
		if err := b.notices.Schedule(ctx, chatID, noticeID); err != nil {
			utils.LogChatError(chatID, "AUTODELETE_SCHEDULE", err, "message_id", noticeID)
		}
	}

	excerpt := utils.Truncate(text, 200)
	for _, admin := range b.cfg.AdminIDs {
		b.reply(ctx, admin, fmt.Sprintf("Filter matched in chat %d: %s", chatID, excerpt))
	}

	b.publisher.Publish(services.EventFilterMatched, chatID, word)
	return true
}

func (b *Bot) saveFile(ctx context.Context, msg *telegram.Message) {
	info := telegram.ExtractFile(msg)
	if info == nil {
		return
	}
	chatID := msg.Chat.ID

	record := database.File{
		FileType:     info.Type,
		FileID:       info.FileID,
		FileUniqueID: info.FileUniqueID,
		FileName:     info.FileName,
		MimeType:     info.MimeType,
		FileSize:     info.FileSize,
		Width:        info.Width,
		Height:       info.Height,
		Duration:     info.Duration,
		ChatID:       chatID,
		FromID:       msg.SenderID(),
		MessageID:    msg.MessageID,
		Caption:      msg.Caption,
		SentAt:       unixTime(msg.Date),
	}
	if _, err := b.store.SaveFile(ctx, record); err != nil {
		utils.LogChatError(chatID, "SAVE_FILE", err, "file_unique_id", info.FileUniqueID)
		metrics.IncrementError("store", "webhook")
		return
	}
	metrics.IncrementFileSaved(info.Type)

	if target := b.uploadChannel(ctx); target != 0 && target != chatID {
		if _, err := b.messenger.ForwardMessage(ctx, target, chatID, msg.MessageID); err != nil {
			log.Printf("Forward to upload channel %d failed: %v", target, err)
		}
	}

	b.reply(ctx, chatID, fileSavedText, telegram.WithReplyTo(msg.MessageID))
	utils.LogInfo("FILE_SAVED", "chat_id", chatID, "type", info.Type, "file_unique_id", info.FileUniqueID)

	label := info.Type
	if info.FileName != "" {
		label += " " + info.FileName
	}
	b.publisher.Publish(services.EventFileSaved, chatID, label+" from "+strconv.FormatInt(msg.SenderID(), 10))
}

// uploadChannel prefers the channel set at runtime over DB_CHANNEL_ID
func (b *Bot) uploadChannel(ctx context.Context) int64 {
	ch, err := b.store.GetUploadChannel(ctx)
	if err != nil {
		utils.LogError("GET_UPLOAD_CHANNEL", err)
	}
	if ch != 0 {
		return ch
	}
	return b.cfg.UploadChannelID
}

// reply sends text and returns the new message id, or 0 on failure
func (b *Bot) reply(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) int64 {
	id, err := b.messenger.SendMessage(ctx, chatID, text, opts...)
	if err != nil {
		log.Printf("sendMessage to %d failed: %v", chatID, err)
		return 0
	}
	return id
}
