package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autofilter/metrics"
	"autofilter/services"
	"autofilter/telegram"
	"autofilter/utils"
)

const (
	callbackHelp     = "help_cb"
	callbackAddGroup = "add_group_cb"
)

const (
	welcomeText = "Hello! I'm your Advanced Auto-Filter Bot.\n\nUse /help to see commands."

	helpText = "🤖 Advanced Auto-Filter Bot - Commands:\n\n" +
		"/start - start and show buttons\n" +
		"/help - this help text\n" +
		"/stats - show total users/groups/files\n" +
		"/broadcast <text> - admin only, send text to all saved private users\n" +
		"/set_upload_channel <chat_id> - admin only, forward saved files to this chat\n" +
		"/banned_add <word>, /banned_remove <word> - admin only, manage filtered words\n" +
		"/banned_list - show filtered words\n\n" +
		"How files work: Any file (photo/document/video/audio/voice) posted in a chat where the bot is present will be recorded into the DB. Use /stats to view totals."

	addGroupText = "To add this bot to a channel or group: add the bot as admin and then send any message " +
		"from that group to register it in DB. Files posted in that group will be saved to DB."

	filterNoticeText = "Message removed for policy violation."
	fileSavedText    = "File saved to DB ✅"
	adminOnlyText    = "Admin only"
)

func startKeyboard() telegram.InlineKeyboardMarkup {
	return telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "Help / Commands", CallbackData: callbackHelp}},
			{{Text: "Add to Channel/Group", CallbackData: callbackAddGroup}},
		},
	}
}

// handleCommand runs a known command and reports whether it was one
func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, cmd, arg string) bool {
	chatID := msg.Chat.ID
	sender := msg.SenderID()
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/start":
		b.reply(ctx, chatID, welcomeText, telegram.WithReplyMarkup(startKeyboard()))

	case "/help":
		b.reply(ctx, chatID, helpText)

	case "/stats":
		stats, err := b.store.Stats(ctx)
		if err != nil {
			utils.LogError("STATS", err)
			b.reply(ctx, chatID, "Stats are unavailable right now.")
			break
		}
		b.reply(ctx, chatID, fmt.Sprintf("📊 Stats:\n- Total users (private): %d\n- Total groups/channels: %d\n- Total files collected: %d\n",
			stats.TotalUsers, stats.TotalGroups, stats.TotalFiles))

	case "/broadcast":
		b.reply(ctx, chatID, b.startBroadcast(ctx, sender, arg))

	case "/set_upload_channel":
		if !b.cfg.IsAdmin(sender) {
			b.reply(ctx, chatID, "Only admin can set upload channel")
			break
		}
		target, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || target == 0 {
			b.reply(ctx, chatID, "Provide numeric chat id: /set_upload_channel <chat_id>")
			break
		}
		if err := b.store.SetUploadChannel(ctx, target); err != nil {
			utils.LogError("SET_UPLOAD_CHANNEL", err, "chat_id", target)
			b.reply(ctx, chatID, "Could not save the upload channel.")
			break
		}
		b.reply(ctx, chatID, fmt.Sprintf("Upload channel set to %d", target))

	case "/banned_add":
		if !b.cfg.IsAdmin(sender) {
			b.reply(ctx, chatID, adminOnlyText)
			break
		}
		word, added, err := b.filter.Add(ctx, arg)
		switch {
		case errors.Is(err, services.ErrEmptyWord):
			b.reply(ctx, chatID, "Usage: /banned_add word")
		case err != nil:
			utils.LogError("BANNED_ADD", err, "word", word)
			b.reply(ctx, chatID, "Could not add banned word.")
		case !added:
			b.reply(ctx, chatID, "Already banned: "+word)
		default:
			b.reply(ctx, chatID, "Added banned word: "+word)
		}

	case "/banned_remove":
		if !b.cfg.IsAdmin(sender) {
			b.reply(ctx, chatID, adminOnlyText)
			break
		}
		word, removed, err := b.filter.Remove(ctx, arg)
		switch {
		case errors.Is(err, services.ErrEmptyWord):
			b.reply(ctx, chatID, "Usage: /banned_remove word")
		case errors.Is(err, services.ErrBuiltinWord):
			b.reply(ctx, chatID, "Built-in word cannot be removed: "+word)
		case err != nil:
			utils.LogError("BANNED_REMOVE", err, "word", word)
			b.reply(ctx, chatID, "Could not remove banned word.")
		case !removed:
			b.reply(ctx, chatID, "Not a banned word: "+word)
		default:
			b.reply(ctx, chatID, "Removed banned word: "+word)
		}

	case "/banned_list":
		words := b.filter.Words()
		if len(words) == 0 {
			words = []string{"<empty>"}
		}
		b.reply(ctx, chatID, "Banned words:\n"+strings.Join(words, "\n"))

	default:
		return false
	}

	metrics.IncrementCommand(strings.TrimPrefix(cmd, "/"))
	return true
}

func (b *Bot) startBroadcast(ctx context.Context, sender int64, text string) string {
	if !b.cfg.IsAdmin(sender) {
		return "❌ You are not allowed to broadcast."
	}
	if text == "" {
		return "Usage: /broadcast <message text>"
	}
	_, err := b.broadcaster.Start(ctx, text, sender)
	switch {
	case errors.Is(err, services.ErrBroadcastInProgress):
		return "A broadcast is already running."
	case err != nil:
		utils.LogError("BROADCAST_START", err, "admin", sender)
		return "Broadcast could not be started."
	}
	return "Broadcast started. Check history later."
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
