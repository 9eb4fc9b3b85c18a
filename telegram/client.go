package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"autofilter/metrics"
)

// DefaultTimeout bounds a single Bot API call
const DefaultTimeout = 15 * time.Second

// ErrEmptyToken is returned by NewClient when no bot token is configured
var ErrEmptyToken = errors.New("telegram: bot token is empty")

// APIError is a Bot API response with ok=false
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: %d %s (retry after %ds)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls Bot API methods over HTTPS
type Client struct {
	base    string
	token   string
	timeout time.Duration
}

// NewClient builds a client for token against base (https://api.telegram.org
// when empty).
func NewClient(base, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}
	if base == "" {
		base = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, timeout: timeout}, nil
}

func (c *Client) endpoint(method string) string {
	return c.base + "/bot" + c.token + "/" + method
}

// Call posts payload as JSON to method and returns the "result" field of a
// successful response.
func (c *Client) Call(ctx context.Context, method string, payload any) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	start := time.Now()
	agent := fiber.Post(c.endpoint(method)).Timeout(timeout)
	if payload != nil {
		agent = agent.JSON(payload)
	}
	_, body, errs := agent.Bytes()
	if len(errs) > 0 {
		metrics.ObserveTelegramRequest(method, "transport_error", time.Since(start))
		// The URL embeds the token, so only the method name is reported.
		return gjson.Result{}, fmt.Errorf("telegram %s: request failed: %w", method, errors.Join(errs...))
	}

	env, err := parseEnvelope(method, body)
	if err != nil {
		metrics.ObserveTelegramRequest(method, "api_error", time.Since(start))
		return gjson.Result{}, err
	}
	metrics.ObserveTelegramRequest(method, "ok", time.Since(start))
	return env.Get("result"), nil
}

func parseEnvelope(method string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &APIError{Method: method, Description: "invalid JSON response"}
	}
	env := gjson.ParseBytes(body)
	if !env.Get("ok").Bool() {
		return env, &APIError{
			Method:      method,
			Code:        int(env.Get("error_code").Int()),
			Description: env.Get("description").String(),
			RetryAfter:  int(env.Get("parameters.retry_after").Int()),
		}
	}
	return env, nil
}

// SendOption customizes a sendMessage payload
type SendOption func(map[string]any)

// WithReplyMarkup attaches an inline keyboard
func WithReplyMarkup(markup InlineKeyboardMarkup) SendOption {
	return func(p map[string]any) { p["reply_markup"] = markup }
}

// WithReplyTo makes the message a reply
func WithReplyTo(messageID int64) SendOption {
	return func(p map[string]any) { p["reply_to_message_id"] = messageID }
}

// SendMessage sends text to chatID and returns the new message id
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (int64, error) {
	payload := map[string]any{"chat_id": chatID, "text": text}
	for _, opt := range opts {
		opt(payload)
	}
	res, err := c.Call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}
	return res.Get("message_id").Int(), nil
}

// DeleteMessage removes a message from a chat
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.Call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID})
	return err
}

// ForwardMessage copies a message into another chat and returns the new id
func (c *Client) ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error) {
	res, err := c.Call(ctx, "forwardMessage", map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	})
	if err != nil {
		return 0, err
	}
	return res.Get("message_id").Int(), nil
}

// AnswerCallbackQuery acknowledges an inline button press
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := c.Call(ctx, "answerCallbackQuery", payload)
	return err
}

// SetWebhook registers url with the Bot API. The raw response envelope is
// returned so callers can relay it unchanged, including on ok=false.
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload := map[string]any{"url": url}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}

	start := time.Now()
	_, body, errs := fiber.Post(c.endpoint("setWebhook")).Timeout(c.timeout).JSON(payload).Bytes()
	if len(errs) > 0 {
		metrics.ObserveTelegramRequest("setWebhook", "transport_error", time.Since(start))
		return nil, fmt.Errorf("telegram setWebhook: request failed: %w", errors.Join(errs...))
	}
	env, err := parseEnvelope("setWebhook", body)
	var apiErr *APIError
	if err != nil && (!errors.As(err, &apiErr) || apiErr.Description == "invalid JSON response") {
		metrics.ObserveTelegramRequest("setWebhook", "api_error", time.Since(start))
		return nil, err
	}
	outcome := "ok"
	if err != nil {
		outcome = "api_error"
	}
	metrics.ObserveTelegramRequest("setWebhook", outcome, time.Since(start))

	raw, ok := env.Value().(map[string]any)
	if !ok {
		return nil, &APIError{Method: "setWebhook", Description: "unexpected response shape"}
	}
	return raw, nil
}
