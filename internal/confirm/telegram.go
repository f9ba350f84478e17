package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	defaultAPIURL   = "https://api.telegram.org"
	maxSendAttempts = 4
)

// TelegramConfig holds the bot credentials and the operator chat
type TelegramConfig struct {
	Token   string
	ChatID  string
	APIURL  string
	Timeout time.Duration
}

// Telegram delivers order confirmations to an operator chat with inline
// accept and decline buttons
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	logger *zap.Logger
}

// NewTelegram creates a new Telegram confirmation channel
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Telegram{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: util.GetLogger(),
	}
}

// Name returns the channel name stored with each delivery handle
func (t *Telegram) Name() string {
	return "telegram"
}

// ChatID returns the operator chat that callbacks must come from
func (t *Telegram) ChatID() string {
	return t.cfg.ChatID
}

// Notify sends the order summary and returns "<chat>:<message>:<order>" as the handle
func (t *Telegram) Notify(ctx context.Context, orderID int64, summary string, actions []string) (string, error) {
	ctx, span := util.StartSpan(ctx, "Telegram.Notify")
	defer span.End()

	req := sendMessageRequest{
		ChatID:      t.cfg.ChatID,
		Text:        summary,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard(orderID, actions),
	}

	var msg Message
	if err := t.call(ctx, "sendMessage", req, &msg); err != nil {
		return "", err
	}

	t.logger.Info("Order sent to operator chat",
		zap.Int64("order_id", orderID),
		zap.Int64("message_id", msg.MessageID))
	return formatHandle(msg.Chat.ID, msg.MessageID, orderID), nil
}

// UpdateNotification replaces the message text and its buttons
func (t *Telegram) UpdateNotification(ctx context.Context, handle, text string, actions []string) error {
	ctx, span := util.StartSpan(ctx, "Telegram.UpdateNotification")
	defer span.End()

	chatID, messageID, orderID, err := ParseHandle(handle)
	if err != nil {
		return err
	}

	req := editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard(orderID, actions),
	}
	err = t.call(ctx, "editMessageText", req, nil)
	if isNotModified(err) {
		return nil
	}
	return err
}

// AnswerCallback acknowledges a button press so the client stops its spinner
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.call(ctx, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	}, nil)
}

// call posts a Bot API method, retrying network failures, 5xx and 429
func (t *Telegram) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(t.cfg.APIURL, "/"), t.cfg.Token, method)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 3 * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, t.do(ctx, method, url, body, out)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxSendAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Warn("Telegram call failed, retrying",
				zap.String("method", method),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}

func (t *Telegram) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s: status %d", method, resp.StatusCode)
		}
		return backoff.Permanent(fmt.Errorf("%s: failed to decode response: %w", method, err))
	}

	if !apiResp.OK {
		apiErr := &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
		switch {
		case apiResp.ErrorCode == http.StatusTooManyRequests && apiResp.Parameters != nil:
			t.logger.Warn("Telegram rate limit hit", zap.Int("retry_after", apiResp.Parameters.RetryAfter))
			return backoff.RetryAfter(apiResp.Parameters.RetryAfter)
		case apiResp.ErrorCode >= 500:
			return apiErr
		default:
			return backoff.Permanent(apiErr)
		}
	}

	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return backoff.Permanent(fmt.Errorf("%s: failed to decode result: %w", method, err))
		}
	}
	return nil
}

// APIError is a Bot API error response
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: %d %s", e.Method, e.Code, e.Description)
}

func isNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

func keyboard(orderID int64, actions []string) *inlineKeyboardMarkup {
	row := make([]inlineKeyboardButton, 0, len(actions))
	for _, action := range actions {
		row = append(row, inlineKeyboardButton{
			Text:         buttonLabel(action),
			CallbackData: FormatCallbackData(action, orderID),
		})
	}
	markup := &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{}}
	if len(row) > 0 {
		markup.InlineKeyboard = append(markup.InlineKeyboard, row)
	}
	return markup
}

func buttonLabel(action string) string {
	switch action {
	case models.ActionAccept:
		return "Accept"
	case models.ActionDecline:
		return "Decline"
	default:
		return action
	}
}

// FormatCallbackData encodes a button as "<action>:<order id>"
func FormatCallbackData(action string, orderID int64) string {
	return action + ":" + strconv.FormatInt(orderID, 10)
}

// ParseCallbackData decodes "<action>:<order id>"
func ParseCallbackData(data string) (int64, string, error) {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed callback data %q", data)
	}
	action = strings.ToLower(action)
	if action != models.ActionAccept && action != models.ActionDecline {
		return 0, "", fmt.Errorf("unknown callback action %q", action)
	}
	orderID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || orderID <= 0 {
		return 0, "", fmt.Errorf("malformed order id in callback data %q", data)
	}
	return orderID, action, nil
}

func formatHandle(chatID, messageID, orderID int64) string {
	return fmt.Sprintf("%d:%d:%d", chatID, messageID, orderID)
}

// ParseHandle splits a delivery handle into chat, message and order ids
func ParseHandle(handle string) (int64, int64, int64, error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed telegram handle %q", handle)
	}
	ids := make([]int64, 3)
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed telegram handle %q: %w", handle, err)
		}
		ids[i] = v
	}
	return ids[0], ids[1], ids[2], nil
}
