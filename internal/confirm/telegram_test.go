package confirm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = util.InitLogger("test")
}

func newTestBot(t *testing.T, handler http.HandlerFunc) (*Telegram, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTelegram(TelegramConfig{Token: "TOKEN", ChatID: "-100", APIURL: srv.URL}), srv
}

func TestNotify_SendsKeyboardAndReturnsHandle(t *testing.T) {
	var got sendMessageRequest
	bot, _ := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":55,"chat":{"id":-100}}}`))
	})

	handle, err := bot.Notify(context.Background(), 9, "<b>Order #9</b>", []string{models.ActionAccept, models.ActionDecline})
	require.NoError(t, err)
	assert.Equal(t, "-100:55:9", handle)

	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	require.Len(t, got.ReplyMarkup.InlineKeyboard, 1)
	row := got.ReplyMarkup.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "accept:9", row[0].CallbackData)
	assert.Equal(t, "decline:9", row[1].CallbackData)
}

func TestUpdateNotification_ClearsKeyboard(t *testing.T) {
	var got editMessageTextRequest
	bot, _ := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/editMessageText", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})

	require.NoError(t, bot.UpdateNotification(context.Background(), "-100:55:9", "done", nil))
	assert.Equal(t, int64(-100), got.ChatID)
	assert.Equal(t, int64(55), got.MessageID)
	require.NotNil(t, got.ReplyMarkup)
	assert.Empty(t, got.ReplyMarkup.InlineKeyboard)
}

func TestUpdateNotification_NotModifiedIsSuccess(t *testing.T) {
	bot, _ := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`))
	})

	assert.NoError(t, bot.UpdateNotification(context.Background(), "-100:55:9", "same", nil))
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls int32
	bot, _ := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":-100}}}`))
	})

	_, err := bot.Notify(context.Background(), 1, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCall_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	bot, _ := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`))
	})

	_, err := bot.Notify(context.Background(), 1, "hi", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestParseCallbackData(t *testing.T) {
	id, action, err := ParseCallbackData("accept:42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, models.ActionAccept, action)

	for _, bad := range []string{"", "accept", "cancel:1", "decline:x", "accept:-3"} {
		_, _, err := ParseCallbackData(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseHandle(t *testing.T) {
	chat, msg, order, err := ParseHandle("-1001:7:3")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), chat)
	assert.Equal(t, int64(7), msg)
	assert.Equal(t, int64(3), order)

	_, _, _, err = ParseHandle("1:2")
	assert.Error(t, err)
}
