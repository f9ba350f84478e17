package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"rental-service/internal/confirm"
	"rental-service/internal/models"
	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// telegramWebhook receives inline button presses. Telegram redelivers on any
// non-2xx answer, so only transient failures return an error status. Without
// a configured secret the endpoint stays disabled.
func (h *Handler) telegramWebhook(c *gin.Context) {
	if h.cfg.WebhookSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Webhook disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(webhookSecretHeader)), []byte(h.cfg.WebhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var update confirm.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		bindError(c, err)
		return
	}

	cq := update.CallbackQuery
	if cq == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	ctx := c.Request.Context()

	if h.cfg.ChatID != "" && (cq.Message == nil || strconv.FormatInt(cq.Message.Chat.ID, 10) != h.cfg.ChatID) {
		h.logger.Warn("Callback from unexpected chat", zap.String("callback_id", cq.ID), zap.Int64("user_id", cq.From.ID))
		h.answer(ctx, cq.ID, "Not allowed")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	orderID, action, err := confirm.ParseCallbackData(cq.Data)
	if err != nil {
		h.logger.Warn("Malformed callback data", zap.String("callback_id", cq.ID), zap.Error(err))
		h.answer(ctx, cq.ID, "Unknown action")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if h.deps.Callbacks != nil {
		first, err := h.deps.Callbacks.MarkCallbackSeen(ctx, cq.ID, h.cfg.CallbackTTL)
		if err != nil {
			// proceed without dedup, ResolveOrder is idempotent
			h.logger.Warn("Callback dedup unavailable", zap.String("callback_id", cq.ID), zap.Error(err))
		} else if !first {
			h.logger.Info("Duplicate callback ignored", zap.String("callback_id", cq.ID), zap.Int64("order_id", orderID))
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	if h.deps.Actions != nil {
		h.enqueueAction(c, cq, orderID, action)
		return
	}
	h.resolveCallback(c, cq, orderID, action)
}

func (h *Handler) enqueueAction(c *gin.Context, cq *confirm.CallbackQuery, orderID int64, action string) {
	ctx := c.Request.Context()
	event := &models.OrderActionRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderActionRequested,
			Timestamp: time.Now().UTC(),
		},
		OrderID: orderID,
		Action:  action,
		Source:  "telegram",
	}
	if err := h.deps.Actions.PublishActionRequested(ctx, event); err != nil {
		h.logger.Error("Failed to enqueue order action",
			zap.Int64("order_id", orderID),
			zap.String("action", action),
			zap.Error(err))
		h.forget(ctx, cq.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable, retry later"})
		return
	}

	h.answer(ctx, cq.ID, "Processing...")
	c.JSON(http.StatusOK, gin.H{"status": "queued", "order_id": orderID})
}

func (h *Handler) resolveCallback(c *gin.Context, cq *confirm.CallbackQuery, orderID int64, action string) {
	ctx := c.Request.Context()
	result, err := h.deps.Orders.ResolveOrder(ctx, orderID, action)
	switch {
	case service.IsNotFound(err), service.IsValidation(err):
		h.logger.Warn("Callback could not be applied", zap.Int64("order_id", orderID), zap.Error(err))
		h.answer(ctx, cq.ID, rejectionText(err))
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
		return
	case err != nil:
		// let Telegram redeliver and the operator press again
		h.forget(ctx, cq.ID)
		h.answer(ctx, cq.ID, "Could not process the order, please try again")
		h.writeError(c, err)
		return
	}

	h.answer(ctx, cq.ID, outcomeText(result))
	c.JSON(http.StatusOK, result)
}

func outcomeText(result *service.ResolveResult) string {
	switch result.Outcome {
	case service.OutcomeAccepted:
		return "Order accepted"
	case service.OutcomeDeclined:
		return "Order declined"
	case service.OutcomeInsufficientCapacity:
		return "Not enough free units, the order is still pending"
	default:
		return "Order already processed"
	}
}

func rejectionText(err error) string {
	if service.IsNotFound(err) {
		return "Order not found"
	}
	return "Unknown action"
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	if h.deps.Bot == nil {
		return
	}
	if err := h.deps.Bot.AnswerCallback(ctx, callbackID, text); err != nil {
		h.logger.Warn("Failed to answer callback", zap.String("callback_id", callbackID), zap.Error(err))
	}
}

func (h *Handler) forget(ctx context.Context, callbackID string) {
	if h.deps.Callbacks == nil {
		return
	}
	if err := h.deps.Callbacks.ForgetCallback(ctx, callbackID); err != nil {
		h.logger.Warn("Failed to forget callback", zap.String("callback_id", callbackID), zap.Error(err))
	}
}
