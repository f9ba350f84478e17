package api

import (
	"net/http"

	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.deps.Inventory.ListProducts(c.Request.Context(), true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getAvailability answers how many units are free for ?start=&end=
func (h *Handler) getAvailability(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}
	start, err := parseInstant(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start"})
		return
	}
	end, err := parseInstant(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end"})
		return
	}

	view, err := h.deps.Availability.GetAvailability(c.Request.Context(), productID, start, end)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getOccupancy(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}
	occ, err := h.deps.Availability.Occupancy(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.deps.Orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch {
	case resp.Shortage != nil:
		writeShortage(c, "Not enough units available for the requested window", resp.Shortage)
	case resp.Duplicate:
		c.JSON(http.StatusOK, resp)
	default:
		c.JSON(http.StatusCreated, resp)
	}
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	details, err := h.deps.Orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}
