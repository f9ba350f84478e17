package api

import (
	"net/http"

	"rental-service/internal/catalog"
	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) adminListProducts(c *gin.Context) {
	products, err := h.deps.Inventory.ListProducts(c.Request.Context(), false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) adminCreateProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	product, err := h.deps.Inventory.CreateProduct(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) adminUpdateProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	product, err := h.deps.Inventory.UpdateProduct(c.Request.Context(), id, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) adminDeactivateProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Inventory.DeactivateProduct(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": false})
}

// adminRestoreCatalog re-applies the seed catalog, if one is configured, and
// repairs every unit pool
func (h *Handler) adminRestoreCatalog(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{}

	if h.cfg.CatalogFile != "" {
		entries, err := catalog.LoadFile(h.cfg.CatalogFile)
		if err != nil {
			h.logger.Error("Failed to load catalog", zap.String("file", h.cfg.CatalogFile), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load catalog"})
			return
		}
		result, err := h.deps.Inventory.ApplyCatalog(ctx, entries)
		if err != nil {
			h.writeError(c, err)
			return
		}
		resp["created"] = result.Created
		resp["updated"] = result.Updated
	}

	repaired, err := h.deps.Pool.ReconcileAll(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp["repaired"] = repaired
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) adminProductUnits(c *gin.Context) {
	productID, ok := queryID(c, "productId")
	if !ok {
		return
	}
	units, err := h.deps.Availability.UnitStatuses(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "units": units})
}

func (h *Handler) adminListBookings(c *gin.Context) {
	productID, ok := queryID(c, "productId")
	if !ok {
		return
	}
	reservations, err := h.deps.Inventory.ListReservations(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "reservations": reservations})
}

func (h *Handler) adminCreateBooking(c *gin.Context) {
	var req service.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	alloc, err := h.deps.Inventory.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !alloc.OK {
		writeShortage(c, "Not enough free units for the requested window", &service.Shortage{
			ProductID: req.ProductID,
			StartAt:   req.StartAt.UTC(),
			EndAt:     req.EndAt.UTC(),
			Requested: req.Quantity,
			Available: alloc.Available,
			Total:     alloc.Total,
		})
		return
	}
	c.JSON(http.StatusCreated, alloc)
}

func (h *Handler) adminDeleteBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	reservation, err := h.deps.Inventory.DeleteReservation(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) adminListOrders(c *gin.Context) {
	orders, err := h.deps.Orders.ListOrders(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) adminResolve(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := paramID(c, "id")
		if !ok {
			return
		}
		result, err := h.deps.Orders.ResolveOrder(c.Request.Context(), orderID, action)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if result.Outcome == service.OutcomeInsufficientCapacity {
			writeShortage(c, "Cannot accept: not enough free units, the order is still pending", result.Shortage)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
