package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auctionlab/paddle/services/catalog-service/internal/domain/items"
)

// ItemService is the slice of the domain the handler needs.
type ItemService interface {
	CreateItem(ctx context.Context, cmd items.CreateItemCommand) (*items.Item, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (*items.Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]*items.Item, error)
}

// Handler exposes authoritative item state. GET /v1/items/:id is the
// fallback the bid service uses when its status cache misses.
type Handler struct {
	service ItemService
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(service ItemService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes.
func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.GET("/items/:id", h.getItem)
	v1.GET("/items", h.listItems)
	v1.POST("/items", h.createItem)
}

type itemResponse struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"sellerId"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	StartingPrice int64     `json:"startingPrice"`
	CurrentPrice  int64     `json:"currentPrice"`
	WinnerID      string    `json:"winnerId,omitempty"`
	StartAt       time.Time `json:"startTime"`
	EndAt         time.Time `json:"endTime"`
}

func toItemResponse(item *items.Item) itemResponse {
	resp := itemResponse{
		ID:            item.ID.String(),
		SellerID:      item.SellerID.String(),
		Title:         item.Title,
		Status:        string(item.Status),
		StartingPrice: item.StartingPrice,
		CurrentPrice:  item.CurrentPrice,
		StartAt:       item.StartAt,
		EndAt:         item.EndAt,
	}
	if item.WinnerID != nil {
		resp.WinnerID = item.WinnerID.String()
	}
	return resp
}

func (h *Handler) getItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_item_id", "message": "item id must be a UUID"})
		return
	}

	item, err := h.service.GetItem(c.Request.Context(), itemID)
	if err != nil {
		if errors.Is(err, items.ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "item_not_found", "message": err.Error()})
			return
		}
		h.logger.Error("failed to get item", "item_id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "failed to get item"})
		return
	}

	c.JSON(http.StatusOK, toItemResponse(item))
}

func (h *Handler) listItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.service.ListItems(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "failed to list items"})
		return
	}

	resp := make([]itemResponse, len(list))
	for i, item := range list {
		resp[i] = toItemResponse(item)
	}
	c.JSON(http.StatusOK, gin.H{"items": resp})
}

type createItemRequest struct {
	SellerID      string    `json:"sellerId" binding:"required"`
	Title         string    `json:"title" binding:"required"`
	StartingPrice int64     `json:"startingPrice" binding:"required"`
	StartAt       time.Time `json:"startTime" binding:"required"`
	EndAt         time.Time `json:"endTime" binding:"required"`
}

func (h *Handler) createItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "message": err.Error()})
		return
	}

	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_seller_id", "message": "seller id must be a UUID"})
		return
	}

	item, err := h.service.CreateItem(c.Request.Context(), items.CreateItemCommand{
		SellerID:      sellerID,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
	})
	if err != nil {
		if errors.Is(err, items.ErrInvalidStartPrice) || errors.Is(err, items.ErrInvalidTimeWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "message": err.Error()})
			return
		}
		h.logger.Error("failed to create item", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "failed to create item"})
		return
	}

	c.JSON(http.StatusCreated, toItemResponse(item))
}
