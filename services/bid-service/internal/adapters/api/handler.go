package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auctionlab/paddle/pkg/auth"
	"github.com/auctionlab/paddle/services/bid-service/internal/domain/bids"
)

// BidService is the slice of the domain the handler needs.
type BidService interface {
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.Bid, error)
	GetBidsForItem(ctx context.Context, itemID uuid.UUID) ([]*bids.Bid, error)
}

// Handler exposes the bid placement boundary over HTTP.
type Handler struct {
	service BidService
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(service BidService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Bid placement requires authentication; reads
// do not.
func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.GET("/items/:itemId/bids", h.listBids)
	v1.POST("/items/:itemId/bids", authMiddleware, h.placeBid)
}

type placeBidRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type bidResponse struct {
	BidID            string    `json:"bidId"`
	ItemID           string    `json:"itemId"`
	Amount           int64     `json:"amount"`
	Timestamp        time.Time `json:"timestamp"`
	IsCurrentHighest bool      `json:"isCurrentHighest"`
}

func (h *Handler) placeBid(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_item_id", "message": "item id must be a UUID"})
		return
	}

	bidderRaw, ok := auth.BidderID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "missing bidder identity"})
		return
	}
	bidderID, err := uuid.Parse(bidderRaw)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "invalid bidder identity"})
		return
	}

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_amount", "message": "amount is required"})
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), bids.PlaceBidCommand{
		ItemID:   itemID,
		BidderID: bidderID,
		Amount:   req.Amount,
	})
	if err != nil {
		h.writeBidError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bidResponse{
		BidID:  bid.ID.String(),
		ItemID: bid.ItemID.String(),
		Amount: bid.Amount,
		// The bid just won its critical section, so it is the highest by
		// construction.
		IsCurrentHighest: true,
		Timestamp:        bid.CreatedAt,
	})
}

// writeBidError maps domain rejections to machine-readable HTTP responses so
// clients can pick the right backoff/resubmission behavior.
func (h *Handler) writeBidError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bids.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_amount", "message": err.Error()})
	case errors.Is(err, bids.ErrBidTooLow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "amount_too_low", "message": err.Error()})
	case errors.Is(err, bids.ErrLockContention):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, gin.H{"code": "lock_contention", "message": err.Error()})
	case errors.Is(err, bids.ErrAuctionNotStarted):
		c.JSON(http.StatusConflict, gin.H{"code": "auction_not_started", "message": err.Error()})
	case errors.Is(err, bids.ErrAuctionEnded):
		c.JSON(http.StatusGone, gin.H{"code": "auction_ended", "message": err.Error()})
	case errors.Is(err, bids.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "item_not_found", "message": err.Error()})
	default:
		h.logger.Error("bid placement failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "unavailable", "message": "try again later"})
	}
}

func (h *Handler) listBids(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_item_id", "message": "item id must be a UUID"})
		return
	}

	history, err := h.service.GetBidsForItem(c.Request.Context(), itemID)
	if err != nil {
		h.logger.Error("failed to list bids", "item_id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": "failed to list bids"})
		return
	}

	var highest int64
	for _, b := range history {
		if b.Amount > highest {
			highest = b.Amount
		}
	}

	resp := make([]bidResponse, len(history))
	for i, b := range history {
		resp[i] = bidResponse{
			BidID:            b.ID.String(),
			ItemID:           b.ItemID.String(),
			Amount:           b.Amount,
			Timestamp:        b.CreatedAt,
			IsCurrentHighest: b.Amount == highest && highest > 0,
		}
	}
	c.JSON(http.StatusOK, gin.H{"bids": resp})
}
