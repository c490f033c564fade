package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
)

type GiftHandler struct {
	econ *services.Economy
}

func NewGiftHandler(econ *services.Economy) *GiftHandler {
	return &GiftHandler{econ: econ}
}

func (h *GiftHandler) ListGifts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gifts": h.econ.Gifts()})
}

func (h *GiftHandler) SendGift(c *gin.Context) {
	var req models.SendGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	res, err := h.econ.SendGift(c.Request.Context(), c.Param("roomID"), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *GiftHandler) ComboHit(c *gin.Context) {
	res, err := h.econ.OnComboHit(c.Request.Context(), c.Param("roomID"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LeaveRoom tears down the caller's session in the room and flushes what it owes.
func (h *GiftHandler) LeaveRoom(c *gin.Context) {
	flushed, err := h.econ.LeaveRoom(c.Request.Context(), c.Param("roomID"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": flushed})
}
