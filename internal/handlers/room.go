package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
)

const (
	defaultContributorLimit = 20
	defaultMessageLimit     = 50
)

type RoomHandler struct {
	econ *services.Economy
}

func NewRoomHandler(econ *services.Economy) *RoomHandler {
	return &RoomHandler{econ: econ}
}

func (h *RoomHandler) Contributors(c *gin.Context) {
	limit := queryInt(c, "limit", defaultContributorLimit)
	top, err := h.econ.Contributors(c.Request.Context(), c.Param("roomID"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributors": top})
}

func (h *RoomHandler) Messages(c *gin.Context) {
	limit := queryInt(c, "limit", defaultMessageLimit)
	msgs, err := h.econ.RoomMessages(c.Request.Context(), c.Param("roomID"), int64(limit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *RoomHandler) Seats(c *gin.Context) {
	seats, err := h.econ.Seats(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

func (h *RoomHandler) TakeSeat(c *gin.Context) {
	var req models.TakeSeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	seats, err := h.econ.TakeSeat(c.Request.Context(), c.Param("roomID"), currentUser(c), req.SeatIndex, req.IsMuted)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

func (h *RoomHandler) LeaveSeat(c *gin.Context) {
	seats, err := h.econ.LeaveSeat(c.Request.Context(), c.Param("roomID"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

func (h *RoomHandler) CycleLayout(c *gin.Context) {
	seats, err := h.econ.CycleLayout(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

func (h *RoomHandler) SendEmoji(c *gin.Context) {
	var req models.EmojiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.econ.SendEmoji(c.Request.Context(), c.Param("roomID"), currentUser(c), req.Emoji); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emoji": req.Emoji})
}

func queryInt(c *gin.Context, name string, def int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
