package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
)

type BagHandler struct {
	econ *services.Economy
}

func NewBagHandler(econ *services.Economy) *BagHandler {
	return &BagHandler{econ: econ}
}

func (h *BagHandler) CreateBag(c *gin.Context) {
	var req models.CreateBagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	bag, err := h.econ.CreateLuckyBag(c.Request.Context(), c.Param("roomID"), currentUser(c), req.Amount, req.Capacity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"bag":   bag,
		"share": bag.Share(),
	})
}

func (h *BagHandler) ActiveBags(c *gin.Context) {
	views, err := h.econ.ActiveBags(c.Request.Context(), c.Param("roomID"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bags": views})
}

func (h *BagHandler) ClaimBag(c *gin.Context) {
	res, err := h.econ.ClaimLuckyBag(c.Request.Context(), c.Param("bagID"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
