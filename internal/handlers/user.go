package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livetalk-economy/internal/models"
	"livetalk-economy/internal/services"
)

type UserHandler struct {
	econ *services.Economy
}

func NewUserHandler(econ *services.Economy) *UserHandler {
	return &UserHandler{econ: econ}
}

func (h *UserHandler) GetBalance(c *gin.Context) {
	bal, err := h.econ.Balance(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *UserHandler) GetLevel(c *gin.Context) {
	kind := models.LevelKind(c.DefaultQuery("kind", string(models.LevelWealth)))
	if kind != models.LevelWealth && kind != models.LevelRecharge {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "kind must be wealth or recharge"})
		return
	}

	lvl, err := h.econ.CurrentLevel(c.Request.Context(), currentUser(c), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "level": lvl})
}

func (h *UserHandler) Announcements(c *gin.Context) {
	anns, err := h.econ.Announcements(c.Request.Context(), int64(queryInt(c, "limit", defaultMessageLimit)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"announcements": anns})
}

func (h *UserHandler) ExchangeDiamonds(c *gin.Context) {
	var req models.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	b, err := h.econ.ExchangeDiamonds(c.Request.Context(), currentUser(c), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.BalanceView(*b))
}

func (h *UserHandler) ExchangeToAgency(c *gin.Context) {
	var req models.AgencyExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	b, err := h.econ.ExchangeSalaryToAgency(c.Request.Context(), currentUser(c), req.AgentID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.BalanceView(*b))
}

func (h *UserHandler) AgencyTransfer(c *gin.Context) {
	var req models.AgencyTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	b, err := h.econ.AgencyTransfer(c.Request.Context(), currentUser(c), req.TargetID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.BalanceView(*b))
}

func (h *UserHandler) StoreItems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.econ.StoreItems()})
}

func (h *UserHandler) VIPPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.econ.VIPPackages()})
}

func (h *UserHandler) OwnedItems(c *gin.Context) {
	items, err := h.econ.OwnedItems(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *UserHandler) BuyItem(c *gin.Context) {
	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)
	b, err := h.econ.BuyItem(ctx, userID, req.ItemID)
	if err != nil {
		respondError(c, err)
		return
	}
	items, err := h.econ.OwnedItems(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": services.BalanceView(*b), "items": items})
}

func (h *UserHandler) BuyVIP(c *gin.Context) {
	var req models.VIPPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	b, err := h.econ.BuyVIP(c.Request.Context(), currentUser(c), req.Level)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.BalanceView(*b))
}
