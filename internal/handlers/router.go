package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/auth"
	"livetalk-economy/internal/config"
	"livetalk-economy/internal/middleware"
	"livetalk-economy/internal/services"
)

type RouterDeps struct {
	Economy   *services.Economy
	JWT       *auth.JWTService
	Hub       *WebSocketHub
	RateLimit config.RateLimit
	Logger    zerolog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.TraceID(),
		middleware.Recovery(deps.Logger),
		middleware.Logging(deps.Logger, "/health"),
		middleware.CORS(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Unix()})
	})

	gifts := NewGiftHandler(deps.Economy)
	bags := NewBagHandler(deps.Economy)
	rooms := NewRoomHandler(deps.Economy)
	users := NewUserHandler(deps.Economy)
	ws := NewWebSocketHandler(deps.Economy, deps.Hub, deps.Logger)

	protected := router.Group("/api")
	protected.Use(
		middleware.AuthMiddleware(deps.JWT),
		middleware.RateLimitMiddleware(deps.Economy, deps.RateLimit, deps.Logger),
	)
	{
		protected.GET("/ws", ws.HandleWebSocket)
		protected.GET("/gifts", gifts.ListGifts)
		protected.GET("/announcements", users.Announcements)

		me := protected.Group("/me")
		{
			me.GET("/balance", users.GetBalance)
			me.GET("/level", users.GetLevel)
			me.GET("/items", users.OwnedItems)
		}

		wallet := protected.Group("/wallet")
		{
			wallet.POST("/exchange", users.ExchangeDiamonds)
			wallet.POST("/agency-exchange", users.ExchangeToAgency)
		}
		protected.POST("/agency/transfer", users.AgencyTransfer)

		shop := protected.Group("/store")
		{
			shop.GET("/items", users.StoreItems)
			shop.GET("/vip", users.VIPPackages)
			shop.POST("/purchase", users.BuyItem)
			shop.POST("/vip", users.BuyVIP)
		}

		room := protected.Group("/rooms/:roomID")
		{
			room.POST("/gifts", gifts.SendGift)
			room.POST("/combo", gifts.ComboHit)
			room.POST("/leave", gifts.LeaveRoom)

			room.POST("/bags", bags.CreateBag)
			room.GET("/bags", bags.ActiveBags)

			room.GET("/contributors", rooms.Contributors)
			room.GET("/messages", rooms.Messages)
			room.GET("/seats", rooms.Seats)
			room.POST("/seats", rooms.TakeSeat)
			room.DELETE("/seats", rooms.LeaveSeat)
			room.POST("/layout", rooms.CycleLayout)
			room.POST("/emoji", rooms.SendEmoji)
		}

		protected.POST("/bags/:bagID/claim", bags.ClaimBag)
	}

	return router
}
