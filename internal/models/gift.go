package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

type GiftCategory string

const (
	GiftCategoryNormal GiftCategory = "normal"
	GiftCategoryLucky  GiftCategory = "lucky"
)

type Gift struct {
	ID       string       `json:"id" mapstructure:"id"`
	Name     string       `json:"name" mapstructure:"name"`
	Icon     string       `json:"icon" mapstructure:"icon"`
	UnitCost int64        `json:"unit_cost" mapstructure:"unit_cost"`
	Category GiftCategory `json:"category" mapstructure:"category"`
	IsLucky  bool         `json:"is_lucky" mapstructure:"is_lucky"`
}

// Lucky reports whether sends of this gift roll the lucky multiplier.
func (g Gift) Lucky() bool {
	return g.IsLucky || g.Category == GiftCategoryLucky
}

// LuckyMultiplier is one row of the payout table. Chances are relative weights.
type LuckyMultiplier struct {
	Value  int64   `json:"value" mapstructure:"value"`
	Chance float64 `json:"chance" mapstructure:"chance"`
}

type SendGiftRequest struct {
	GiftID       string   `json:"gift_id" binding:"required"`
	Quantity     int64    `json:"quantity" binding:"required,min=1"`
	RecipientIDs []string `json:"recipient_ids" binding:"required,min=1"`
}

// Validate drops blank and duplicate recipient ids and rejects a send left with none.
// Sending to yourself is allowed.
func (r *SendGiftRequest) Validate(senderID string) error {
	if r.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	r.RecipientIDs = lo.Uniq(lo.Filter(r.RecipientIDs, func(id string, _ int) bool {
		return strings.TrimSpace(id) != ""
	}))
	if len(r.RecipientIDs) == 0 {
		return fmt.Errorf("select at least one recipient")
	}
	return nil
}

// SendResult is returned for an accepted gift send or combo hit.
type SendResult struct {
	GiftID    string `json:"gift_id"`
	Count     int64  `json:"count"`
	Cost      int64  `json:"cost"`
	Win       int64  `json:"win"`
	Coins     int64  `json:"coins"`
	ExpiresAt int64  `json:"combo_expires_at"`
}

// GiftEvent is appended once per settlement flush.
type GiftEvent struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	GiftID       string    `json:"gift_id"`
	GiftName     string    `json:"gift_name"`
	GiftIcon     string    `json:"gift_icon"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	RecipientIDs []string  `json:"recipient_ids"`
	Quantity     int64     `json:"quantity"`
	TotalCost    int64     `json:"total_cost"`
	TotalWin     int64     `json:"total_win"`
	Timestamp    time.Time `json:"timestamp"`
}

type AnnouncementType string

const (
	AnnouncementGift     AnnouncementType = "gift"
	AnnouncementLuckyWin AnnouncementType = "lucky_win"
	AnnouncementLuckyBag AnnouncementType = "lucky_bag"
)

type Announcement struct {
	ID            string           `json:"id"`
	Type          AnnouncementType `json:"type"`
	SenderID      string           `json:"sender_id"`
	SenderName    string           `json:"sender_name"`
	GiftName      string           `json:"gift_name,omitempty"`
	RecipientName string           `json:"recipient_name,omitempty"`
	RoomID        string           `json:"room_id"`
	Amount        int64            `json:"amount"`
	Timestamp     time.Time        `json:"timestamp"`
}

type ChatMessageType string

const (
	ChatMessageGift ChatMessageType = "gift"
	ChatMessageText ChatMessageType = "text"
)

type ChatMessage struct {
	ID                string          `json:"id"`
	RoomID            string          `json:"room_id"`
	UserID            string          `json:"user_id"`
	UserName          string          `json:"user_name"`
	UserWealthLevel   int             `json:"user_wealth_level"`
	UserRechargeLevel int             `json:"user_recharge_level"`
	Content           string          `json:"content"`
	Type              ChatMessageType `json:"type"`
	IsLuckyWin        bool            `json:"is_lucky_win"`
	Timestamp         time.Time       `json:"timestamp"`
}
