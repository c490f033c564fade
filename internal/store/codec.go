package store

import (
	"strconv"
	"time"

	"livetalk-economy/internal/models"
)

const (
	bagFieldSender    = "sender_id"
	bagFieldSenderNm  = "sender_name"
	bagFieldRoom      = "room_id"
	bagFieldTotal     = "total_amount"
	bagFieldRemaining = "remaining_amount"
	bagFieldCapacity  = "capacity"
	bagFieldCreated   = "created_at"
	bagFieldExpires   = "expires_at"
)

func userFields(u *models.UserBalance) map[string]string {
	return map[string]string{
		FieldName:           u.Name,
		FieldCoins:          strconv.FormatInt(u.Coins, 10),
		FieldDiamonds:       strconv.FormatInt(u.Diamonds, 10),
		FieldWealth:         strconv.FormatInt(u.Wealth, 10),
		FieldCharm:          strconv.FormatInt(u.Charm, 10),
		FieldRechargePoints: strconv.FormatInt(u.RechargePoints, 10),
		FieldAgencyBalance:  strconv.FormatInt(u.AgencyBalance, 10),
		FieldHostProduction: strconv.FormatInt(u.HostProduction, 10),
		FieldHostAgencyID:   u.HostAgencyID,
		FieldIsVIP:          formatBool(u.IsVIP),
		FieldVIPLevel:       strconv.Itoa(u.VIPLevel),
		FieldFrame:          u.Frame,
	}
}

func parseUser(userID string, h map[string]string) models.UserBalance {
	return models.UserBalance{
		UserID:         userID,
		Name:           h[FieldName],
		Coins:          parseInt(h[FieldCoins]),
		Diamonds:       parseInt(h[FieldDiamonds]),
		Wealth:         parseInt(h[FieldWealth]),
		Charm:          parseInt(h[FieldCharm]),
		RechargePoints: parseInt(h[FieldRechargePoints]),
		AgencyBalance:  parseInt(h[FieldAgencyBalance]),
		HostProduction: parseInt(h[FieldHostProduction]),
		HostAgencyID:   h[FieldHostAgencyID],
		IsVIP:          h[FieldIsVIP] == "1",
		VIPLevel:       int(parseInt(h[FieldVIPLevel])),
		Frame:          h[FieldFrame],
	}
}

// BagOps returns the set ops that write a new bag record and index it under its room.
func BagOps(bag *models.LuckyBag) []Op {
	key := BagKey(bag.ID)
	return []Op{
		Set(key, bagFieldSender, bag.SenderID),
		Set(key, bagFieldSenderNm, bag.SenderName),
		Set(key, bagFieldRoom, bag.RoomID),
		Set(key, bagFieldTotal, strconv.FormatInt(bag.TotalAmount, 10)),
		Set(key, bagFieldRemaining, strconv.FormatInt(bag.RemainingAmount, 10)),
		Set(key, bagFieldCapacity, strconv.FormatInt(bag.Capacity, 10)),
		Set(key, bagFieldCreated, strconv.FormatInt(bag.CreatedAt.UnixMilli(), 10)),
		Set(key, bagFieldExpires, strconv.FormatInt(bag.ExpiresAt.UnixMilli(), 10)),
		Union(RoomBagsKey(bag.RoomID), bag.ID),
	}
}

func parseBag(bagID string, h map[string]string) *models.LuckyBag {
	return &models.LuckyBag{
		ID:              bagID,
		SenderID:        h[bagFieldSender],
		SenderName:      h[bagFieldSenderNm],
		RoomID:          h[bagFieldRoom],
		TotalAmount:     parseInt(h[bagFieldTotal]),
		RemainingAmount: parseInt(h[bagFieldRemaining]),
		Capacity:        parseInt(h[bagFieldCapacity]),
		CreatedAt:       time.UnixMilli(parseInt(h[bagFieldCreated])),
		ExpiresAt:       time.UnixMilli(parseInt(h[bagFieldExpires])),
		ClaimedBy:       []string{},
	}
}

// SeatOps returns the set ops replacing a room's seat document.
func SeatOps(roomID string, speakersJSON string, micCount int) []Op {
	key := RoomSeatsKey(roomID)
	return []Op{
		Set(key, "speakers", speakersJSON),
		Set(key, "mic_count", strconv.Itoa(micCount)),
	}
}

// VIPOps returns the set ops that grant pkg on the user document of userID.
func VIPOps(userID string, pkg models.VIPPackage) []Op {
	key := UserKey(userID)
	return []Op{
		Set(key, FieldIsVIP, formatBool(true)),
		Set(key, FieldVIPLevel, strconv.Itoa(pkg.Level)),
		Set(key, FieldFrame, pkg.FrameURL),
	}
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
