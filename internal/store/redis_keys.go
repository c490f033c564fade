package store

import (
	"fmt"
	"strings"
	"time"
)

const (
	KeyUser               = "user:%s"
	KeyUserUpdates        = "user:%s:updates"
	KeyUserItems          = "user:%s:items"
	KeyHostAgency         = "host_agency:%s"
	KeyBag                = "bag:%s"
	KeyBagClaimants       = "bag:%s:claimants"
	KeyRoomBags           = "room:%s:bags"
	KeyRoomContributors   = "room:%s:contributors"
	KeyRoomCharm          = "room:%s:charm"
	KeyRoomSeats          = "room:%s:seats"
	KeyRoomGiftEvents     = "room:%s:gift_events"
	KeyRoomMessages       = "room:%s:messages"
	KeyGlobalAnnouncement = "global_announcements"
	KeyCommit             = "commit:%s"
	KeyRateLimit          = "ratelimit:%s:%s"

	FieldCoins           = "coins"
	FieldDiamonds        = "diamonds"
	FieldWealth          = "wealth"
	FieldCharm           = "charm"
	FieldRechargePoints  = "recharge_points"
	FieldAgencyBalance   = "agency_balance"
	FieldHostProduction  = "host_production"
	FieldHostAgencyID    = "host_agency_id"
	FieldName            = "name"
	FieldTotalProduction = "total_production"
	FieldIsVIP           = "is_vip"
	FieldVIPLevel        = "vip_level"
	FieldFrame           = "frame"

	TTLCommit = 7 * 24 * time.Hour
	TTLBag    = 24 * time.Hour

	MaxRoomMessages   = 200
	MaxRoomGiftEvents = 200
	MaxAnnouncements  = 50
)

func UserKey(userID string) string             { return fmt.Sprintf(KeyUser, userID) }
func UserUpdatesChannel(userID string) string  { return fmt.Sprintf(KeyUserUpdates, userID) }
func UserItemsKey(userID string) string        { return fmt.Sprintf(KeyUserItems, userID) }
func HostAgencyKey(agencyID string) string     { return fmt.Sprintf(KeyHostAgency, agencyID) }
func BagKey(bagID string) string               { return fmt.Sprintf(KeyBag, bagID) }
func BagClaimantsKey(bagID string) string      { return fmt.Sprintf(KeyBagClaimants, bagID) }
func RoomBagsKey(roomID string) string         { return fmt.Sprintf(KeyRoomBags, roomID) }
func RoomContributorsKey(roomID string) string { return fmt.Sprintf(KeyRoomContributors, roomID) }
func RoomCharmKey(roomID string) string        { return fmt.Sprintf(KeyRoomCharm, roomID) }
func RoomSeatsKey(roomID string) string        { return fmt.Sprintf(KeyRoomSeats, roomID) }
func RoomGiftEventsKey(roomID string) string   { return fmt.Sprintf(KeyRoomGiftEvents, roomID) }
func RoomMessagesKey(roomID string) string     { return fmt.Sprintf(KeyRoomMessages, roomID) }

// UserIDFromKey extracts the id from a "user:<id>" document key.
func UserIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "user:") {
		return "", false
	}
	id := strings.TrimPrefix(key, "user:")
	if id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}
