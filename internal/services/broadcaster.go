package services

// Broadcaster pushes live room events to connected clients.
type Broadcaster interface {
	BroadcastRoom(roomID, messageType string, payload interface{})
}

// Room event types pushed through Broadcaster.
const (
	RoomEventGiftSent   = "GIFT_SENT"
	RoomEventComboHit   = "COMBO_HIT"
	RoomEventLuckyBag   = "LUCKY_BAG"
	RoomEventBagClaimed = "BAG_CLAIMED"
	RoomEventSeats      = "SEATS_UPDATED"
	RoomEventEmoji      = "EMOJI"
)

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastRoom(string, string, interface{}) {}
