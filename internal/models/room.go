package models

type Speaker struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SeatIndex   int    `json:"seat_index"`
	IsMuted     bool   `json:"is_muted"`
	ActiveEmoji string `json:"active_emoji,omitempty"`
	Charm       int64  `json:"charm"`
}

type RoomSeats struct {
	RoomID   string    `json:"room_id"`
	MicCount int       `json:"mic_count"`
	Speakers []Speaker `json:"speakers"`
}

// MicLayouts are the seat counts a room cycles through.
var MicLayouts = []int{8, 10, 15, 20}

type Contributor struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type TakeSeatRequest struct {
	SeatIndex int  `json:"seat_index" binding:"min=0"`
	IsMuted   bool `json:"is_muted"`
}

type EmojiRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}
