package models

// StoreItem is a shop catalogue entry paid for in coins. Owned items are kept in a set
// per user; equipping one is a client concern.
type StoreItem struct {
	ID    string `json:"id" mapstructure:"id"`
	Name  string `json:"name" mapstructure:"name"`
	Type  string `json:"type" mapstructure:"type"`
	Price int64  `json:"price" mapstructure:"price"`
	URL   string `json:"url" mapstructure:"url"`
}

// VIPPackage is a purchasable VIP tier. Buying one sets the tier and its frame.
type VIPPackage struct {
	Level    int    `json:"level" mapstructure:"level"`
	Name     string `json:"name" mapstructure:"name"`
	Cost     int64  `json:"cost" mapstructure:"cost"`
	FrameURL string `json:"frame_url" mapstructure:"frame_url"`
}

type PurchaseRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

type VIPPurchaseRequest struct {
	Level int `json:"level" binding:"required,min=1"`
}
