package models

type ExchangeRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

type AgencyExchangeRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,min=1"`
}

type AgencyTransferRequest struct {
	TargetID string `json:"target_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,min=1"`
}
