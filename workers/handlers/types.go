package handlers

import "goeverbridge/pipeline"

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
}

type APITransferResponse struct {
	Status   string            `json:"status"`
	ID       string            `json:"id"`
	Transfer pipeline.Snapshot `json:"transfer"`
}

type APITransferListResponse struct {
	Status    string                `json:"status"`
	Transfers []APITransferResponse `json:"transfers"`
}

type APIBalanceResponse struct {
	Status  string `json:"status"`
	Address string `json:"address"`
	// smallest units of the native coin
	Balance string `json:"balance"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
}
