/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal ledger model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the ledger engine, not in DTOs.
  DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/keel/stock-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// IssueRequest records stock issued from a lot to a holder.
type IssueRequest struct {
	IssueID    string  `json:"issue_id"`
	LotID      string  `json:"lot_id"`
	ItemID     string  `json:"item_id"`
	HolderType string  `json:"holder_type"`
	HolderID   string  `json:"holder_id"`
	Quantity   float64 `json:"quantity"`
	Actor      string  `json:"actor"`
	At         string  `json:"at,omitempty"`
}

// ConsumeRequest records stock consumed by a holder.
type ConsumeRequest struct {
	ConsumptionID string  `json:"consumption_id"`
	HolderType    string  `json:"holder_type"`
	HolderID      string  `json:"holder_id"`
	ItemID        string  `json:"item_id"`
	Quantity      float64 `json:"quantity"`
	Actor         string  `json:"actor"`
	At            string  `json:"at,omitempty"`
}

// ReturnRequest records a return, tagged with its mode.
type ReturnRequest struct {
	ReturnID string  `json:"return_id"`
	Mode     string  `json:"mode"`
	UserID   string  `json:"user_id,omitempty"`
	OfficeID string  `json:"office_id,omitempty"`
	ItemID   string  `json:"item_id"`
	LotID    string  `json:"lot_id,omitempty"`
	Quantity float64 `json:"quantity"`
	Actor    string  `json:"actor"`
	At       string  `json:"at,omitempty"`
}

// AdjustRequest records a manual correction.
type AdjustRequest struct {
	Reference  string  `json:"reference,omitempty"`
	HolderType string  `json:"holder_type"`
	HolderID   string  `json:"holder_id"`
	ItemID     string  `json:"item_id"`
	EventType  string  `json:"event_type"`
	Quantity   float64 `json:"quantity"`
	Actor      string  `json:"actor"`
	At         string  `json:"at,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is one balance row.
type BalanceDTO struct {
	HolderType string `json:"holder_type"`
	HolderID   string `json:"holder_id"`
	ItemID     string `json:"item_id"`
	QtyIn      string `json:"qty_in_total"`
	QtyOut     string `json:"qty_out_total"`
	QtyOnHand  string `json:"qty_on_hand"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID            string `json:"id"`
	HolderType    string `json:"holder_type"`
	HolderID      string `json:"holder_id"`
	ItemID        string `json:"item_id"`
	EventType     string `json:"event_type"`
	Quantity      string `json:"quantity"`
	PerformedAt   string `json:"performed_at"`
	PerformedBy   string `json:"performed_by"`
	IssueID       string `json:"issue_id,omitempty"`
	ConsumptionID string `json:"consumption_id,omitempty"`
	LotID         string `json:"lot_id,omitempty"`
}

// ApplyResponse wraps the outcome of one live event.
type ApplyResponse struct {
	Duplicate    bool             `json:"duplicate"`
	Balances     []BalanceDTO     `json:"balances"`
	Transactions []TransactionDTO `json:"transactions"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		HolderType: string(b.Key.HolderType),
		HolderID:   b.Key.HolderID,
		ItemID:     b.Key.ItemID,
		QtyIn:      b.QtyIn.StringFixed(2),
		QtyOut:     b.QtyOut.StringFixed(2),
		QtyOnHand:  b.QtyOnHand.StringFixed(2),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            tx.ID,
		HolderType:    string(tx.Key.HolderType),
		HolderID:      tx.Key.HolderID,
		ItemID:        tx.Key.ItemID,
		EventType:     string(tx.EventType),
		Quantity:      tx.Quantity.StringFixed(2),
		PerformedAt:   tx.PerformedAt.UTC().Format(time.RFC3339),
		PerformedBy:   tx.PerformedBy,
		IssueID:       tx.Source.IssueID,
		ConsumptionID: tx.Source.ConsumptionID,
		LotID:         tx.Source.LotID,
	}
}

func toApplyResponse(res *ledger.ApplyResult) ApplyResponse {
	resp := ApplyResponse{
		Duplicate:    res.Duplicate,
		Balances:     make([]BalanceDTO, 0, len(res.Balances)),
		Transactions: make([]TransactionDTO, 0, len(res.Transactions)),
	}
	for _, b := range res.Balances {
		resp.Balances = append(resp.Balances, toBalanceDTO(b))
	}
	for _, tx := range res.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionDTO(tx))
	}
	return resp
}
