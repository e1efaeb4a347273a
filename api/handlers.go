/*
handlers.go - HTTP handlers for the inventory ledger

PURPOSE:
  Exposes the ledger's live-mutation path and query surface over REST.
  Handlers parse and validate input, delegate to the ledger service, and
  serialize responses.

ENDPOINTS:
  Live mutation:
    POST   /api/issues               Issue stock from a lot to a holder
    POST   /api/consumptions         Consume stock at a holder
    POST   /api/returns              Return stock (USER_TO_OFFICE or
                                     OFFICE_TO_STORE_LOT)
    POST   /api/adjustments          Manual correction

  Query surface:
    GET    /api/balances             List balances (holder/item filters)
    GET    /api/balances/{holderType}/{holderID}/{itemID}
    GET    /api/transactions         List transactions (holder, item,
                                     lot, date range, event type filters)
    GET    /api/health

ERROR HANDLING:
  - 400: Validation errors (malformed quantity, unknown holder/mode)
  - 404: Balance not found
  - 409: Insufficient balance
  - 500: Internal errors
  A dedup hit is NOT an error: the response carries duplicate=true with
  status 200.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keel/stock-ledger/ledger"
)

// Handler holds the handler dependencies.
type Handler struct {
	Service *ledger.Service
}

func NewHandler(service *ledger.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// LIVE MUTATION HANDLERS
// =============================================================================

// CreateIssue applies one ISSUE_IN event.
// POST /api/issues
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	holderType, err := ledger.ParseHolderType(req.HolderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid holder type", err)
		return
	}
	at, err := parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timestamp", err)
		return
	}

	res, err := h.Service.Issue(r.Context(), ledger.IssueInput{
		IssueID:    req.IssueID,
		LotID:      req.LotID,
		ItemID:     req.ItemID,
		HolderType: holderType,
		HolderID:   req.HolderID,
		Quantity:   req.Quantity,
		Actor:      req.Actor,
		At:         at,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplyResponse(res))
}

// CreateConsumption applies one CONSUME_OUT event.
// POST /api/consumptions
func (h *Handler) CreateConsumption(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	holderType, err := ledger.ParseHolderType(req.HolderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid holder type", err)
		return
	}
	at, err := parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timestamp", err)
		return
	}

	res, err := h.Service.Consume(r.Context(), ledger.ConsumeInput{
		ConsumptionID: req.ConsumptionID,
		HolderType:    holderType,
		HolderID:      req.HolderID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		Actor:         req.Actor,
		At:            at,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplyResponse(res))
}

// CreateReturn applies a return unit (one or two legs).
// POST /api/returns
func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mode, err := ledger.ParseReturnMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid return mode", err)
		return
	}
	at, err := parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timestamp", err)
		return
	}

	res, err := h.Service.Return(r.Context(), ledger.ReturnInput{
		ReturnID: req.ReturnID,
		Mode:     mode,
		UserID:   req.UserID,
		OfficeID: req.OfficeID,
		ItemID:   req.ItemID,
		LotID:    req.LotID,
		Quantity: req.Quantity,
		Actor:    req.Actor,
		At:       at,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplyResponse(res))
}

// CreateAdjustment applies a manual correction.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	holderType, err := ledger.ParseHolderType(req.HolderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid holder type", err)
		return
	}
	eventType, err := ledger.ParseEventType(req.EventType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event type", err)
		return
	}
	at, err := parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timestamp", err)
		return
	}

	res, err := h.Service.Adjust(r.Context(), ledger.AdjustInput{
		Reference:  req.Reference,
		HolderType: holderType,
		HolderID:   req.HolderID,
		ItemID:     req.ItemID,
		EventType:  eventType,
		Quantity:   req.Quantity,
		Actor:      req.Actor,
		At:         at,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplyResponse(res))
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// GetBalance looks up one balance by its full key.
// GET /api/balances/{holderType}/{holderID}/{itemID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	holderType, err := ledger.ParseHolderType(chi.URLParam(r, "holderType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid holder type", err)
		return
	}

	key := ledger.BalanceKey{
		HolderType: holderType,
		HolderID:   chi.URLParam(r, "holderID"),
		ItemID:     chi.URLParam(r, "itemID"),
	}
	bal, err := h.Service.Balance(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load balance", err)
		return
	}
	if bal == nil {
		writeError(w, http.StatusNotFound, "Balance not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// ListBalances returns balances filtered by holder and/or item.
// GET /api/balances?holder_type=&holder_id=&item_id=
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	f := ledger.BalanceFilter{
		HolderID: r.URL.Query().Get("holder_id"),
		ItemID:   r.URL.Query().Get("item_id"),
	}
	if raw := r.URL.Query().Get("holder_type"); raw != "" {
		holderType, err := ledger.ParseHolderType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid holder type", err)
			return
		}
		f.HolderType = holderType
	}

	balances, err := h.Service.Balances(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list balances", err)
		return
	}

	dtos := make([]BalanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, toBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransactions returns ledger entries filtered by holder, item,
// lot, date range, and event type.
// GET /api/transactions?holder_type=&holder_id=&item_id=&lot_id=&event_type=&from=&to=&limit=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		HolderID: q.Get("holder_id"),
		ItemID:   q.Get("item_id"),
		LotID:    q.Get("lot_id"),
	}

	if raw := q.Get("holder_type"); raw != "" {
		holderType, err := ledger.ParseHolderType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid holder type", err)
			return
		}
		f.HolderType = holderType
	}
	if raw := q.Get("event_type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			et, err := ledger.ParseEventType(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid event type", err)
				return
			}
			f.EventTypes = append(f.EventTypes, et)
		}
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp", err)
			return
		}
		f.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp", err)
			return
		}
		f.To = &to
	}

	txs, err := h.Service.Transactions(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// writeLedgerError maps engine errors onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "Insufficient balance", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
