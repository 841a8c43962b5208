package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/auction"
	"github.com/aaoferreira/vault-v2/internal/persistence"
)

type handlers struct {
	engine  *auction.Engine
	history *persistence.EventLogWriter
	log     zerolog.Logger
}

type auctionDTO struct {
	Vault      string    `json:"vault"`
	Owner      string    `json:"owner"`
	Start      time.Time `json:"start"`
	Collateral string    `json:"collateral"`
	Base       string    `json:"base"`
	Series     string    `json:"series"`
	Art        string    `json:"art"`
	Ink        string    `json:"ink"`
}

func toAuctionDTO(a *auction.Auction) auctionDTO {
	return auctionDTO{
		Vault:      a.VaultID.String(),
		Owner:      a.Owner,
		Start:      a.Start,
		Collateral: a.CollateralID,
		Base:       a.BaseID,
		Series:     a.SeriesID,
		Art:        a.Art.Dec(),
		Ink:        a.Ink.Dec(),
	}
}

func (h *handlers) open(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.Open(r.Context(), vaultID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionDTO(rec))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Cancel(r.Context(), vaultID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getAuction(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}

	rec, found := h.engine.Auction(vaultID)
	if !found {
		h.writeError(w, auction.ErrVaultNotAuctioned)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionDTO(rec))
}

func (h *handlers) listAuctions(w http.ResponseWriter, r *http.Request) {
	records := h.engine.Auctions()
	out := make([]auctionDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toAuctionDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": out})
}

func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	artIn, ok := h.amountParam(w, r.URL.Query().Get("art"), "art")
	if !ok {
		return
	}

	inkOut, err := h.engine.QuotePayout(vaultID, artIn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ink_out": inkOut.Dec()})
}

type buyRequest struct {
	Buyer     string `json:"buyer"`
	Receiver  string `json:"receiver"`
	MinInkOut string `json:"min_ink_out"`
	MaxIn     string `json:"max_in"`
}

func (h *handlers) buyWithAsset(w http.ResponseWriter, r *http.Request) {
	h.buy(w, r, h.engine.SettleWithAsset, "asset_in")
}

func (h *handlers) buyWithDebtToken(w http.ResponseWriter, r *http.Request) {
	h.buy(w, r, h.engine.SettleWithDebtToken, "token_in")
}

type settleFunc func(ctx context.Context, vaultID uuid.UUID, buyer, receiver string, minInkOut, maxIn *uint256.Int) (*uint256.Int, *uint256.Int, error)

func (h *handlers) buy(
	w http.ResponseWriter,
	r *http.Request,
	settle settleFunc,
	inField string,
) {
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.Buyer == "" || req.Receiver == "" {
		h.badRequest(w, "buyer and receiver are required")
		return
	}

	minInkOut, ok := h.amountParam(w, req.MinInkOut, "min_ink_out")
	if !ok {
		return
	}
	maxIn, ok := h.amountParam(w, req.MaxIn, "max_in")
	if !ok {
		return
	}

	inkOut, amountIn, err := settle(r.Context(), vaultID, req.Buyer, req.Receiver, minInkOut, maxIn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ink_out": inkOut.Dec(),
		inField:   amountIn.Dec(),
	})
}

func (h *handlers) getLimit(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	limit, found := h.engine.Limit(key)
	if !found {
		h.badRequest(w, "no limit configured for key")
		return
	}
	max := ""
	if limit.Max != nil {
		max = limit.Max.Dec()
	}
	writeJSON(w, http.StatusOK, map[string]string{"max": max, "sum": limit.Sum.Dec()})
}

type lineRequest struct {
	DurationSeconds uint64 `json:"duration_seconds"`
	InitialOffer    string `json:"initial_offer"`
	Proportion      string `json:"proportion"`
}

func (h *handlers) setLine(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)

	var req lineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	offer, ok := h.amountParam(w, req.InitialOffer, "initial_offer")
	if !ok {
		return
	}
	proportion, ok := h.amountParam(w, req.Proportion, "proportion")
	if !ok {
		return
	}

	line := auction.Line{
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
		InitialOffer: offer,
		Proportion:   proportion,
	}
	if err := h.engine.SetLine(key, line); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type limitRequest struct {
	Max string `json:"max"`
}

func (h *handlers) setLimit(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)

	var req limitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	max, ok := h.amountParam(w, req.Max, "max")
	if !ok {
		return
	}

	h.engine.SetLimit(key, max)
	w.WriteHeader(http.StatusNoContent)
}

type historyEntry struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func (h *handlers) historyByVault(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history unavailable", http.StatusNotImplemented)
		return
	}
	vaultID, ok := h.vaultID(w, r)
	if !ok {
		return
	}

	rows, err := h.history.VaultHistory(r.Context(), vaultID.String(), 500)
	if err != nil {
		h.log.Error().Err(err).Str("vault", vaultID.String()).Msg("history query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}

	out := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyEntry{
			Sequence:  row.Sequence,
			EventType: row.EventType,
			Payload:   row.Payload,
			Timestamp: row.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func keyFromRequest(r *http.Request) auction.Key {
	return auction.Key{
		CollateralID: chi.URLParam(r, "collateral"),
		BaseID:       chi.URLParam(r, "base"),
	}
}

func (h *handlers) vaultID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "vault"))
	if err != nil {
		h.badRequest(w, "invalid vault id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) amountParam(w http.ResponseWriter, raw, name string) (*uint256.Int, bool) {
	if raw == "" {
		h.badRequest(w, name+" is required")
		return nil, false
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		h.badRequest(w, name+" must be a decimal integer")
		return nil, false
	}
	return v, true
}

func (h *handlers) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
		"code":  "InvalidParameter",
	})
}

// writeError maps engine sentinels to HTTP statuses and stable error
// codes so callers can branch without string matching.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("operation failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auction.ErrVaultNotAuctioned):
		return http.StatusNotFound, "VaultNotAuctioned"
	case errors.Is(err, auction.ErrVaultAlreadyAuctioned):
		return http.StatusConflict, "VaultAlreadyAuctioned"
	case errors.Is(err, auction.ErrNotUndercollateralized):
		return http.StatusConflict, "NotUndercollateralized"
	case errors.Is(err, auction.ErrStillUndercollateralized):
		return http.StatusConflict, "StillUndercollateralized"
	case errors.Is(err, auction.ErrExposureExceeded):
		return http.StatusConflict, "ExposureExceeded"
	case errors.Is(err, auction.ErrNotEnoughBought):
		return http.StatusConflict, "NotEnoughBought"
	case errors.Is(err, auction.ErrLeavesDust):
		return http.StatusConflict, "LeavesDust"
	case errors.Is(err, auction.ErrLineNotSet):
		return http.StatusConflict, "LineNotSet"
	case errors.Is(err, auction.ErrInvalidParameter):
		return http.StatusBadRequest, "InvalidParameter"
	case errors.Is(err, auction.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
