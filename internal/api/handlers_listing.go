package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/service"
)

// Callback types sent by the wallet
const (
	callbackTypeBuy    = "nft-buy"
	callbackTypeCancel = "nft-cancel"
)

// queryParams reads required and optional query values
type queryParams struct {
	r   *http.Request
	err error
}

func (q *queryParams) required(name string) string {
	value := strings.TrimSpace(q.r.URL.Query().Get(name))
	if value == "" && q.err == nil {
		q.err = apperrors.NewMissingParameterError(name)
	}
	return value
}

func (q *queryParams) optional(name string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(name))
}

func (q *queryParams) decimal(name string) decimal.Decimal {
	raw := q.required(name)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil && q.err == nil {
		q.err = apperrors.NewInvalidParameterError(name, "should be a number")
	}
	return d
}

// handleCheckTransfer handles GET /api/checkTransfer - verify a listing and record it
func (s *Server) handleCheckTransfer(w http.ResponseWriter, r *http.Request) {
	if s.services.Listings == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Listing verification unavailable", nil)
		return
	}

	q := &queryParams{r: r}
	claim := service.ListingClaim{
		ContractAddress: q.required("contractAddress"),
		NftItemAddress:  q.required("nftItemAddress"),
		OwnerAddress:    q.required("ownerAddress"),
		Price:           q.decimal("price"),
		RoyaltyPercent:  q.decimal("royaltyPercent"),
		RoyaltyAddress:  q.optional("royaltyAddress"),
		RefPercent:      q.decimal("refPercent"),
		Hash:            q.required("hash"),
	}
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	result, err := s.services.Listings.VerifyAndRecord(r.Context(), claim)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transfered": result.Transferred(),
		"admitted":   result.Admitted,
		"reason":     result.Reason,
		"hash":       claim.Hash,
	})
}

// handleCallback handles GET /api/callbackHandler - wallet buy and cancel callbacks
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.services.Purchases == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Purchase reconciliation unavailable", nil)
		return
	}

	q := &queryParams{r: r}
	callbackType := q.required("type")
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	switch callbackType {
	case callbackTypeBuy:
		s.handleBuyCallback(w, r)
	case callbackTypeCancel:
		s.handleCancelCallback(w, r)
	default:
		respondServiceError(w, r, apperrors.NewInvalidParameterError("type", "must be nft-buy or nft-cancel"))
	}
}

func (s *Server) handleBuyCallback(w http.ResponseWriter, r *http.Request) {
	q := &queryParams{r: r}
	claim := service.BuyClaim{
		SaleContractAddress: q.required("saleContractAddress"),
		FullPrice:           q.decimal("fullPrice"),
		Referral:            q.optional("referral"),
	}
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	result, err := s.services.Purchases.ReconcileBuy(r.Context(), claim)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// an unconfirmed buy is an expected outcome, not a server failure
	if !result.Confirmed {
		respondServiceError(w, r, apperrors.NewUnconfirmedPurchaseError(result.ContractAddress, result.Attempts))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "success",
		"result":  result,
	})
}

func (s *Server) handleCancelCallback(w http.ResponseWriter, r *http.Request) {
	q := &queryParams{r: r}
	contract := q.required("saleContractAddress")
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	result, err := s.services.Purchases.ReconcileCancel(r.Context(), contract)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "success",
		"result":  result,
	})
}

// handleCheckInit handles GET /api/checkInit - find the sale contract deployed for a seller
func (s *Server) handleCheckInit(w http.ResponseWriter, r *http.Request) {
	if s.services.Contracts == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Contract discovery unavailable", nil)
		return
	}

	q := &queryParams{r: r}
	owner := q.required("ownerAddress")
	createdAtRaw := q.required("createdAt")
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	createdAt, err := strconv.ParseInt(createdAtRaw, 10, 64)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("createdAt", "should be a unix timestamp"))
		return
	}

	contract, found, err := s.services.Contracts.FindSaleContract(r.Context(), owner, time.Unix(createdAt, 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if !found {
		respondJSON(w, http.StatusOK, map[string]interface{}{"initialized": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"initialized":     true,
		"contractAddress": contract,
	})
}
