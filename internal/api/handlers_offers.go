package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/storage"
)

// handleGetOfferByHash handles GET /api/offer/{hash}[/{referral}]
func (s *Server) handleGetOfferByHash(w http.ResponseWriter, r *http.Request) {
	if s.services.Orders == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Order lookup unavailable", nil)
		return
	}

	vars := mux.Vars(r)
	hash := vars["hash"]

	order, err := s.services.Orders.FindByHash(r.Context(), hash)
	if err != nil {
		s.respondOrderLookupError(w, r, err, hash)
		return
	}

	response := map[string]interface{}{"order": order}
	if referral := vars["referral"]; referral != "" {
		response["referral"] = DecodeReferral(referral)
	}
	respondJSON(w, http.StatusOK, response)
}

// handleGetOffer handles GET /api/getOffer - the active order of a listing tuple
func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	if s.services.Orders == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Order lookup unavailable", nil)
		return
	}

	q := &queryParams{r: r}
	key := models.ListingKey{
		NftItemAddress:  q.required("nftItemAddress"),
		OwnerAddress:    q.required("ownerAddress"),
		ContractAddress: q.required("saleContractAddress"),
	}
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	order, err := s.services.Orders.FindActiveByKeys(r.Context(), key)
	if err != nil {
		s.respondOrderLookupError(w, r, err, key.String())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (s *Server) respondOrderLookupError(w http.ResponseWriter, r *http.Request, err error, id string) {
	if errors.Is(err, storage.ErrOrderNotFound) {
		respondServiceError(w, r, apperrors.NewNotFoundError("order", id))
		return
	}
	respondServiceError(w, r, apperrors.NewDatabaseError("find order", err))
}

// handleGetAllOffers handles GET /api/getAllOffers
func (s *Server) handleGetAllOffers(w http.ResponseWriter, r *http.Request) {
	if s.services.Offers == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Offer catalog unavailable", nil)
		return
	}

	listing, err := s.services.Offers.ListOffers(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

// handleGetUserNfts handles GET /api/getUserNfts - items held or listed by a wallet
func (s *Server) handleGetUserNfts(w http.ResponseWriter, r *http.Request) {
	if s.services.Items == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Item search unavailable", nil)
		return
	}

	q := &queryParams{r: r}
	owner := q.required("userAddress")
	if q.err != nil {
		respondServiceError(w, r, q.err)
		return
	}

	items, err := s.services.Items.GetItemsByOwner(r.Context(), owner)
	if err != nil {
		respondServiceError(w, r, apperrors.NewChainError("tonapi", err))
		return
	}
	if items == nil {
		items = []adapter.NftItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"nfts": items})
}

// handleStatistics handles GET /api/statistics
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.services.Statistics == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Statistics unavailable", nil)
		return
	}

	stats, err := s.services.Statistics.GetStatistics(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// DecodeReferral recovers the referrer wallet from a share link segment. Links carry
// the url-safe wallet address reversed.
func DecodeReferral(segment string) string {
	runes := []rune(adapter.URLSafeAddress(segment))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
