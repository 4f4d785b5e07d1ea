package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cSxrpent/gem-nexus/internal/pool"
)

// SendGiftHandler executes a gift send through the account pool. This is the
// entry point purchase fulfillment calls after payment clears.
func SendGiftHandler(accounts *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RecipientID string `json:"recipient_id"`
			Message     string `json:"message"`
			Product     struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Type string `json:"type"`
				Cost int    `json:"cost"`
			} `json:"product"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.RecipientID == "" || req.Product.Type == "" {
			writeError(w, http.StatusBadRequest, "recipient_id and product.type are required")
			return
		}
		if req.Product.Cost < 0 {
			writeError(w, http.StatusBadRequest, "product.cost must be >= 0")
			return
		}

		receipt, err := accounts.SendGift(r.Context(), req.RecipientID, pool.Product{
			ID:   req.Product.ID,
			Name: req.Product.Name,
			Type: req.Product.Type,
			Cost: req.Product.Cost,
		}, req.Message)

		if err != nil {
			var delivery *pool.DeliveryError
			switch {
			case errors.Is(err, pool.ErrInsufficientGems):
				writeError(w, http.StatusPaymentRequired, err.Error())
			case errors.As(err, &delivery):
				writeError(w, http.StatusBadGateway, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"receipt": receipt.Body,
		})
	}
}
