package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cSxrpent/gem-nexus/internal/db"
	"github.com/cSxrpent/gem-nexus/internal/db/models"
	"github.com/go-chi/chi/v5"
)

// accountView is the API shape of a gem account. Passwords never leave the
// database layer through this surface.
func accountView(acc models.GemAccount) map[string]interface{} {
	view := map[string]interface{}{
		"id":               acc.ID,
		"account_number":   acc.AccountNumber,
		"email":            acc.Email,
		"current_nickname": acc.CurrentNickname,
		"gems_remaining":   acc.GemsRemaining,
		"is_active":        acc.IsActive,
	}
	if acc.LastUsedAt != nil {
		view["last_used_at"] = acc.LastUsedAt
	}
	return view
}

// ListAccountsHandler returns all registered gem accounts.
func ListAccountsHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := store.ListAccounts()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		views := make([]map[string]interface{}, 0, len(accounts))
		for _, acc := range accounts {
			views = append(views, accountView(acc))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts": views,
		})
	}
}

// RegisterAccountHandler adds a new gem account to the pool.
func RegisterAccountHandler(store *db.Store, initialGems int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccountNumber int    `json:"account_number"`
			Email         string `json:"email"`
			Password      string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Email == "" || req.Password == "" || req.AccountNumber <= 0 {
			writeError(w, http.StatusBadRequest, "account_number, email and password are required")
			return
		}

		account, err := store.RegisterAccount(req.AccountNumber, req.Email, req.Password, initialGems)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(accountView(*account))
	}
}

// RechargeAccountHandler resets an account's gem balance. Omitting "gems"
// recharges to the configured initial amount.
func RechargeAccountHandler(store *db.Store, initialGems int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		var req struct {
			Gems *int `json:"gems"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		gems := initialGems
		if req.Gems != nil {
			gems = *req.Gems
		}

		if err := store.Recharge(accountID, gems); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"gems":   gems,
		})
	}
}

// SetActiveHandler toggles an account's soft-disable flag.
func SetActiveHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		var req struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if err := store.SetActive(accountID, req.Active); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"active": req.Active,
		})
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
