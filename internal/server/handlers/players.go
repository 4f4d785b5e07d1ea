package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cSxrpent/gem-nexus/internal/wolvesville"
)

// SearchPlayerHandler resolves a username to a player record using the
// service account's credentials. The shop validates gift recipients through
// this before fulfillment ever reaches the pool.
func SearchPlayerHandler(client *wolvesville.Client, service wolvesville.TokenSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		if username == "" {
			writeError(w, http.StatusBadRequest, "username query parameter is required")
			return
		}

		player, err := client.SearchPlayer(r.Context(), service, username)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if player == nil {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(player)
	}
}

// PlayerProfileHandler fetches a full player profile by ID.
func PlayerProfileHandler(client *wolvesville.Client, service wolvesville.TokenSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("id")
		if playerID == "" {
			writeError(w, http.StatusBadRequest, "id query parameter is required")
			return
		}

		profile, err := client.PlayerProfile(r.Context(), service, playerID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	}
}
