package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cSxrpent/gem-nexus/internal/pool"
)

// RefreshHandler triggers a session warm-up for every pooled account without
// waiting for the periodic loop.
func RefreshHandler(accounts *pool.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Captcha solves can take minutes; never block the request on them.
		go accounts.RefreshAll(context.Background())

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"message": "Session refresh triggered",
		})
	}
}
