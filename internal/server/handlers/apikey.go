package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cSxrpent/gem-nexus/internal/db"
	"gorm.io/gorm"
)

// GetAPIKeyHandler returns the current admin API key.
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"api_key": db.GetAPIKey(database),
		})
	}
}

// RegenerateAPIKeyHandler rotates the admin API key.
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"api_key": db.RegenerateAPIKey(database),
		})
	}
}
