package main

import (
	"log"
	"net/http"
	"os"

	"github.com/cSxrpent/gem-nexus/internal/auth/session"
	"github.com/cSxrpent/gem-nexus/internal/captcha"
	"github.com/cSxrpent/gem-nexus/internal/config"
	"github.com/cSxrpent/gem-nexus/internal/db"
	"github.com/cSxrpent/gem-nexus/internal/logging"
	"github.com/cSxrpent/gem-nexus/internal/pool"
	"github.com/cSxrpent/gem-nexus/internal/server/handlers"
	"github.com/cSxrpent/gem-nexus/internal/server/middleware"
	"github.com/cSxrpent/gem-nexus/internal/version"
	"github.com/cSxrpent/gem-nexus/internal/wolvesville"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func main() {
	configPath := os.Getenv("GEMNEXUS_CONFIG")
	if configPath == "" {
		configPath = "gemnexus.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	// Captcha solver shared by every session
	solver := captcha.NewClient(captcha.Config{
		APIKey:  cfg.Captcha.APIKey,
		SiteKey: cfg.Captcha.SiteKey,
		PageURL: cfg.Captcha.PageURL,
		BaseURL: cfg.Captcha.BaseURL,
	})

	sessionConfig := session.Config{
		AuthBaseURL: cfg.Auth.BaseURL,
		SiteKey:     cfg.Captcha.SiteKey,
	}

	// Core API client and the service session used for player lookups
	coreClient := wolvesville.NewClient(cfg.CoreAPI.BaseURL)
	serviceSession := session.New(cfg.Service.Email, cfg.Service.Password, solver, sessionConfig)

	// Account pool: one credential session per registered gem account
	accountPool := pool.NewManager(store, coreClient,
		func(email, password string) pool.TokenSource {
			return session.New(email, password, solver, sessionConfig)
		},
		pool.Config{SharedName: cfg.Pool.SharedName},
	)
	accountPool.StartRefreshLoop()

	// Create router
	r := chi.NewRouter()
	r.Use(logging.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))

		// Account management
		r.Get("/accounts", handlers.ListAccountsHandler(store))
		r.Post("/accounts", handlers.RegisterAccountHandler(store, cfg.Pool.InitialGems))
		r.Post("/accounts/{id}/recharge", handlers.RechargeAccountHandler(store, cfg.Pool.InitialGems))
		r.Post("/accounts/{id}/active", handlers.SetActiveHandler(store))

		// Gift fulfillment
		r.Post("/gifts", handlers.SendGiftHandler(accountPool))

		// Player lookups (service account)
		r.Get("/players/search", handlers.SearchPlayerHandler(coreClient, serviceSession))
		r.Get("/players/profile", handlers.PlayerProfileHandler(coreClient, serviceSession))

		// Session refresh
		r.Post("/refresh", handlers.RefreshHandler(accountPool))

		// API key management
		r.Get("/config/apikey", handlers.GetAPIKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(database))
	})

	log.Printf("🚀 gem-nexus %s starting on http://%s", version.Version, cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
