package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/astronomiahub/hub/internal/api/handler"
	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/apikey"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/comment"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/deposition"
	"github.com/astronomiahub/hub/internal/metrics"
	"github.com/astronomiahub/hub/internal/ratelimit"
	"github.com/astronomiahub/hub/internal/search"
	"github.com/astronomiahub/hub/internal/staging"
	"github.com/astronomiahub/hub/internal/token"
)

// Request limits. Login attempts are limited per address; the key-gated API
// carries the daily and hourly defaults.
var (
	loginLimit = ratelimit.MustParse("3/minute")
	apiLimits  = []ratelimit.Limit{ratelimit.MustParse("200/day"), ratelimit.MustParse("50/hour")}
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	DBPinger     handler.DBPinger
	Version      string
	OpenAPISpec  []byte
	Domain       string
	CookieSecure bool
	CORSOrigins  []string
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool

	Auth        *auth.Service
	Tokens      *token.Service
	Locator     *token.Locator
	Keys        *apikey.Service
	Datasets    *dataset.Service
	Staging     *staging.Area
	Publisher   handler.Publisher
	Recommender handler.Recommender
	Comments    *comment.Service
	Search      *search.Service
	Limits      ratelimit.Store

	// Emulator, when set, is served under /fakenodo/api.
	Emulator *deposition.Emulator
	Metrics  *metrics.Metrics
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) (*chi.Mux, error) {
	var (
		limitObs middleware.LimitObserver
		keyObs   middleware.KeyObserver
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)
	if deps.Metrics != nil {
		limitObs, keyObs = deps.Metrics, deps.Metrics
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(middleware.Session(deps.Tokens, deps.Auth))

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler().ServeHTTP)
	}

	limits := deps.Limits
	if limits == nil {
		limits = ratelimit.NewMemoryStore()
	}

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler, err := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		if err != nil {
			return nil, fmt.Errorf("loading openapi document: %w", err)
		}
		r.Get("/openapi.json", openapiHandler.ServeJSON)
		r.Get("/openapi.yaml", openapiHandler.ServeYAML)
	}

	authHandler := handler.NewAuthHandler(deps.Auth, deps.Tokens, deps.Locator, deps.CookieSecure)
	sessionHandler := handler.NewSessionHandler(deps.Tokens)
	r.With(middleware.RateLimit(limits, "login", middleware.ClientIP, limitObs, loginLimit)).
		Post("/login", authHandler.Login)
	r.Post("/token/refresh", authHandler.Refresh)
	r.Post("/signup/", authHandler.SignUp)
	r.Post("/reset-password", authHandler.RequestReset)
	r.Get("/reset-password/{token}", authHandler.CheckReset)
	r.Post("/reset-password/{token}", authHandler.Reset)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Post("/logout", authHandler.Logout)
		r.Post("/2fa/setup", authHandler.SetupTOTP)
		r.Post("/2fa/verify", authHandler.VerifyTOTP)
		r.Get("/2fa/qr", authHandler.TOTPQRCode)

		r.Get("/token/sessions", sessionHandler.List)
		r.Put("/token/revoke/all", sessionHandler.RevokeAll)
		r.Put("/token/revoke/{id}", sessionHandler.Revoke)
		r.Delete("/token/revoke/{id}", sessionHandler.Revoke)
	})

	keyHandler := handler.NewAPIKeyHandler(deps.Keys)
	r.Route("/api-keys", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/", keyHandler.List)
		r.Post("/", keyHandler.Create)
		r.Put("/{id}/revoke", keyHandler.Revoke)
		r.Delete("/{id}", keyHandler.Delete)
	})

	datasetHandler := handler.NewDatasetHandler(deps.Datasets, deps.Staging, deps.Publisher,
		deps.Recommender, deps.Auth, deps.Domain, deps.CookieSecure)
	commentHandler := handler.NewCommentHandler(deps.Comments)
	r.Route("/dataset", func(r chi.Router) {
		r.Get("/download/{id}", datasetHandler.Download)
		r.Get("/{id}", datasetHandler.Get)
		r.Get("/{id}/recommendations", datasetHandler.Recommendations)
		r.Get("/{id}/comments/", commentHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/file/upload", datasetHandler.UploadFile)
			r.Post("/file/delete", datasetHandler.DeleteFile)
			r.Post("/upload", datasetHandler.Upload)
			r.Post("/import", datasetHandler.Import)
			r.Get("/list", datasetHandler.List)
			r.Post("/{id}/sync", datasetHandler.Sync)
			r.Post("/{id}/comments/", commentHandler.Add)
			r.Post("/{id}/comments/{cid}/moderate", commentHandler.Moderate)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser, middleware.RequireCurator)
			r.Put("/{id}", datasetHandler.Update)
			r.Delete("/{id}", datasetHandler.Delete)
		})
	})
	r.Get("/doi/*", datasetHandler.DOI)

	exploreHandler := handler.NewExploreHandler(deps.Search, deps.Recommender, deps.Domain)
	r.Route("/explore", func(r chi.Router) {
		r.Get("/", exploreHandler.Get)
		r.Post("/", exploreHandler.Post)
		r.Get("/facets", exploreHandler.Facets)
	})

	fileHandler := handler.NewFileHandler(deps.Datasets, deps.CookieSecure)
	r.Route("/file", func(r chi.Router) {
		r.Get("/view/{id}", fileHandler.View)
		r.Get("/download/{id}", fileHandler.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/save/{id}", fileHandler.Save)
			r.Post("/unsave/{id}", fileHandler.Unsave)
			r.Get("/saved", fileHandler.Saved)
			r.Get("/saved/download", fileHandler.SavedDownload)
		})
	})

	publicHandler := handler.NewPublicHandler(deps.Datasets, deps.Search)
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", apikey.HeaderName},
			MaxAge:         300,
		}))
		r.Use(middleware.RateLimit(limits, "api", middleware.APIKeyOrIP, limitObs, apiLimits...))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(deps.Keys, apikey.ScopeReadDatasets, keyObs))
			r.Get("/datasets", publicHandler.List)
			r.Get("/datasets/id/{id}", publicHandler.GetByID)
			r.Get("/datasets/title/{title}", publicHandler.GetByTitle)
			r.Get("/search", publicHandler.Search)
		})
		r.With(middleware.RequireScope(deps.Keys, apikey.ScopeReadStats, keyObs)).
			Get("/stats", publicHandler.Stats)
	})

	if deps.Emulator != nil {
		r.Mount("/fakenodo/api", deposition.NewEmulatorHandler(deps.Emulator))
	}

	return r, nil
}
