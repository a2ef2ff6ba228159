package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilchouksey/campus-notes/database"
	"github.com/sahilchouksey/campus-notes/handlers"
	auth_handlers "github.com/sahilchouksey/campus-notes/handlers/auth"
	note_handlers "github.com/sahilchouksey/campus-notes/handlers/note"
	university_handlers "github.com/sahilchouksey/campus-notes/handlers/university"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/cache"
	"github.com/sahilchouksey/campus-notes/utils/middleware"
	"gorm.io/gorm"
)

// Dependencies are the long-lived components the routes are built from.
type Dependencies struct {
	Store      database.Storage
	DB         *gorm.DB
	JWTManager *auth.JWTManager
	Cache      *cache.RedisCache // nil disables brute force protection
	Resolver   *services.DomainResolver
	Admission  *services.AdmissionService
	Profiles   *services.ProfileService
	Notes      *services.NoteService
	Queue      handlers.QueueReporter

	AllowedOrigins        string
	ProfileCompletionPath string
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    deps.AllowedOrigins,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	authMiddleware := middleware.NewAuthMiddleware(deps.JWTManager, deps.DB)
	bruteForceProtection := middleware.NewBruteForceProtection(deps.Cache)
	profileGate := middleware.RequireCompleteProfile(middleware.ProfileGateConfig{
		RedirectPath: deps.ProfileCompletionPath,
	})

	authHandler := auth_handlers.NewAuthHandler(deps.DB, deps.JWTManager, bruteForceProtection,
		deps.Admission, deps.Profiles, deps.ProfileCompletionPath)
	universityHandler := university_handlers.NewUniversityHandler(deps.DB, deps.Resolver)
	noteHandler := note_handlers.NewNoteHandler(deps.Notes)

	// Health and metrics (public)
	health := handlers.HandleCheckHealth(deps.Store, deps.Resolver, deps.Queue)
	app.Get("/ping", health)
	app.Get("/health", health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 group
	api := app.Group("/api/v1")

	// Auth routes (public)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", bruteForceProtection.CheckAndRecordAttempt(), authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)
	authGroup.Post("/logout", authMiddleware.Required(), authHandler.Logout)

	// Profile routes stay reachable while the profile is incomplete
	profileGroup := api.Group("/profile", authMiddleware.Required())
	profileGroup.Get("/", authHandler.GetProfile)
	profileGroup.Put("/", authHandler.UpdateProfile)

	// Universities routes
	universities := api.Group("/universities")
	universities.Get("/", universityHandler.ListUniversities)                                          // Public: List universities
	universities.Get("/resolve", universityHandler.ResolveDomain)                                      // Public: Which university owns an email
	universities.Get("/:id", universityHandler.GetUniversity)                                          // Public: Get university with programs
	universities.Get("/:id/programs", universityHandler.ListPrograms)                                  // Public: Programs for the profile form
	universities.Post("/", authMiddleware.RequireAdmin(), universityHandler.CreateUniversity)          // Admin only: Create university
	universities.Put("/:id", authMiddleware.RequireAdmin(), universityHandler.UpdateUniversity)        // Admin only: Update university and domains
	universities.Post("/:id/programs", authMiddleware.RequireAdmin(), universityHandler.CreateProgram) // Admin only: Add program of study

	// Notes routes (protected, profile must be complete)
	notes := api.Group("/notes", authMiddleware.Required(), profileGate)
	notes.Get("/", noteHandler.ListNotes)
	notes.Post("/", noteHandler.CreateNote)
	notes.Get("/:id", noteHandler.GetNote)
	notes.Put("/:id", noteHandler.UpdateNote)
	notes.Delete("/:id", noteHandler.DeleteNote)
	notes.Post("/:id/enrich", noteHandler.RequestEnrichment)
	notes.Get("/:id/ai-status", noteHandler.GetEnrichmentStatus)
	notes.Get("/:id/ai-status/stream", noteHandler.StreamEnrichmentStatus)
	notes.Get("/:id/files/:fileId/download", noteHandler.GetFileDownload)
}
