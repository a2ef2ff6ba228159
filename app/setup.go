package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/api"
	"github.com/sahilchouksey/campus-notes/config"
	"github.com/sahilchouksey/campus-notes/database"
	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/router"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/sahilchouksey/campus-notes/services/cron"
	"github.com/sahilchouksey/campus-notes/services/digitalocean"
	"github.com/sahilchouksey/campus-notes/services/enrichment"
	"github.com/sahilchouksey/campus-notes/utils/auth"
	"github.com/sahilchouksey/campus-notes/utils/cache"
	"github.com/sahilchouksey/campus-notes/utils/metrics"
)

var errAINotConfigured = errors.New("AI enrichment is not configured (set AI_API_KEY)")

func SetupAndRunServer() error {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		log.Warnw("No .env file loaded", "error", err)
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}
	if getEnv.JWT_SECRET == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the database is running or not\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		return err
	}
	db := store.DB()

	metrics.MustRegister()

	// Redis is optional: without it login throttling is off and note locks are process local
	var redisCache *cache.RedisCache
	if getEnv.REDIS_URL != "" {
		redisCache, err = cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			log.Warnw("Failed to connect to Redis, continuing without it", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	// Attachment storage
	var fileStore services.FileStore = services.NewMemoryFileStore()
	spacesConfig := digitalocean.SpacesConfig{
		AccessKey: getEnv.DO_SPACES_ACCESS_KEY,
		SecretKey: getEnv.DO_SPACES_SECRET_KEY,
		Bucket:    getEnv.DO_SPACES_BUCKET,
		Region:    getEnv.DO_SPACES_REGION,
		Endpoint:  getEnv.DO_SPACES_ENDPOINT,
		CDNURL:    getEnv.DO_SPACES_CDN_URL,
	}
	if spacesConfig.Enabled() {
		spaces, err := digitalocean.NewSpacesClient(spacesConfig)
		if err != nil {
			return fmt.Errorf("spaces client: %w", err)
		}
		fileStore = spaces
	} else {
		log.Warn("DigitalOcean Spaces not configured, attachments are kept in memory")
	}

	// Domain resolver
	resolver := services.NewDomainResolver(db)
	if err := resolver.Reload(context.Background()); err != nil {
		return fmt.Errorf("build email domain index: %w", err)
	}
	log.Infow("Email domain index loaded", "domains", resolver.Size())

	// Enrichment pipeline
	var processor enrichment.Processor = enrichment.ProcessorFunc(func(context.Context, *model.Note) error {
		return errAINotConfigured
	})
	if getEnv.AI_API_KEY != "" {
		inference := digitalocean.NewInferenceClient(digitalocean.InferenceConfig{
			APIKey:            getEnv.AI_API_KEY,
			BaseURL:           getEnv.AI_BASE_URL,
			Model:             getEnv.AI_MODEL,
			RequestsPerMinute: getEnv.AI_REQUESTS_PER_MINUTE,
		})
		processor = enrichment.NewAIEnricher(inference, fileStore, nil)
	} else {
		log.Warn("AI_API_KEY not set, enrichment requests will fail")
	}

	staleAfter := time.Duration(getEnv.ENRICH_STALE_MINUTES) * time.Minute
	job := enrichment.NewJob(db, processor, enrichment.NewLocker(redisCache), enrichment.JobConfig{
		Timeout:    time.Duration(getEnv.ENRICH_TIMEOUT_SECONDS) * time.Second,
		StaleAfter: staleAfter,
	})
	dispatcher := enrichment.NewDispatcher(job, enrichment.DispatcherConfig{
		Workers:   getEnv.ENRICH_WORKERS,
		QueueSize: getEnv.ENRICH_QUEUE_SIZE,
	})
	dispatcher.Start(context.Background())

	// Services
	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: getEnv.JWT_SECRET,
		Issuer: getEnv.JWT_ISSUER,
	})
	admission := services.NewAdmissionService(db, resolver, getEnv.INSTITUTIONAL_EMAIL_SUFFIXES)
	profiles := services.NewProfileService(db, resolver)
	notes := services.NewNoteService(db, fileStore, dispatcher, services.NoteServiceConfig{
		MaxFileSize: int64(getEnv.MAX_UPLOAD_MB) << 20,
		StaleAfter:  staleAfter,
	})

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if getEnv.CRON_ENABLED {
		cronManager = cron.NewCronManager(db, resolver, dispatcher, auth.NewBlacklistService(db), cron.Config{
			StaleAfter:   staleAfter,
			RequeueAfter: time.Duration(getEnv.ENRICH_PENDING_REQUEUE_MINUTES) * time.Minute,
		})
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warnw("Failed to start cron jobs", "error", err)
			cronManager = nil
		}
	}

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT), api.Config{
		// every attachment may be at the limit, plus form fields
		BodyLimit: services.MaxFilesPerNote*(getEnv.MAX_UPLOAD_MB<<20) + 1<<20,
	})
	router.SetupRoutes(server.GetEngine(), router.Dependencies{
		Store:                 store,
		DB:                    db,
		JWTManager:            jwtManager,
		Cache:                 redisCache,
		Resolver:              resolver,
		Admission:             admission,
		Profiles:              profiles,
		Notes:                 notes,
		Queue:                 dispatcher,
		AllowedOrigins:        getEnv.ALLOWED_ORIGINS,
		ProfileCompletionPath: getEnv.PROFILE_COMPLETION_PATH,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-serverErr:
	case sig := <-quit:
		log.Infow("Shutting down", "signal", sig.String())
		err = server.Shutdown(10 * time.Second)
	}

	if cronManager != nil {
		cronManager.Stop()
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stopErr := dispatcher.Stop(drainCtx); stopErr != nil {
		log.Warnw("Enrichment queue not drained, pending notes will be requeued on next start", "error", stopErr)
	}
	return err
}
