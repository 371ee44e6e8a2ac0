package main

import (
	"context"
	"fmt"
	"log"
	"medassist/internal/config"
	"medassist/internal/crypto"
	"medassist/internal/database"
	"medassist/internal/handlers"
	"medassist/internal/logging"
	"medassist/internal/middleware"
	"medassist/internal/prompts"
	"medassist/internal/report"
	"medassist/internal/services"
	"medassist/pkg/auth"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting MedAssist Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	// Initialize database (SQLite file path or mysql:// DSN)
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Initialize at-rest encryption for records and analyses (optional)
	var encryptionService *crypto.EncryptionService
	if cfg.RecordsEncryptionKey != "" {
		encryptionService, err = crypto.NewEncryptionService(cfg.RecordsEncryptionKey)
		if err != nil {
			log.Fatalf("❌ Failed to initialize record encryption: %v", err)
		}
		log.Println("✅ Record encryption enabled (AES-256-GCM, per-patient keys)")
	} else {
		if cfg.Environment == "production" {
			log.Println("⚠️  RECORDS_ENCRYPTION_KEY not set - clinical records stored in plaintext. Generate with: openssl rand -hex 32")
		} else {
			log.Println("⚠️  RECORDS_ENCRYPTION_KEY not set - records stored in plaintext (development mode)")
		}
	}

	// Initialize MongoDB (optional - analysis audit trail)
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (audit trail disabled)", err)
			mongoDB = nil
		} else {
			defer mongoDB.Close(context.Background())
			if err := mongoDB.Initialize(context.Background()); err != nil {
				log.Printf("⚠️ Failed to ensure audit indexes: %v", err)
			}
			log.Println("✅ MongoDB connected successfully (audit trail enabled)")
		}
	} else {
		log.Println("⚠️ MONGODB_URI not set - analysis audit trail disabled")
	}

	// Initialize Redis service (optional - event fanout + maintenance lock)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (event fanout disabled)", err)
			redisService = nil
		} else {
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - single-instance event delivery")
	}

	// Initialize store services
	patientService := services.NewPatientService(db)
	recordService := services.NewRecordService(db, encryptionService)
	analysisService := services.NewAnalysisService(db, encryptionService)
	appointmentService := services.NewAppointmentService(db)
	staffService := services.NewStaffService(db)
	auditService := services.NewAuditService(mongoDB)

	// Seed the demo roster on first run
	if err := patientService.EnsureSeedData(); err != nil {
		log.Printf("⚠️ Failed to seed patient data: %v", err)
	}

	// Initialize Prometheus metrics
	services.InitMetrics()
	log.Println("✅ Prometheus metrics initialized")

	// Prompt store with hot reload (prompts.yaml overrides the built-in system prompts)
	promptStore := prompts.NewStore(cfg.PromptsFile)
	go promptStore.Watch()

	// Delegation chain: sidecar first, local model second, mock last
	var sidecarService *services.SidecarService
	if cfg.SidecarEnabled {
		sidecarService = services.NewSidecarService(cfg.SidecarURL, cfg.SidecarTimeout)
		log.Printf("✅ AI sidecar client initialized (%s)", cfg.SidecarURL)
	} else {
		log.Println("⚠️ AI_BACKEND_ENABLED=false - sidecar delegation disabled")
	}

	modelService := services.NewModelService(cfg.LocalModelURL, cfg.LocalModelID, cfg.LocalModelTimeout, cfg.GPUAvailable)
	aiService := services.NewAIService(sidecarService, modelService, promptStore, cfg.ForceMock)
	if cfg.ForceMock {
		log.Println("⚠️ FORCE_MOCK set - all analyses served by the mock path")
	}

	// Initialize the clinical report generator
	report.Init(cfg.ReportPDFEnabled, cfg.ChromiumPath)

	// Dashboard event hub (Redis pub/sub fanout when configured)
	instanceID := fmt.Sprintf("instance-%d", time.Now().UnixNano()%10000)
	eventsService := services.NewEventsService(redisService, instanceID)
	if err := eventsService.StartFanout(); err != nil {
		log.Printf("⚠️ Failed to start event fanout: %v", err)
	}

	// Background maintenance (nightly housekeeping + report sweep + probe refresh)
	maintenanceService, err := services.NewMaintenanceService(db, appointmentService, auditService, modelService, redisService, cfg.MaintenanceCron)
	if err != nil {
		log.Fatalf("❌ Failed to create maintenance service: %v", err)
	}
	if err := maintenanceService.Start(); err != nil {
		log.Printf("⚠️ Failed to start maintenance scheduler: %v", err)
	}

	// Initialize staff authentication (optional - the dashboard works without it)
	var jwtAuth *auth.LocalJWTAuth
	if cfg.AuthEnabled {
		if cfg.JWTSecret == "" {
			if cfg.Environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET is required when AUTH_ENABLED=true in production. Generate with: openssl rand -hex 64")
			}
			log.Println("⚠️  JWT_SECRET not set - staff authentication disabled (development mode)")
		} else {
			accessTokenExpiry := 15 * time.Minute
			refreshTokenExpiry := 7 * 24 * time.Hour

			if accessExpiryStr := os.Getenv("JWT_ACCESS_TOKEN_EXPIRY"); accessExpiryStr != "" {
				if parsed, err := time.ParseDuration(accessExpiryStr); err == nil {
					accessTokenExpiry = parsed
				} else {
					log.Printf("⚠️  Invalid JWT_ACCESS_TOKEN_EXPIRY: %v, using default 15m", err)
				}
			}

			if refreshExpiryStr := os.Getenv("JWT_REFRESH_TOKEN_EXPIRY"); refreshExpiryStr != "" {
				if parsed, err := time.ParseDuration(refreshExpiryStr); err == nil {
					refreshTokenExpiry = parsed
				} else {
					log.Printf("⚠️  Invalid JWT_REFRESH_TOKEN_EXPIRY: %v, using default 7d", err)
				}
			}

			jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, accessTokenExpiry, refreshTokenExpiry)
			if err != nil {
				log.Fatalf("❌ Failed to initialize JWT authentication: %v", err)
			}
			log.Printf("✅ Staff JWT authentication initialized (access: %v, refresh: %v)", accessTokenExpiry, refreshTokenExpiry)

			// Bootstrap the admin account from env on first run
			if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
				if err := auth.ValidatePassword(cfg.AdminPassword); err != nil {
					log.Printf("⚠️ ADMIN_PASSWORD is weak: %v", err)
				}
				hash, err := jwtAuth.HashPassword(cfg.AdminPassword)
				if err != nil {
					log.Printf("⚠️ Failed to hash admin password: %v", err)
				} else if err := staffService.EnsureAdmin(cfg.AdminEmail, hash); err != nil {
					log.Printf("⚠️ Failed to seed admin staff account: %v", err)
				}
			}
		}
	} else {
		log.Println("⚠️ AUTH_ENABLED=false - staff endpoints are open (single-clinic default)")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "MedAssist Dashboard v1.0",
		ReadTimeout:  300 * time.Second, // local model inference can take minutes on CPU
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  300 * time.Second,
		BodyLimit:    100 * 1024 * 1024, // analyze requests carry up to four documents plus a scan, each capped at 20MB downstream
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("medassist")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Load rate limiting configuration
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Analyze=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.AnalyzeMax,
		rateLimitConfig.WebSocketMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", allowedOrigins)

	// Global API rate limiter - first line of DDoS defense
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	log.Println("🛡️  [RATE-LIMIT] Global API rate limiter enabled")

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(aiService)
	patientHandler := handlers.NewPatientHandler(patientService, recordService, analysisService, eventsService)
	appointmentHandler := handlers.NewAppointmentHandler(appointmentService, eventsService)
	analyzeHandler := handlers.NewAnalyzeHandler(aiService, patientService, recordService, analysisService, auditService, eventsService, cfg.UploadMaxBytes)
	reportHandler := handlers.NewReportHandler(patientService, recordService, analysisService)
	wsHandler := handlers.NewWebSocketHandler(eventsService)

	var localAuthHandler *handlers.LocalAuthHandler
	if jwtAuth != nil {
		localAuthHandler = handlers.NewLocalAuthHandler(jwtAuth, staffService)
		log.Println("✅ Staff auth handler initialized")
	}

	// Staff guard for mutating endpoints. Pass-through when auth is
	// disabled so the dashboard works out of the box.
	staffGuard := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.AuthEnabled && jwtAuth != nil {
		staffGuard = middleware.LocalAuthMiddleware(jwtAuth)
		log.Println("🔒 [SECURITY] Mutating endpoints require staff tokens")
	}

	// Rate limiter for the two inference endpoints (expensive model calls)
	analyzeLimiter := middleware.AnalyzeRateLimiter(rateLimitConfig)

	// Routes

	// Health check (public)
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	{
		// Patient roster
		api.Get("/patients", patientHandler.List)
		api.Post("/patients", staffGuard, patientHandler.Create)
		api.Get("/patients/:id", patientHandler.Get)
		api.Get("/patients/:id/records", patientHandler.Records)
		api.Get("/patients/:id/ai-insights", patientHandler.AIInsights)

		// Appointments day board
		api.Get("/appointments", appointmentHandler.List)
		api.Post("/appointments", staffGuard, appointmentHandler.Create)

		// AI analysis endpoints (auth before the limiter so it can key on user_id)
		api.Post("/doctor/analyze", staffGuard, analyzeLimiter, analyzeHandler.Doctor)
		api.Post("/patient/explain", staffGuard, analyzeLimiter, analyzeHandler.Patient)

		// Clinical report generation + downloads
		api.Post("/patients/:id/report", staffGuard, reportHandler.Generate)
		api.Get("/download/:documentId", reportHandler.Download)
		api.Get("/export/patients.xlsx", reportHandler.ExportPatients)

		// Staff authentication routes (only when auth is configured)
		if localAuthHandler != nil {
			authRoutes := api.Group("/auth")
			authRoutes.Post("/login", localAuthHandler.Login)
			authRoutes.Post("/refresh", localAuthHandler.Refresh)
			log.Println("✅ Staff auth routes registered (/api/auth/*)")
		}
	}

	// WebSocket route for the dashboard event stream. Optional auth so
	// wallboard displays can connect anonymously.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConnectionLimiter := middleware.WebSocketRateLimiter(rateLimitConfig)
	app.Use("/ws", wsConnectionLimiter)
	app.Use("/ws", middleware.OptionalLocalAuthMiddleware(jwtAuth))

	wsConfig := websocket.Config{
		Origins: cfg.AllowedOrigins,
	}
	app.Get("/ws", websocket.New(wsHandler.Handle, wsConfig))

	// Start server
	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Dashboard events: ws://localhost:%s/ws", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	if redisService != nil {
		log.Println("📣 Event fanout enabled with Redis")
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := maintenanceService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping maintenance scheduler: %v", err)
		}

		if err := eventsService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping event hub: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
