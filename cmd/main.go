package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/crypto"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/database"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/governance"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/handlers"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	appnats "github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/nats"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/redis"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/scheduler"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.New()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Database
	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	entitlementCache := redis.NewEntitlementCache(redisClient, time.Duration(cfg.Entitlement.CacheTTLSeconds)*time.Second)

	// NATS (optional; audit fallback and governance alerts degrade to logs)
	var publisher *appnats.Publisher
	if cfg.NATS.Enabled {
		natsClient, err := appnats.NewClient(appnats.Config{URL: cfg.NATS.URL}, logger)
		if err != nil {
			logger.WithError(err).Warn("NATS unavailable, continuing without event publishing")
		} else {
			defer natsClient.Close()
			publisher = appnats.NewPublisher(natsClient, logger)
		}
	}

	// Credential encryption
	keys, err := crypto.NewAESKeyService(cfg.Vault.MasterKey, cfg.Vault.KeySalt)
	if err != nil {
		log.Fatalf("Failed to initialize key service: %v", err)
	}

	// Governance configs
	slaCfg, err := config.LoadFreshnessSLA(cfg.Governance.FreshnessSLA)
	if err != nil {
		log.Fatalf("Failed to load freshness SLA config: %v", err)
	}
	metricsCfg, err := config.LoadMetricsVersions(cfg.Governance.MetricsVersions)
	if err != nil {
		log.Fatalf("Failed to load metric versions config: %v", err)
	}
	approvalsCfg, err := config.LoadChangeApprovals(cfg.Governance.ChangeApprovals)
	if err != nil {
		log.Fatalf("Failed to load change approvals config: %v", err)
	}
	preDeployCfg, err := config.LoadPreDeploy(cfg.Governance.PreDeploy)
	if err != nil {
		log.Fatalf("Failed to load pre-deploy config: %v", err)
	}
	rollbackCfg, err := config.LoadRollback(cfg.Governance.Rollback)
	if err != nil {
		log.Fatalf("Failed to load rollback config: %v", err)
	}
	restrictionsCfg, err := config.LoadAIRestrictions(cfg.Governance.AIRestrictions)
	if err != nil {
		log.Fatalf("Failed to load AI restrictions config: %v", err)
	}

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	planRepo := repository.NewPlanRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)
	billingEventRepo := repository.NewBillingEventRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	syncRunRepo := repository.NewSyncRunRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	incidentRepo := repository.NewIncidentRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)

	// Services
	auditService := services.NewAuditService(auditRepo, publisher, logger)
	entitlementService := services.NewEntitlementService(subscriptionRepo, planRepo, overrideRepo, entitlementCache, redisClient, auditService, logger, cfg.Entitlement)
	identityService := services.NewIdentityService(tenantRepo, userRepo, roleRepo, auditService, logger)
	vaultService := services.NewVaultService(credentialRepo, keys, auditService, logger)
	tokenManager := services.NewTokenManager(credentialRepo, vaultService, services.NewOAuthExchanger(), auditService, logger, cfg.Refresh)
	freshnessService := services.NewFreshnessService(availabilityRepo, connectionRepo, syncRunRepo, tenantRepo, auditService, logger, slaCfg)
	connectionService := services.NewConnectionService(connectionRepo, syncRunRepo, vaultService, freshnessService, auditService, logger)
	incidentService := services.NewIncidentService(incidentRepo, auditService, logger)
	anomalyService := services.NewAnomalyService()
	providerClient := services.NewHTTPProviderClient(cfg.Billing.ProviderBaseURL, cfg.Billing.ProviderAPIKey)
	billingService := services.NewBillingService(subscriptionRepo, billingEventRepo, tenantRepo, entitlementService, providerClient, auditService, logger, cfg.Billing)
	dashboardService := services.NewDashboardService(dashboardRepo, entitlementService, auditService, logger)
	datasetService := services.NewDatasetService(datasetRepo, auditService, logger)

	// Governance
	approvalGate := governance.NewApprovalGate(approvalsCfg, auditService, logger)
	metricResolver := governance.NewMetricVersionResolver(metricsCfg, auditService, publisher, logger)
	preDeployValidator := governance.NewPreDeployValidator(preDeployCfg, logger)
	rollbackOrchestrator := governance.NewRollbackOrchestrator(rollbackCfg, auditService, logger)
	guardrailService := governance.NewGuardrailService(restrictionsCfg, auditService, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	webhookHandler := handlers.NewWebhookHandler(billingService, identityService, cfg.Identity.WebhookSecret, redisClient, logger)
	connectionHandler := handlers.NewConnectionHandler(connectionService, vaultService, freshnessService, incidentService, anomalyService, logger)
	dashboardHandler := handlers.NewDashboardHandler(dashboardService, logger)
	datasetHandler := handlers.NewDatasetHandler(datasetService, logger)
	entitlementHandler := handlers.NewEntitlementHandler(entitlementService, auditRepo, logger)
	governanceHandler := handlers.NewGovernanceHandler(approvalGate, metricResolver, preDeployValidator, rollbackOrchestrator, guardrailService, logger)

	guard := middleware.NewTenantGuard(tenantRepo, userRepo, roleRepo, identityService, auditService, logger)

	// Router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Tenant-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks authenticate by signature, not by bearer token
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/billing", webhookHandler.BillingWebhook)
		webhooks.POST("/identity", webhookHandler.IdentityWebhook)
	}

	api := router.Group("/api/v1")
	api.Use(guard.Handler())
	{
		api.GET("/entitlements", entitlementHandler.Get)
		api.POST("/entitlements/overrides", entitlementHandler.CreateOverride)
		api.DELETE("/entitlements/overrides/:feature", entitlementHandler.DeleteOverride)
		api.GET("/audit", entitlementHandler.ListAuditRecords)

		api.POST("/connections", connectionHandler.Register)
		api.GET("/connections", connectionHandler.List)
		api.GET("/connections/:id", connectionHandler.Get)
		api.DELETE("/connections/:id", connectionHandler.Disconnect)
		api.PUT("/connections/:id/enabled", connectionHandler.SetEnabled)
		api.POST("/connections/:id/credentials", connectionHandler.StoreCredential)
		api.POST("/connections/:id/sync-result", connectionHandler.RecordSyncResult)
		api.POST("/connections/:id/quality-signals", connectionHandler.ReportQualitySignals)
		api.GET("/availability/:source", connectionHandler.Availability)

		api.GET("/incidents", connectionHandler.ListIncidents)
		api.POST("/incidents/:id/acknowledge", connectionHandler.AcknowledgeIncident)
		api.POST("/incidents/:id/resolve", connectionHandler.ResolveIncident)

		dashboards := api.Group("/dashboards")
		dashboards.Use(middleware.RequireFeature(entitlementService, "custom_dashboards"))
		{
			dashboards.POST("", dashboardHandler.Create)
			dashboards.GET("/:id", dashboardHandler.Get)
			dashboards.PUT("/:id", dashboardHandler.Update)
			dashboards.POST("/:id/restore/:version", dashboardHandler.Restore)
			dashboards.POST("/:id/archive", dashboardHandler.Archive)
		}
	}

	// Operator routes: dataset versions are global and gated upstream by the
	// admin gateway, not by tenant.
	admin := router.Group("/admin/v1")
	{
		admin.POST("/datasets/versions", datasetHandler.CreateVersion)
		admin.POST("/datasets/:name/versions/:version/activate", datasetHandler.Activate)
		admin.POST("/datasets/:name/rollback", datasetHandler.Rollback)
		admin.GET("/datasets/:name/active", datasetHandler.GetActive)

		admin.POST("/changes/evaluate", governanceHandler.EvaluateChange)
		admin.GET("/metrics-registry/:metric", governanceHandler.ResolveMetric)
		admin.POST("/predeploy/validate", governanceHandler.PreDeployValidate)
		admin.POST("/rollbacks", governanceHandler.ExecuteRollback)
		admin.POST("/rollbacks/reverse", governanceHandler.ReverseRollback)
		admin.POST("/ai/check-action", governanceHandler.CheckAIAction)
	}

	// Background jobs
	jobs := scheduler.New(tokenManager, entitlementService, freshnessService, billingService, logger, cfg)
	if err := jobs.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer jobs.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":        srv.Addr,
			"environment": cfg.App.Environment,
		}).Info("Control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
}
