package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"agentpool/clients/anthropickeys"
	"agentpool/clients/compute"
	"agentpool/clients/instance"
	"agentpool/clients/mailbox"
	"agentpool/clients/phonenumbers"
	"agentpool/config"
	"agentpool/db"
	"agentpool/handlers"
	"agentpool/metrics"
	"agentpool/middleware"
	"agentpool/models"
	instancessvc "agentpool/services/instances"
	"agentpool/services/lifecycle"
	"agentpool/services/phonepool"
	"agentpool/services/pool"
	"agentpool/services/txmanager"
)

func main() {
	if err := run(); err != nil {
		log.Printf("❌ Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize error alert middleware
	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.SlackAlertConfig{
		WebhookURL:  cfg.SlackAlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "agentpool",
		LogsURL:     cfg.ServerLogsURL,
	})

	// Initialize database connection and schema
	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := db.RunMigrations(cfg.DatabaseURL, cfg.DatabaseSchema); err != nil {
		return err
	}

	// Initialize repositories with shared connection
	instancesRepo := db.NewPostgresInstancesRepository(dbConn, cfg.DatabaseSchema)
	infraRepo := db.NewPostgresInfraRepository(dbConn, cfg.DatabaseSchema)
	resourcesRepo := db.NewPostgresResourcesRepository(dbConn, cfg.DatabaseSchema)
	phoneNumbersRepo := db.NewPostgresPhoneNumbersRepository(dbConn, cfg.DatabaseSchema)

	txManager := txmanager.NewTransactionManager(dbConn)
	instancesService := instancessvc.NewInstancesService(instancesRepo)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Build the provider registry from whichever providers are configured
	providers := lifecycle.ProviderRegistry{}
	if cfg.CredentialConfig.IsConfigured() {
		providers[models.ToolKindCredential] = anthropickeys.NewClient(
			cfg.CredentialConfig.AdminAPIKey, cfg.CredentialConfig.WorkspaceID)
	}
	if cfg.MailboxConfig.IsConfigured() {
		providers[models.ToolKindMailbox] = mailbox.NewClient(
			mailbox.DefaultBaseURL, cfg.MailboxConfig.APIToken, cfg.MailboxConfig.Domain)
	}
	if cfg.PhoneConfig.IsConfigured() {
		phoneClient := phonenumbers.NewClient(
			phonenumbers.DefaultBaseURL,
			cfg.PhoneConfig.AccountSID,
			cfg.PhoneConfig.AuthToken,
			cfg.PhoneConfig.MessagingProfileID,
		)
		providers[models.ToolKindPhone] = phonepool.NewPhoneProvider(phoneClient, phoneNumbersRepo)
	}

	computeClient := compute.NewComputeClient(cfg.ComputeConfig.APIBaseURL, cfg.ComputeConfig.APIToken)
	instanceClient := instance.NewInstanceClient()

	lifecycleService := lifecycle.NewLifecycleService(
		instancesService,
		infraRepo,
		resourcesRepo,
		computeClient,
		providers,
		txManager,
		m,
		cfg.ComputeConfig,
		cfg.PoolConfig.RuntimeImage,
		cfg.ServerLogsURL,
	)
	poolService := pool.NewPoolService(
		instancesService,
		lifecycleService,
		infraRepo,
		instanceClient,
		m,
		cfg.PoolConfig,
	)

	poolHandler := handlers.NewPoolHTTPHandler(poolService, instancesService)
	resourcesHandler := handlers.NewResourcesHTTPHandler(lifecycleService)
	authMiddleware := middleware.NewAdminAuthMiddleware(cfg.AdminAPIToken)

	router := mux.NewRouter()

	// Pool surface consumed by the dashboard and CLI
	router.HandleFunc("/pool/counts", poolHandler.HandleGetPoolCounts).Methods("GET")
	router.HandleFunc("/pool/agents", poolHandler.HandleGetPoolAgents).Methods("GET")
	router.HandleFunc("/pool/claim", authMiddleware.WithAuth(poolHandler.HandleClaim)).Methods("POST")
	router.HandleFunc("/pool/replenish", authMiddleware.WithAuth(poolHandler.HandleReplenish)).Methods("POST")
	router.HandleFunc("/pool/drain", authMiddleware.WithAuth(poolHandler.HandleDrain)).Methods("POST")
	router.HandleFunc("/pool/instances/{id}", authMiddleware.WithAuth(poolHandler.HandleKillInstance)).
		Methods("DELETE")
	router.HandleFunc("/pool/crashed/{id}", authMiddleware.WithAuth(poolHandler.HandleDismissCrashed)).
		Methods("DELETE")

	// Internal resource-layer surface
	router.HandleFunc("/create-instance", authMiddleware.WithAuth(resourcesHandler.HandleCreateInstance)).
		Methods("POST")
	router.HandleFunc("/destroy/{id}", authMiddleware.WithAuth(resourcesHandler.HandleDestroyInstance)).
		Methods("DELETE")
	router.HandleFunc("/status/batch", authMiddleware.WithAuth(resourcesHandler.HandleBatchStatuses)).
		Methods("POST")
	router.HandleFunc("/configure/{id}", authMiddleware.WithAuth(resourcesHandler.HandleConfigureInstance)).
		Methods("POST")
	router.HandleFunc("/redeploy/{id}", authMiddleware.WithAuth(resourcesHandler.HandleRedeployInstance)).
		Methods("POST")
	router.HandleFunc("/provision/{id}/{tool}", authMiddleware.WithAuth(resourcesHandler.HandleProvisionResource)).
		Methods("POST")
	router.HandleFunc("/destroy/{id}/{tool}/{resourceId}", authMiddleware.WithAuth(resourcesHandler.HandleDestroyResource)).
		Methods("DELETE")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	// Run reconciliation once at startup, then on the configured interval
	if cfg.ComputeConfig.IsConfigured() {
		runTick := alertMiddleware.WrapBackgroundTask("ReconciliationTick", func() error {
			poolService.Tick(context.Background())
			return nil
		})
		go func() {
			_ = runTick()
			ticker := time.NewTicker(cfg.PoolConfig.TickInterval)
			defer ticker.Stop()
			for range ticker.C {
				_ = runTick()
			}
		}()
	} else {
		log.Printf("⚠️ Compute provider not configured, reconciliation loop disabled")
	}

	// Setup CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Setup and handle graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server)
}

func handleGracefulShutdown(server *http.Server) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
