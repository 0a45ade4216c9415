package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/makaronz/stillontime/internal/api"
	"github.com/makaronz/stillontime/internal/auth"
	"github.com/makaronz/stillontime/internal/config"
	"github.com/makaronz/stillontime/internal/crypto"
	"github.com/makaronz/stillontime/internal/db"
	"github.com/makaronz/stillontime/internal/filter"
	"github.com/makaronz/stillontime/internal/mailbox"
	"github.com/makaronz/stillontime/internal/metrics"
	"github.com/makaronz/stillontime/internal/models"
	"github.com/makaronz/stillontime/internal/notify"
	"github.com/makaronz/stillontime/internal/parse"
	"github.com/makaronz/stillontime/internal/pipeline"
	"github.com/makaronz/stillontime/internal/queue"
	"github.com/makaronz/stillontime/internal/scheduler"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := db.RunMigrations(cfg.GetDatabaseURL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	itemStore := db.NewItemStore(pool)
	scheduleStore := db.NewScheduleStore(pool)
	jobStore := db.NewJobStore(pool)
	accountStore := db.NewAccountStore(pool)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	credentials := mailbox.NewStoreCredentialProvider(accountStore, encryptor)
	gateways := mailbox.NewIMAPFactory(credentials, cfg.IMAPUseTLS)

	queueCfg := queue.DefaultConfig()
	queueCfg.Concurrency[models.JobTypeProcessing] = cfg.ProcessingConcurrency
	queueCfg.Concurrency[models.JobTypeDiscovery] = cfg.DiscoveryConcurrency
	queueCfg.JobTimeout = cfg.JobTimeout
	jobQueue := queue.New(jobStore, queueCfg)

	candidateFilter := filter.New(filter.DefaultConfig())
	service := pipeline.NewService(
		gateways,
		itemStore,
		scheduleStore,
		accountStore,
		jobQueue,
		candidateFilter,
		parse.NewPDFParser(),
		parse.NewValidator(0.6),
		collector,
		pipeline.Config{
			PendingBatchSize: cfg.PendingBatchSize,
			JobMaxAttempts:   cfg.JobMaxAttempts,
		},
	)

	jobQueue.RegisterHandler(models.JobTypeProcessing, service.HandleProcessingJob)
	jobQueue.RegisterHandler(models.JobTypeDiscovery, service.HandleDiscoveryJob)
	if err := jobQueue.Start(); err != nil {
		log.Fatalf("Failed to start job queue: %v", err)
	}

	hub := notify.NewHub(cfg.WSMaxPerUser)
	subscriber := notify.NewSubscriber(hub, collector)
	go subscriber.Run(jobQueue.Events())

	discoveryScheduler := scheduler.New(jobQueue, cfg.MinDiscoveryInterval, cfg.JobMaxAttempts)

	watchCtx, stopWatchers := context.WithCancel(ctx)
	defer stopWatchers()
	startIdleWatchers(watchCtx, accountStore, credentials, cfg.IMAPUseTLS, jobQueue, cfg.JobMaxAttempts)

	validator := auth.NewStaticValidator(cfg.APITokens)
	router := api.NewRouter(
		validator,
		api.NewProcessHandler(service, itemStore),
		api.NewDiscoveryHandler(discoveryScheduler),
		api.NewWebSocketHandler(validator, hub),
		metrics.Handler(registry),
	)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("StillOnTime server starting on %s (environment: %s)", server.Addr, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain the queue.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}

	stopWatchers()
	jobQueue.Stop()
}

// startIdleWatchers runs one IMAP IDLE watcher per known mail account. New
// mail nudges a one-shot discovery job so candidates land before the next
// periodic run.
func startIdleWatchers(
	ctx context.Context,
	accounts *db.AccountStore,
	credentials mailbox.CredentialProvider,
	useTLS bool,
	jobQueue *queue.Queue,
	maxAttempts int,
) {
	userIDs, err := accounts.ListUserIDs(ctx)
	if err != nil {
		log.Printf("Warning: could not list mail accounts for IDLE watchers: %v", err)
		return
	}

	nudge := func(userID string) {
		err := jobQueue.Enqueue(context.Background(), &models.Job{
			Type:        models.JobTypeDiscovery,
			UserID:      userID,
			Priority:    models.PriorityDiscovery,
			MaxAttempts: maxAttempts,
		})
		if err != nil {
			log.Printf("Warning: failed to enqueue nudged discovery for user %s: %v", userID, err)
		}
	}

	watcher := mailbox.NewIdleWatcher(credentials, useTLS, nudge)
	for _, userID := range userIDs {
		go watcher.Watch(ctx, userID)
	}
	if len(userIDs) > 0 {
		log.Printf("Started IDLE watchers for %d mail account(s)", len(userIDs))
	}
}
