package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app_service "bitcoin-tx-monitor/internal/application/service"
	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
	domain_service "bitcoin-tx-monitor/internal/domain/service"
	"bitcoin-tx-monitor/internal/infrastructure/config"
	"bitcoin-tx-monitor/internal/infrastructure/database"
	"bitcoin-tx-monitor/internal/infrastructure/feed"
	"bitcoin-tx-monitor/internal/infrastructure/gateway"
	"bitcoin-tx-monitor/internal/infrastructure/httpapi"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/memory"
	"bitcoin-tx-monitor/internal/infrastructure/messaging"
	"bitcoin-tx-monitor/internal/infrastructure/stats"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Create FX application
	app := fx.New(
		// Provide dependencies
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),

		// Infrastructure providers
		fx.Provide(
			func(cfg *config.Config) repository.TransactionRepository {
				return memory.NewTransactionRingBuffer(cfg.Scoring.BufferCapacity)
			},
			provideFeedSource,
			provideStatsClient,
			messaging.NewNATSPublisher,
			database.NewNeo4JClient,
			database.NewNeo4JFlaggedTransactionRepository,
		),

		// Domain services
		fx.Provide(
			domain_service.NewRiskScorer,
		),

		// Application providers
		fx.Provide(
			provideMonitor,
			func(m *app_service.MonitorApplicationService) domain_service.MonitorService { return m },
			provideConnector,
			provideHub,
		),

		// Lifecycle hooks, stopped in reverse order
		fx.Invoke(startMonitor),
		fx.Invoke(startSinks),
		fx.Invoke(startFeed),
		fx.Invoke(startStatsRefresher),
		fx.Invoke(startHTTPServer),

		// Configure logging
		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	// Start the application
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	// Stop the application
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

func provideMonitor(
	repo repository.TransactionRepository,
	scorer *domain_service.RiskScorer,
	cfg *config.Config,
	log *logger.Logger,
) *app_service.MonitorApplicationService {
	return app_service.NewMonitorApplicationService(repo, scorer, app_service.MonitorConfig{
		Tracker: app_service.TrackerConfig{
			HighValueThreshold:  entity.Coins(cfg.Scoring.HighValueThresholdCoins),
			SuspiciousRiskScore: cfg.Scoring.SuspiciousRiskScore,
			RateWindow:          cfg.Scoring.RateWindow,
		},
		PerformanceLogInterval: cfg.App.PerformanceLogInterval,
	}, log)
}

// provideFeedSource selects the upstream source kind
func provideFeedSource(cfg *config.Config, natsCfg *config.NATSConfig, log *logger.Logger) feed.Source {
	switch cfg.Feed.Source {
	case config.FeedSourceNATS:
		return messaging.NewNATSSource(natsCfg, log)
	case config.FeedSourceSynthetic:
		return feed.NewSyntheticSource(feed.NewSyntheticGenerator(cfg.Feed.SyntheticSeed), cfg.Feed.SyntheticInterval)
	default:
		return feed.NewWebsocketSource(feed.WebsocketSourceConfig{
			URL:              cfg.Feed.URL,
			SubscribeOps:     cfg.Feed.SubscribeOps,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
			ReadTimeout:      cfg.Feed.ReadTimeout,
			PingInterval:     cfg.Feed.PingInterval,
			WriteTimeout:     cfg.Gateway.WriteTimeout,
		}, log)
	}
}

func provideConnector(
	source feed.Source,
	monitor *app_service.MonitorApplicationService,
	cfg *config.Config,
	log *logger.Logger,
) *feed.Connector {
	connector := feed.NewConnector(source, monitor, cfg.Feed.ReconnectDelay, log)
	monitor.SetFeedStateReporter(connector)
	return connector
}

func provideStatsClient(cfg *config.Config) *stats.Client {
	return stats.NewClient(stats.ClientConfig{
		BaseURL:       cfg.Stats.BaseURL,
		MempoolPath:   cfg.Stats.MempoolPath,
		TipHeightPath: cfg.Stats.TipHeightPath,
		HashratePath:  cfg.Stats.HashratePath,
		Timeout:       cfg.Stats.Timeout,
	})
}

func provideHub(monitor *app_service.MonitorApplicationService, cfg *config.Config, log *logger.Logger) *gateway.Hub {
	return gateway.NewHub(monitor, gateway.HubConfig{
		InitialSnapshotSize: cfg.Gateway.InitialSnapshotSize,
		DefaultPullLimit:    cfg.Gateway.DefaultPullLimit,
		MaxClients:          cfg.Gateway.MaxClients,
		SendBufferSize:      cfg.Gateway.SendBufferSize,
		WriteTimeout:        cfg.Gateway.WriteTimeout,
		PongTimeout:         cfg.Gateway.PongTimeout,
		AllowedOrigins:      cfg.Gateway.AllowedOrigins,
	}, log)
}

// runInBackground ties a long-running task to the application lifecycle
func runInBackground(lifecycle fx.Lifecycle, log *logger.Logger, name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting " + name)
			go func() {
				defer close(done)
				if err := run(ctx); err != nil {
					log.Error(name+" exited with error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info("Stopping " + name)
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return fmt.Errorf("%s did not stop: %w", name, stopCtx.Err())
			}
		},
	})
}

// startMonitor runs the state owner
func startMonitor(lifecycle fx.Lifecycle, monitor *app_service.MonitorApplicationService, log *logger.Logger) {
	runInBackground(lifecycle, log, "monitor", monitor.Run)
}

// startSinks registers the update sinks and their connections
func startSinks(
	lifecycle fx.Lifecycle,
	monitor *app_service.MonitorApplicationService,
	hub *gateway.Hub,
	publisher *messaging.NATSPublisher,
	neo4jClient *database.Neo4JClient,
	flaggedRepo repository.FlaggedTransactionRepository,
	cfg *config.Config,
	log *logger.Logger,
) {
	monitor.RegisterSink(hub)
	runInBackground(lifecycle, log, "subscriber hub", hub.Run)

	if cfg.NATS.PublishEnabled {
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := publisher.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect NATS publisher: %w", err)
				}
				monitor.RegisterSink(publisher)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return publisher.Close()
			},
		})
	}

	if cfg.Neo4J.Enabled {
		recorder := database.NewFlaggedRecorder(flaggedRepo, cfg.Neo4J.FlagMinRiskScore, cfg.Neo4J.QueueSize, cfg.Neo4J.WriteTimeout, log)
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := neo4jClient.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect to Neo4J: %w", err)
				}
				monitor.RegisterSink(recorder)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return neo4jClient.Close(ctx)
			},
		})
		runInBackground(lifecycle, log, "flagged recorder", recorder.Run)
	}
}

// startFeed runs the upstream connector
func startFeed(lifecycle fx.Lifecycle, connector *feed.Connector, log *logger.Logger) {
	runInBackground(lifecycle, log, "feed connector", connector.Run)
}

// startStatsRefresher runs the periodic network stats refresh
func startStatsRefresher(
	lifecycle fx.Lifecycle,
	client *stats.Client,
	monitor *app_service.MonitorApplicationService,
	cfg *config.Config,
	log *logger.Logger,
) {
	if !cfg.Stats.Enabled {
		log.Info("Network stats refresh is disabled")
		return
	}
	refresher := stats.NewRefresher(client, monitor, cfg.Stats.Interval, cfg.Stats.Timeout, log)
	runInBackground(lifecycle, log, "stats refresher", refresher.Run)
}

// startHTTPServer serves the REST surface and the subscriber endpoint
func startHTTPServer(
	lifecycle fx.Lifecycle,
	monitor domain_service.MonitorService,
	hub *gateway.Hub,
	cfg *config.Config,
	log *logger.Logger,
) {
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler: httpapi.NewRouter(monitor, httpapi.Options{
			WebSocket:      http.HandlerFunc(hub.HandleWebSocket),
			MetricsEnabled: cfg.Metrics.Enabled,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Bind synchronously so a taken port fails startup
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}

			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server error", zap.Error(err))
				}
			}()

			log.Info("HTTP server started", zap.Int("port", cfg.App.HTTPPort))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}
