// Command feedpublisher publishes synthetic upstream frames to NATS so the
// monitor can run with feed.source=nats without internet access.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitcoin-tx-monitor/internal/infrastructure/config"
	"bitcoin-tx-monitor/internal/infrastructure/feed"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/messaging"

	"go.uber.org/zap"
)

func main() {
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between frames")
	count := flag.Int("count", 0, "number of frames to publish, 0 for unlimited")
	seed := flag.Int64("seed", 0, "generator seed, 0 for time based")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := messaging.NewNATSPublisher(&cfg.NATS, log)
	if err := publisher.Connect(ctx); err != nil {
		log.Error("Failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer publisher.Close()

	generator := feed.NewSyntheticGenerator(*seed)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	log.Info("Publishing synthetic frames",
		zap.String("subject", messaging.Subject(cfg.NATS.SubjectPrefix, messaging.SubjectRaw)),
		zap.Duration("interval", *interval))

	published := 0
	for *count == 0 || published < *count {
		select {
		case <-ctx.Done():
			log.Info("Stopped", zap.Int("published", published))
			return
		case <-ticker.C:
		}

		frame, err := generator.Next()
		if err != nil {
			log.Error("Failed to generate frame", zap.Error(err))
			continue
		}
		if err := publisher.PublishRaw(frame); err != nil {
			log.Error("Failed to publish frame", zap.Error(err))
			continue
		}
		published++
	}

	log.Info("Done", zap.Int("published", published))
}
