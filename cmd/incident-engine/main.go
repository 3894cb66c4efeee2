package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/gitsignal/incident-engine/internal/auth"
	"github.com/gitsignal/incident-engine/internal/config"
	"github.com/gitsignal/incident-engine/internal/correlate"
	"github.com/gitsignal/incident-engine/internal/emit"
	"github.com/gitsignal/incident-engine/internal/engine"
	"github.com/gitsignal/incident-engine/internal/history"
	"github.com/gitsignal/incident-engine/internal/httpserver"
	"github.com/gitsignal/incident-engine/internal/ingest"
	"github.com/gitsignal/incident-engine/internal/notify"
	"github.com/gitsignal/incident-engine/internal/repocfg"
	"github.com/gitsignal/incident-engine/internal/suppress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []notify.Sink
	sse := notify.NewSSEHub(0)
	sinks = append(sinks, sse)

	configs := repocfg.Store(repocfg.NewMemoryStore())
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		sinks = append(sinks, notify.NewPGStore(db))
		configs = repocfg.NewPGStore(db)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(notify.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer: %v", err)
		}
		defer producer.Close()
		sinks = append(sinks, producer)
	}

	if cfg.S3Bucket != "" {
		archiver, err := notify.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		sinks = append(sinks, archiver)
	}

	if cfg.EmailURL != "" {
		email, err := notify.NewEmailClient(notify.EmailClientConfig{BaseURL: cfg.EmailURL, Retries: 2})
		if err != nil {
			log.Fatalf("email client: %v", err)
		}
		sinks = append(sinks, email)
	}

	index := history.NewIndex(cfg.History)
	tracker := suppress.NewTracker(cfg.Suppress)
	eng := engine.New(
		ingest.New(cfg.Ingest),
		correlate.New(index, cfg.Score),
		tracker,
		emit.New(notify.NewFanout(sinks...)),
		configs,
		cfg.QueueSize,
	)
	eng.Start(ctx, cfg.Workers)
	go tracker.Run(ctx.Done())

	server := httpserver.New(eng, index, configs, sse, auth.NewVerifier(cfg.AuthSecret))
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Incident engine listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	eng.Wait()
}
