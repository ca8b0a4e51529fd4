package main

import (
	"flag"
	"log"
	"os"

	"DriftWatch/internal/di"
	"DriftWatch/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s backend=%s", cfg.Environment, cfg.Backend.Type)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: connected and schema ready - db: %s\n", cfg.ClickHouse.Database)
	log.Printf("kafka: connected brokers=%v event_topic=%s feedback_topic=%s", cfg.Kafka.Brokers, cfg.Kafka.EventTopic, cfg.Kafka.FeedbackTopic)
	log.Printf("drift: %d detectors policy=%s, %d models registered", len(cfg.Drift.Detectors), cfg.Drift.VotingPolicy, len(cfg.Retraining.Models))

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
