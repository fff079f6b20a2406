package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/slack-go/slack"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	stopWords, err := LoadStopWords(cfg.StopWordsPath)
	if err != nil {
		log.Fatalf("Failed to load stop words: %v", err)
	}

	var api *slack.Client
	if cfg.SlackBotToken != "" {
		api = slack.New(cfg.SlackBotToken)
	}
	notifier := NewSlackNotifier(api, cfg.SlackChannelID)

	analysis := NewAnthropicAnalysisClient(cfg.AnthropicAPIKey, cfg.AnalysisModel)
	detector := NewPatternDetector(db, cfg, analysis, stopWords)

	scheduler := NewAutoDetectionScheduler(db, detector, notifier, cfg.DetectionIntervalMinutes)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start detection scheduler: %v", err)
	}

	maintenance := NewMaintenanceScheduler(db, cfg)
	maintenance.Start()

	log.Println("Starting Pattern Miner...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	scheduler.Stop()
	maintenance.Stop()
}
