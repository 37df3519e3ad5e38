package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/subosito/gotenv"

	"github.com/blockpulse/blockpulse/config"
	"github.com/blockpulse/blockpulse/controllers"
	"github.com/blockpulse/blockpulse/db"
	"github.com/blockpulse/blockpulse/handlers"
	"github.com/blockpulse/blockpulse/notifier"
	"github.com/blockpulse/blockpulse/server"
	"github.com/blockpulse/blockpulse/stats"
)

func main() {
	environment := flag.String("e", "development", "")
	flag.Usage = func() {
		fmt.Println("Usage: server -e {mode}")
		os.Exit(1)
	}
	flag.Parse()

	gotenv.Load()
	config.Init(*environment)
	cfg := config.GetConfig()

	logger := logrus.WithField("service", "blockpulse")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = cfg.GetString("database.url")
	}

	// The persistent store being unreachable at startup is the one
	// fatal failure mode; everything downstream degrades in-process.
	dbConn, err := db.Connect(databaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	store := db.NewBlockStore(dbConn)
	if err := store.EnsureNotifyTrigger(); err != nil {
		logger.Warnf("Failed to ensure notify trigger, push path may be silent: %v", err)
	}

	agg := stats.NewAggregator(
		cfg.GetInt("stats.window_size"),
		cfg.GetDuration("stats.assumed_block_interval"),
		logger.WithField("component", "aggregator"),
	)
	summaries, err := store.RecentSummaries(cfg.GetInt("stats.window_size"))
	if err != nil {
		logger.Warnf("Failed to replay recent blocks, starting with an empty window: %v", err)
	} else {
		agg.Bootstrap(summaries)
		logger.Infof("Replayed %d blocks into the stats window", len(summaries))
	}

	hub := handlers.NewHub(store, agg, cfg.GetInt("hub.initial_blocks"),
		logger.WithField("component", "hub"))
	go hub.Run()

	n := notifier.New(databaseURL, store, hub.HandleNewBlock,
		logger.WithField("component", "notifier")).
		WithPollInterval(cfg.GetDuration("notifier.poll_interval")).
		WithStartupTimeout(cfg.GetDuration("notifier.startup_timeout"))
	go n.Start(context.Background())

	blockController := controllers.NewBlockController(store, agg, cfg.GetDuration("cache.ttl"))
	router := server.NewRouter(blockController, hub)

	srv := &server.Server{}
	if err := srv.Run(router); err != nil {
		logger.Fatalf("Server exited: %v", err)
	}
}
