package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/qibla_compass/internal/app"
	"github.com/relabs-tech/qibla_compass/internal/config"
	"github.com/relabs-tech/qibla_compass/internal/logger"
)

func main() {
	configPath := flag.String("config", "qibla_config.txt", "path to the configuration file")
	flag.Parse()

	log.Println("starting qibla mock console (simulated heading, no MQTT)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	l, err := logger.New(cfg.LogEnv, "warn")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockConsole(ctx, cfg, l, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
