package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flipcut/internal/auth"
	"flipcut/internal/cloudstore"
	"flipcut/internal/events"
	"flipcut/internal/models"
	"flipcut/internal/pipeline"
	"flipcut/internal/removebg"
	"flipcut/internal/server"
	"flipcut/internal/storage"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := storage.NewStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	objects, err := cloudstore.NewClient(cfg.Cloudinary)
	if err != nil {
		log.Fatalf("failed to init cloud storage: %v", err)
	}
	if !cfg.Cloudinary.Configured() {
		log.Println("warning: Cloudinary credentials not configured, uploads will fail")
	}
	if !cfg.RemoveBG.Configured() {
		log.Println("warning: remove.bg API key not configured, processing will fail")
	}

	remover := removebg.NewClient(cfg.RemoveBG)

	publisher := events.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
	defer publisher.Close()

	pl := pipeline.New(db, objects, remover, publisher)
	authSvc := auth.NewService(db, cfg.AuthBrokerURL)

	srv := server.NewServer(cfg, pl, authSvc)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)
}
