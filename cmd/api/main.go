package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sixoverme/cqec-os/internal/app"
	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/config"
	"github.com/sixoverme/cqec-os/internal/search"
	"github.com/sixoverme/cqec-os/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	local := search.NewLocal()
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, local)

	// The change bus is optional: without it this instance still serves
	// traffic, it just won't see other instances' writes until restart.
	var changeBus *bus.RedisBus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		changeBus, err = bus.NewRedisBus(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, running without change notifications: %v", err)
			changeBus = nil
		} else {
			defer changeBus.Close()
		}
	}
	var publisher bus.Publisher
	if changeBus != nil {
		publisher = changeBus
	}

	service := app.New(cfg, dataStore, publisher, searchService)
	if err := service.LoadSnapshot(ctx); err != nil {
		log.Printf("WARNING: initial snapshot load failed (will retry on next change): %v", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if changeBus != nil {
		reconciler := app.NewReconciler(service, changeBus, cfg.ReconcileDebounce)
		go func() {
			if err := reconciler.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Printf("reconciler stopped: %v", err)
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CQEC API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	// let in-flight optimistic writes land before the process exits
	service.Flush()
}
