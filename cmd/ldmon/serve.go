package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/ldmon/pkg/config"
	"github.com/nicktill/ldmon/pkg/export"
	"github.com/nicktill/ldmon/pkg/server"
	"github.com/nicktill/ldmon/pkg/server/monitor"
)

func serveCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	port := fs.String("port", "", "listen port, overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.Println("🚀 Starting ldmon server...")

	e, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	cfg := e.cfg
	if *port != "" {
		cfg.Server.Port = *port
	}
	log.Printf("⚙️  Configuration: backend = %s, storage limit = %d GB, memory limit = %d MB",
		cfg.Storage.Backend, cfg.Storage.MaxStorageGB, cfg.Storage.MaxMemoryMB)

	storageMonitor := monitor.NewStorageMonitor(server.DataDir(cfg.Storage), cfg.MaxStorageBytes())
	gcJob := monitor.NewJobMonitor("badger_gc")

	hub := server.NewHub()
	handler := server.NewHandler(e.analyzer(), e.store, hub, cfg.Server.CacheSize)
	exportHandler := export.NewHandler(e.store)

	router := mux.NewRouter()
	server.SetupRoutes(router, handler, exportHandler, storageMonitor, []*monitor.JobMonitor{gcJob}, hub, cfg.Server.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Println("📡 WebSocket hub started")
		return hub.Run(ctx)
	})

	g.Go(func() error {
		return server.RunBadgerGC(ctx, e.store, cfg.Server.GetGCInterval(), gcJob)
	})

	g.Go(func() error {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Server.Port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /v1/analyze          - Run a selection")
		log.Println("   GET  /v1/results/{id}     - Fetch a result")
		log.Println("   GET  /v1/baselines        - Persisted baselines")
		log.Println("   GET  /v1/health           - Health check")
		log.Println("✅ Server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("🛑 Shutdown signal received...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Server shutdown error: %v", err)
			return err
		}
		log.Println("✅ Server stopped")
		return nil
	})

	return g.Wait()
}
