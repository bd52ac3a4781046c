package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/nicktill/ldmon/pkg/config"
	"github.com/nicktill/ldmon/pkg/export"
	"github.com/nicktill/ldmon/pkg/httpx"
	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/server/monitor"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/storage/badger"
	"github.com/nicktill/ldmon/pkg/storage/memory"
	"github.com/nicktill/ldmon/pkg/storage/objectstore"
)

// InitializeStorage opens the configured baseline store backend.
func InitializeStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("💾 Using in-memory baseline store (not persisted)")
		return memory.New(), nil

	case config.BackendBadger:
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("💾 Initializing BadgerDB baseline store in %s...", cfg.Path)
		store, err := badger.New(badger.Config{
			Path:        cfg.Path,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Println("✅ BadgerDB baseline store initialized")
		return store, nil

	case config.BackendMinio:
		log.Printf("💾 Connecting to object store %s (bucket %s)...", cfg.Minio.Endpoint, cfg.Minio.Bucket)
		store, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
		})
		if err != nil {
			return nil, err
		}
		log.Println("✅ Object store connected")
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// InitializeMetadata opens the configured metadata provider. It returns nil
// when none is configured; exposure and aux analyses then fail.
func InitializeMetadata(ctx context.Context, cfg config.MetadataConfig) (metadata.Provider, func() error, error) {
	noop := func() error { return nil }

	switch {
	case cfg.File != "":
		p, err := metadata.LoadStatic(cfg.File)
		if err != nil {
			return nil, noop, err
		}
		log.Printf("📁 Metadata loaded from %s", cfg.File)
		return p, noop, nil

	case cfg.PostgresDSN != "":
		ctx, cancel := context.WithTimeout(ctx, config.MetadataTimeout)
		defer cancel()
		p, err := metadata.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		log.Println("🗄️  Connected to the hardware metadata database")
		return p, p.Close, nil
	}

	log.Println("⚠️  No metadata configured, exposure and aux analyses are unavailable")
	return nil, noop, nil
}

// DataDir returns the directory whose disk usage is monitored, empty for
// backends that keep nothing on local disk.
func DataDir(cfg config.StorageConfig) string {
	if cfg.Backend == config.BackendBadger {
		return cfg.Path
	}
	return ""
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	handler *Handler,
	exportHandler *export.Handler,
	storageMonitor *monitor.StorageMonitor,
	jobs []*monitor.JobMonitor,
	hub *Hub,
	port string,
) {
	router.Use(corsMiddleware(port))
	router.Use(httpx.Logging(nil, "/v1/health", "/v1/ws"))

	api := router.PathPrefix("/v1").Subrouter()

	// Analyses and their results
	api.HandleFunc("/analyze", handler.HandleAnalyze).Methods("POST")
	api.HandleFunc("/results/{id}", handler.HandleResult).Methods("GET")
	api.HandleFunc("/results/{id}/report", handler.HandleReport).Methods("GET")
	api.HandleFunc("/results/{id}/export", handler.HandleResultExport).Methods("GET")
	api.HandleFunc("/parameters", handler.HandleParameters).Methods("GET")

	// Persisted baselines
	api.HandleFunc("/baselines", handler.HandleBaselines).Methods("GET")
	api.HandleFunc("/baselines", handler.HandleDeleteBaseline).Methods("DELETE")
	api.HandleFunc("/keys", handler.HandleKeys).Methods("GET")
	if exportHandler != nil {
		exportHandler.OnImport = func(res *export.ImportResult) {
			hub.Publish(EventStoreImported, res)
		}
		api.HandleFunc("/store/export", exportHandler.HandleExport).Methods("GET")
		api.HandleFunc("/store/import", exportHandler.HandleImport).Methods("POST")
	}

	api.HandleFunc("/storage", handleStorageUsage(handler.store, storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(append([]*monitor.JobMonitor{handler.Analyses}, jobs...)...)).Methods("GET")

	// WebSocket feed of completed analyses
	api.HandleFunc("/ws", hub.ServeWS).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
