package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hash/api/internal/app"
	"hash/api/internal/cache"
	"hash/api/internal/config"
	"hash/api/internal/logger"
	"hash/api/internal/search"
	"hash/api/internal/store"
	"hash/api/internal/systemtypes"
	"hash/api/internal/util"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Debug)
	ctx := context.Background()

	types := systemtypes.NewRegistry()
	var (
		dataStore     app.DataStore
		searchService *search.Service
	)
	switch cfg.Storage {
	case "memory":
		ids := make(map[systemtypes.Name]string, len(systemtypes.Names))
		for _, name := range systemtypes.Names {
			ids[name] = util.NewID("type")
		}
		if err := types.Init(ids); err != nil {
			log.Fatal("system types", "err", err)
		}
		dataStore = store.NewMemoryStore(types)
		log.Warn("using in-memory storage, pages are lost on restart")

	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.Pool{MaxOpenConns: cfg.DBMaxOpenConns})
		if err != nil {
			log.Fatal("database connection failed", "err", err)
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			log.Fatal("migrations failed", "err", err)
		}
		if len(applied) > 0 {
			log.Info("applied migrations", "versions", applied)
		}
		pg := store.NewPostgresStore(db, types)
		if err := pg.EnsureSystemTypes(ctx); err != nil {
			log.Fatal("system types", "err", err)
		}
		dataStore = pg

		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
			defer meiliClient.Close()
		}
		searchService = search.NewService(meiliClient, search.NewPgFTS(db), log)
		go searchService.ReindexAll(ctx)
	}

	var snapshots *cache.SnapshotCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var err error
		snapshots, err = cache.NewSnapshotCache(cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			log.Fatal("redis connection failed", "err", err)
		}
		defer snapshots.Close()
		log.Info("caching page snapshots in redis", "ttl", cfg.SnapshotTTL)
	}

	service := app.NewService(dataStore, snapshots, searchService, log)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("page API listening", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
}
