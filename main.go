package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"condoscan/internal/api"
	"condoscan/internal/config"
	"condoscan/internal/contract"
	"condoscan/internal/ingest"
	"condoscan/internal/projects"
	"condoscan/internal/query"
	"condoscan/internal/repository"
	"condoscan/internal/rules"
	"condoscan/internal/ura"
)

const datasetURAMonthly = "ura_monthly"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Starting condoscan (commit %s)", api.BuildCommit)
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	if cfg.SkipMigration {
		log.Println("SKIP_MIGRATION=true, skipping schema migration")
	} else {
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Failed to run migration: %v", err)
		}
		log.Println("Schema migration complete")
	}

	schema := contract.Load()
	registry := rules.New()
	refresher := ingest.NewRefresher(repo)

	unitStore := projects.NewStore(repo)
	if err := unitStore.Refresh(context.Background()); err != nil {
		log.Printf("[projects] initial load failed: %v", err)
	}

	engine := query.NewEngine(repo, unitStore, cfg.QueryTimeout)

	var server *api.Server
	pipeline := ingest.NewPipeline(repo, schema, registry, refresher, ingest.Config{
		IQRMultiplier: cfg.IQRMultiplier,
		ChunkSize:     cfg.LoaderChunkSize,
		OnCompleted: func(rc *ingest.RunContext) {
			if server != nil {
				server.FlushCache()
			}
			api.BroadcastBatchCompleted(rc.Record())
		},
	})

	server = api.NewServer(repo, engine, api.Config{
		Port:          cfg.APIPort,
		CacheMaxBytes: cfg.CacheMaxBytes,
		CacheTTL:      cfg.CacheTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic snapshot refresh keeps headline stats warm even when no
	// batch has promoted recently (rolling windows move on their own).
	go runSnapshotRefresher(ctx, refresher, server)

	if cfg.URAAccessKey != "" {
		poller := ura.NewPoller(ura.NewClient(cfg.URAAccessKey), pipeline,
			datasetURAMonthly, time.Duration(cfg.URAPollHours)*time.Hour)
		log.Printf("[ura] poller enabled, interval %dh", cfg.URAPollHours)
		go poller.Run(ctx)
	} else {
		log.Println("[ura] URA_ACCESS_KEY not set, API polling disabled")
	}

	go func() {
		log.Printf("API server starting on port %s", cfg.APIPort)
		if err := server.Start(); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

func runSnapshotRefresher(ctx context.Context, refresher *ingest.Refresher, server *api.Server) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refresher.RefreshAll(ctx); err != nil {
				log.Printf("[snapshots] periodic refresh failed: %v", err)
				continue
			}
			server.FlushCache()
			api.BroadcastSnapshotsRefreshed([]string{
				ingest.StatMedianPSFByRegion,
				ingest.StatQuarterlyVolumes,
				ingest.StatMonthlyMedianPSF,
				ingest.StatTopProjects,
			})
		}
	}
}

// redactDatabaseURL masks the password for startup logging.
func redactDatabaseURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "(unparseable database url)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	u.RawQuery = ""
	return u.String()
}
