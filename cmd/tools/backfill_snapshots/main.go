// Command backfill_snapshots recomputes every precomputed stat from the
// current production table, without running an ingest batch. Optionally
// seeds the project unit-count side table from a CSV and re-applies the
// price outlier fence over production first.
//
// Usage:
//
//	backfill_snapshots [-units project_units.csv] [-refence]
package main

import (
	"context"
	"flag"
	"log"

	"condoscan/internal/config"
	"condoscan/internal/ingest"
	"condoscan/internal/projects"
	"condoscan/internal/repository"
)

func main() {
	unitsCSV := flag.String("units", "", "CSV of project_name,total_units to upsert before refreshing")
	refence := flag.Bool("refence", false, "re-apply the price outlier fence over production before refreshing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	if *unitsCSV != "" {
		store := projects.NewStore(repo)
		if err := store.ImportCSV(ctx, *unitsCSV); err != nil {
			log.Fatalf("Failed to import project units: %v", err)
		}
		log.Printf("Imported unit counts for %d projects", store.Len())
	}

	if *refence {
		bounds, err := repo.ProductionPriceIQR(ctx, cfg.IQRMultiplier)
		if err != nil {
			log.Fatalf("Failed to compute IQR bounds: %v", err)
		}
		if bounds.SampleCount < 3 || bounds.Q3 <= bounds.Q1 {
			log.Printf("IQR degenerate (n=%d), skipping refence", bounds.SampleCount)
		} else {
			changed, err := repo.RefreshProductionOutliers(ctx, bounds.Lower, bounds.Upper)
			if err != nil {
				log.Fatalf("Failed to refresh outlier fence: %v", err)
			}
			log.Printf("Outlier fence [%.0f, %.0f]: %d rows flipped", bounds.Lower, bounds.Upper, changed)
		}
	}

	if err := ingest.NewRefresher(repo).RefreshAll(ctx); err != nil {
		log.Fatalf("Snapshot refresh failed: %v", err)
	}
	log.Println("Backfill complete")
}
