/*
Entitlement engine server.

Starts the HTTP API backed by SQLite. Policy versions can be seeded from
a YAML file at startup; already-present versions (matched by ID) are
skipped so restarts are idempotent.

Usage:
  server -port 8080 -db entitlements.db -policies policies.yaml
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/factory"
	"github.com/warp/entitlement-engine/store/sqlite"
)

func main() {
	var (
		port     = flag.Int("port", 8080, "HTTP port to listen on")
		dbPath   = flag.String("db", "entitlements.db", "SQLite database path")
		seedPath = flag.String("policies", "", "YAML policy seed file (optional)")
		workers  = flag.Int("workers", 4, "Year-end batch worker count")
	)
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("❌ Failed to open store: %v", err)
	}
	defer store.Close()
	log.Printf("📦 Store ready: %s", *dbPath)

	ctx := context.Background()
	registry, err := engine.NewRegistry(ctx, store)
	if err != nil {
		log.Fatalf("❌ Failed to load policy registry: %v", err)
	}

	if *seedPath != "" {
		if err := seedPolicies(ctx, registry, *seedPath); err != nil {
			log.Fatalf("❌ Failed to seed policies: %v", err)
		}
	}

	batch := api.NewBatchRunner(store, registry)
	batch.Workers = *workers
	handler := api.NewHandler(store, registry, batch)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: api.NewRouter(handler),
	}

	go func() {
		log.Printf("🚀 Entitlement engine listening on :%d", *port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Shutdown error: %v", err)
	}
	log.Println("👋 Stopped")
}

// seedPolicies loads the YAML seed file and inserts each version, skipping
// IDs the registry already holds.
func seedPolicies(ctx context.Context, registry *engine.Registry, path string) error {
	versions, err := factory.NewPolicyFactory().LoadSeedFile(path)
	if err != nil {
		return err
	}

	existing := make(map[engine.PolicyVersionID]bool)
	for _, v := range registry.AllVersions() {
		existing[v.ID] = true
	}

	inserted := 0
	for _, v := range versions {
		if existing[v.ID] {
			continue
		}
		if err := registry.Insert(ctx, v); err != nil {
			return fmt.Errorf("seed version %s: %w", v.ID, err)
		}
		inserted++
	}
	log.Printf("🌱 Seeded %d policy version(s) from %s (%d already present)", inserted, path, len(versions)-inserted)
	return nil
}
