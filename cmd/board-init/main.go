package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/config"
	"taskboard/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.Level())
	log.WithField("store", cfg.Store).Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Store {
	case config.StoreTable:
		if err := storage.CreateTables(ctx, cfg.ConnectionString, []string{cfg.TasksTable, cfg.BoardsTable}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("create data dir: %v", err)
			}
		}
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("open sqlite: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Fatalf("close sqlite: %v", err)
		}
	}

	if cfg.ActivityQueue != "" {
		if err := storage.CreateQueues(ctx, cfg.ConnectionString, []string{cfg.ActivityQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}
