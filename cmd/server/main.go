package main

import (
	"context"
	"log"
	"net/http"

	"tochka-exchange/internal/api"
	"tochka-exchange/internal/config"
	"tochka-exchange/internal/db"
	"tochka-exchange/internal/engine"
	"tochka-exchange/internal/ws"
)

func main() {
	cfg := config.Load()

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	log.Println("[main] connected to database")

	if err := store.Migrate(cfg.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("[main] migrations applied")

	// Seed the base (settlement currency) instrument if it doesn't exist yet.
	if _, err := store.DB.Exec(
		`INSERT INTO instruments (ticker, name) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		cfg.BaseTicker, cfg.BaseTicker,
	); err != nil {
		log.Fatalf("seed base instrument: %v", err)
	}

	hub := ws.NewHub(func(ticker string) bool {
		if ticker == cfg.BaseTicker {
			return false
		}
		inst, err := store.GetInstrument(context.Background(), ticker)
		return err == nil && inst != nil
	})

	mgr := engine.NewManager(store, hub.Publish, cfg.BaseTicker)
	if err := mgr.Boot(context.Background()); err != nil {
		log.Fatalf("engine boot: %v", err)
	}

	srv := api.NewServer(store, mgr, hub, cfg.JWTSecret, cfg.BaseTicker, cfg.BookDepth)
	router := srv.Router()

	log.Printf("[main] listening on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("server: %v", err)
	}
}
