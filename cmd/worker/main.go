package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/event"
	"geoattend/internal/notify"
	"geoattend/internal/store"
)

// Worker drives the event lifecycle: it polls non-terminal events, applies
// time-based transitions, and finalizes attendance once events conclude.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var (
		events  event.Store
		records attendance.Store
	)
	if cfg.StoreBackend == "memory" {
		events = event.NewMemStore()
		records = attendance.NewMemStore()
		log.Println("using in-memory stores (STORE_BACKEND=memory)")
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
		events = event.NewRepository(db.Client)
		records = attendance.NewRepository(db.Client)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifierBackend == "redis" {
		redisCli := store.NewRedis(cfg.RedisAddr)
		if !redisCli.Healthy(ctx) {
			log.Println("WARNING: redis not reachable, transitions will be logged only")
		} else {
			notifier = notify.NewRedisNotifier(redisCli.Client, cfg.NotifyChannel)
		}
	}

	finalizer := attendance.NewFinalizer(records, attendance.FinalizePolicy{LenientLate: cfg.LateLenient})
	scheduler := event.NewScheduler(events, finalizer, notifier, cfg.PollInterval)

	log.Printf("lifecycle scheduler started, polling every %s", cfg.PollInterval)
	scheduler.Tick(ctx) // catch up immediately after downtime
	scheduler.Run(ctx)

	log.Println("worker stopped")
}
