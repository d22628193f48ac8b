// cmd/rewards/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"campusevents/internal/clients"
	"campusevents/internal/notify"
	"campusevents/internal/platform"
	"campusevents/internal/rewards"
)

// How often expired grants are swept in the background.
const sweepInterval = time.Hour

func main() {
	cfg, err := platform.LoadConfig("REWARDS")
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.Port == "8080" {
		cfg.Port = "8082"
	}
	log := platform.NewLogger(cfg.LogLevel).With("service", "rewards")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("rewards service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg platform.Config, log *slog.Logger) error {
	shutdown, err := platform.InitTracing(ctx, "rewards", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	var store rewards.Store
	if cfg.InMemory {
		store = rewards.NewMemoryStore()
	} else {
		db, err := platform.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		pg := rewards.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	}

	var publisher notify.Publisher = notify.NewLogPublisher(log)
	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	resolvers := rewards.Resolvers{
		rewards.KindEvent: clients.NewSchedulingClient(cfg.SchedulingServiceURL, log),
	}
	svc := rewards.NewService(store, resolvers, publisher, log)
	handler := rewards.NewHandler(svc, log, platform.NewWriteLimiter(cfg))

	go sweepLoop(ctx, svc, log)

	r := platform.NewRouter(log)
	r.Group(func(r chi.Router) { handler.Routes(r) })

	log.Info("starting rewards service", "port", cfg.Port, "in_memory", cfg.InMemory)
	return platform.Serve(ctx, cfg, r, log)
}

func sweepLoop(ctx context.Context, svc rewards.Service, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := svc.SweepExpired(ctx, now.UTC())
			if err != nil {
				log.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expiry sweep", "updated", n)
			}
		}
	}
}
