// cmd/scheduling/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"campusevents/internal/notify"
	"campusevents/internal/platform"
	"campusevents/internal/scheduling"
	"campusevents/pkg/eventstore"
)

func main() {
	cfg, err := platform.LoadConfig("SCHEDULING")
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.Port == "8080" {
		cfg.Port = "8081"
	}
	log := platform.NewLogger(cfg.LogLevel).With("service", "scheduling")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("scheduling service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg platform.Config, log *slog.Logger) error {
	shutdown, err := platform.InitTracing(ctx, "scheduling", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	var (
		store  scheduling.Store
		events eventstore.Store
	)
	if cfg.InMemory {
		ms := scheduling.NewMemoryStore()
		store, events = ms, ms.Log()
	} else {
		db, err := platform.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		pg := scheduling.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store, events = pg, eventstore.NewEventStore(db, log)
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

	svc := scheduling.NewService(store, events, publisher, log)
	handler := scheduling.NewHandler(svc, log, platform.NewWriteLimiter(cfg))

	r := platform.NewRouter(log)
	r.Group(func(r chi.Router) { handler.Routes(r) })

	log.Info("starting scheduling service", "port", cfg.Port, "in_memory", cfg.InMemory)
	return platform.Serve(ctx, cfg, r, log)
}
