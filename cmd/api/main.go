// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"campusevents/internal/platform"
)

func main() {
	cfg, err := platform.LoadConfig("API")
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := platform.NewLogger(cfg.LogLevel).With("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := platform.InitTracing(ctx, "api", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracing", "error", err)
		os.Exit(1)
	}
	defer shutdown(context.Background())

	gw, err := newGateway(cfg, log)
	if err != nil {
		log.Error("gateway", "error", err)
		os.Exit(1)
	}

	log.Info("API gateway listening", "port", cfg.Port)
	if err := platform.Serve(ctx, cfg, gw, log); err != nil {
		log.Error("api gateway stopped", "error", err)
		os.Exit(1)
	}
}

// newGateway mounts each backend under its public prefix. Scheduling owns
// venues and events; rewards owns records and the leaderboard.
func newGateway(cfg platform.Config, log *slog.Logger) (http.Handler, error) {
	scheduling, err := proxyTo(cfg.SchedulingServiceURL, log)
	if err != nil {
		return nil, err
	}
	rewards, err := proxyTo(cfg.RewardsServiceURL, log)
	if err != nil {
		return nil, err
	}

	r := platform.NewRouter(log)
	r.Handle("/api/v1/scheduling/*", http.StripPrefix("/api/v1/scheduling", scheduling))
	r.Handle("/api/v1/rewards/*", http.StripPrefix("/api/v1/rewards", rewards))
	return r, nil
}

func proxyTo(rawURL string, log *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url %q: %w", rawURL, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("proxy.error", "backend", target.Host, "path", r.URL.Path, "error", err)
		platform.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "backend unavailable"})
	}
	return proxy, nil
}
