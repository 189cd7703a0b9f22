package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tether/internal/api"
	"tether/internal/cache"
	"tether/internal/config"
	"tether/internal/gateway"
	"tether/internal/metrics"
	"tether/internal/ticket"
)

// Application coordinates every component. Initialization order:
// Store -> Cache -> Registry -> Reaper -> Gateway -> Handler -> API -> HTTP.
type Application struct {
	config      *config.Config
	ticketStore ticket.Store
	coordinator *cache.Coordinator
	registry    *gateway.Registry
	gw          *gateway.Gateway
	apiServer   *api.Server
	httpServer  *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ticketStore, err := ticket.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket store: %w", err)
	}

	buckets := make([]cache.BucketConfig, 0, len(cfg.Cache.Buckets))
	for name, b := range cfg.Cache.Buckets {
		buckets = append(buckets, cache.BucketConfig{
			Name:          name,
			TTL:           b.TTL,
			MaxEntries:    b.MaxEntries,
			EvictOnExpiry: b.EvictOnExpiry,
		})
	}
	coordinator, err := cache.NewCoordinator(buckets,
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithMonitorInterval(cfg.Cache.MonitorInterval),
	)
	if err != nil {
		_ = ticketStore.Close()
		return nil, fmt.Errorf("failed to build cache coordinator: %w", err)
	}

	registry := gateway.NewRegistry()
	reaper := gateway.NewReaper(registry, cfg.Reaper.Period, cfg.Reaper.IdleMultiplier)
	gw := gateway.NewGateway(registry, reaper)

	wsHandler := gateway.NewHandler(registry, gw, ticketStore, coordinator, gateway.HandlerOptions{
		SendBuffer:   cfg.WebSocket.SendBuffer,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
	})

	apiServer := api.NewServer(registry, coordinator)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws/", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		ticketStore: ticketStore,
		coordinator: coordinator,
		registry:    registry,
		gw:          gw,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tether on %s", app.httpServer.Addr)

	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cache coordinator: %w", err)
	}
	if err := app.gw.Start(ctx); err != nil {
		app.coordinator.Stop()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	if app.config.Metrics.Enabled {
		metrics.StartServer(app.config.Metrics.Port, app.config.Metrics.Path)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.gw.Stop()
		app.coordinator.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("tether started")
		return nil
	case <-ctx.Done():
		_ = app.gw.Stop()
		app.coordinator.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP -> Gateway -> Cache -> Store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down tether")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.gw.Stop(); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}
	app.coordinator.Stop()
	if err := app.ticketStore.Close(); err != nil {
		log.Printf("Ticket store shutdown error: %v", err)
	}

	log.Printf("tether shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("TETHER_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return app.Stop(shutdownCtx)
	}
}
