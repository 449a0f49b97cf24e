// Package app wires the configuration, registries, transport and
// optional collaborators into a runnable server.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/core"
	"collabhub/internal/database"
	"collabhub/internal/pubsub"
	"collabhub/internal/websocket"
	"collabhub/pkg/interfaces"
)

type Application struct {
	cfg    *config.Config
	core   *core.Core
	sink   *database.Sink
	bridge *pubsub.Bridge

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New builds the full dependency graph. The sink and pub/sub bridge
// are optional; an empty database path or disabled Redis leaves them
// out.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{cfg: cfg}

	// Interface variables must stay nil unless a backend exists; a nil
	// concrete pointer in a non-nil interface would defeat the checks
	// in the core.
	var sink interfaces.EventSink
	if cfg.Database.Path != "" {
		s, err := database.NewSink(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open event sink: %w", err)
		}
		app.sink = s
		sink = s
	}

	var broadcaster interfaces.Broadcaster
	if cfg.Redis.Enabled {
		b, err := pubsub.NewBridge(cfg.Redis)
		if err != nil {
			if app.sink != nil {
				_ = app.sink.Close()
			}
			return nil, fmt.Errorf("failed to start pubsub bridge: %w", err)
		}
		app.bridge = b
		broadcaster = b
	}

	authenticator := auth.NewTokenAuthenticator(cfg.Auth)
	app.core = core.New(cfg, authenticator, sink, broadcaster)

	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.NewHandler(app.core, cfg.WebSocket))
	mux.HandleFunc("/health", app.handleHealth)
	mux.HandleFunc("/stats", app.handleStats)

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start launches the HTTP listener, the maintenance sweeper and, when
// configured, the pub/sub subscriber. It returns once the listener
// stops accepting.
func (a *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.maintenanceLoop(ctx)

	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx, a.core.DeliverRemote); err != nil && ctx.Err() == nil {
				log.Printf("pubsub subscriber stopped: %v", err)
			}
		}()
		log.Printf("pubsub bridge active: instance=%s channel=%s", a.bridge.InstanceID(), a.cfg.Redis.Channel)
	}

	log.Printf("server listening: addr=%s", a.httpServer.Addr)
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// maintenanceLoop runs the periodic sweeps: idle connections, empty
// rooms and stale rate-limit state.
func (a *Application) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Connections.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.core.SweepIdleConnections(); n > 0 {
				log.Printf("maintenance: closed %d idle connections", n)
			}
			if n := a.core.SweepRooms(); n > 0 {
				log.Printf("maintenance: deleted %d idle rooms", n)
			}
			a.core.CleanupLimiter()
		}
	}
}

// Shutdown stops accepting traffic, then tears collaborators down in
// reverse dependency order.
func (a *Application) Shutdown(ctx context.Context) error {
	log.Println("shutting down")

	var firstErr error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.core.Stats())
}
