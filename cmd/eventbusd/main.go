// Command eventbusd is a local introspection server for a running
// eventbus.Bus. It is a debugging aid, not part of the dispatch engine:
// every route it serves only reads Bus state (EventTypes, Stats, Config)
// through the same public API any other importer would use.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	flag "github.com/spf13/pflag"

	"github.com/dispatchkit/eventbus"
)

func main() {
	addr := flag.StringP("addr", "a", ":8089", "address to listen on")
	configPath := flag.StringP("config", "c", "", "path to an eventbus Config YAML file (optional)")
	janitorSchedule := flag.StringP("janitor", "j", "@every 1m", "cron schedule for the background slot compactor")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	opts := []eventbus.Option{eventbus.WithLogger(logger)}
	if *configPath != "" {
		cfg, err := eventbus.LoadConfig(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		opts = append(opts, eventbus.WithConfig(cfg))
	}

	bus := eventbus.New(opts...)

	if _, err := bus.StartJanitor(*janitorSchedule); err != nil {
		logger.Error("failed to start janitor", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/types", func(w http.ResponseWriter, r *http.Request) {
		types := bus.EventTypes()
		out := make([]map[string]any, 0, len(types))
		for _, t := range types {
			stats := bus.Stats(t)
			out = append(out, map[string]any{
				"type":            t.String(),
				"active_handlers": stats.Active,
				"delivered":       stats.Delivered,
				"one_shot_missed": stats.OneShotMissed,
			})
		}
		writeJSON(w, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, bus.Config())
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("eventbusd listening", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
