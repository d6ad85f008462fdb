package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coalmine/coalmine/internal/api"
	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/catalog"
	"github.com/coalmine/coalmine/internal/config"
	"github.com/coalmine/coalmine/internal/creds"
	"github.com/coalmine/coalmine/internal/detector"
	"github.com/coalmine/coalmine/internal/executor"
	"github.com/coalmine/coalmine/internal/gateway"
	"github.com/coalmine/coalmine/internal/ingest"
	"github.com/coalmine/coalmine/internal/notifier"
	"github.com/coalmine/coalmine/internal/registry"
	"github.com/coalmine/coalmine/internal/router"
	"github.com/coalmine/coalmine/internal/scheduler"
	"github.com/coalmine/coalmine/internal/store"
)

// Well-known channel identifiers.
const (
	dispatchTopic   = "check-dispatch"
	serverlessQueue = "serverless-checks"
	resultQueue     = "check-results"
	notifyQueue     = "notifications"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("coalmined starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
	preds := catalog.DefaultPredicates()
	cat, err := catalog.Parse(raw, preds)
	if err != nil {
		slog.Error("failed to load catalog", "err", err)
		os.Exit(1)
	}
	holder := catalog.NewHolder(cat)

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"env", cfg.Server.Env,
		"auth_mode", cfg.Server.Auth.Mode,
		"groups", len(cat.Groups()),
		"handlers", len(cfg.Server.Handlers),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Message substrates: the dispatch fanout topic and the three work queues.
	broker := bus.NewBroker(bus.QueueConfig{
		Visibility:    cfg.Server.Bus.Visibility,
		RedeliveryMin: cfg.Server.Bus.RedeliveryMin,
		RedeliveryMax: cfg.Server.Bus.RedeliveryMax,
	})
	dispatch := broker.Topic(dispatchTopic)
	serverlessQ := broker.CreateQueue(serverlessQueue)
	resultsQ := broker.CreateQueue(resultQueue)
	notifyQ := broker.CreateQueue(notifyQueue)

	st := store.New()
	reg := registry.New(st, broker, dispatch, resultQueue)

	// Executor and handler registries, populated once at startup; the
	// pipeline resolves implementations by key only.
	execReg := executor.NewRegistry()
	executor.RegisterBuiltins(execReg, nil)
	handlerReg := notifier.FromConfig(cfg.Server.Handlers, nil)

	provider := creds.NewStatic()
	for _, rc := range cfg.Server.Roles {
		provider.AddRole(rc.Role, rc.Token())
	}
	ensureRoles(provider, execReg, handlerReg)

	// Pipeline stages, each a blocking Run(ctx) loop.
	sched := scheduler.New(holder, dispatch, serverlessQ)
	go sched.Run(ctx)

	runner := executor.NewRunner(execReg, holder, serverlessQ, resultsQ, provider, cfg.Server.Env)
	go runner.Run(ctx)

	ing := ingest.New(resultsQ, st)
	go ing.Run(ctx)

	det := detector.New(st, holder, notifyQ)
	rtr := router.New(reg, det)
	go rtr.Run(ctx, st.Feed())

	disp := notifier.New(handlerReg, st, holder, provider, notifyQ, cfg.Server.Env)
	go disp.Run(ctx)

	// Catalog hot-reload: a bad edit keeps the previous catalog active.
	go func() {
		if err := config.Watch(ctx, *configPath, func(data []byte) error {
			next, err := catalog.Parse(data, preds)
			if err != nil {
				return err
			}
			holder.Swap(next)
			return nil
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// HTTP surface: registration API plus the agent gateway.
	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(reg, st))
	mux.Handle("/ws/agent", gateway.New(st, broker, resultsQ))

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.APIKeyMiddleware(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
			mux,
		),
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("coalmined shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

// ensureRoles registers an empty-token role for every executor and handler
// whose role was not declared in config, so resolution failures are a
// startup-time concern instead of a per-message one.
func ensureRoles(provider *creds.Static, execReg *executor.Registry, handlerReg *notifier.Registry) {
	for _, key := range execReg.Keys() {
		if e, ok := execReg.Resolve(key); ok && e.Role != "" && !provider.HasRole(e.Role) {
			slog.Debug("no token configured for role — using anonymous credentials", "role", e.Role)
			provider.AddRole(e.Role, "", e.Permissions...)
		}
	}
	for _, key := range handlerReg.Keys() {
		if e, ok := handlerReg.Resolve(key); ok && e.Role != "" && !provider.HasRole(e.Role) {
			slog.Debug("no token configured for role — using anonymous credentials", "role", e.Role)
			provider.AddRole(e.Role, "", e.Permissions...)
		}
	}
}
