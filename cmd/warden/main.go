// cmd/warden/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matrix-org/gomatrix"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchful-im/warden/commands"
	"github.com/watchful-im/warden/config"
	"github.com/watchful-im/warden/matrix"
	"github.com/watchful-im/warden/policy"
	"github.com/watchful-im/warden/store"
)

var version = "dev"

// app holds the pieces that config hot-reload may swap. Lists and rooms are
// read through accessors so commands and the sync loop always see the
// current set.
type app struct {
	client     *matrix.Client
	store      store.Store
	manager    *policy.Manager
	reconciler *policy.Reconciler
	dispatcher *commands.Dispatcher

	mu             sync.RWMutex
	lists          []*policy.List
	listRooms      map[string]*policy.List
	protectedRooms []string
	reconcileEvery time.Duration
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be enforced without actually enforcing it.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if _, _, err := config.Load(*configPath, false); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if err := run(*configPath, *useDefaults, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, useDefaults, dryRun bool) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dryRun {
		cfg.Moderation.Noop = true
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.ToSlogLevel()}))
	slog.SetDefault(logger)
	if cfg.Moderation.Noop {
		slog.Warn("Running in no-op mode: no sanctions will actually be applied.")
	}
	slog.Info("Moderation engine starting up",
		"version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	db, err := store.NewBadgerStore(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	client, err := matrix.NewClient(matrix.Config{
		HomeserverURL:  cfg.Homeserver.URL,
		UserID:         cfg.Homeserver.UserID,
		AccessToken:    cfg.Homeserver.AccessToken,
		ManagementRoom: cfg.Moderation.ManagementRoom,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, client, db)
	if err != nil {
		return err
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		client.Underlying().StopSync()
		cancel()
	}()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	onReload := func(newCfg *config.Config) {
		a.applyConfig(newCfg)
	}
	go config.StartWatcher(ctx, configPath, onReload, 0)

	go a.reconcileLoop(ctx)

	return a.syncLoop(ctx)
}

func buildApp(ctx context.Context, cfg *config.Config, client *matrix.Client, db store.Store) (*app, error) {
	noop := cfg.Moderation.Noop

	floodCfg := cfg.Protections.Flood
	floodCfg.Noop = noop
	firstMediaCfg := cfg.Protections.FirstMedia
	firstMediaCfg.Noop = noop

	manager := policy.NewManager(db)
	for _, p := range []policy.Protection{
		policy.NewFloodProtection(client, floodCfg),
		policy.NewFirstMediaProtection(client, firstMediaCfg),
	} {
		if err := manager.Register(p); err != nil {
			return nil, err
		}
	}
	if err := manager.RestoreEnabled(ctx); err != nil {
		return nil, err
	}
	for _, name := range cfg.Protections.Enabled {
		if err := manager.Enable(ctx, name); err != nil {
			slog.Error("Failed to enable configured protection", "protection", name, "error", err)
		}
	}

	reconciler := policy.NewReconciler(client, reconcilerConfig(cfg))

	a := &app{
		client:     client,
		store:      db,
		manager:    manager,
		reconciler: reconciler,
	}
	a.setRooms(cfg)
	if err := a.primeLists(ctx); err != nil {
		return nil, err
	}

	a.dispatcher = commands.NewDispatcher(commands.Config{
		Prefix:         cfg.Moderation.CommandPrefix,
		ManagementRoom: cfg.Moderation.ManagementRoom,
		Noop:           noop,
		Client:         client,
		Publisher:      client,
		Manager:        manager,
		Defaults:       db,
		Lists:          a.Lists,
		ProtectedRooms: a.ProtectedRooms,
	})

	return a, nil
}

func reconcilerConfig(cfg *config.Config) policy.ReconcilerConfig {
	return policy.ReconcilerConfig{
		ManagementRoom:         cfg.Moderation.ManagementRoom,
		FasterMembershipChecks: cfg.Moderation.FasterMembershipChecks,
		IgnoreLeftUsers:        cfg.Moderation.IgnoreLeftUsers,
		Noop:                   cfg.Moderation.Noop,
		AutomaticRedactReasons: cfg.Moderation.AutomaticRedactReasons,
	}
}

func (a *app) setRooms(cfg *config.Config) {
	lists := make([]*policy.List, 0, len(cfg.Moderation.Lists))
	listRooms := make(map[string]*policy.List, len(cfg.Moderation.Lists))
	for _, lc := range cfg.Moderation.Lists {
		list := policy.NewList(lc.Shortcode, lc.Room)
		lists = append(lists, list)
		listRooms[lc.Room] = list
	}

	a.mu.Lock()
	a.lists = lists
	a.listRooms = listRooms
	a.protectedRooms = cfg.Moderation.ProtectedRooms
	a.reconcileEvery = cfg.Moderation.ReconcileInterval
	a.mu.Unlock()
}

func (a *app) applyConfig(cfg *config.Config) {
	a.reconciler.UpdateConfig(reconcilerConfig(cfg))
	a.setRooms(cfg)
	if err := a.primeLists(context.Background()); err != nil {
		slog.Error("Failed to re-prime rule lists after reload", "error", err)
	}
	slog.Warn("Protection tuning changes take effect after restart")
}

func (a *app) Lists() []*policy.List {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lists
}

func (a *app) ProtectedRooms() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.protectedRooms
}

func (a *app) listForRoom(roomID string) *policy.List {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listRooms[roomID]
}

func (a *app) isProtected(roomID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.protectedRooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// primeLists seeds each rule list from its room's current state. Keeping
// the lists fresh afterwards is handled by the rule events arriving on the
// sync stream.
func (a *app) primeLists(ctx context.Context) error {
	for _, list := range a.Lists() {
		state, err := a.client.RoomState(ctx, list.RoomID)
		if err != nil {
			return fmt.Errorf("failed to read state of list room %s: %w", list.RoomID, err)
		}
		for _, ev := range state {
			list.ApplyRuleEvent(ev)
		}
		slog.Info("Rule list loaded",
			"shortcode", list.Shortcode, "room_id", list.RoomID, "user_rules", len(list.UserRules()))
	}
	return nil
}

func (a *app) handleEvent(ctx context.Context, gev *gomatrix.Event) {
	ev := matrix.ToEvent(gev)

	if list := a.listForRoom(ev.RoomID); list != nil {
		list.ApplyRuleEvent(ev)
	}

	a.dispatcher.HandleEvent(ctx, ev.RoomID, ev)

	if a.isProtected(ev.RoomID) {
		a.manager.Dispatch(ctx, ev.RoomID, ev)
	}
}

func (a *app) syncLoop(ctx context.Context) error {
	cli := a.client.Underlying()
	syncer := cli.Syncer.(*gomatrix.DefaultSyncer)

	handler := func(gev *gomatrix.Event) { a.handleEvent(ctx, gev) }
	eventTypes := []string{policy.EventTypeMessage, "org.matrix.room.message", policy.EventTypeMember}
	eventTypes = append(eventTypes, policy.RuleEventTypes()...)
	for _, t := range eventTypes {
		syncer.OnEventType(t, handler)
	}

	slog.Info("Ready to process events from sync stream...")
	for {
		if err := cli.Sync(); err != nil {
			slog.Error("Sync failed, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Sync stream stopped, shutting down.")
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func (a *app) reconcileLoop(ctx context.Context) {
	a.mu.RLock()
	interval := a.reconcileEvery
	a.mu.RUnlock()
	if interval <= 0 {
		slog.Info("Periodic reconciliation disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.reconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) reconcileOnce(ctx context.Context) {
	lists := a.Lists()
	rooms := a.ProtectedRooms()
	if len(lists) == 0 || len(rooms) == 0 {
		return
	}

	started := time.Now()
	errs := a.reconciler.ApplyRules(ctx, lists, rooms)
	slog.Info("Reconciliation pass finished",
		"rooms", len(rooms), "errors", len(errs), "took", time.Since(started))

	for _, e := range errs {
		slog.Warn("Room could not be reconciled",
			"room_id", e.RoomID, "kind", string(e.Kind), "error", e.Message)
	}
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Serving metrics", "listen", listen)
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}
