package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/internal/dashboard"
	"github.com/nodiggity/zonewatch/internal/engine"
	"github.com/nodiggity/zonewatch/internal/handlers"
	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/metrics"
	"github.com/nodiggity/zonewatch/internal/source"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/internal/zones"
	"github.com/nodiggity/zonewatch/pkg/model"
)

var (
	// Command-line flags. Address and log flags override the config file.
	configPath  = flag.String("config", "", "Config file path (YAML)")
	httpAddr    = flag.String("http", "", "Dashboard server address (overrides config)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides config)")
	sourceURL   = flag.String("source", "", "Detector WebSocket URL (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// App owns the wired components and their lifecycle.
type App struct {
	cfg         *config.Config
	metrics     *metrics.Metrics
	store       *state.Store
	snapshots   *state.SnapshotIndex
	broadcaster *dashboard.Broadcaster
	pipeline    *engine.Pipeline
	feed        *source.Client
	httpServer  *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.ZoneWatch.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor && cfg.ZoneWatch.Logging.Color)

	logger.Info("Main", "ZoneWatch starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	app.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Flag overrides.
	if *httpAddr != "" {
		cfg.ZoneWatch.Dashboard.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.ZoneWatch.Metrics.Addr = *metricsAddr
	}
	if *sourceURL != "" {
		cfg.ZoneWatch.Source.URL = *sourceURL
	}
	if *logLevel != "" {
		cfg.ZoneWatch.Logging.Level = *logLevel
	}
	return cfg, nil
}

// NewApp wires the store, snapshot index, zones, handler chain, pipeline,
// broadcaster, dashboard server and detector feed.
func NewApp(cfg *config.Config) (*App, error) {
	zw := cfg.ZoneWatch

	m := metrics.New()
	store := state.NewStore(zw.Alerts.HistoryCap)

	snapshots, err := state.NewSnapshotIndex(zw.Dashboard.SnapshotDir, zw.Alerts.Handlers.Snapshot.MaxSnapshots)
	if err != nil {
		return nil, err
	}
	snapshots.OnEvict = func(model.Snapshot) { m.SnapshotsEvicted.Add(1) }
	if err := snapshots.Rescan(); err != nil {
		logger.Warn("Main", "snapshot rescan failed: %v", err)
	}

	zoneList := zones.FromConfig(zw.Zones)
	logger.Info("Main", "Monitoring %d enabled zones", len(zoneList))

	tracker := engine.NewTracker(zw.EnabledZoneIDs(), zw.Alerts.ConfirmationThreshold, zw.Alerts.RetriggerWhileElevated)
	gate := engine.NewCooldownGate(zw.Alerts.CooldownFor)

	chain := handlers.FromConfig(zw.Alerts.Handlers, snapshots, nil)
	for _, h := range chain {
		if sh, ok := h.(*handlers.SnapshotHandler); ok {
			sh.OnSave = func(model.Snapshot) { m.SnapshotsSaved.Add(1) }
		}
	}

	zoneInfo := make(map[string]engine.ZoneInfo, len(zoneList))
	for _, z := range zoneList {
		zoneInfo[z.ID] = engine.ZoneInfo{Name: z.Name, Polygon: z.Polygon}
	}
	dispatcher := engine.NewDispatcher(gate, chain, zw.Alerts.HandlerTimeout, zoneInfo)

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Zones:                zoneList,
		FrameHeight:          zw.Detection.FrameHeight,
		MinElevatedSizeRatio: zw.Detection.MinElevatedSizeRatio,
		QueueSize:            zw.Detection.QueueSize,
		Store:                store,
		Snapshots:            snapshots,
		Metrics:              m,
	}, tracker, dispatcher)

	broadcaster := dashboard.NewBroadcaster(store, m, 0)
	api := dashboard.NewServer(store, snapshots, broadcaster, zw.Dashboard.AlertLog)

	app := &App{
		cfg:         cfg,
		metrics:     m,
		store:       store,
		snapshots:   snapshots,
		broadcaster: broadcaster,
		pipeline:    pipeline,
		httpServer: &http.Server{
			Addr:    zw.Dashboard.Addr,
			Handler: api.Router(),
		},
	}

	if zw.Source.URL != "" {
		app.feed = source.NewClient(source.Config{
			URL:          zw.Source.URL,
			ReconnectMin: zw.Source.ReconnectMin,
			ReconnectMax: zw.Source.ReconnectMax,
		}, pipeline, store)
	} else {
		logger.Warn("Main", "no detector source URL configured, running without a feed")
	}

	return app, nil
}

// Start launches all components.
func (a *App) Start() {
	zw := a.cfg.ZoneWatch

	go func() {
		logger.Info("Main", "Starting metrics server on %s", zw.Metrics.Addr)
		if err := a.metrics.StartServer(zw.Metrics.Addr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		logger.Info("Main", "Starting dashboard server on %s", zw.Dashboard.Addr)
		if err := a.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "Dashboard server error: %v", err)
		}
	}()

	a.broadcaster.Start()
	a.pipeline.Start()
	if a.feed != nil {
		a.feed.Start()
	}
}

// Shutdown stops components in reverse dependency order: the feed first
// so no new events arrive, then the pipeline, then the viewer surface.
func (a *App) Shutdown() error {
	if a.feed != nil {
		a.feed.Stop()
	}
	a.pipeline.Stop()
	a.broadcaster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.httpServer.Shutdown(ctx)
}
