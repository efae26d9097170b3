// Package config loads the YAML configuration for the zone alert engine.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodiggity/zonewatch/pkg/model"
)

// Config is the root configuration.
type Config struct {
	ZoneWatch ZoneWatchConfig `yaml:"zonewatch"`
}

// ZoneWatchConfig is the project configuration.
type ZoneWatchConfig struct {
	Dashboard DashboardConfig       `yaml:"dashboard"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	Detection DetectionConfig       `yaml:"detection"`
	Source    SourceConfig          `yaml:"source"`
	Zones     map[string]ZoneConfig `yaml:"zones"`
	Alerts    AlertsConfig          `yaml:"alerts"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// DashboardConfig controls the HTTP dashboard server.
type DashboardConfig struct {
	Addr        string `yaml:"addr"`
	SnapshotDir string `yaml:"snapshot_dir"`
	AlertLog    string `yaml:"alert_log"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DetectionConfig controls detection event analysis.
type DetectionConfig struct {
	FrameHeight          int     `yaml:"frame_height"`
	MinElevatedSizeRatio float64 `yaml:"min_elevated_size_ratio"`
	QueueSize            int     `yaml:"queue_size"`
}

// SourceConfig points at the upstream detector's WebSocket endpoint. An
// empty URL disables the built-in feed (events can still be injected
// programmatically).
type SourceConfig struct {
	URL          string        `yaml:"url"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// ZoneConfig defines one named spatial zone.
type ZoneConfig struct {
	Name    string  `yaml:"name"`
	Enabled bool    `yaml:"enabled"`
	Polygon [][]int `yaml:"polygon"`
}

// AlertsConfig controls confirmation, cooldown and handler dispatch.
type AlertsConfig struct {
	ConfirmationThreshold int                      `yaml:"confirmation_threshold"`
	Cooldown              time.Duration            `yaml:"cooldown"`
	ZoneCooldowns         map[string]time.Duration `yaml:"zone_cooldowns"`
	RetriggerWhileElevated bool                    `yaml:"retrigger_while_elevated"`
	HistoryCap            int                      `yaml:"history_cap"`
	HandlerTimeout        time.Duration            `yaml:"handler_timeout"`
	Handlers              HandlersConfig           `yaml:"handlers"`
}

// HandlersConfig enables and configures the alert handlers. Dispatch order
// is fixed: gpio, snapshot, log, notification, redis.
type HandlersConfig struct {
	GPIO         GPIOHandlerConfig         `yaml:"gpio"`
	Snapshot     SnapshotHandlerConfig     `yaml:"snapshot"`
	Log          LogHandlerConfig          `yaml:"log"`
	Notification NotificationHandlerConfig `yaml:"notification"`
	Redis        RedisHandlerConfig        `yaml:"redis"`
}

// GPIOHandlerConfig configures the GPIO pulse handler.
type GPIOHandlerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Pin         int           `yaml:"pin"`
	FrequencyHz int           `yaml:"frequency_hz"`
	Duration    time.Duration `yaml:"duration"`
	DutyCycle   int           `yaml:"duty_cycle"`
}

// SnapshotHandlerConfig configures evidence capture. Images land in the
// dashboard snapshot directory.
type SnapshotHandlerConfig struct {
	Enabled      bool `yaml:"enabled"`
	IncludeBoxes bool `yaml:"include_boxes"`
	IncludeZones bool `yaml:"include_zones"`
	MaxSnapshots int  `yaml:"max_snapshots"`
}

// LogHandlerConfig configures the alert log file.
type LogHandlerConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// NotificationHandlerConfig configures Pushover notifications.
type NotificationHandlerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	UserKey  string        `yaml:"user_key"`
	APIToken string        `yaml:"api_token"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisHandlerConfig configures the Redis alert sink.
type RedisHandlerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	MaxEntries int64  `yaml:"max_entries"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the configuration defaults, matching the behavior of an
// install with no config file.
func Default() *Config {
	return &Config{ZoneWatch: ZoneWatchConfig{
		Dashboard: DashboardConfig{
			Addr:        ":5000",
			SnapshotDir: "snapshots",
			AlertLog:    "alerts.log",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Detection: DetectionConfig{
			FrameHeight:          480,
			MinElevatedSizeRatio: 0.3,
			QueueSize:            32,
		},
		Source: SourceConfig{
			ReconnectMin: time.Second,
			ReconnectMax: 30 * time.Second,
		},
		Alerts: AlertsConfig{
			ConfirmationThreshold: 2,
			Cooldown:              30 * time.Second,
			HistoryCap:            50,
			HandlerTimeout:        5 * time.Second,
			Handlers: HandlersConfig{
				Snapshot: SnapshotHandlerConfig{
					Enabled:      true,
					IncludeBoxes: true,
					IncludeZones: true,
					MaxSnapshots: 1000,
				},
				Log: LogHandlerConfig{Enabled: true, File: "alerts.log"},
				Notification: NotificationHandlerConfig{
					APIURL:  "https://api.pushover.net/1/messages.json",
					Timeout: 10 * time.Second,
				},
				Redis: RedisHandlerConfig{
					Addr:       "localhost:6379",
					Key:        "zonewatch:alerts",
					MaxEntries: 1000,
				},
			},
		},
		Logging: LoggingConfig{Level: "info", Color: true},
	}}
}

// Load reads and parses a YAML config file, applying defaults for unset
// values and validating zone polygons.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	zw := &c.ZoneWatch
	if zw.Dashboard.Addr == "" {
		zw.Dashboard.Addr = def.ZoneWatch.Dashboard.Addr
	}
	if zw.Dashboard.SnapshotDir == "" {
		zw.Dashboard.SnapshotDir = def.ZoneWatch.Dashboard.SnapshotDir
	}
	if zw.Dashboard.AlertLog == "" {
		zw.Dashboard.AlertLog = def.ZoneWatch.Dashboard.AlertLog
	}
	if zw.Detection.FrameHeight <= 0 {
		zw.Detection.FrameHeight = def.ZoneWatch.Detection.FrameHeight
	}
	if zw.Detection.MinElevatedSizeRatio <= 0 {
		zw.Detection.MinElevatedSizeRatio = def.ZoneWatch.Detection.MinElevatedSizeRatio
	}
	if zw.Detection.QueueSize <= 0 {
		zw.Detection.QueueSize = def.ZoneWatch.Detection.QueueSize
	}
	if zw.Source.ReconnectMin <= 0 {
		zw.Source.ReconnectMin = def.ZoneWatch.Source.ReconnectMin
	}
	if zw.Source.ReconnectMax < zw.Source.ReconnectMin {
		zw.Source.ReconnectMax = def.ZoneWatch.Source.ReconnectMax
	}
	if zw.Alerts.ConfirmationThreshold <= 0 {
		zw.Alerts.ConfirmationThreshold = def.ZoneWatch.Alerts.ConfirmationThreshold
	}
	if zw.Alerts.Cooldown <= 0 {
		zw.Alerts.Cooldown = def.ZoneWatch.Alerts.Cooldown
	}
	if zw.Alerts.HistoryCap <= 0 {
		zw.Alerts.HistoryCap = def.ZoneWatch.Alerts.HistoryCap
	}
	if zw.Alerts.HandlerTimeout <= 0 {
		zw.Alerts.HandlerTimeout = def.ZoneWatch.Alerts.HandlerTimeout
	}
	if zw.Alerts.Handlers.Snapshot.MaxSnapshots <= 0 {
		zw.Alerts.Handlers.Snapshot.MaxSnapshots = def.ZoneWatch.Alerts.Handlers.Snapshot.MaxSnapshots
	}
	if zw.Alerts.Handlers.Redis.MaxEntries <= 0 {
		zw.Alerts.Handlers.Redis.MaxEntries = def.ZoneWatch.Alerts.Handlers.Redis.MaxEntries
	}
	if zw.Logging.Level == "" {
		zw.Logging.Level = def.ZoneWatch.Logging.Level
	}
}

func (c *Config) validate() error {
	for id, zone := range c.ZoneWatch.Zones {
		if !zone.Enabled {
			continue
		}
		if len(zone.Polygon) < 3 {
			return fmt.Errorf("zone %q: polygon needs at least 3 vertices, got %d", id, len(zone.Polygon))
		}
		for i, pt := range zone.Polygon {
			if len(pt) != 2 {
				return fmt.Errorf("zone %q: polygon vertex %d must be [x, y]", id, i)
			}
		}
	}
	return nil
}

// ZonePolygon converts a zone's configured polygon to model points.
func (z ZoneConfig) ZonePolygon() []model.Point {
	pts := make([]model.Point, 0, len(z.Polygon))
	for _, p := range z.Polygon {
		pts = append(pts, model.Point{X: p[0], Y: p[1]})
	}
	return pts
}

// EnabledZoneIDs returns the enabled zone identifiers in sorted order so
// per-zone iteration is deterministic.
func (z ZoneWatchConfig) EnabledZoneIDs() []string {
	ids := make([]string, 0, len(z.Zones))
	for id, zone := range z.Zones {
		if zone.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CooldownFor returns the cooldown for a zone, honoring per-zone overrides.
func (a AlertsConfig) CooldownFor(zoneID string) time.Duration {
	if d, ok := a.ZoneCooldowns[zoneID]; ok && d > 0 {
		return d
	}
	return a.Cooldown
}
