package handlers

import (
	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/internal/engine"
	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/state"
)

// FromConfig builds the enabled handler chain in the fixed dispatch
// order: gpio, snapshot, log, notification, redis. A handler whose
// construction fails is skipped with a warning; alerting continues with
// the remaining handlers.
func FromConfig(cfg config.HandlersConfig, index *state.SnapshotIndex, driver PWMDriver) []engine.Handler {
	var chain []engine.Handler

	if cfg.GPIO.Enabled {
		chain = append(chain, NewGPIOHandler(cfg.GPIO, driver))
	}

	if cfg.Snapshot.Enabled {
		if index == nil {
			logger.Warn("Handlers", "snapshot handler enabled but no snapshot index, skipping")
		} else {
			chain = append(chain, NewSnapshotHandler(cfg.Snapshot, index))
		}
	}

	if cfg.Log.Enabled {
		h, err := NewLogFileHandler(cfg.Log.File)
		if err != nil {
			logger.Warn("Handlers", "log handler disabled: %v", err)
		} else {
			chain = append(chain, h)
		}
	}

	if cfg.Notification.Enabled {
		h, err := NewPushoverHandler(cfg.Notification)
		if err != nil {
			logger.Warn("Handlers", "notification handler disabled: %v", err)
		} else {
			chain = append(chain, h)
		}
	}

	if cfg.Redis.Enabled {
		h, err := NewRedisHandler(cfg.Redis)
		if err != nil {
			logger.Warn("Handlers", "redis handler disabled: %v", err)
		} else {
			chain = append(chain, h)
		}
	}

	logger.Info("Handlers", "alert chain initialized with %d handlers", len(chain))
	return chain
}
