// Package handlers implements the pluggable alert actions dispatched by
// the engine: hardware actuation, evidence capture, logging and
// notifications.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// PWMDriver abstracts the PWM output used for the deterrent pulse, so
// tests and non-Pi hosts run without hardware.
type PWMDriver interface {
	Start(pin, frequencyHz, dutyCycle int) error
	Stop(pin int) error
	Close() error
}

// NopDriver is a PWMDriver that only logs. Used when no GPIO hardware is
// present.
type NopDriver struct{}

func (NopDriver) Start(pin, frequencyHz, dutyCycle int) error {
	logger.Debug("GPIO", "pwm start pin=%d freq=%dHz duty=%d%% (no hardware)", pin, frequencyHz, dutyCycle)
	return nil
}

func (NopDriver) Stop(pin int) error { return nil }
func (NopDriver) Close() error       { return nil }

// GPIOHandler pulses a PWM output (ultrasonic speaker, buzzer) for a
// configured duration when an alert fires.
type GPIOHandler struct {
	cfg    config.GPIOHandlerConfig
	driver PWMDriver
}

// NewGPIOHandler creates a GPIO handler over the given driver. A nil
// driver falls back to NopDriver.
func NewGPIOHandler(cfg config.GPIOHandlerConfig, driver PWMDriver) *GPIOHandler {
	if driver == nil {
		driver = NopDriver{}
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 500 * time.Millisecond
	}
	return &GPIOHandler{cfg: cfg, driver: driver}
}

func (h *GPIOHandler) Name() string { return "gpio" }

// Trigger pulses the output, cutting the pulse short if the context
// deadline expires first.
func (h *GPIOHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	if err := h.driver.Start(h.cfg.Pin, h.cfg.FrequencyHz, h.cfg.DutyCycle); err != nil {
		return fmt.Errorf("pwm start: %w", err)
	}

	var interrupted error
	select {
	case <-time.After(h.cfg.Duration):
	case <-ctx.Done():
		interrupted = ctx.Err()
	}

	if err := h.driver.Stop(h.cfg.Pin); err != nil {
		return fmt.Errorf("pwm stop: %w", err)
	}
	return interrupted
}

func (h *GPIOHandler) Close() error {
	return h.driver.Close()
}
