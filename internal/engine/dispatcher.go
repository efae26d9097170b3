package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// Handler is one pluggable alert action (hardware actuation, evidence
// capture, logging, push notification). Implementations must honor the
// context deadline on blocking work.
type Handler interface {
	Name() string
	Trigger(ctx context.Context, alert *model.Alert) error
	Close() error
}

// HandlerResult records the outcome of one handler invocation.
type HandlerResult struct {
	Handler string
	Err     error
	Elapsed time.Duration
}

// AlertResult is the outcome of dispatching one detection event.
type AlertResult struct {
	// Dispatched is false when no zone survived the cooldown gate.
	Dispatched bool
	Alert      *model.Alert
	Handlers   []HandlerResult
}

// Failed returns the results of handlers that errored or timed out.
func (r *AlertResult) Failed() []HandlerResult {
	var failed []HandlerResult
	for _, hr := range r.Handlers {
		if hr.Err != nil {
			failed = append(failed, hr)
		}
	}
	return failed
}

// ZoneInfo resolves zone display names and polygons for alert payloads.
type ZoneInfo struct {
	Name    string
	Polygon []model.Point
}

// Dispatcher turns confirmed zones into a single immutable Alert and
// invokes every enabled handler in fixed order. A slow or broken handler
// never blocks the others and never prevents the alert from being
// recorded by the caller.
type Dispatcher struct {
	gate     *CooldownGate
	handlers []Handler
	timeout  time.Duration
	zoneInfo map[string]ZoneInfo
}

// NewDispatcher creates a dispatcher with the given handler chain. The
// slice order is the dispatch order.
func NewDispatcher(gate *CooldownGate, handlers []Handler, timeout time.Duration, zoneInfo map[string]ZoneInfo) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		gate:     gate,
		handlers: handlers,
		timeout:  timeout,
		zoneInfo: zoneInfo,
	}
}

// Dispatch filters the confirmed zones through the cooldown gate and, if
// any survive, builds one Alert and runs the handler chain. Zones still
// cooling down are dropped from the alert's zone set rather than
// suppressing the whole alert; an empty reduced set dispatches nothing
// and mutates nothing.
func (d *Dispatcher) Dispatch(event *model.DetectionEvent, confirmedZones []string, now time.Time) *AlertResult {
	surviving := confirmedZones[:0:0]
	for _, zone := range confirmedZones {
		if d.gate.Allow(zone, now) {
			surviving = append(surviving, zone)
		} else {
			logger.Debug("Dispatcher", "zone %s confirmed but cooling down, dropped from alert", zone)
		}
	}
	if len(surviving) == 0 {
		return &AlertResult{Dispatched: false}
	}

	alert := d.buildAlert(event, surviving, now)
	d.gate.MarkDispatched(surviving, now)

	result := &AlertResult{Dispatched: true, Alert: alert}
	for _, h := range d.handlers {
		start := time.Now()
		err := d.invoke(h, alert)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("Dispatcher", "handler %s failed: %v", h.Name(), err)
		}
		result.Handlers = append(result.Handlers, HandlerResult{
			Handler: h.Name(),
			Err:     err,
			Elapsed: elapsed,
		})
	}
	return result
}

func (d *Dispatcher) buildAlert(event *model.DetectionEvent, zoneIDs []string, now time.Time) *model.Alert {
	names := make([]string, 0, len(zoneIDs))
	polygons := make(map[string][]model.Point, len(zoneIDs))
	for _, id := range zoneIDs {
		if info, ok := d.zoneInfo[id]; ok {
			names = append(names, info.Name)
			polygons[id] = info.Polygon
		} else {
			names = append(names, id)
		}
	}

	return &model.Alert{
		ID:             model.NewAlertID(),
		Timestamp:      now,
		Zones:          names,
		DetectionCount: len(event.Detections),
		FrameID:        event.FrameID,
		Detections:     event.Detections,
		ZonePolygons:   polygons,
		FrameJPEG:      event.FrameJPEG,
	}
}

// invoke runs a single handler under the per-handler timeout, converting
// panics and deadline overruns into recorded errors. A handler that
// overruns keeps its goroutine until it returns; the dispatcher moves on.
func (d *Dispatcher) invoke(h Handler, alert *model.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h.Trigger(ctx, alert)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("handler %s timed out after %v", h.Name(), d.timeout)
	}
}

// Close shuts down all handlers, logging per-handler failures.
func (d *Dispatcher) Close() {
	for _, h := range d.handlers {
		if err := h.Close(); err != nil {
			logger.Warn("Dispatcher", "handler %s cleanup failed: %v", h.Name(), err)
		}
	}
}
