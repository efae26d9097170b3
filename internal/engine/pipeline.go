package engine

import (
	"sync"
	"time"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/metrics"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/internal/zones"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// PipelineConfig wires the pipeline to its collaborators.
type PipelineConfig struct {
	Zones                []zones.Zone
	FrameHeight          int
	MinElevatedSizeRatio float64

	// QueueSize bounds the ingest queue. When full, new events are
	// dropped rather than queued unboundedly.
	QueueSize int

	Store     *state.Store
	Snapshots *state.SnapshotIndex // optional
	Metrics   *metrics.Metrics
}

// Pipeline is the single ordering point of the detection path. One worker
// consumes the bounded event queue, so confirmation and cooldown state
// transitions are never interleaved out of frame order.
type Pipeline struct {
	cfg        PipelineConfig
	tracker    *Tracker
	dispatcher *Dispatcher

	queue chan model.DetectionEvent

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	lastFrameID uint64
}

// NewPipeline creates a pipeline. Zones drive per-frame tracker
// observation in deterministic (sorted) order.
func NewPipeline(cfg PipelineConfig, tracker *Tracker, dispatcher *Dispatcher) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Store == nil {
		cfg.Store = state.NewStore(0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Pipeline{
		cfg:        cfg,
		tracker:    tracker,
		dispatcher: dispatcher,
		queue:      make(chan model.DetectionEvent, cfg.QueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Offer enqueues a detection event without blocking. Returns false when
// the queue is full and the event was dropped.
func (p *Pipeline) Offer(event model.DetectionEvent) bool {
	select {
	case p.queue <- event:
		return true
	default:
		p.cfg.Metrics.EventsDropped.Add(1)
		logger.Warn("Pipeline", "queue full, dropped frame %d", event.FrameID)
		return false
	}
}

// Start launches the worker goroutine.
func (p *Pipeline) Start() {
	go p.run()
}

// Stop halts the worker and closes the handler chain.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.stopped {
		close(p.stop)
		p.stopped = true
	}
	p.mu.Unlock()
	<-p.done
	p.dispatcher.Close()
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case event := <-p.queue:
			p.Process(event)
		}
	}
}

// Process runs one detection event through analysis, confirmation,
// cooldown and dispatch. Exported so an embedded caller that already
// serializes events can drive the pipeline directly.
func (p *Pipeline) Process(event model.DetectionEvent) *AlertResult {
	if event.FrameID < p.lastFrameID {
		p.cfg.Metrics.OutOfOrderFrames.Add(1)
		logger.Warn("Pipeline", "frame %d arrived after frame %d, processing best-effort", event.FrameID, p.lastFrameID)
	} else {
		p.lastFrameID = event.FrameID
	}

	analysis := zones.Analyze(event.Detections, p.cfg.FrameHeight, p.cfg.Zones, p.cfg.MinElevatedSizeRatio)

	var latency time.Duration
	if !event.SentAt.IsZero() {
		latency = time.Since(event.SentAt)
	}
	p.cfg.Store.RecordDetection(len(event.Detections), analysis.Elevated, latency)
	p.cfg.Metrics.DetectionsReceived.Add(1)
	if analysis.Elevated {
		p.cfg.Metrics.ElevatedFrames.Add(1)
	}

	elevated := make(map[string]struct{}, len(analysis.TriggeredZones))
	for _, id := range analysis.TriggeredZones {
		elevated[id] = struct{}{}
	}

	// Observe every configured zone each frame so quiet zones reset.
	var confirmed []string
	for _, zone := range p.cfg.Zones {
		_, isElevated := elevated[zone.ID]
		if p.tracker.Observe(zone.ID, isElevated) {
			confirmed = append(confirmed, zone.ID)
		}
	}
	if len(confirmed) == 0 {
		return &AlertResult{Dispatched: false}
	}

	result := p.dispatcher.Dispatch(&event, confirmed, time.Now())
	if !result.Dispatched {
		p.cfg.Metrics.ZonesSuppressed.Add(uint64(len(confirmed)))
		return result
	}

	p.cfg.Metrics.AlertsTriggered.Add(1)
	p.cfg.Metrics.ZonesSuppressed.Add(uint64(len(confirmed) - len(result.Alert.Zones)))
	p.cfg.Metrics.HandlerInvocations.Add(uint64(len(result.Handlers)))
	p.cfg.Metrics.HandlerFailures.Add(uint64(len(result.Failed())))

	// The snapshot handler, when enabled, has saved evidence by now; link
	// the freshest snapshot to the recorded alert the way the dashboard
	// expects.
	recorded := *result.Alert
	if p.cfg.Snapshots != nil {
		recorded.Snapshot = p.cfg.Snapshots.Newest()
	}
	p.cfg.Store.RecordAlert(recorded)

	logger.Info("Pipeline", "alert %s: zones=%v detections=%d frame=%d",
		recorded.ID, recorded.Zones, recorded.DetectionCount, recorded.FrameID)
	return result
}
