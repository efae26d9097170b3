// Package model defines the data types shared by the detection pipeline,
// alert handlers and the dashboard API. JSON shapes mirror the dashboard
// wire format.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Point is a single polygon vertex in frame pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection is one bounding box reported by the detection backend.
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// DetectionEvent is one processed frame's worth of detections as delivered
// by the detection backend. Consumed once by the pipeline, never retained.
type DetectionEvent struct {
	FrameID    uint64      `json:"frame_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`

	// FrameJPEG optionally carries the originating frame so the snapshot
	// handler can capture evidence. May be nil.
	FrameJPEG []byte `json:"-"`

	// SentAt is when the frame left the capture side, used for round-trip
	// latency tracking. Zero if unknown.
	SentAt time.Time `json:"-"`
}

// Alert is an immutable record of one dispatched alert. Zones is ordered
// and contains only the zones that passed the cooldown gate.
type Alert struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Zones          []string  `json:"zones"`
	DetectionCount int       `json:"detection_count"`
	FrameID        uint64    `json:"frame_id"`
	Snapshot       string    `json:"snapshot,omitempty"`

	// Overlay material for handlers that render evidence. Not part of the
	// dashboard alert shape.
	Detections   []Detection        `json:"-"`
	ZonePolygons map[string][]Point `json:"-"`
	FrameJPEG    []byte             `json:"-"`
}

// NewAlertID returns a fresh alert identifier.
func NewAlertID() string {
	return uuid.NewString()
}

// Snapshot describes one retained evidence image.
type Snapshot struct {
	Filename       string    `json:"filename"`
	Timestamp      time.Time `json:"timestamp"`
	Zones          []string  `json:"zones"`
	DetectionCount int       `json:"detection_count"`
	Size           int64     `json:"size"`
}

// Stats is the dashboard statistics payload. Counters are monotonic;
// the FPS/latency/uptime fields are derived gauges.
type Stats struct {
	FramesCaptured     uint64  `json:"frames_captured"`
	FramesSent         uint64  `json:"frames_sent"`
	DetectionsReceived uint64  `json:"detections_received"`
	ElevatedCount      uint64  `json:"elevated_count"`
	AlertsTriggered    uint64  `json:"alerts_triggered"`
	CurrentFPS         float64 `json:"current_fps"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}
