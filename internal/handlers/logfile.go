package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nodiggity/zonewatch/pkg/model"
)

// LogFileHandler appends one formatted line per alert to the alert log.
type LogFileHandler struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogFileHandler opens (or creates) the alert log for appending.
func NewLogFileHandler(path string) (*LogFileHandler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	return &LogFileHandler{file: f}, nil
}

func (h *LogFileHandler) Name() string { return "log" }

func (h *LogFileHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	line := fmt.Sprintf("%s - INFO - ALERT: zone intrusion detected | Zones: %s | Frame: %d | Detections: %d\n",
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		strings.Join(alert.Zones, ", "),
		alert.FrameID,
		alert.DetectionCount,
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.file.WriteString(line); err != nil {
		return fmt.Errorf("write alert log: %w", err)
	}
	return nil
}

func (h *LogFileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
