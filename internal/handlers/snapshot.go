package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/pkg/model"
)

var (
	zoneColor  = color.RGBA{R: 255, A: 255}          // red, triggered zone outline
	boxColor   = color.RGBA{R: 255, G: 255, A: 255}  // yellow, detection boxes
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// SnapshotHandler captures annotated evidence images and registers them
// with the retention index.
type SnapshotHandler struct {
	cfg   config.SnapshotHandlerConfig
	index *state.SnapshotIndex

	// OnSave, when set, observes every saved snapshot (metrics hook).
	OnSave func(model.Snapshot)
}

// NewSnapshotHandler creates a snapshot handler writing into the index's
// directory.
func NewSnapshotHandler(cfg config.SnapshotHandlerConfig, index *state.SnapshotIndex) *SnapshotHandler {
	return &SnapshotHandler{cfg: cfg, index: index}
}

func (h *SnapshotHandler) Name() string { return "snapshot" }

// Trigger decodes the alert frame, draws zone outlines, detection boxes
// and a timestamp, and writes the image plus a JSON metadata sidecar.
// Alerts without a frame are skipped, not failed.
func (h *SnapshotHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	if len(alert.FrameJPEG) == 0 {
		logger.Debug("Snapshot", "no frame attached to alert %s, skipping", alert.ID)
		return nil
	}

	src, err := jpeg.Decode(bytes.NewReader(alert.FrameJPEG))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	canvas := image.NewRGBA(src.Bounds())
	xdraw.Copy(canvas, image.Point{}, src, src.Bounds(), xdraw.Src, nil)

	h.annotate(canvas, alert)

	filename := snapshotFilename(alert)
	path := filepath.Join(h.index.Dir(), filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := jpeg.Encode(f, canvas, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	snap := model.Snapshot{
		Filename:       filename,
		Timestamp:      alert.Timestamp,
		Zones:          alert.Zones,
		DetectionCount: alert.DetectionCount,
		Size:           info.Size(),
	}
	if err := state.WriteMetadata(path, snap); err != nil {
		logger.Warn("Snapshot", "metadata write failed for %s: %v", filename, err)
	}
	h.index.Register(snap)

	if h.OnSave != nil {
		h.OnSave(snap)
	}
	logger.Info("Snapshot", "saved %s", filename)
	return nil
}

func (h *SnapshotHandler) Close() error { return nil }

func (h *SnapshotHandler) annotate(canvas *image.RGBA, alert *model.Alert) {
	if h.cfg.IncludeZones {
		for _, polygon := range alert.ZonePolygons {
			drawPolygon(canvas, polygon, zoneColor, 3)
		}
	}
	if h.cfg.IncludeBoxes {
		for _, det := range alert.Detections {
			drawRect(canvas, det.X1, det.Y1, det.X2, det.Y2, boxColor, 2)
			label := fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
			labelY := det.Y1 - 5
			if labelY < 15 {
				labelY = det.Y2 + 15
			}
			drawLabel(canvas, det.X1, labelY, label)
		}
	}
	drawLabel(canvas, 10, 20, alert.Timestamp.Format("2006-01-02 15:04:05"))
}

func snapshotFilename(alert *model.Alert) string {
	zones := make([]string, len(alert.Zones))
	for i, z := range alert.Zones {
		zones[i] = strings.ReplaceAll(z, " ", "-")
	}
	tag := strings.Join(zones, "_")
	if tag == "" {
		tag = "unknown"
	}
	return state.SnapshotTimestamp(alert.Timestamp) + "_" + tag + ".jpg"
}

func drawPolygon(canvas *image.RGBA, polygon []model.Point, c color.RGBA, thickness int) {
	n := len(polygon)
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		a := polygon[i]
		b := polygon[(i+1)%n]
		drawLine(canvas, a.X, a.Y, b.X, b.Y, c, thickness)
	}
}

func drawRect(canvas *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, thickness int) {
	drawLine(canvas, x1, y1, x2, y1, c, thickness)
	drawLine(canvas, x2, y1, x2, y2, c, thickness)
	drawLine(canvas, x2, y2, x1, y2, c, thickness)
	drawLine(canvas, x1, y2, x1, y1, c, thickness)
}

// drawLine draws a Bresenham line with a square brush.
func drawLine(canvas *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, thickness int) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy

	x, y := x1, y1
	for {
		drawBrush(canvas, x, y, c, thickness)
		if x == x2 && y == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func drawBrush(canvas *image.RGBA, x, y int, c color.RGBA, thickness int) {
	r := thickness / 2
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			p := image.Pt(x+dx, y+dy)
			if p.In(canvas.Bounds()) {
				canvas.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

func drawLabel(canvas *image.RGBA, x, y int, text string) {
	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
