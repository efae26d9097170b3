// Package zones maps bounding boxes to configured spatial zones.
//
// A detection intersects a zone when any of the box's four corners or its
// center lies inside the zone polygon. A detection counts as elevated for
// a zone when it intersects the polygon and its height is a configurable
// fraction of the frame height, which filters out animals on the floor in
// front of a zone.
package zones

import (
	"sort"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// Zone is one enabled spatial zone.
type Zone struct {
	ID      string
	Name    string
	Polygon []model.Point
}

// FromConfig builds the enabled zone set, ordered by zone ID.
func FromConfig(cfgs map[string]config.ZoneConfig) []Zone {
	zones := make([]Zone, 0, len(cfgs))
	for id, zc := range cfgs {
		if !zc.Enabled {
			continue
		}
		name := zc.Name
		if name == "" {
			name = id
		}
		zones = append(zones, Zone{ID: id, Name: name, Polygon: zc.ZonePolygon()})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}

// Contains reports whether p lies inside the zone polygon (ray casting).
func (z Zone) Contains(p model.Point) bool {
	inside := false
	n := len(z.Polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := z.Polygon[i], z.Polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			cross := float64(b.X-a.X)*float64(p.Y-a.Y)/float64(b.Y-a.Y) + float64(a.X)
			if float64(p.X) < cross {
				inside = !inside
			}
		}
	}
	return inside
}

// IntersectsBox reports whether the detection's box touches the zone,
// checking the four corners and the center point.
func (z Zone) IntersectsBox(d model.Detection) bool {
	cx := (d.X1 + d.X2) / 2
	cy := (d.Y1 + d.Y2) / 2
	points := [5]model.Point{
		{X: d.X1, Y: d.Y1},
		{X: d.X2, Y: d.Y1},
		{X: d.X2, Y: d.Y2},
		{X: d.X1, Y: d.Y2},
		{X: cx, Y: cy},
	}
	for _, p := range points {
		if z.Contains(p) {
			return true
		}
	}
	return false
}

// Analysis is the per-frame zone intersection summary.
type Analysis struct {
	// Elevated is true when at least one detection is elevated in a zone.
	Elevated bool
	// TriggeredZones holds the IDs of zones with an elevated detection,
	// ordered by zone ID.
	TriggeredZones []string
}

// Analyze evaluates all detections of one frame against the zone set.
func Analyze(detections []model.Detection, frameHeight int, zones []Zone, minSizeRatio float64) Analysis {
	triggered := make(map[string]struct{})

	for _, det := range detections {
		height := det.Y2 - det.Y1
		if frameHeight <= 0 || float64(height)/float64(frameHeight) < minSizeRatio {
			continue
		}
		for _, zone := range zones {
			if zone.IntersectsBox(det) {
				triggered[zone.ID] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(triggered))
	for id := range triggered {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Analysis{
		Elevated:       len(ids) > 0,
		TriggeredZones: ids,
	}
}
