package locator

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Zone shapes
const (
	ShapeCircle    = "circle"
	ShapeRectangle = "rectangle"
	ShapePolygon   = "polygon"
)

// Zone event kinds
const (
	ZoneEntered = "entered"
	ZoneExited  = "exited"
)

const (
	// circleSegments is the vertex count used when a circle is exported as a polygon
	circleSegments = 32
	// outlineTolerance drops polygon vertices closer than this to the outline, in meters
	outlineTolerance = 0.01
)

// Zone is a named area of the floor plan
type Zone struct {
	ID     string
	Name   string
	Type   string
	Shape  string
	Center Point
	Radius float64
	// polygon holds the outline of rectangle and polygon zones
	polygon orb.Polygon
}

// NewZone builds a zone from its config entry
func NewZone(zc ZoneConfig) (Zone, error) {
	z := Zone{ID: zc.ID, Name: zc.Name, Type: zc.Type, Shape: zc.Shape}
	if z.Name == "" {
		z.Name = zc.ID
	}
	if z.Type == "" {
		z.Type = "safe"
	}

	switch zc.Shape {
	case ShapeCircle:
		if zc.Center == nil || zc.Radius <= 0 {
			return Zone{}, fmt.Errorf("%w: zone %s: circle needs center and radius > 0", ErrInvalidConfig, zc.ID)
		}
		z.Center = *zc.Center
		z.Radius = zc.Radius

	case ShapeRectangle:
		if zc.Center == nil || zc.Width <= 0 || zc.Height <= 0 {
			return Zone{}, fmt.Errorf("%w: zone %s: rectangle needs center, width and height", ErrInvalidConfig, zc.ID)
		}
		z.Center = *zc.Center
		hw, hh := zc.Width/2, zc.Height/2
		b := orb.Bound{
			Min: orb.Point{z.Center.X - hw, z.Center.Y - hh},
			Max: orb.Point{z.Center.X + hw, z.Center.Y + hh},
		}
		z.polygon = b.ToPolygon()

	case ShapePolygon:
		if len(zc.Points) < 3 {
			return Zone{}, fmt.Errorf("%w: zone %s: polygon needs at least 3 points", ErrInvalidConfig, zc.ID)
		}
		ring := make(orb.Ring, 0, len(zc.Points)+1)
		for _, p := range zc.Points {
			ring = append(ring, orb.Point{p[0], p[1]})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		z.polygon = orb.Polygon{ring}
		if simplified, ok := simplify.DouglasPeucker(outlineTolerance).Simplify(z.polygon.Clone()).(orb.Polygon); ok &&
			len(simplified) > 0 && len(simplified[0]) >= 4 {
			z.polygon = simplified
		}
		c, _ := planar.CentroidArea(z.polygon)
		z.Center = Point{X: c[0], Y: c[1]}

	default:
		return Zone{}, fmt.Errorf("%w: zone %s: unknown shape %q", ErrInvalidConfig, zc.ID, zc.Shape)
	}

	return z, nil
}

// Contains reports whether p lies inside the zone
func (z Zone) Contains(p Point) bool {
	if z.Shape == ShapeCircle {
		return math.Hypot(p.X-z.Center.X, p.Y-z.Center.Y) <= z.Radius
	}
	return planar.PolygonContains(z.polygon, orb.Point{p.X, p.Y})
}

// Polygon returns the zone outline; circles are approximated
func (z Zone) Polygon() orb.Polygon {
	if z.Shape != ShapeCircle {
		return z.polygon
	}
	ring := make(orb.Ring, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		ring = append(ring, orb.Point{z.Center.X + z.Radius*math.Cos(a), z.Center.Y + z.Radius*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// ZoneEvent is emitted when a collar crosses a zone boundary
type ZoneEvent struct {
	CollarID    string  `json:"collarId"`
	ZoneID      string  `json:"zoneId"`
	ZoneName    string  `json:"zoneName"`
	ZoneType    string  `json:"zoneType"`
	Event       string  `json:"event"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TimestampMs int64   `json:"timestampMs"`
}

// ZoneTracker keeps the zone membership of every collar
type ZoneTracker struct {
	zones []Zone

	mu     sync.Mutex
	inside map[string]map[string]bool // collarID -> zoneID -> inside
}

// NewZoneTracker builds zones from config; an empty list is valid
func NewZoneTracker(configs []ZoneConfig) (*ZoneTracker, error) {
	zt := &ZoneTracker{inside: make(map[string]map[string]bool)}
	seen := make(map[string]bool, len(configs))
	for _, zc := range configs {
		if seen[zc.ID] {
			return nil, fmt.Errorf("%w: duplicate zone id %s", ErrInvalidConfig, zc.ID)
		}
		seen[zc.ID] = true
		z, err := NewZone(zc)
		if err != nil {
			return nil, err
		}
		zt.zones = append(zt.zones, z)
	}
	return zt, nil
}

// Zones returns the configured zones
func (zt *ZoneTracker) Zones() []Zone {
	return zt.zones
}

// Locate returns the ids of all zones containing p, in config order
func (zt *ZoneTracker) Locate(p Point) []string {
	var ids []string
	for _, z := range zt.zones {
		if z.Contains(p) {
			ids = append(ids, z.ID)
		}
	}
	return ids
}

// Update records the collar's new position and returns the boundary crossings.
// Invalid positions never change membership.
func (zt *ZoneTracker) Update(collarID string, pos SmoothedPosition) []ZoneEvent {
	if !pos.Valid || len(zt.zones) == 0 {
		return nil
	}

	zt.mu.Lock()
	defer zt.mu.Unlock()

	state, ok := zt.inside[collarID]
	if !ok {
		state = make(map[string]bool, len(zt.zones))
		zt.inside[collarID] = state
	}

	p := Point{X: pos.X, Y: pos.Y}
	var events []ZoneEvent
	for _, z := range zt.zones {
		now := z.Contains(p)
		if now == state[z.ID] {
			continue
		}
		state[z.ID] = now
		kind := ZoneExited
		if now {
			kind = ZoneEntered
		}
		events = append(events, ZoneEvent{
			CollarID:    collarID,
			ZoneID:      z.ID,
			ZoneName:    z.Name,
			ZoneType:    z.Type,
			Event:       kind,
			X:           pos.X,
			Y:           pos.Y,
			TimestampMs: pos.TimestampMs,
		})
	}
	return events
}

// Memberships returns the sorted ids of the zones the collar is currently in
func (zt *ZoneTracker) Memberships(collarID string) []string {
	zt.mu.Lock()
	defer zt.mu.Unlock()

	var ids []string
	for id, in := range zt.inside[collarID] {
		if in {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
