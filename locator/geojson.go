package locator

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds written to the "kind" property
const (
	KindBeacon    = "beacon"
	KindZone      = "zone"
	KindCollar    = "collar"
	KindFloorPlan = "floorplan"
)

// BuildFeatureCollection exports the floor plan, beacons, zones and live collar
// positions as GeoJSON in engine meters. Any argument except registry may be nil.
func BuildFeatureCollection(registry *Registry, zones *ZoneTracker, mapper *CoordinateMapper, positions map[string]*LivePosition) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if mapper != nil {
		f := geojson.NewFeature(mapper.Bounds().ToPolygon())
		f.ID = "floorplan"
		f.Properties["kind"] = KindFloorPlan
		fc.Append(f)
	}

	for _, b := range registry.Beacons() {
		f := geojson.NewFeature(orb.Point{b.Position.X, b.Position.Y})
		f.ID = b.ID
		f.Properties["kind"] = KindBeacon
		f.Properties["referenceRssiAt1m"] = b.ReferenceRSSIAt1m
		f.Properties["pathLossExponent"] = b.PathLossExponent
		if b.Name != "" {
			f.Properties["name"] = b.Name
		}
		if b.Room != "" {
			f.Properties["room"] = b.Room
		}
		fc.Append(f)
	}

	if zones != nil {
		for _, z := range zones.Zones() {
			f := geojson.NewFeature(z.Polygon())
			f.ID = z.ID
			f.Properties["kind"] = KindZone
			f.Properties["name"] = z.Name
			f.Properties["zoneType"] = z.Type
			f.Properties["shape"] = z.Shape
			if z.Shape == ShapeCircle {
				f.Properties["radius"] = z.Radius
			}
			fc.Append(f)
		}
	}

	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := positions[id]
		if p == nil || p.TrackID == "" {
			continue // never had a fix
		}
		f := geojson.NewFeature(orb.Point{p.X, p.Y})
		f.ID = id
		f.Properties["kind"] = KindCollar
		f.Properties["confidence"] = p.Confidence
		f.Properties["valid"] = p.Valid
		f.Properties["timestampMs"] = p.TimestampMs
		f.Properties["trackId"] = p.TrackID
		f.Properties["color"] = p.Color
		if len(p.Zones) > 0 {
			f.Properties["zones"] = p.Zones
		}
		fc.Append(f)
	}

	return fc
}
