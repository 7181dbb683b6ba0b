package locator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

var (
	// ErrDuplicateBeacon is returned when two registry entries share an id
	ErrDuplicateBeacon = errors.New("duplicate beacon id")
	// ErrNonFiniteBeacon is returned for NaN or infinite beacon coordinates or calibration
	ErrNonFiniteBeacon = errors.New("non-finite beacon value")
)

// Registry is the read-only set of known beacons
type Registry struct {
	beacons map[string]Beacon
	ids     []string // sorted
}

// NewRegistry validates the beacons and builds a registry.
// Duplicate ids, non-finite values and non-positive path-loss exponents fail fast.
func NewRegistry(beacons []Beacon) (*Registry, error) {
	r := &Registry{
		beacons: make(map[string]Beacon, len(beacons)),
		ids:     make([]string, 0, len(beacons)),
	}

	for i, b := range beacons {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: beacon[%d].id is required", ErrInvalidConfig, i)
		}
		if _, ok := r.beacons[b.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBeacon, b.ID)
		}
		if !isFinite(b.Position.X) || !isFinite(b.Position.Y) ||
			!isFinite(b.ReferenceRSSIAt1m) || !isFinite(b.PathLossExponent) {
			return nil, fmt.Errorf("%w: %s", ErrNonFiniteBeacon, b.ID)
		}
		if b.PathLossExponent <= 0 {
			return nil, fmt.Errorf("%w: beacon %s pathLossExponent must be > 0", ErrInvalidConfig, b.ID)
		}
		r.beacons[b.ID] = b
		r.ids = append(r.ids, b.ID)
	}

	sort.Strings(r.ids)
	return r, nil
}

// RegistryFromConfig builds beacons from config entries, filling missing
// calibration from the engine defaults
func RegistryFromConfig(entries []BeaconConfig, engine EngineConfig) (*Registry, error) {
	beacons := make([]Beacon, 0, len(entries))
	for _, bc := range entries {
		b := Beacon{
			ID:                bc.ID,
			Name:              bc.Name,
			Room:              bc.Room,
			Position:          Point{X: bc.X, Y: bc.Y},
			ReferenceRSSIAt1m: engine.ReferenceRSSIAt1m,
			PathLossExponent:  engine.PathLossExponent,
		}
		if bc.ReferenceRSSIAt1m != nil {
			b.ReferenceRSSIAt1m = *bc.ReferenceRSSIAt1m
		}
		if bc.PathLossExponent != nil {
			b.PathLossExponent = *bc.PathLossExponent
		}
		beacons = append(beacons, b)
	}
	return NewRegistry(beacons)
}

// Get returns the beacon with the given id
func (r *Registry) Get(id string) (Beacon, bool) {
	b, ok := r.beacons[id]
	return b, ok
}

// Len returns the number of registered beacons
func (r *Registry) Len() int {
	return len(r.ids)
}

// Beacons returns all beacons ordered by id
func (r *Registry) Beacons() []Beacon {
	out := make([]Beacon, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.beacons[id])
	}
	return out
}

// Bound returns the bounding rectangle of all beacon positions
func (r *Registry) Bound() orb.Bound {
	mp := make(orb.MultiPoint, 0, len(r.ids))
	for _, id := range r.ids {
		p := r.beacons[id].Position
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	return mp.Bound()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
