package locator

import (
	"math"

	"github.com/google/uuid"
)

// TrackPhase is the state of a smoothing filter
type TrackPhase int

const (
	PhaseLost TrackPhase = iota
	PhaseTracking
)

func (p TrackPhase) String() string {
	switch p {
	case PhaseTracking:
		return "TRACKING"
	default:
		return "LOST"
	}
}

// snapDistance is how close the smoothed position has to get before it is set to the raw value
const snapDistance = 0.001

// estimateRing is a fixed-size ring of the most recent raw estimates
type estimateRing struct {
	values  []PositionEstimate
	counter int
}

func newEstimateRing(size int) *estimateRing {
	if size < 1 {
		size = 1
	}
	return &estimateRing{values: make([]PositionEstimate, size)}
}

func (r *estimateRing) add(e PositionEstimate) {
	r.values[r.counter%len(r.values)] = e
	r.counter++
}

func (r *estimateRing) len() int {
	if r.counter < len(r.values) {
		return r.counter
	}
	return len(r.values)
}

// items returns the buffered estimates, oldest first
func (r *estimateRing) items() []PositionEstimate {
	n := r.len()
	out := make([]PositionEstimate, 0, n)
	start := r.counter - n
	for i := start; i < r.counter; i++ {
		out = append(out, r.values[i%len(r.values)])
	}
	return out
}

func (r *estimateRing) clear() {
	r.counter = 0
}

// SmoothingFilter stabilizes the raw estimates of one tracked collar.
// It is not safe for concurrent use; the owner must serialize access.
type SmoothingFilter struct {
	alpha         float64
	maxSpeedMps   float64
	lostTimeoutMs int64

	phase     TrackPhase
	seeded    bool
	x, y      float64
	conf      float64
	updatedMs int64 // timestamp of the last accepted raw estimate
	trackID   string
	history   *estimateRing
}

// NewSmoothingFilter creates a filter in the LOST phase
func NewSmoothingFilter(cfg EngineConfig) *SmoothingFilter {
	return &SmoothingFilter{
		alpha:         cfg.SmoothingAlpha,
		maxSpeedMps:   cfg.MaxSpeedMps,
		lostTimeoutMs: cfg.LostTrackTimeoutMs,
		history:       newEstimateRing(cfg.HistorySize),
	}
}

// Update feeds one raw estimate and returns the new smoothed position.
// Estimates older than the last accepted one are ignored.
func (f *SmoothingFilter) Update(est PositionEstimate) SmoothedPosition {
	if f.phase == PhaseTracking {
		if est.TimestampMs < f.updatedMs {
			return f.Current()
		}
		if est.TimestampMs-f.updatedMs > f.lostTimeoutMs {
			f.phase = PhaseLost
		}
	}

	if f.phase == PhaseLost {
		f.seed(est)
		return f.Current()
	}

	elapsed := float64(est.TimestampMs-f.updatedMs) / 1000
	rx, ry := est.X, est.Y

	maxStep := f.maxSpeedMps * elapsed
	if dist := math.Hypot(rx-f.x, ry-f.y); dist > maxStep {
		if dist > 0 {
			scale := maxStep / dist
			rx = f.x + (rx-f.x)*scale
			ry = f.y + (ry-f.y)*scale
		}
	}

	nx := f.alpha*rx + (1-f.alpha)*f.x
	ny := f.alpha*ry + (1-f.alpha)*f.y
	if math.Hypot(rx-nx, ry-ny) < snapDistance {
		nx, ny = rx, ry
	}

	f.x, f.y = nx, ny
	f.conf = f.alpha*est.Confidence + (1-f.alpha)*f.conf
	f.updatedMs = est.TimestampMs
	f.history.add(est)

	return f.Current()
}

func (f *SmoothingFilter) seed(est PositionEstimate) {
	f.phase = PhaseTracking
	f.seeded = true
	f.x, f.y = est.X, est.Y
	f.conf = est.Confidence
	f.updatedMs = est.TimestampMs
	f.trackID = uuid.NewString()
	f.history.clear()
	f.history.add(est)
}

// Tick advances the clock without a new estimate and marks the track lost
// once lostTrackTimeoutMs has passed since the last raw estimate
func (f *SmoothingFilter) Tick(nowMs int64) SmoothedPosition {
	if f.phase == PhaseTracking && nowMs-f.updatedMs > f.lostTimeoutMs {
		f.phase = PhaseLost
	}
	return f.Current()
}

// Current returns the smoothed position without advancing the filter
func (f *SmoothingFilter) Current() SmoothedPosition {
	if !f.seeded {
		return SmoothedPosition{}
	}
	return SmoothedPosition{
		X:           f.x,
		Y:           f.y,
		Confidence:  int(math.Round(clamp(f.conf, 0, 100))),
		Valid:       f.phase == PhaseTracking,
		TimestampMs: f.updatedMs,
		TrackID:     f.trackID,
	}
}

// Phase returns the current state machine phase
func (f *SmoothingFilter) Phase() TrackPhase {
	return f.phase
}

// TrackID returns the id of the current track; it changes on every re-seed
func (f *SmoothingFilter) TrackID() string {
	return f.trackID
}

// History returns the buffered raw estimates of the current track, oldest first
func (f *SmoothingFilter) History() []PositionEstimate {
	return f.history.items()
}

// Velocity estimates the raw velocity in m/s from the oldest and newest buffered estimates
func (f *SmoothingFilter) Velocity() (vx, vy float64, ok bool) {
	items := f.history.items()
	if len(items) < 2 {
		return 0, 0, false
	}
	first, last := items[0], items[len(items)-1]
	dt := float64(last.TimestampMs-first.TimestampMs) / 1000
	if dt <= 0 {
		return 0, 0, false
	}
	return (last.X - first.X) / dt, (last.Y - first.Y) / dt, true
}

// Reset drops all state; the next estimate starts a new track
func (f *SmoothingFilter) Reset() {
	f.phase = PhaseLost
	f.seeded = false
	f.x, f.y, f.conf = 0, 0, 0
	f.updatedMs = 0
	f.trackID = ""
	f.history.clear()
}
