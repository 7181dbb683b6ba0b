package locator

import (
	"log"
	"sync"
)

// defaultColor is used for collars without a configured color
const defaultColor = "#FF0000"

// LivePosition is the published state of one collar
type LivePosition struct {
	CollarID    string   `json:"collarId"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	XPercent    float64  `json:"xPercent"`
	YPercent    float64  `json:"yPercent"`
	Confidence  int      `json:"confidence"`
	Valid       bool     `json:"valid"`
	TimestampMs int64    `json:"timestampMs"`
	TrackID     string   `json:"trackId,omitempty"`
	Color       string   `json:"color"`
	Zones       []string `json:"zones,omitempty"`
}

// CollarStats are the data-quality counters of one collar
type CollarStats struct {
	Cycles         int         `json:"cycles"`
	Estimates      int         `json:"estimates"`
	Fallbacks      int         `json:"fallbacks"`
	NoData         int         `json:"noData"`
	UnknownBeacons int         `json:"unknownBeacons"`
	TrackLosses    int         `json:"trackLosses"`
	Ingest         IngestStats `json:"ingest"`
	LastMethod     SolveMethod `json:"lastMethod,omitempty"`
	LastResidual   float64     `json:"lastResidual"`
}

// collarTrack is the state owned by one collar. mu serializes every filter access.
type collarTrack struct {
	mu     sync.Mutex
	filter *SmoothingFilter
	stats  CollarStats
	last   LivePosition
}

// Tracker hosts the engine for many collars: one filter per collar behind its
// own lock, plus fan-out of position updates to subscribers
type Tracker struct {
	engine *Engine
	mapper *CoordinateMapper
	zones  *ZoneTracker

	mu     sync.RWMutex
	tracks map[string]*collarTrack
	colors map[string]string

	subMu   sync.Mutex
	subs    map[int]chan LivePosition
	nextSub int
}

// NewTracker creates a tracker. mapper and zones may be nil.
func NewTracker(engine *Engine, mapper *CoordinateMapper, zones *ZoneTracker) *Tracker {
	return &Tracker{
		engine: engine,
		mapper: mapper,
		zones:  zones,
		tracks: make(map[string]*collarTrack),
		colors: make(map[string]string),
		subs:   make(map[int]chan LivePosition),
	}
}

// Engine returns the engine the tracker runs
func (t *Tracker) Engine() *Engine {
	return t.engine
}

// Mapper returns the floor plan mapper, or nil
func (t *Tracker) Mapper() *CoordinateMapper {
	return t.mapper
}

// Zones returns the zone tracker, or nil
func (t *Tracker) Zones() *ZoneTracker {
	return t.zones
}

// SetColor sets the display color for a collar
func (t *Tracker) SetColor(collarID, hexColor string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.colors[collarID] = hexColor
}

func (t *Tracker) track(collarID string) *collarTrack {
	t.mu.RLock()
	ct, ok := t.tracks[collarID]
	t.mu.RUnlock()
	if ok {
		return ct
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ct, ok := t.tracks[collarID]; ok {
		return ct
	}
	ct = &collarTrack{filter: t.engine.NewFilter()}
	t.tracks[collarID] = ct
	return ct
}

func (t *Tracker) color(collarID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c := t.colors[collarID]; c != "" {
		return c
	}
	return defaultColor
}

// Process runs one update cycle for the collar and returns its new live
// position together with any zone boundary crossings
func (t *Tracker) Process(collarID string, observations []BeaconObservation, nowMs int64) (LivePosition, []ZoneEvent) {
	ct := t.track(collarID)
	color := t.color(collarID)

	ct.mu.Lock()
	prevTrack := ct.filter.TrackID()
	wasValid := ct.last.Valid

	pos, report := t.engine.Update(ct.filter, observations, nowMs)

	ct.stats.Cycles++
	ct.stats.Ingest.Add(report.Ingest)
	ct.stats.UnknownBeacons += report.UnknownBeacons
	if report.Estimate != nil {
		ct.stats.Estimates++
		ct.stats.LastMethod = report.Estimate.Method
		ct.stats.LastResidual = report.Estimate.Residual
		if report.Estimate.Method != MethodMultilateration {
			ct.stats.Fallbacks++
		}
	} else {
		ct.stats.NoData++
	}
	if wasValid && !pos.Valid {
		ct.stats.TrackLosses++
	}

	var events []ZoneEvent
	if t.zones != nil {
		events = t.zones.Update(collarID, pos)
	}
	live := t.livePosition(collarID, color, pos)
	ct.last = live
	ct.mu.Unlock()

	switch {
	case pos.Valid && pos.TrackID != prevTrack:
		log.Printf("[TRACK] %s: tracking (track %s, confidence %d)", collarID, pos.TrackID, pos.Confidence)
	case wasValid && !pos.Valid:
		log.Printf("[TRACK] %s: lost", collarID)
	}
	if report.Ingest.InvalidReadings > 0 || report.UnknownBeacons > 0 {
		log.Printf("[TRACK] %s: dropped %d invalid readings, %d unknown beacons",
			collarID, report.Ingest.InvalidReadings, report.UnknownBeacons)
	}
	for _, ev := range events {
		log.Printf("[ZONE] %s %s %s (%s)", collarID, ev.Event, ev.ZoneName, ev.ZoneType)
	}

	t.broadcast(live)
	return live, events
}

// Sweep ages every filter to nowMs and returns the collars whose track was
// lost by it
func (t *Tracker) Sweep(nowMs int64) []LivePosition {
	t.mu.RLock()
	ids := make([]string, 0, len(t.tracks))
	tracks := make([]*collarTrack, 0, len(t.tracks))
	for id, ct := range t.tracks {
		ids = append(ids, id)
		tracks = append(tracks, ct)
	}
	t.mu.RUnlock()

	var lost []LivePosition
	for i, ct := range tracks {
		color := t.color(ids[i])
		ct.mu.Lock()
		if ct.filter.Phase() != PhaseTracking {
			ct.mu.Unlock()
			continue
		}
		pos := ct.filter.Tick(nowMs)
		if pos.Valid {
			ct.mu.Unlock()
			continue
		}
		ct.stats.TrackLosses++
		live := t.livePosition(ids[i], color, pos)
		ct.last = live
		ct.mu.Unlock()

		log.Printf("[TRACK] %s: lost after %dms without estimate", ids[i], nowMs-pos.TimestampMs)
		t.broadcast(live)
		lost = append(lost, live)
	}
	return lost
}

func (t *Tracker) livePosition(collarID, color string, pos SmoothedPosition) LivePosition {
	live := LivePosition{
		CollarID:    collarID,
		X:           pos.X,
		Y:           pos.Y,
		Confidence:  pos.Confidence,
		Valid:       pos.Valid,
		TimestampMs: pos.TimestampMs,
		TrackID:     pos.TrackID,
		Color:       color,
	}
	if t.mapper != nil {
		pct := t.mapper.ToPercent(Point{X: pos.X, Y: pos.Y})
		live.XPercent, live.YPercent = pct.X, pct.Y
	}
	if t.zones != nil && pos.Valid {
		live.Zones = t.zones.Memberships(collarID)
	}
	return live
}

// GetPositions returns a copy of every collar's last live position
func (t *Tracker) GetPositions() map[string]*LivePosition {
	t.mu.RLock()
	tracks := make(map[string]*collarTrack, len(t.tracks))
	for id, ct := range t.tracks {
		tracks[id] = ct
	}
	t.mu.RUnlock()

	result := make(map[string]*LivePosition, len(tracks))
	for id, ct := range tracks {
		ct.mu.Lock()
		p := ct.last
		ct.mu.Unlock()
		p.Zones = append([]string(nil), p.Zones...)
		result[id] = &p
	}
	return result
}

// GetPosition returns a copy of one collar's last live position
func (t *Tracker) GetPosition(collarID string) (*LivePosition, bool) {
	t.mu.RLock()
	ct, ok := t.tracks[collarID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	p := ct.last
	p.Zones = append([]string(nil), p.Zones...)
	return &p, true
}

// Stats returns the data-quality counters of one collar
func (t *Tracker) Stats(collarID string) (CollarStats, bool) {
	t.mu.RLock()
	ct, ok := t.tracks[collarID]
	t.mu.RUnlock()
	if !ok {
		return CollarStats{}, false
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.stats, true
}

// Subscribe returns a channel receiving every live position update and a
// cancel function closing it. Slow subscribers miss updates instead of
// blocking the tracker.
func (t *Tracker) Subscribe(buffer int) (<-chan LivePosition, func()) {
	ch := make(chan LivePosition, buffer)

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (t *Tracker) broadcast(p LivePosition) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
