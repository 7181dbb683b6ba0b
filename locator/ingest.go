package locator

import "sort"

// IngestStats counts what happened to a batch of raw samples
type IngestStats struct {
	Received        int `json:"received"`
	Accepted        int `json:"accepted"`
	InvalidReadings int `json:"invalidReadings"`
	Duplicates      int `json:"duplicates"`
	Stale           int `json:"stale"`
}

// Add accumulates another batch's counters
func (s *IngestStats) Add(o IngestStats) {
	s.Received += o.Received
	s.Accepted += o.Accepted
	s.InvalidReadings += o.InvalidReadings
	s.Duplicates += o.Duplicates
	s.Stale += o.Stale
}

// IngestResult holds the usable observations of one cycle
type IngestResult struct {
	Observations []BeaconObservation
	Stats        IngestStats
}

// Ingest normalizes raw scan batches: plausibility window, per-beacon
// dedupe and staleness cut-off
type Ingest struct {
	minRSSI int
	maxRSSI int
	staleMs int64
}

// NewIngest creates an ingest stage from the engine config
func NewIngest(cfg EngineConfig) *Ingest {
	return &Ingest{
		minRSSI: cfg.MinRSSI,
		maxRSSI: cfg.MaxRSSI,
		staleMs: cfg.StaleObservationMs,
	}
}

// Filter returns the freshest plausible sample per beacon, ordered by beacon id.
// Implausible and stale samples are dropped and counted, never reported as errors.
func (in *Ingest) Filter(batch []BeaconObservation, nowMs int64) IngestResult {
	stats := IngestStats{Received: len(batch)}
	latest := make(map[string]BeaconObservation, len(batch))

	for _, obs := range batch {
		if obs.BeaconID == "" || obs.RSSI < in.minRSSI || obs.RSSI > in.maxRSSI {
			stats.InvalidReadings++
			continue
		}
		if prev, ok := latest[obs.BeaconID]; ok {
			stats.Duplicates++
			if obs.TimestampMs <= prev.TimestampMs {
				continue
			}
		}
		latest[obs.BeaconID] = obs
	}

	out := make([]BeaconObservation, 0, len(latest))
	for _, obs := range latest {
		if nowMs-obs.TimestampMs > in.staleMs {
			stats.Stale++
			continue
		}
		out = append(out, obs)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BeaconID < out[j].BeaconID })
	stats.Accepted = len(out)

	return IngestResult{Observations: out, Stats: stats}
}
