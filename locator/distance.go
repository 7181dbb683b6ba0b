package locator

import "math"

// DistanceEstimator converts RSSI samples into weighted range estimates
// using the log-distance path loss model
type DistanceEstimator struct {
	minDistance float64
	maxDistance float64
	weightFloor float64
	minRSSI     float64
	staleMs     int64
}

// NewDistanceEstimator creates an estimator from the engine config
func NewDistanceEstimator(cfg EngineConfig) *DistanceEstimator {
	return &DistanceEstimator{
		minDistance: cfg.MinDistance,
		maxDistance: cfg.MaxDistance,
		weightFloor: cfg.WeightFloor,
		minRSSI:     float64(cfg.MinRSSI),
		staleMs:     cfg.StaleObservationMs,
	}
}

// RSSIToDistance applies d = 10^((ref - rssi) / (10 n)) without clamping
func RSSIToDistance(rssi, referenceRSSIAt1m, pathLossExponent float64) float64 {
	return math.Pow(10, (referenceRSSIAt1m-rssi)/(10*pathLossExponent))
}

// Estimate returns the clamped distance to the beacon and its weight at nowMs
func (e *DistanceEstimator) Estimate(obs BeaconObservation, b Beacon, nowMs int64) WeightedDistance {
	d := RSSIToDistance(float64(obs.RSSI), b.ReferenceRSSIAt1m, b.PathLossExponent)
	d = clamp(d, e.minDistance, e.maxDistance)

	return WeightedDistance{
		BeaconID:       obs.BeaconID,
		Position:       b.Position,
		DistanceMeters: d,
		Weight:         e.weight(float64(obs.RSSI), b.ReferenceRSSIAt1m, nowMs-obs.TimestampMs),
	}
}

// weight combines signal strength and sample age into [floor, 1].
// Signal rises linearly from the floor at minRSSI to 1 at the 1 m reference;
// freshness falls linearly from 1 to 0 as age reaches the staleness window.
func (e *DistanceEstimator) weight(rssi, reference float64, ageMs int64) float64 {
	signal := 1.0
	if span := reference - e.minRSSI; span > 0 {
		signal = clamp((rssi-e.minRSSI)/span, 0, 1)
	}
	signal = e.weightFloor + (1-e.weightFloor)*signal

	if ageMs < 0 {
		ageMs = 0
	}
	freshness := 1.0
	if e.staleMs > 0 {
		freshness = clamp(1-float64(ageMs)/float64(e.staleMs), 0, 1)
	}

	return math.Max(e.weightFloor, signal*freshness)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
