package locator

import (
	"math"
	"testing"
)

func TestRSSIToDistance(t *testing.T) {
	tests := []struct {
		name string
		rssi float64
		want float64
	}{
		{"at reference", -59, 1.0},
		{"six dB down", -65, 1.995},
		{"twenty dB down", -79, 10.0},
		{"stronger than reference", -49, 0.316},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RSSIToDistance(tt.rssi, -59, 2.0)
			if math.Abs(got-tt.want)/tt.want > 0.01 {
				t.Errorf("RSSIToDistance(%v) = %v, want %v within 1%%", tt.rssi, got, tt.want)
			}
		})
	}
}

func TestDistanceEstimator_Clamp(t *testing.T) {
	cfg := DefaultEngineConfig()
	e := NewDistanceEstimator(cfg)
	b := Beacon{ID: "a", ReferenceRSSIAt1m: -59, PathLossExponent: 2}

	near := e.Estimate(BeaconObservation{BeaconID: "a", RSSI: -20, TimestampMs: 0}, b, 0)
	if near.DistanceMeters != cfg.MinDistance {
		t.Errorf("near distance = %v, want clamp to %v", near.DistanceMeters, cfg.MinDistance)
	}

	far := e.Estimate(BeaconObservation{BeaconID: "a", RSSI: -100, TimestampMs: 0}, b, 0)
	if far.DistanceMeters != cfg.MaxDistance {
		t.Errorf("far distance = %v, want clamp to %v", far.DistanceMeters, cfg.MaxDistance)
	}
}

func TestDistanceEstimator_CarriesBeacon(t *testing.T) {
	e := NewDistanceEstimator(DefaultEngineConfig())
	b := Beacon{ID: "hall", Position: Point{X: 4, Y: 2}, ReferenceRSSIAt1m: -59, PathLossExponent: 2}

	wd := e.Estimate(BeaconObservation{BeaconID: "hall", RSSI: -65, TimestampMs: 1000}, b, 1000)
	if wd.BeaconID != "hall" || wd.Position != b.Position {
		t.Errorf("Estimate() = %+v, want beacon id and position carried through", wd)
	}
	if math.Abs(wd.DistanceMeters-1.995) > 0.02 {
		t.Errorf("DistanceMeters = %v, want ~1.995", wd.DistanceMeters)
	}
}

func TestDistanceEstimator_Weight(t *testing.T) {
	cfg := DefaultEngineConfig()
	e := NewDistanceEstimator(cfg)
	b := Beacon{ID: "a", ReferenceRSSIAt1m: -59, PathLossExponent: 2}
	now := int64(100000)

	estimate := func(rssi int, ageMs int64) float64 {
		return e.Estimate(BeaconObservation{BeaconID: "a", RSSI: rssi, TimestampMs: now - ageMs}, b, now).Weight
	}

	if w := estimate(-59, 0); math.Abs(w-1) > 1e-9 {
		t.Errorf("fresh reference-strength weight = %v, want 1", w)
	}
	if w := estimate(-59, cfg.StaleObservationMs); w != cfg.WeightFloor {
		t.Errorf("weight at stale age = %v, want floor %v", w, cfg.WeightFloor)
	}
	if w := estimate(-59, -5000); math.Abs(w-1) > 1e-9 {
		t.Errorf("future sample weight = %v, want treated as age 0", w)
	}

	if strong, weak := estimate(-60, 0), estimate(-85, 0); strong <= weak {
		t.Errorf("stronger signal weight %v should exceed weaker %v", strong, weak)
	}
	if fresh, old := estimate(-70, 0), estimate(-70, 5000); fresh <= old {
		t.Errorf("fresh weight %v should exceed older %v", fresh, old)
	}

	for rssi := cfg.MinRSSI; rssi <= cfg.MaxRSSI; rssi += 5 {
		for age := int64(0); age <= 2*cfg.StaleObservationMs; age += 2500 {
			w := estimate(rssi, age)
			if w < cfg.WeightFloor || w > 1 {
				t.Fatalf("weight(%d, %d) = %v outside [%v, 1]", rssi, age, w, cfg.WeightFloor)
			}
		}
	}
}
