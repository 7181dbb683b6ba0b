package locator

import "fmt"

// CycleReport describes what happened during one update cycle
type CycleReport struct {
	Ingest         IngestStats        `json:"ingest"`
	UnknownBeacons int                `json:"unknownBeacons"`
	Distances      []WeightedDistance `json:"distances,omitempty"`
	Estimate       *PositionEstimate  `json:"estimate,omitempty"`
}

// Engine runs the ingest -> distance -> solve -> smooth pipeline.
// It holds no per-collar state; every call gets the filter of the collar it is for.
type Engine struct {
	cfg       EngineConfig
	registry  *Registry
	ingest    *Ingest
	estimator *DistanceEstimator
	solver    *Solver
}

// NewEngine validates the configuration and builds an engine
func NewEngine(cfg EngineConfig, registry *Registry) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: beacon registry is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		ingest:    NewIngest(cfg),
		estimator: NewDistanceEstimator(cfg),
		solver:    NewSolver(cfg),
	}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Registry returns the beacon registry
func (e *Engine) Registry() *Registry {
	return e.registry
}

// NewFilter returns a fresh smoothing filter configured for this engine
func (e *Engine) NewFilter() *SmoothingFilter {
	return NewSmoothingFilter(e.cfg)
}

// Estimate produces a raw position from one batch of observations.
// The bool is false when no usable beacon remained.
func (e *Engine) Estimate(observations []BeaconObservation, nowMs int64) (PositionEstimate, CycleReport, bool) {
	res := e.ingest.Filter(observations, nowMs)
	report := CycleReport{Ingest: res.Stats}

	distances := make([]WeightedDistance, 0, len(res.Observations))
	for _, obs := range res.Observations {
		b, ok := e.registry.Get(obs.BeaconID)
		if !ok {
			report.UnknownBeacons++
			continue
		}
		distances = append(distances, e.estimator.Estimate(obs, b, nowMs))
	}
	report.Distances = distances

	est, ok := e.solver.Solve(distances, nowMs)
	if ok {
		report.Estimate = &est
	}
	return est, report, ok
}

// Update runs one full cycle for a single collar and advances its filter.
// Without a raw estimate the filter only ages, so an idle collar goes LOST
// after lostTrackTimeoutMs.
func (e *Engine) Update(filter *SmoothingFilter, observations []BeaconObservation, nowMs int64) (SmoothedPosition, CycleReport) {
	est, report, ok := e.Estimate(observations, nowMs)
	if !ok {
		return filter.Tick(nowMs), report
	}
	return filter.Update(est), report
}
