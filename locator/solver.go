package locator

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// maxNormalCond is the largest accepted condition number of the normal equations
	maxNormalCond = 1e8
	// minSpreadRatio is the smallest accepted ratio between the minor and major
	// eigenvalue of the beacon scatter matrix; below it the layout is treated as a line
	minSpreadRatio = 1e-4
	// centroidConfidenceCap bounds the confidence of every centroid fallback
	centroidConfidenceCap = 50.0
	maxStepHalvings       = 8
)

// Solver turns weighted range estimates into a raw 2D position
type Solver struct {
	minBeacons    int
	maxIterations int
	epsilon       float64
}

// NewSolver creates a solver from the engine config
func NewSolver(cfg EngineConfig) *Solver {
	return &Solver{
		minBeacons:    cfg.MinBeaconsForSolve,
		maxIterations: cfg.MaxIterations,
		epsilon:       cfg.ConvergenceEpsilon,
	}
}

// Solve estimates a position from the given distances.
// It returns false when there is nothing to solve from; a position is never fabricated.
//
// With fewer than minBeacons inputs, or when the beacon geometry cannot pin down
// a unique point, the weight-weighted centroid of the beacons is returned with
// confidence capped at 50. Otherwise a weighted Gauss-Newton refinement is run,
// seeded from that same centroid.
func (s *Solver) Solve(distances []WeightedDistance, timestampMs int64) (PositionEstimate, bool) {
	ds := usable(distances)
	if len(ds) == 0 {
		return PositionEstimate{}, false
	}

	cx, cy, meanWeight := weightedCentroid(ds)

	if len(ds) < s.minBeacons {
		n := float64(len(ds))
		full := float64(s.minBeacons - 1)
		conf := centroidConfidenceCap * math.Min(n, full) / full * (0.5 + 0.5*meanWeight)
		return s.centroidEstimate(ds, cx, cy, conf, MethodCentroid, timestampMs), true
	}

	degenerate := func() (PositionEstimate, bool) {
		conf := centroidConfidenceCap * (0.5 + 0.5*meanWeight)
		return s.centroidEstimate(ds, cx, cy, conf, MethodDegenerate, timestampMs), true
	}

	if collinear(ds) {
		return degenerate()
	}

	x, y, iterations, ok := s.gaussNewton(ds, cx, cy)
	if !ok {
		return degenerate()
	}

	rms := weightedRMS(ds, x, y)
	return PositionEstimate{
		X:           x,
		Y:           y,
		Confidence:  confidence(ds, x, y, rms),
		BeaconsUsed: len(ds),
		TimestampMs: timestampMs,
		Method:      MethodMultilateration,
		Residual:    rms,
		Iterations:  iterations,
	}, true
}

func (s *Solver) centroidEstimate(ds []WeightedDistance, x, y, conf float64, method SolveMethod, ts int64) PositionEstimate {
	return PositionEstimate{
		X:           x,
		Y:           y,
		Confidence:  clamp(conf, 0, centroidConfidenceCap),
		BeaconsUsed: len(ds),
		TimestampMs: ts,
		Method:      method,
		Residual:    weightedRMS(ds, x, y),
	}
}

// gaussNewton minimizes sum w_i (|P - B_i| - d_i)^2 starting at (x, y).
// It reports false when the normal equations become singular or ill-conditioned
// or the iterate leaves the finite range.
func (s *Solver) gaussNewton(ds []WeightedDistance, x, y float64) (float64, float64, int, bool) {
	var (
		normal = mat.NewSymDense(2, nil)
		grad   = mat.NewVecDense(2, nil)
		step   mat.VecDense
		chol   mat.Cholesky
	)

	cost := weightedCost(ds, x, y)
	iterations := 0

	for iterations < s.maxIterations {
		iterations++

		var a00, a01, a11, g0, g1 float64
		for _, d := range ds {
			dx := x - d.Position.X
			dy := y - d.Position.Y
			r := math.Hypot(dx, dy)
			if r < 1e-9 {
				continue // gradient undefined on top of a beacon
			}
			ux, uy := dx/r, dy/r
			res := r - d.DistanceMeters
			a00 += d.Weight * ux * ux
			a01 += d.Weight * ux * uy
			a11 += d.Weight * uy * uy
			g0 -= d.Weight * ux * res
			g1 -= d.Weight * uy * res
		}
		normal.SetSym(0, 0, a00)
		normal.SetSym(0, 1, a01)
		normal.SetSym(1, 1, a11)
		grad.SetVec(0, g0)
		grad.SetVec(1, g1)

		if ok := chol.Factorize(normal); !ok || chol.Cond() > maxNormalCond {
			return 0, 0, iterations, false
		}
		if err := chol.SolveVecTo(&step, grad); err != nil {
			return 0, 0, iterations, false
		}

		sx, sy := step.AtVec(0), step.AtVec(1)
		nx, ny := x+sx, y+sy
		nextCost := weightedCost(ds, nx, ny)
		for h := 0; h < maxStepHalvings && nextCost > cost; h++ {
			sx, sy = sx/2, sy/2
			nx, ny = x+sx, y+sy
			nextCost = weightedCost(ds, nx, ny)
		}

		if !isFinite(nx) || !isFinite(ny) {
			return 0, 0, iterations, false
		}

		x, y, cost = nx, ny, nextCost
		if math.Hypot(sx, sy) < s.epsilon {
			break
		}
	}

	return x, y, iterations, true
}

// collinear reports whether the beacons are coincident or lie on a line,
// using the eigenvalues of their scatter matrix
func collinear(ds []WeightedDistance) bool {
	n := float64(len(ds))
	xs := make([]float64, len(ds))
	ys := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = d.Position.X
		ys[i] = d.Position.Y
	}
	mx := floats.Sum(xs) / n
	my := floats.Sum(ys) / n
	floats.AddConst(-mx, xs)
	floats.AddConst(-my, ys)

	scatter := mat.NewSymDense(2, []float64{
		floats.Dot(xs, xs), floats.Dot(xs, ys),
		floats.Dot(xs, ys), floats.Dot(ys, ys),
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, false); !ok {
		return true
	}
	vals := eig.Values(nil) // ascending
	minor, major := vals[0], vals[1]
	if major < 1e-9 {
		return true
	}
	return minor/major < minSpreadRatio
}

// confidence scores a multilateration fix from beacon count, residual fit and
// bearing spread around the solution
func confidence(ds []WeightedDistance, x, y, rms float64) float64 {
	count := math.Min(float64(len(ds)), 4) / 4

	var meanDist float64
	for _, d := range ds {
		meanDist += d.DistanceMeters
	}
	meanDist /= float64(len(ds))
	residual := 0.0
	if meanDist > 0 {
		residual = 1 / (1 + 4*rms/meanDist)
	}

	var bx, by float64
	var bearings int
	for _, d := range ds {
		dx := d.Position.X - x
		dy := d.Position.Y - y
		r := math.Hypot(dx, dy)
		if r < 1e-9 {
			continue
		}
		bx += dx / r
		by += dy / r
		bearings++
	}
	geometry := 0.0
	if bearings > 0 {
		geometry = 1 - math.Hypot(bx, by)/float64(bearings)
	}

	score := 100 * (0.3*count + 0.4*residual + 0.3*geometry)
	if !isFinite(score) {
		return 0
	}
	return clamp(score, 0, 100)
}

func weightedCentroid(ds []WeightedDistance) (x, y, meanWeight float64) {
	var sw float64
	for _, d := range ds {
		sw += d.Weight
	}
	if sw <= 0 {
		for _, d := range ds {
			x += d.Position.X
			y += d.Position.Y
		}
		n := float64(len(ds))
		return x / n, y / n, 0
	}
	for _, d := range ds {
		x += d.Weight * d.Position.X
		y += d.Weight * d.Position.Y
	}
	return x / sw, y / sw, clamp(sw/float64(len(ds)), 0, 1)
}

func weightedCost(ds []WeightedDistance, x, y float64) float64 {
	var c float64
	for _, d := range ds {
		r := math.Hypot(x-d.Position.X, y-d.Position.Y) - d.DistanceMeters
		c += d.Weight * r * r
	}
	return c
}

func weightedRMS(ds []WeightedDistance, x, y float64) float64 {
	var sw float64
	for _, d := range ds {
		sw += d.Weight
	}
	if sw <= 0 {
		return 0
	}
	return math.Sqrt(weightedCost(ds, x, y) / sw)
}

// usable drops entries that cannot take part in a solve
func usable(distances []WeightedDistance) []WeightedDistance {
	out := make([]WeightedDistance, 0, len(distances))
	for _, d := range distances {
		if !isFinite(d.Position.X) || !isFinite(d.Position.Y) ||
			!isFinite(d.DistanceMeters) || !isFinite(d.Weight) || d.Weight < 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}
