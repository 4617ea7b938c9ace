// Package scoring computes the dynamic per-problem point value. The value
// decays as more distinct users solve a problem; awards are snapshotted at
// acceptance time and never recomputed.
package scoring

// Engine holds the decay parameters. Alpha controls how fast points fall
// off; MinPoints is the floor every problem bottoms out at.
type Engine struct {
	Alpha     float64
	MinPoints float64
}

func NewEngine(alpha, minPoints float64) *Engine {
	if alpha <= 0 {
		alpha = 10
	}
	if minPoints < 1 {
		minPoints = 1
	}
	return &Engine{Alpha: alpha, MinPoints: minPoints}
}

// Points returns the current value of a problem with basePoints and solvers
// distinct accepted users:
//
//	P = max(MinPoints, basePoints / (1 + solvers/Alpha))
//
// decay(0) = 1, and the curve is non-increasing in the solver count.
func (e *Engine) Points(basePoints float64, solvers int) float64 {
	if solvers < 0 {
		solvers = 0
	}
	p := basePoints / (1 + float64(solvers)/e.Alpha)
	if p < e.MinPoints {
		return e.MinPoints
	}
	return p
}
