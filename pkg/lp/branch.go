package lp

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	// integralityTol is how far from an integer a relaxed value may be and
	// still count as integral.
	integralityTol = 1e-6
	// boundTol guards against pruning a node whose relaxation ties the
	// incumbent to within solver noise.
	boundTol = 1e-9
	// defaultNodeLimit bounds the branch and bound search. The planning
	// models stay far below this; hitting it means something is wrong with
	// the model and the solve fails rather than spinning.
	defaultNodeLimit = 50000
)

type node struct {
	lower []float64
	upper []float64
}

// Solve finds an optimal assignment for the problem, branching on fractional
// integer variables. The returned error is nil exactly when the solution
// status is StatusOptimal; infeasible and unbounded problems return
// ErrInfeasible and ErrUnbounded, and cancellation of ctx aborts the solve
// with an error wrapping ErrAborted.
func (p *Problem) Solve(ctx context.Context) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{Status: StatusAborted}, err
	}

	lower := make([]float64, len(p.vars))
	upper := make([]float64, len(p.vars))
	for i, v := range p.vars {
		lower[i] = v.lower
		upper[i] = v.upper
	}

	root, err := p.solveRelaxation(ctx, lower, upper)
	if err != nil {
		return root, err
	}
	if p.fractionalVar(root.Values) < 0 {
		return root, nil
	}

	// depth-first dive with best-bound pruning
	stack := []node{{lower: lower, upper: upper}}
	var incumbent *Solution
	nodes := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Solution{Status: StatusAborted}, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		nodes++
		if nodes > defaultNodeLimit {
			return Solution{Status: StatusAborted}, ErrNodeLimit
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		relax, err := p.solveRelaxation(ctx, nd.lower, nd.upper)
		if err != nil {
			if errors.Is(err, ErrInfeasible) {
				continue
			}
			// an unbounded or failed subproblem poisons the whole solve
			return relax, err
		}
		if incumbent != nil && !p.better(relax.Objective, incumbent.Objective) {
			continue
		}

		frac := p.fractionalVar(relax.Values)
		if frac < 0 {
			if incumbent == nil || p.better(relax.Objective, incumbent.Objective) {
				sol := relax
				incumbent = &sol
			}
			continue
		}

		val := relax.Values[frac]
		down := node{lower: cloneBounds(nd.lower), upper: cloneBounds(nd.upper)}
		down.upper[frac] = math.Floor(val)
		up := node{lower: cloneBounds(nd.lower), upper: cloneBounds(nd.upper)}
		up.lower[frac] = math.Ceil(val)

		// explore the up branch first: the binaries gate flows behind big-M
		// rows, so the permissive side usually reaches an integral incumbent
		// in a single dive and bound pruning then discards the rest
		stack = append(stack, down, up)
	}

	if incumbent == nil {
		return Solution{Status: StatusInfeasible}, ErrInfeasible
	}
	// snap near-integral values so callers see clean binaries
	for i, v := range p.vars {
		if v.integer {
			incumbent.Values[i] = math.Round(incumbent.Values[i])
		}
	}
	return *incumbent, nil
}

// better reports whether objective a improves on b beyond tolerance, in the
// problem's optimization sense.
func (p *Problem) better(a, b float64) bool {
	if p.maximize {
		return a > b+boundTol
	}
	return a < b-boundTol
}

// fractionalVar returns the index of the integer variable whose relaxed value
// is furthest from integral, or -1 if all integer variables are integral.
func (p *Problem) fractionalVar(values []float64) int {
	best := -1
	bestDist := integralityTol
	for i, v := range p.vars {
		if !v.integer {
			continue
		}
		_, frac := math.Modf(values[i])
		dist := math.Min(frac, 1-frac)
		if dist > bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

func cloneBounds(b []float64) []float64 {
	out := make([]float64, len(b))
	copy(out, b)
	return out
}
