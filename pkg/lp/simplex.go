package lp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// foldTol is the tolerance used when checking rows whose variables have
	// all been substituted out.
	foldTol = 1e-9
	// costTol is the reduced-cost threshold under which a column is not
	// worth entering.
	costTol = 1e-9
	// pivotTol is the smallest magnitude a pivot element may have.
	pivotTol = 1e-9
	// ratioTol groups near-tied ratio-test rows so the tie break can pick
	// the numerically safest (or, under Bland's rule, lowest-index) one.
	ratioTol = 1e-9
	// phase1Tol is the residual infeasibility tolerated after phase one.
	phase1Tol = 1e-7
	// degenerateLimit is how many consecutive zero-length steps are allowed
	// before pricing switches to Bland's rule, which cannot cycle.
	degenerateLimit = 64
	// ctxCheckInterval is how many pivots pass between context polls.
	ctxCheckInterval = 128
)

// solveRelaxation solves the continuous relaxation of the problem with the
// given variable bounds (which may be tighter than the problem's own bounds
// during branch and bound).
//
// Variables pinned by equal bounds are substituted out and rows that lose all
// their variables are checked for consistency and dropped; this keeps the
// system full rank even when, say, a zero solar forecast fixes a whole slot's
// routing variables. The remaining variables are shifted by their lower bound
// and handed to a bounded-variable two-phase simplex that keeps upper bounds
// on the columns instead of expanding them into extra rows, so the tableau
// stays at one row per structural constraint.
func (p *Problem) solveRelaxation(ctx context.Context, lower, upper []float64) (Solution, error) {
	n := len(p.vars)
	values := make([]float64, n)

	// assign a column to every non-fixed variable
	colOf := make([]int, n)
	origOf := make([]int, 0, n)
	for i := 0; i < n; i++ {
		span := upper[i] - lower[i]
		if span < 0 {
			return Solution{Status: StatusInfeasible}, ErrInfeasible
		}
		if span == 0 {
			colOf[i] = -1
			values[i] = lower[i]
			continue
		}
		colOf[i] = len(origOf)
		origOf = append(origOf, i)
	}
	nFree := len(origOf)

	if nFree == 0 {
		// everything is pinned; just verify the rows hold
		for _, r := range p.rows {
			var sum float64
			for _, t := range r.terms {
				sum += t.Coeff * values[t.Var]
			}
			if !rowHolds(r.op, sum, r.rhs) {
				return Solution{Status: StatusInfeasible}, ErrInfeasible
			}
		}
		return Solution{
			Status:    StatusOptimal,
			Objective: p.objectiveValue(values),
			Values:    values,
		}, nil
	}

	type foldedRow struct {
		coeffs []float64 // length nFree over shifted free variables
		op     Op
		rhs    float64
	}
	rows := make([]foldedRow, 0, len(p.rows))
	for _, r := range p.rows {
		fr := foldedRow{coeffs: make([]float64, nFree), op: r.op, rhs: r.rhs}
		for _, t := range r.terms {
			// fixed variables and the lower-bound shift both fold the
			// coefficient times the lower bound into the right-hand side
			fr.rhs -= t.Coeff * lower[t.Var]
			if c := colOf[t.Var]; c >= 0 {
				fr.coeffs[c] += t.Coeff
			}
		}
		nonzero := false
		for _, v := range fr.coeffs {
			if v != 0 {
				nonzero = true
				break
			}
		}
		if !nonzero {
			if !rowHolds(r.op, 0, fr.rhs) {
				return Solution{Status: StatusInfeasible}, ErrInfeasible
			}
			continue
		}
		// keep right-hand sides non-negative so the starting basis is
		// feasible by construction
		if fr.rhs < 0 {
			for j := range fr.coeffs {
				fr.coeffs[j] = -fr.coeffs[j]
			}
			fr.rhs = -fr.rhs
			switch fr.op {
			case LE:
				fr.op = GE
			case GE:
				fr.op = LE
			}
		}
		rows = append(rows, fr)
	}

	// objective over the shifted variables, always minimizing
	c := make([]float64, nFree)
	for i, v := range p.objective {
		if col := colOf[i]; col >= 0 {
			if p.maximize {
				c[col] = -v
			} else {
				c[col] = v
			}
		}
	}

	if len(rows) == 0 {
		// nothing couples the variables; each sits at whichever bound its
		// cost favors
		for j, cost := range c {
			if cost < 0 {
				values[origOf[j]] = upper[origOf[j]]
			} else {
				values[origOf[j]] = lower[origOf[j]]
			}
		}
		return Solution{
			Status:    StatusOptimal,
			Objective: p.objectiveValue(values),
			Values:    values,
		}, nil
	}

	m := len(rows)
	nSlack, nArt := 0, 0
	for _, r := range rows {
		if r.op != EQ {
			nSlack++
		}
		if r.op != LE {
			nArt++
		}
	}
	artStart := nFree + nSlack
	nTotal := artStart + nArt

	t := &tableau{
		m:        m,
		n:        nTotal,
		artStart: artStart,
		a:        mat.NewDense(m, nTotal, nil),
		xB:       make([]float64, m),
		basis:    make([]int, m),
		stat:     make([]colStatus, nTotal),
		up:       make([]float64, nTotal),
		dj:       make([]float64, nTotal),
		col:      make([]float64, m),
		banned:   make([]bool, nTotal),
	}
	for j := 0; j < nFree; j++ {
		t.up[j] = upper[origOf[j]] - lower[origOf[j]]
	}
	for j := nFree; j < nTotal; j++ {
		t.up[j] = math.Inf(1)
	}
	for j := artStart; j < nTotal; j++ {
		t.banned[j] = true
	}

	slackCol, artCol := nFree, artStart
	for ri, r := range rows {
		row := t.a.RawRowView(ri)
		copy(row, r.coeffs)
		t.xB[ri] = r.rhs
		switch r.op {
		case LE:
			row[slackCol] = 1
			t.basis[ri] = slackCol
			slackCol++
		case GE:
			row[slackCol] = -1
			slackCol++
			row[artCol] = 1
			t.basis[ri] = artCol
			artCol++
		case EQ:
			row[artCol] = 1
			t.basis[ri] = artCol
			artCol++
		}
	}
	for _, b := range t.basis {
		t.stat[b] = statBasic
	}

	if nArt > 0 {
		phase1 := make([]float64, nTotal)
		for j := artStart; j < nTotal; j++ {
			phase1[j] = 1
		}
		t.resetCosts(phase1)
		if err := t.iterate(ctx); err != nil {
			return Solution{Status: statusForErr(err)}, err
		}
		var residual float64
		for i, b := range t.basis {
			if b >= artStart {
				residual += t.xB[i]
			}
		}
		if residual > phase1Tol {
			return Solution{Status: StatusInfeasible}, ErrInfeasible
		}
		t.expelArtificials()
	}

	full := make([]float64, nTotal)
	copy(full, c)
	t.resetCosts(full)
	if err := t.iterate(ctx); err != nil {
		return Solution{Status: statusForErr(err)}, err
	}

	x := make([]float64, nFree)
	for j := 0; j < nFree; j++ {
		if t.stat[j] == statUpper {
			x[j] = t.up[j]
		}
	}
	for i, b := range t.basis {
		if b < nFree {
			x[b] = t.xB[i]
		}
	}
	for j := 0; j < nFree; j++ {
		// clamp basic values back into bounds against pivot noise
		xj := math.Max(0, math.Min(x[j], t.up[j]))
		values[origOf[j]] = lower[origOf[j]] + xj
	}
	return Solution{
		Status:    StatusOptimal,
		Objective: p.objectiveValue(values),
		Values:    values,
	}, nil
}

type colStatus uint8

const (
	statLower colStatus = iota
	statUpper
	statBasic
)

// tableau is the dense working state of one bounded-variable simplex run:
// minimize dj-implied costs subject to Ax = b with 0 <= x <= up. Nonbasic
// columns rest at either bound; a is kept row-reduced against the basis.
type tableau struct {
	m, n     int
	artStart int
	a        *mat.Dense
	xB       []float64
	basis    []int
	stat     []colStatus
	up       []float64
	dj       []float64
	col      []float64
	banned   []bool

	bland      bool
	degenerate int
}

// resetCosts recomputes the reduced-cost row for a new objective and resets
// the anti-cycling state, switching between phase one and phase two.
func (t *tableau) resetCosts(c []float64) {
	copy(t.dj, c)
	for i := 0; i < t.m; i++ {
		cb := c[t.basis[i]]
		if cb == 0 {
			continue
		}
		row := t.a.RawRowView(i)
		for j := range t.dj {
			t.dj[j] -= cb * row[j]
		}
	}
	for _, b := range t.basis {
		t.dj[b] = 0
	}
	t.bland = false
	t.degenerate = 0
}

// iterate pivots until the current objective is optimal, polling the context
// between batches of pivots so deadlines cut long solves short.
func (t *tableau) iterate(ctx context.Context) error {
	maxIter := 20000 + 50*(t.m+t.n)
	for iter := 0; ; iter++ {
		if iter%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrAborted, err)
			}
		}
		if iter > maxIter {
			return fmt.Errorf("%w: simplex iteration limit reached", ErrAborted)
		}
		q := t.entering()
		if q < 0 {
			return nil
		}
		if err := t.step(q); err != nil {
			return err
		}
	}
}

// entering picks the next column to move: Dantzig pricing normally, smallest
// eligible index once Bland's rule is active.
func (t *tableau) entering() int {
	best := -1
	bestScore := costTol
	for j := 0; j < t.n; j++ {
		if t.stat[j] == statBasic || t.banned[j] {
			continue
		}
		score := -t.dj[j]
		if t.stat[j] == statUpper {
			score = t.dj[j]
		}
		if score <= costTol {
			continue
		}
		if t.bland {
			return j
		}
		if score > bestScore {
			best, bestScore = j, score
		}
	}
	return best
}

// step moves entering column q as far as its own span and the basic variables
// allow: either a bound flip or a pivot.
func (t *tableau) step(q int) error {
	sign := 1.0
	if t.stat[q] == statUpper {
		sign = -1
	}
	for i := 0; i < t.m; i++ {
		t.col[i] = t.a.At(i, q)
	}

	limit := t.up[q] // lower bounds are all zero, so the span is the upper bound
	leave := -1
	leaveAtUpper := false
	var leaveRate float64
	for i := 0; i < t.m; i++ {
		d := sign * t.col[i]
		var r float64
		var atUpper bool
		switch {
		case d > pivotTol:
			r = t.xB[i] / d
		case d < -pivotTol:
			ub := t.up[t.basis[i]]
			if math.IsInf(ub, 1) {
				continue
			}
			r = (ub - t.xB[i]) / -d
			atUpper = true
		default:
			continue
		}
		if r < 0 {
			r = 0
		}
		switch {
		case r < limit-ratioTol || (leave < 0 && r < limit):
			limit, leave, leaveAtUpper, leaveRate = r, i, atUpper, d
		case leave >= 0 && r <= limit+ratioTol:
			if t.bland {
				if t.basis[i] < t.basis[leave] {
					limit, leave, leaveAtUpper, leaveRate = r, i, atUpper, d
				}
			} else if math.Abs(d) > math.Abs(leaveRate) {
				limit, leave, leaveAtUpper, leaveRate = r, i, atUpper, d
			}
		}
	}

	if leave < 0 {
		if math.IsInf(limit, 1) {
			return ErrUnbounded
		}
		// the entering variable runs all the way to its opposite bound
		for i := 0; i < t.m; i++ {
			t.xB[i] -= sign * t.col[i] * limit
		}
		if t.stat[q] == statLower {
			t.stat[q] = statUpper
		} else {
			t.stat[q] = statLower
		}
		t.noteStep(limit)
		return nil
	}

	for i := 0; i < t.m; i++ {
		if i != leave {
			t.xB[i] -= sign * t.col[i] * limit
		}
	}
	enterVal := limit
	if t.stat[q] == statUpper {
		enterVal = t.up[q] - limit
	}
	leaveStat := statLower
	if leaveAtUpper {
		leaveStat = statUpper
	}
	t.pivot(leave, q, enterVal, leaveStat)
	t.noteStep(limit)
	return nil
}

// pivot swaps column q into the basis at row leave and row-reduces the
// tableau and the reduced-cost row around the new basic column.
func (t *tableau) pivot(leave, q int, enterVal float64, leaveStat colStatus) {
	t.stat[t.basis[leave]] = leaveStat
	t.basis[leave] = q
	t.stat[q] = statBasic
	t.xB[leave] = enterVal

	row := t.a.RawRowView(leave)
	inv := 1 / row[q]
	for j := range row {
		row[j] *= inv
	}
	row[q] = 1
	for i := 0; i < t.m; i++ {
		if i == leave {
			continue
		}
		ri := t.a.RawRowView(i)
		f := ri[q]
		if f == 0 {
			continue
		}
		for j := range ri {
			ri[j] -= f * row[j]
		}
		ri[q] = 0
	}
	if f := t.dj[q]; f != 0 {
		for j := range t.dj {
			t.dj[j] -= f * row[j]
		}
		t.dj[q] = 0
	}
}

// noteStep tracks degenerate progress and arms Bland's rule once too many
// zero-length steps pile up, which is the only way the loop could cycle.
func (t *tableau) noteStep(stepLen float64) {
	if stepLen > ratioTol {
		t.degenerate = 0
		return
	}
	t.degenerate++
	if t.degenerate >= degenerateLimit {
		t.bland = true
	}
}

// expelArtificials pivots zero-valued artificial variables out of the basis
// after phase one wherever a real column can stand in; rows where none can
// are redundant and keep their artificial pinned at zero instead.
func (t *tableau) expelArtificials() {
	for i := 0; i < t.m; i++ {
		if t.basis[i] < t.artStart {
			continue
		}
		row := t.a.RawRowView(i)
		q := -1
		for j := 0; j < t.artStart; j++ {
			if t.stat[j] != statBasic && math.Abs(row[j]) > pivotTol {
				q = j
				break
			}
		}
		if q < 0 {
			continue
		}
		enterVal := 0.0
		if t.stat[q] == statUpper {
			enterVal = t.up[q]
		}
		t.pivot(i, q, enterVal, statLower)
	}
	for j := t.artStart; j < t.n; j++ {
		t.up[j] = 0
	}
}

func statusForErr(err error) Status {
	switch {
	case errors.Is(err, ErrInfeasible):
		return StatusInfeasible
	case errors.Is(err, ErrUnbounded):
		return StatusUnbounded
	default:
		return StatusAborted
	}
}

func (p *Problem) objectiveValue(values []float64) float64 {
	var obj float64
	for i, c := range p.objective {
		obj += c * values[i]
	}
	return obj
}

// rowHolds reports whether lhs (op) rhs holds within tolerance.
func rowHolds(op Op, lhs, rhs float64) bool {
	switch op {
	case LE:
		return lhs <= rhs+foldTol
	case GE:
		return lhs >= rhs-foldTol
	default:
		return lhs >= rhs-foldTol && lhs <= rhs+foldTol
	}
}
