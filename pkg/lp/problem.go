// Package lp builds and solves small mixed-integer linear programs.
//
// The solver is a dense bounded-variable two-phase simplex built on gonum's
// mat package; keeping variable bounds on the columns instead of expanding
// them into rows is what lets day-scale planning models solve in
// milliseconds. On top of it sit the general-form problem builder (bounded
// variables, inequality rows, maximization) and a branch-and-bound layer for
// binary variables.
package lp

import (
	"errors"
	"fmt"
	"math"
)

// Op is a constraint relation.
type Op int

const (
	// LE constrains the row to be <= the right-hand side.
	LE Op = iota
	// GE constrains the row to be >= the right-hand side.
	GE
	// EQ constrains the row to equal the right-hand side.
	EQ
)

func (o Op) String() string {
	switch o {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "=="
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Status is the outcome of a solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	// ErrInfeasible is returned when no assignment satisfies all constraints.
	ErrInfeasible = errors.New("lp: problem is infeasible")
	// ErrUnbounded is returned when the objective can grow without limit.
	ErrUnbounded = errors.New("lp: problem is unbounded")
	// ErrAborted is returned when the solve was canceled, timed out or gave
	// up after exhausting its pivot budget.
	ErrAborted = errors.New("lp: solve aborted")
	// ErrNodeLimit is returned when branch and bound exhausted its node budget.
	ErrNodeLimit = errors.New("lp: branch and bound node limit reached")
)

// Term is one coefficient of a constraint row.
type Term struct {
	Var   int
	Coeff float64
}

// T is a convenience constructor for a Term.
func T(v int, c float64) Term {
	return Term{Var: v, Coeff: c}
}

type variable struct {
	name    string
	lower   float64
	upper   float64
	integer bool
}

type row struct {
	terms []Term
	op    Op
	rhs   float64
}

// Problem is a linear program under construction. Variables and rows are
// created fresh for each solve; a Problem is not safe for concurrent use.
type Problem struct {
	vars      []variable
	rows      []row
	objective []float64
	maximize  bool
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{}
}

// AddVariable adds a continuous variable with inclusive bounds and returns
// its index. Bounds must be finite with lower <= upper.
func (p *Problem) AddVariable(name string, lower, upper float64) int {
	return p.addVar(name, lower, upper, false)
}

// AddBinary adds a {0,1} variable and returns its index.
func (p *Problem) AddBinary(name string) int {
	return p.addVar(name, 0, 1, true)
}

func (p *Problem) addVar(name string, lower, upper float64, integer bool) int {
	p.vars = append(p.vars, variable{
		name:    name,
		lower:   lower,
		upper:   upper,
		integer: integer,
	})
	p.objective = append(p.objective, 0)
	return len(p.vars) - 1
}

// SetBounds replaces the bounds of variable v. Pinning a variable with equal
// bounds removes its column from the solve entirely.
func (p *Problem) SetBounds(v int, lower, upper float64) {
	p.vars[v].lower = lower
	p.vars[v].upper = upper
}

// NumVariables returns the number of variables added so far.
func (p *Problem) NumVariables() int {
	return len(p.vars)
}

// AddConstraint adds a linear constraint over the given terms.
func (p *Problem) AddConstraint(terms []Term, op Op, rhs float64) {
	p.rows = append(p.rows, row{terms: terms, op: op, rhs: rhs})
}

// SetObjectiveCoeff sets the objective coefficient of variable v. Coefficients
// default to zero.
func (p *Problem) SetObjectiveCoeff(v int, coeff float64) {
	p.objective[v] = coeff
}

// AddObjectiveCoeff adds to the objective coefficient of variable v.
func (p *Problem) AddObjectiveCoeff(v int, coeff float64) {
	p.objective[v] += coeff
}

// Maximize makes the solve maximize the objective instead of minimizing it.
func (p *Problem) Maximize() {
	p.maximize = true
}

func (p *Problem) validate() error {
	for i, v := range p.vars {
		if math.IsInf(v.lower, 0) || math.IsInf(v.upper, 0) || math.IsNaN(v.lower) || math.IsNaN(v.upper) {
			return fmt.Errorf("lp: variable %s (%d) has non-finite bounds [%v, %v]", v.name, i, v.lower, v.upper)
		}
		if v.lower > v.upper {
			return fmt.Errorf("lp: variable %s (%d) has lower bound %v above upper bound %v", v.name, i, v.lower, v.upper)
		}
	}
	for i, r := range p.rows {
		for _, t := range r.terms {
			if t.Var < 0 || t.Var >= len(p.vars) {
				return fmt.Errorf("lp: row %d references unknown variable %d", i, t.Var)
			}
		}
	}
	return nil
}

// Solution holds the result of a solve.
type Solution struct {
	Status Status
	// Objective is the objective value at the optimum (in the problem's
	// maximize/minimize sense). Only meaningful for StatusOptimal.
	Objective float64
	// Values holds one resolved value per variable, indexed as returned by
	// AddVariable/AddBinary.
	Values []float64
}

// Value returns the resolved value of variable v.
func (s Solution) Value(v int) float64 {
	return s.Values[v]
}
