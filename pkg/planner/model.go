package planner

import (
	"fmt"
	"math"

	"github.com/helioplan/helioplan/pkg/lp"
)

// sellEpsilon couples the grid-sell binary to its flow: the switch may only
// be on when a strictly positive amount is sold.
const sellEpsilon = 0.001

// modelVars holds the variable indices of one solve's decision model. Slices
// are indexed by hour and only populated for the active window.
type modelVars struct {
	discharge      []int
	soc            []int
	use            []int
	selfUsed       []int
	solarSelfUsed  []int
	solarToBattery []int
	solarToGrid    []int
	gridBuy        []int
	gridSell       []int
	gridSellBinary []int
}

// buildModel declares the decision variables, constraints and objective for
// one solve. When allowGridCharging is false, grid purchases are pinned to
// zero for every slot; this is the lever the trade-off decision uses.
func (pl *Planner) buildModel(in Inputs, allowGridCharging bool) (*lp.Problem, modelVars) {
	prob := lp.NewProblem()
	prob.Maximize()

	n := in.Horizon
	first := in.CurrentHour
	p := pl.params

	v := modelVars{
		discharge:      make([]int, n),
		soc:            make([]int, n),
		use:            make([]int, n),
		selfUsed:       make([]int, n),
		solarSelfUsed:  make([]int, n),
		solarToBattery: make([]int, n),
		solarToGrid:    make([]int, n),
		gridBuy:        make([]int, n),
		gridSell:       make([]int, n),
		gridSellBinary: make([]int, n),
	}

	maxGridBuy := p.MaxChargeKWH
	if !allowGridCharging {
		maxGridBuy = 0
	}

	// Decision variables. Solar routing is capped per slot by that slot's own
	// forecast production, never by a window-wide constant, and the reserve
	// floor rides on the state-of-charge bounds. Below the minimum sell price
	// the export flow and its switch are pinned to zero at creation.
	for i := first; i < n; i++ {
		pv := in.PVForecast[i]
		v.discharge[i] = prob.AddVariable(fmt.Sprintf("discharge_%d", i), 0, p.MaxDischargeKWH)
		v.soc[i] = prob.AddVariable(fmt.Sprintf("soc_%d", i), p.MinBatterySOCKWH, p.BatteryCapacityKWH)
		v.use[i] = prob.AddBinary(fmt.Sprintf("use_%d", i))
		v.gridSellBinary[i] = prob.AddBinary(fmt.Sprintf("grid_sell_binary_%d", i))
		v.selfUsed[i] = prob.AddVariable(fmt.Sprintf("self_used_%d", i), 0, math.Min(in.SelfConsumptionKWH, p.MaxDischargeKWH))
		v.solarSelfUsed[i] = prob.AddVariable(fmt.Sprintf("solar_self_used_%d", i), 0, math.Min(in.SelfConsumptionKWH, pv))
		v.solarToBattery[i] = prob.AddVariable(fmt.Sprintf("solar_to_battery_%d", i), 0, math.Min(p.MaxChargeKWH, pv))
		v.solarToGrid[i] = prob.AddVariable(fmt.Sprintf("solar_to_grid_%d", i), 0, pv)
		v.gridBuy[i] = prob.AddVariable(fmt.Sprintf("grid_buy_%d", i), 0, maxGridBuy)
		v.gridSell[i] = prob.AddVariable(fmt.Sprintf("grid_sell_%d", i), 0, p.MaxDischargeKWH)
		if in.Prices[i] < p.MinGridSellPriceCents {
			prob.SetBounds(v.gridSell[i], 0, 0)
			prob.SetBounds(v.gridSellBinary[i], 0, 0)
		}
	}

	eff := p.ChargeEfficiency

	// Battery dynamics: the first active slot starts from the measured state
	// of charge, every later slot chains from the previous one. Efficiency
	// applies to all charging inflow.
	prob.AddConstraint([]lp.Term{
		lp.T(v.soc[first], 1),
		lp.T(v.solarToBattery[first], -eff),
		lp.T(v.gridBuy[first], -eff),
		lp.T(v.discharge[first], 1),
	}, lp.EQ, in.InitialSOCKWH)
	for i := first + 1; i < n; i++ {
		prob.AddConstraint([]lp.Term{
			lp.T(v.soc[i], 1),
			lp.T(v.soc[i-1], -1),
			lp.T(v.solarToBattery[i], -eff),
			lp.T(v.gridBuy[i], -eff),
			lp.T(v.discharge[i], 1),
		}, lp.EQ, 0)
	}

	for i := first; i < n; i++ {
		pv := in.PVForecast[i]

		// All solar production must be allocated: self-use, battery charge or
		// grid feed-in, with no slack.
		prob.AddConstraint([]lp.Term{
			lp.T(v.solarSelfUsed[i], 1),
			lp.T(v.solarToBattery[i], 1),
			lp.T(v.solarToGrid[i], 1),
		}, lp.EQ, pv)

		// Grid export is gated both ways by its binary: zero when the switch
		// is off, at least the minimum sell amount when it is on. The epsilon
		// row stops the switch from being on with zero flow. Slots below the
		// minimum sell price have both pinned to zero and need no gating.
		if in.Prices[i] >= p.MinGridSellPriceCents {
			prob.AddConstraint([]lp.Term{
				lp.T(v.gridSell[i], 1),
				lp.T(v.gridSellBinary[i], -p.MaxDischargeKWH),
			}, lp.LE, 0)
			prob.AddConstraint([]lp.Term{
				lp.T(v.gridSell[i], 1),
				lp.T(v.gridSellBinary[i], -p.MinGridSellKWH),
			}, lp.GE, 0)
			prob.AddConstraint([]lp.Term{
				lp.T(v.gridSellBinary[i], 2*sellEpsilon),
				lp.T(v.gridSell[i], -1),
			}, lp.LE, sellEpsilon)
		}

		// A slot may charge or discharge, never both. Inflows that are fixed
		// at zero anyway (no grid charging, no production) need no row.
		if allowGridCharging {
			prob.AddConstraint([]lp.Term{
				lp.T(v.gridBuy[i], 1),
				lp.T(v.use[i], p.MaxChargeKWH),
			}, lp.LE, p.MaxChargeKWH)
		}
		if pv > 0 {
			prob.AddConstraint([]lp.Term{
				lp.T(v.solarToBattery[i], 1),
				lp.T(v.use[i], p.MaxChargeKWH),
			}, lp.LE, p.MaxChargeKWH)
		}

		// Discharge is bounded by its binary and split exactly between
		// self-use and export.
		prob.AddConstraint([]lp.Term{
			lp.T(v.discharge[i], 1),
			lp.T(v.use[i], -p.MaxDischargeKWH),
		}, lp.LE, 0)
		prob.AddConstraint([]lp.Term{
			lp.T(v.discharge[i], 1),
			lp.T(v.selfUsed[i], -1),
			lp.T(v.gridSell[i], -1),
		}, lp.EQ, 0)

		// Household draw from battery and solar together never exceeds the
		// month's self-consumption ceiling. Without production the battery
		// share is capped by its own bound already.
		if pv > 0 {
			prob.AddConstraint([]lp.Term{
				lp.T(v.selfUsed[i], 1),
				lp.T(v.solarSelfUsed[i], 1),
			}, lp.LE, in.SelfConsumptionKWH)
		}
	}

	// Objective: net financial value over the window. The fixed grid fee is
	// attributed fully to solar self-use but only by the phase-imbalance
	// share for battery self-use; the asymmetry materially changes the
	// optimal schedule.
	for i := first; i < n; i++ {
		price := in.Prices[i]
		prob.AddObjectiveCoeff(v.gridSell[i], price-p.GridSellFeeCents)
		prob.AddObjectiveCoeff(v.gridBuy[i], -(price + p.GridBuyFeeCents + p.GridFeeCents))
		prob.AddObjectiveCoeff(v.solarSelfUsed[i], p.GridFeeCents+price+p.GridBuyFeeCents)
		prob.AddObjectiveCoeff(v.selfUsed[i], p.GridFeeCents*p.BatteryGridShare+price+p.GridBuyFeeCents)
	}

	return prob, v
}
