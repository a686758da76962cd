package planner

import (
	"context"
	"fmt"
	"math"

	"github.com/helioplan/helioplan/pkg/lp"
	"github.com/helioplan/helioplan/pkg/types"
)

// solveOnce builds the model for one grid-charging policy, runs the solver
// and extracts the full-horizon plan. A non-optimal solver status is a
// run-level failure: no partial schedule is ever returned.
func (pl *Planner) solveOnce(ctx context.Context, in Inputs, allowGridCharging bool) (types.Plan, error) {
	if pl.solveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.solveTimeout)
		defer cancel()
	}

	prob, v := pl.buildModel(in, allowGridCharging)
	sol, err := prob.Solve(ctx)
	if err != nil {
		return types.Plan{}, fmt.Errorf("planner: solve (gridCharging=%t) ended %s: %w", allowGridCharging, sol.Status, err)
	}

	return pl.extract(in, allowGridCharging, sol, v), nil
}

// extract turns the resolved variable values into a Plan. Slots before the
// current hour are held at the initial state of charge with zero flows.
// Profit is recomputed from the flows with the objective's own weights as a
// consistency check instead of trusting the solver's objective value.
func (pl *Planner) extract(in Inputs, allowGridCharging bool, sol lp.Solution, v modelVars) types.Plan {
	n := in.Horizon
	p := pl.params

	plan := types.Plan{
		Horizon:             n,
		CurrentHour:         in.CurrentHour,
		GridChargingAllowed: allowGridCharging,
		Prices:              append([]float64(nil), in.Prices...),
		PVForecast:          append([]float64(nil), in.PVForecast...),
		GridBuy:             make([]float64, n),
		GridSell:            make([]float64, n),
		SelfUsed:            make([]float64, n),
		SolarSelfUsed:       make([]float64, n),
		SolarToBattery:      make([]float64, n),
		SolarToGrid:         make([]float64, n),
		Discharge:           make([]float64, n),
		SOC:                 make([]float64, n),
		Modes:               make([]types.InverterMode, n),
	}
	for i := range plan.SOC {
		plan.SOC[i] = in.InitialSOCKWH
	}

	var profit float64
	for i := in.CurrentHour; i < n; i++ {
		plan.GridBuy[i] = sol.Value(v.gridBuy[i])
		plan.GridSell[i] = sol.Value(v.gridSell[i])
		plan.SelfUsed[i] = math.Max(0, sol.Value(v.selfUsed[i]))
		plan.SolarSelfUsed[i] = sol.Value(v.solarSelfUsed[i])
		plan.SolarToBattery[i] = sol.Value(v.solarToBattery[i])
		plan.SolarToGrid[i] = sol.Value(v.solarToGrid[i])
		plan.Discharge[i] = sol.Value(v.discharge[i])
		plan.SOC[i] = sol.Value(v.soc[i])

		price := in.Prices[i]
		profit += (price - p.GridSellFeeCents) * plan.GridSell[i]
		profit -= (price + p.GridBuyFeeCents + p.GridFeeCents) * plan.GridBuy[i]
		profit += (p.GridFeeCents + price + p.GridBuyFeeCents) * plan.SolarSelfUsed[i]
		profit += (p.GridFeeCents*p.BatteryGridShare + price + p.GridBuyFeeCents) * plan.SelfUsed[i]

		plan.Modes[i] = classifyMode(
			plan.GridBuy[i],
			plan.GridSell[i],
			plan.SolarToBattery[i],
			plan.SelfUsed[i],
			plan.SolarSelfUsed[i],
			in.PVForecast[i],
			in.SelfConsumptionKWH,
			p.MinCycleKWH,
		)
	}
	plan.ProfitCents = profit
	return plan
}

// classifyMode maps one slot's resolved flows to a discrete inverter mode.
// The rules are evaluated in fixed priority order; the first match wins.
func classifyMode(gridBuy, gridSell, solarToBattery, selfUsed, solarSelfUsed, pvForecast, selfConsumption, minCycle float64) types.InverterMode {
	switch {
	// Buying a meaningful amount from the grid: charge the battery from the
	// grid during this low-price slot.
	case gridBuy >= minCycle:
		return types.InverterModeGridCharge
	// Selling a meaningful amount and selling more than the battery stores:
	// feed to grid while prices are favorable.
	case gridSell >= minCycle && gridSell > solarToBattery:
		return types.InverterModeFeedToGrid
	// No battery self-use and production does not even cover demand: no
	// battery activity needed.
	case selfUsed == 0 && solarSelfUsed < selfConsumption && pvForecast < selfConsumption:
		return types.InverterModeIdle
	// Default: cover household load from available battery and solar.
	default:
		return types.InverterModeMaxSelfConsumption
	}
}
