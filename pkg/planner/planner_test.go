package planner

import (
	"context"
	"testing"
	"time"

	"github.com/helioplan/helioplan/pkg/lp"
	"github.com/helioplan/helioplan/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanner(t *testing.T, params types.Parameters) *Planner {
	t.Helper()
	pl, err := New(params)
	require.NoError(t, err)
	return pl
}

// testInputs builds a 24-slot input series with a flat price, no solar and a
// half-full battery. Tests narrow the active window via CurrentHour to keep
// the models small.
func testInputs(currentHour int, price float64) Inputs {
	prices := make([]float64, 24)
	for i := range prices {
		prices[i] = price
	}
	return Inputs{
		Prices:             prices,
		PVForecast:         make([]float64, 24),
		InitialSOCKWH:      7.5,
		CurrentHour:        currentHour,
		Horizon:            24,
		SelfConsumptionKWH: 0.62,
	}
}

func activeSlots(in Inputs) int {
	return in.Horizon - in.CurrentHour
}

func TestPlanNoExportBelowMinSellPrice(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())
	in := testInputs(20, 3.0) // below the 5 cent export threshold

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, plan.GridChargingAllowed)
	for i := in.CurrentHour; i < in.Horizon; i++ {
		assert.InDelta(t, 0, plan.GridSell[i], 1e-6, "hour %d", i)
		assert.InDelta(t, 0, plan.GridBuy[i], 1e-6, "hour %d", i)
		// covering household load from the battery still pays
		assert.InDelta(t, in.SelfConsumptionKWH, plan.SelfUsed[i], 1e-6, "hour %d", i)
		assert.Equal(t, types.InverterModeMaxSelfConsumption, plan.Modes[i], "hour %d", i)
	}
	assert.Greater(t, plan.ProfitCents, 0.0)
}

func TestPlanNoSolarKeepsSOCNonIncreasing(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())
	in := testInputs(20, 6.0)

	plan, err := pl.solveOnce(context.Background(), in, false)
	require.NoError(t, err)

	prev := in.InitialSOCKWH
	for i := in.CurrentHour; i < in.Horizon; i++ {
		assert.Zero(t, plan.SolarSelfUsed[i], "hour %d", i)
		assert.Zero(t, plan.SolarToBattery[i], "hour %d", i)
		assert.Zero(t, plan.SolarToGrid[i], "hour %d", i)
		assert.LessOrEqual(t, plan.SOC[i], prev+1e-6, "hour %d", i)
		prev = plan.SOC[i]
	}
}

func TestPlanSellsDownToReserve(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)
	in := testInputs(20, 15.0)
	in.InitialSOCKWH = params.BatteryCapacityKWH

	plan, err := pl.solveOnce(context.Background(), in, false)
	require.NoError(t, err)

	n := float64(activeSlots(in))
	sellable := params.BatteryCapacityKWH - params.MinBatterySOCKWH
	wantSelfUsed := n * in.SelfConsumptionKWH

	var totalSell, totalSelfUsed float64
	for i := in.CurrentHour; i < in.Horizon; i++ {
		totalSell += plan.GridSell[i]
		totalSelfUsed += plan.SelfUsed[i]
		if plan.GridSell[i] > 1e-6 {
			assert.GreaterOrEqual(t, plan.GridSell[i], params.MinGridSellKWH-1e-6, "hour %d", i)
		}
	}
	assert.InDelta(t, params.MinBatterySOCKWH, plan.SOC[in.Horizon-1], 1e-6)
	assert.InDelta(t, wantSelfUsed, totalSelfUsed, 1e-6)
	assert.InDelta(t, sellable-wantSelfUsed, totalSell, 1e-6)
	assert.Greater(t, plan.ProfitCents, 0.0)
}

func TestPlanSingleSlotWindow(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)
	in := testInputs(23, 10.0)

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	for i := 0; i < 23; i++ {
		assert.Equal(t, in.InitialSOCKWH, plan.SOC[i], "hour %d", i)
		assert.Zero(t, plan.Discharge[i], "hour %d", i)
		assert.Zero(t, plan.GridSell[i], "hour %d", i)
		assert.Equal(t, types.InverterMode(""), plan.Modes[i], "hour %d", i)
	}

	// the one decided slot discharges at full rate: self-use up to the
	// ceiling, the rest exported
	assert.InDelta(t, params.MaxDischargeKWH, plan.Discharge[23], 1e-6)
	assert.InDelta(t, in.SelfConsumptionKWH, plan.SelfUsed[23], 1e-6)
	assert.InDelta(t, params.MaxDischargeKWH-in.SelfConsumptionKWH, plan.GridSell[23], 1e-6)
	assert.InDelta(t, in.InitialSOCKWH-params.MaxDischargeKWH, plan.SOC[23], 1e-6)
	assert.Equal(t, types.InverterModeFeedToGrid, plan.CurrentMode())
}

// twoDayInputs extends testInputs to a 48-slot horizon, as assembled when the
// tomorrow price series is published and valid.
func twoDayInputs(price float64) Inputs {
	in := testInputs(0, price)
	in.Horizon = 48
	in.Prices = append(in.Prices, make([]float64, 24)...)
	for i := 24; i < 48; i++ {
		in.Prices[i] = price
	}
	in.PVForecast = append(in.PVForecast, make([]float64, 24)...)
	return in
}

func TestPlanFullDayWindow(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)
	in := testInputs(0, 3.0)

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 24, plan.Horizon)
	assert.False(t, plan.GridChargingAllowed)

	var totalSelfUsed, totalSell, totalBuy float64
	for i := 0; i < plan.Horizon; i++ {
		totalSelfUsed += plan.SelfUsed[i]
		totalSell += plan.GridSell[i]
		totalBuy += plan.GridBuy[i]
		assert.GreaterOrEqual(t, plan.SOC[i], params.MinBatterySOCKWH-1e-6, "hour %d", i)
	}
	assert.InDelta(t, 0, totalSell, 1e-9)
	assert.InDelta(t, 0, totalBuy, 1e-9)
	// everything above the reserve floor goes to household load
	assert.InDelta(t, in.InitialSOCKWH-params.MinBatterySOCKWH, totalSelfUsed, 1e-6)
	assert.InDelta(t, params.MinBatterySOCKWH, plan.SOC[plan.Horizon-1], 1e-6)
}

func TestPlanTwoDayWindow(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)
	in := twoDayInputs(3.0)

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 48, plan.Horizon)

	var totalSelfUsed, totalSell, totalBuy float64
	for i := 0; i < plan.Horizon; i++ {
		totalSelfUsed += plan.SelfUsed[i]
		totalSell += plan.GridSell[i]
		totalBuy += plan.GridBuy[i]
		assert.GreaterOrEqual(t, plan.SOC[i], params.MinBatterySOCKWH-1e-6, "hour %d", i)
	}
	assert.InDelta(t, 0, totalSell, 1e-9)
	assert.InDelta(t, 0, totalBuy, 1e-9)
	assert.InDelta(t, in.InitialSOCKWH-params.MinBatterySOCKWH, totalSelfUsed, 1e-6)
	assert.InDelta(t, params.MinBatterySOCKWH, plan.SOC[plan.Horizon-1], 1e-6)
}

func TestPlanNegativePricesFullDayIdle(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())
	in := testInputs(0, -10.0)

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, plan.GridChargingAllowed)
	for i := 0; i < plan.Horizon; i++ {
		assert.Zero(t, plan.GridSell[i], "hour %d", i)
		assert.Zero(t, plan.GridBuy[i], "hour %d", i)
		assert.InDelta(t, 0, plan.Discharge[i], 1e-6, "hour %d", i)
		assert.InDelta(t, in.InitialSOCKWH, plan.SOC[i], 1e-6, "hour %d", i)
		assert.Equal(t, types.InverterModeIdle, plan.Modes[i], "hour %d", i)
	}
	assert.InDelta(t, 0, plan.ProfitCents, 1e-6)
}

func TestPlanGridChargeTradeOff(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)

	t.Run("wide spread charges from the grid", func(t *testing.T) {
		in := testInputs(21, 50.0)
		in.Prices[21] = -10.0 // negative price hour pays for charging twice over
		in.InitialSOCKWH = params.MinBatterySOCKWH

		plan, err := pl.Plan(context.Background(), in)
		require.NoError(t, err)

		assert.True(t, plan.GridChargingAllowed)
		assert.InDelta(t, params.MaxChargeKWH, plan.GridBuy[21], 1e-6)
		assert.Equal(t, types.InverterModeGridCharge, plan.Modes[21])
		assert.Greater(t, plan.ProfitCents, params.MinGridChargeProfitCents)
	})

	t.Run("thin spread keeps grid charging off", func(t *testing.T) {
		// buying at 0 and selling at 16 nets roughly 5 cents per kWh, well
		// under the 50 cent cycling threshold over a 4.4 kWh charge
		in := testInputs(21, 16.0)
		in.Prices[21] = 0
		in.InitialSOCKWH = params.MinBatterySOCKWH

		plan, err := pl.Plan(context.Background(), in)
		require.NoError(t, err)

		assert.False(t, plan.GridChargingAllowed)
		for i := in.CurrentHour; i < in.Horizon; i++ {
			assert.InDelta(t, 0, plan.GridBuy[i], 1e-6, "hour %d", i)
		}

		// the chosen plan is exactly the no-grid-charging solve
		without, err := pl.solveOnce(context.Background(), in, false)
		require.NoError(t, err)
		plan.GeneratedAt = time.Time{}
		assert.Equal(t, without, plan)
	})

	t.Run("no opportunity yields identical plans", func(t *testing.T) {
		in := testInputs(21, 3.0)

		plan, err := pl.Plan(context.Background(), in)
		require.NoError(t, err)

		assert.False(t, plan.GridChargingAllowed)
		for i := in.CurrentHour; i < in.Horizon; i++ {
			assert.InDelta(t, 0, plan.GridBuy[i], 1e-6, "hour %d", i)
		}
	})
}

func TestPlanInvariants(t *testing.T) {
	params := types.DefaultParameters()
	pl := newTestPlanner(t, params)

	in := testInputs(18, 0)
	copy(in.Prices[18:], []float64{2, 4, 8, 12, 3, 20})
	copy(in.PVForecast[18:], []float64{1.5, 1.0, 0.5, 0, 0, 0})
	in.InitialSOCKWH = 5.0

	plan, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	prev := in.InitialSOCKWH
	for i := in.CurrentHour; i < in.Horizon; i++ {
		// every unit of production is routed somewhere
		assert.InDelta(t, in.PVForecast[i],
			plan.SolarSelfUsed[i]+plan.SolarToBattery[i]+plan.SolarToGrid[i], 1e-6, "solar balance hour %d", i)

		assert.GreaterOrEqual(t, plan.SOC[i], params.MinBatterySOCKWH-1e-6, "reserve floor hour %d", i)
		assert.LessOrEqual(t, plan.SOC[i], params.BatteryCapacityKWH+1e-6, "capacity hour %d", i)

		// battery dynamics with charge efficiency
		inflow := params.ChargeEfficiency * (plan.SolarToBattery[i] + plan.GridBuy[i])
		assert.InDelta(t, prev+inflow-plan.Discharge[i], plan.SOC[i], 1e-6, "dynamics hour %d", i)
		prev = plan.SOC[i]

		// charging and discharging never overlap
		if plan.Discharge[i] > 1e-6 {
			assert.InDelta(t, 0, plan.GridBuy[i], 1e-6, "exclusion hour %d", i)
			assert.InDelta(t, 0, plan.SolarToBattery[i], 1e-6, "exclusion hour %d", i)
		}

		// discharge splits exactly into self-use and export
		assert.InDelta(t, plan.Discharge[i], plan.SelfUsed[i]+plan.GridSell[i], 1e-6, "discharge split hour %d", i)

		// export is all-or-nothing per slot and never below the sell price floor
		if plan.GridSell[i] > 1e-6 {
			assert.GreaterOrEqual(t, plan.GridSell[i], params.MinGridSellKWH-1e-6, "minimum export hour %d", i)
			assert.GreaterOrEqual(t, in.Prices[i], params.MinGridSellPriceCents, "sell price floor hour %d", i)
		}

		assert.LessOrEqual(t, plan.SelfUsed[i]+plan.SolarSelfUsed[i], in.SelfConsumptionKWH+1e-6, "load ceiling hour %d", i)
	}

	for i := 0; i < in.CurrentHour; i++ {
		assert.Equal(t, in.InitialSOCKWH, plan.SOC[i], "pre-window hour %d", i)
		assert.Zero(t, plan.Discharge[i], "pre-window hour %d", i)
	}
}

func TestPlanDeterministic(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())

	in := testInputs(18, 0)
	copy(in.Prices[18:], []float64{2, 4, 8, 12, 3, 20})
	copy(in.PVForecast[18:], []float64{1.5, 1.0, 0.5, 0, 0, 0})
	in.InitialSOCKWH = 5.0

	first, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)
	second, err := pl.Plan(context.Background(), in)
	require.NoError(t, err)

	first.GeneratedAt = time.Time{}
	second.GeneratedAt = time.Time{}
	assert.Equal(t, first, second)
}

func TestSolveInfeasibleBelowReserve(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())

	// reading below the reserve floor with no way to charge cannot satisfy
	// the floor constraint; the run fails rather than returning a partial plan
	in := testInputs(22, 10.0)
	in.InitialSOCKWH = 0

	_, err := pl.solveOnce(context.Background(), in, false)
	require.ErrorIs(t, err, lp.ErrInfeasible)
}

func TestClassifyMode(t *testing.T) {
	const (
		selfConsumption = 0.62
		minCycle        = 0.5
	)

	tests := []struct {
		name                                              string
		gridBuy, gridSell, solarToBattery, selfUsed, solarSelfUsed, pv float64
		want                                              types.InverterMode
	}{
		{"grid charge outranks selling", 0.5, 2.0, 0, 0, 0, 0, types.InverterModeGridCharge},
		{"selling more than storing feeds to grid", 0, 1.5, 0.5, 0, 0, 0, types.InverterModeFeedToGrid},
		{"storing outweighs selling", 0, 1.0, 1.2, 0, 0, 2.5, types.InverterModeMaxSelfConsumption},
		{"tiny flows with no production idles", 0, 0.3, 0, 0, 0, 0, types.InverterModeIdle},
		{"battery covering load self-consumes", 0, 0, 0, 0.4, 0, 0, types.InverterModeMaxSelfConsumption},
		{"solar covering load self-consumes", 0, 0, 0, 0, selfConsumption, 1.0, types.InverterModeMaxSelfConsumption},
		{"strong production self-consumes", 0, 0, 0, 0, 0.3, 2.0, types.InverterModeMaxSelfConsumption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyMode(tt.gridBuy, tt.gridSell, tt.solarToBattery, tt.selfUsed, tt.solarSelfUsed, tt.pv, selfConsumption, minCycle)
			assert.Equal(t, tt.want, got)
		})
	}
}
