package planner

import (
	"math"
	"testing"
	"time"

	"github.com/helioplan/helioplan/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatPrices(v float64) []float64 {
	out := make([]float64, 24)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAssemble(t *testing.T) {
	pl := newTestPlanner(t, types.DefaultParameters())
	now := time.Date(2026, time.January, 15, 14, 30, 0, 0, time.UTC)

	t.Run("today only", func(t *testing.T) {
		in, err := pl.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{}, 50, now)
		require.NoError(t, err)
		assert.Equal(t, 24, in.Horizon)
		assert.Equal(t, 14, in.CurrentHour)
		assert.Len(t, in.Prices, 24)
		require.Len(t, in.PVForecast, 24)
		assert.Equal(t, 7.5, in.InitialSOCKWH)
		assert.Equal(t, 1.075, in.SelfConsumptionKWH)
		for _, pv := range in.PVForecast {
			assert.Zero(t, pv)
		}
	})

	t.Run("tomorrow extends the horizon", func(t *testing.T) {
		in, err := pl.Assemble(types.PriceForecast{
			Today:         flatPrices(10),
			Tomorrow:      flatPrices(20),
			TomorrowValid: true,
		}, types.SolarForecast{}, 50, now)
		require.NoError(t, err)
		assert.Equal(t, 48, in.Horizon)
		require.Len(t, in.Prices, 48)
		assert.Equal(t, 10.0, in.Prices[0])
		assert.Equal(t, 20.0, in.Prices[24])
	})

	t.Run("unvalidated tomorrow is ignored", func(t *testing.T) {
		in, err := pl.Assemble(types.PriceForecast{
			Today:    flatPrices(10),
			Tomorrow: []float64{1, 2, 3},
		}, types.SolarForecast{}, 50, now)
		require.NoError(t, err)
		assert.Equal(t, 24, in.Horizon)
		assert.Len(t, in.Prices, 24)
	})

	t.Run("missing today", func(t *testing.T) {
		_, err := pl.Assemble(types.PriceForecast{}, types.SolarForecast{}, 50, now)
		require.ErrorIs(t, err, ErrMissingPrices)
	})

	t.Run("short tomorrow marked valid", func(t *testing.T) {
		_, err := pl.Assemble(types.PriceForecast{
			Today:         flatPrices(10),
			Tomorrow:      []float64{1, 2, 3},
			TomorrowValid: true,
		}, types.SolarForecast{}, 50, now)
		require.ErrorIs(t, err, ErrMissingPrices)
	})

	t.Run("non-finite price", func(t *testing.T) {
		prices := flatPrices(10)
		prices[7] = math.NaN()
		_, err := pl.Assemble(types.PriceForecast{Today: prices}, types.SolarForecast{}, 50, now)
		require.ErrorIs(t, err, ErrMissingPrices)
	})

	t.Run("state of charge out of range", func(t *testing.T) {
		for _, soc := range []float64{-1, 100.5, math.NaN()} {
			_, err := pl.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{}, soc, now)
			assert.ErrorIs(t, err, ErrInvalidSOC, "soc %v", soc)
		}
	})

	t.Run("state of charge converts and rounds", func(t *testing.T) {
		in, err := pl.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{}, 33.333, now)
		require.NoError(t, err)
		// 33.333% of 15 kWh
		assert.Equal(t, 5.0, in.InitialSOCKWH)
	})

	t.Run("solar estimates round and clamp", func(t *testing.T) {
		in, err := pl.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{
			Today: []types.SolarEstimate{{PVEstimate: 1.23456}, {PVEstimate: -0.5}, {PVEstimate: math.NaN()}},
		}, 50, now)
		require.NoError(t, err)
		assert.Equal(t, 1.2346, in.PVForecast[0])
		assert.Zero(t, in.PVForecast[1])
		assert.Zero(t, in.PVForecast[2])
		// hours past the end of the forecast stay at zero production
		assert.Zero(t, in.PVForecast[3])
	})

	t.Run("self consumption falls back for unmapped month", func(t *testing.T) {
		params := types.DefaultParameters()
		params.SelfConsumptionKWHByMonth = map[int]float64{7: 0.55}
		custom := newTestPlanner(t, params)

		in, err := custom.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{}, 50, now)
		require.NoError(t, err)
		assert.Equal(t, params.DefaultSelfConsumptionKWH, in.SelfConsumptionKWH)

		july := time.Date(2026, time.July, 15, 14, 30, 0, 0, time.UTC)
		in, err = custom.Assemble(types.PriceForecast{Today: flatPrices(10)}, types.SolarForecast{}, 50, july)
		require.NoError(t, err)
		assert.Equal(t, 0.55, in.SelfConsumptionKWH)
	})
}
