package planner

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/helioplan/helioplan/pkg/types"
)

const hoursPerDay = 24

var (
	// ErrMissingPrices indicates absent or malformed price data. The run
	// aborts before any solve; the next trigger retries with fresh data.
	ErrMissingPrices = errors.New("planner: missing or malformed price data")
	// ErrInvalidSOC indicates a non-numeric or out-of-range battery
	// state-of-charge reading.
	ErrInvalidSOC = errors.New("planner: invalid battery state of charge")
)

// Inputs is the normalized per-slot time series the optimizer works on.
// Prices and PVForecast both have Horizon entries; only the slots from
// CurrentHour onward are decided.
type Inputs struct {
	Prices             []float64
	PVForecast         []float64
	InitialSOCKWH      float64
	CurrentHour        int
	Horizon            int
	SelfConsumptionKWH float64
}

// Assemble normalizes the raw forecast and state readings into optimizer
// inputs. The horizon is 48 hours when a validated tomorrow price series
// exists, otherwise 24. A missing PV forecast defaults to zero production;
// missing or malformed prices and an out-of-range SOC are hard failures.
func (pl *Planner) Assemble(prices types.PriceForecast, solar types.SolarForecast, socPercent float64, now time.Time) (Inputs, error) {
	if len(prices.Today) != hoursPerDay {
		return Inputs{}, fmt.Errorf("%w: today has %d values, want %d", ErrMissingPrices, len(prices.Today), hoursPerDay)
	}

	horizon := hoursPerDay
	if prices.TomorrowValid {
		if len(prices.Tomorrow) != hoursPerDay {
			return Inputs{}, fmt.Errorf("%w: tomorrow marked valid but has %d values, want %d", ErrMissingPrices, len(prices.Tomorrow), hoursPerDay)
		}
		horizon = 2 * hoursPerDay
	}

	priceSeries := make([]float64, 0, horizon)
	priceSeries = append(priceSeries, prices.Today...)
	if prices.TomorrowValid {
		priceSeries = append(priceSeries, prices.Tomorrow...)
	}
	for i, v := range priceSeries {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Inputs{}, fmt.Errorf("%w: non-finite price %v at hour %d", ErrMissingPrices, v, i)
		}
	}

	pv := make([]float64, horizon)
	fillPV(pv[:hoursPerDay], solar.Today)
	if horizon > hoursPerDay {
		fillPV(pv[hoursPerDay:], solar.Tomorrow)
	}

	if math.IsNaN(socPercent) || socPercent < 0 || socPercent > 100 {
		return Inputs{}, fmt.Errorf("%w: %v%% is outside [0, 100]", ErrInvalidSOC, socPercent)
	}

	return Inputs{
		Prices:             priceSeries,
		PVForecast:         pv,
		InitialSOCKWH:      roundTo(socPercent/100*pl.params.BatteryCapacityKWH, 2),
		CurrentHour:        now.Hour(),
		Horizon:            horizon,
		SelfConsumptionKWH: pl.params.SelfConsumptionForMonth(now.Month()),
	}, nil
}

// fillPV copies hourly estimates into dst, rounding to 4 decimals and
// clamping negatives. dst keeps zeros for any hour the forecast is missing.
func fillPV(dst []float64, estimates []types.SolarEstimate) {
	for i := range dst {
		if i >= len(estimates) {
			return
		}
		v := estimates[i].PVEstimate
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		dst[i] = roundTo(v, 4)
	}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
