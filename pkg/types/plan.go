package types

import "time"

// InverterMode is the discrete operating instruction derived from the optimal
// plan for one hour.
type InverterMode string

const (
	// InverterModeGridCharge charges the battery from the grid.
	InverterModeGridCharge InverterMode = "grid_charge"
	// InverterModeFeedToGrid feeds stored/produced energy to the grid.
	InverterModeFeedToGrid InverterMode = "feed_to_grid"
	// InverterModeIdle requires no battery activity; production does not even
	// cover demand.
	InverterModeIdle InverterMode = "idle"
	// InverterModeMaxSelfConsumption covers household load from battery and
	// solar. This is the default mode.
	InverterModeMaxSelfConsumption InverterMode = "max_self_consumption"
)

// Plan is the complete result of one optimization run. All series have
// Horizon entries; slots before CurrentHour are held at their unoptimized
// defaults (initial SOC, zero flows, empty mode).
type Plan struct {
	GeneratedAt time.Time `json:"generatedAt"`
	// Horizon is the total number of hourly slots (24 or 48).
	Horizon int `json:"horizon"`
	// CurrentHour is the first decided slot.
	CurrentHour int `json:"currentHour"`
	// GridChargingAllowed records the policy the plan was solved under.
	GridChargingAllowed bool `json:"gridChargingAllowed"`
	// ProfitCents is the net value of the plan, recomputed from the resolved
	// flows.
	ProfitCents float64 `json:"profitCents"`

	Prices     []float64 `json:"prices"`
	PVForecast []float64 `json:"pvForecast"`

	GridBuy        []float64 `json:"gridBuy"`
	GridSell       []float64 `json:"gridSell"`
	SelfUsed       []float64 `json:"selfUsed"`
	SolarSelfUsed  []float64 `json:"solarSelfUsed"`
	SolarToBattery []float64 `json:"solarToBattery"`
	SolarToGrid    []float64 `json:"solarToGrid"`
	Discharge      []float64 `json:"discharge"`
	SOC            []float64 `json:"soc"`

	Modes []InverterMode `json:"modes"`
}

// CurrentMode returns the mode for the plan's current hour, the single
// actionable decision surfaced to control logic.
func (p Plan) CurrentMode() InverterMode {
	if p.CurrentHour < 0 || p.CurrentHour >= len(p.Modes) {
		return InverterModeMaxSelfConsumption
	}
	return p.Modes[p.CurrentHour]
}
