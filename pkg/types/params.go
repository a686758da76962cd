package types

import (
	"fmt"
	"time"
)

// Parameters holds the per-installation physical and economic constants of
// the battery system. The struct is immutable once configured and is passed
// into the planner at construction.
//
// Units: energy in kWh, prices and fees in cents per kWh, power in W.
type Parameters struct {
	// BatteryCapacityKWH is the total battery capacity.
	BatteryCapacityKWH float64 `json:"batteryCapacityKWH"`
	// MaxChargeKWH is the maximum energy charged in one hour.
	MaxChargeKWH float64 `json:"maxChargeKWH"`
	// MaxDischargeKWH is the maximum energy discharged in one hour.
	MaxDischargeKWH float64 `json:"maxDischargeKWH"`
	// ChargeEfficiency is the round-trip multiplier applied to all charging
	// inflow, in (0, 1].
	ChargeEfficiency float64 `json:"chargeEfficiency"`
	// MinBatterySOCKWH is the reserve floor the state of charge may never
	// drop below.
	MinBatterySOCKWH float64 `json:"minBatterySOCKWH"`

	// GridFeeCents is the fixed grid fee per purchased kWh.
	GridFeeCents float64 `json:"gridFeeCents"`
	// GridBuyFeeCents is the import-side surcharge per kWh.
	GridBuyFeeCents float64 `json:"gridBuyFeeCents"`
	// GridSellFeeCents is the export-side fee per kWh.
	GridSellFeeCents float64 `json:"gridSellFeeCents"`

	// MinGridSellPriceCents disables grid export for any hour priced below it.
	MinGridSellPriceCents float64 `json:"minGridSellPriceCents"`
	// MinGridSellKWH is the smallest export the model may schedule in an hour
	// where export is active at all.
	MinGridSellKWH float64 `json:"minGridSellKWH"`
	// MinCycleKWH is the smallest grid charge or export that counts as real
	// battery cycling when classifying the inverter mode.
	MinCycleKWH float64 `json:"minCycleKWH"`
	// MinGridChargeProfitCents is the minimum extra profit a grid-charging
	// plan must produce over a no-grid-charging plan to be worth the cycling.
	MinGridChargeProfitCents float64 `json:"minGridChargeProfitCents"`
	// BatteryGridShare is the share of the fixed grid fee attributed to
	// battery self-consumption, caused by phase load imbalance.
	BatteryGridShare float64 `json:"batteryGridShare"`

	// SelfConsumptionKWHByMonth is the assumed hourly household load, keyed
	// by calendar month (1-12). Months missing from the map fall back to
	// DefaultSelfConsumptionKWH.
	SelfConsumptionKWHByMonth map[int]float64 `json:"selfConsumptionKWHByMonth"`
	DefaultSelfConsumptionKWH float64         `json:"defaultSelfConsumptionKWH"`

	// MaxFeedGridPowerW is the normal grid export power limit.
	MaxFeedGridPowerW float64 `json:"maxFeedGridPowerW"`
	// MinFeedGridPowerW is the reduced export limit used while the current
	// price is below the export fee.
	MinFeedGridPowerW float64 `json:"minFeedGridPowerW"`
}

// DefaultParameters returns the parameters for the reference installation
// (15 kWh Luna battery, Estonian Nordpool area).
func DefaultParameters() Parameters {
	return Parameters{
		BatteryCapacityKWH:       15.0,
		MaxChargeKWH:             4.4,
		MaxDischargeKWH:          4.4,
		ChargeEfficiency:         0.95,
		MinBatterySOCKWH:         0.75,
		GridFeeCents:             9.00,
		GridBuyFeeCents:          0.45,
		GridSellFeeCents:         0.8,
		MinGridSellPriceCents:    5.00,
		MinGridSellKWH:           1,
		MinCycleKWH:              0.5,
		MinGridChargeProfitCents: 50,
		BatteryGridShare:         0.66,
		SelfConsumptionKWHByMonth: map[int]float64{
			1: 1.075, 2: 1.075, 3: 0.85, 4: 0.8,
			5: 0.65, 6: 0.55, 7: 0.55, 8: 0.55,
			9: 0.65, 10: 0.8, 11: 0.95, 12: 1.075,
		},
		DefaultSelfConsumptionKWH: 0.62,
		MaxFeedGridPowerW:         4400,
		MinFeedGridPowerW:         500,
	}
}

// SelfConsumptionForMonth returns the hourly self-consumption ceiling for the
// given month, falling back to the default for unmapped months.
func (p Parameters) SelfConsumptionForMonth(m time.Month) float64 {
	if v, ok := p.SelfConsumptionKWHByMonth[int(m)]; ok {
		return v
	}
	return p.DefaultSelfConsumptionKWH
}

// Validate ensures the parameters are jointly satisfiable. A violation here is
// a configuration error, not a runtime condition.
func (p Parameters) Validate() error {
	if p.BatteryCapacityKWH <= 0 {
		return fmt.Errorf("batteryCapacityKWH must be > 0, got %v", p.BatteryCapacityKWH)
	}
	if p.MaxChargeKWH <= 0 {
		return fmt.Errorf("maxChargeKWH must be > 0, got %v", p.MaxChargeKWH)
	}
	if p.MaxDischargeKWH <= 0 {
		return fmt.Errorf("maxDischargeKWH must be > 0, got %v", p.MaxDischargeKWH)
	}
	if p.ChargeEfficiency <= 0 || p.ChargeEfficiency > 1 {
		return fmt.Errorf("chargeEfficiency must be in (0, 1], got %v", p.ChargeEfficiency)
	}
	if p.MinBatterySOCKWH < 0 || p.MinBatterySOCKWH > p.BatteryCapacityKWH {
		return fmt.Errorf("minBatterySOCKWH must be within [0, capacity], got %v", p.MinBatterySOCKWH)
	}
	if p.MinGridSellKWH < 0 || p.MinGridSellKWH > p.MaxDischargeKWH {
		return fmt.Errorf("minGridSellKWH must be within [0, maxDischargeKWH], got %v", p.MinGridSellKWH)
	}
	if p.MinCycleKWH < 0 {
		return fmt.Errorf("minCycleKWH must be >= 0, got %v", p.MinCycleKWH)
	}
	if p.BatteryGridShare < 0 || p.BatteryGridShare > 1 {
		return fmt.Errorf("batteryGridShare must be within [0, 1], got %v", p.BatteryGridShare)
	}
	if p.DefaultSelfConsumptionKWH <= 0 {
		return fmt.Errorf("defaultSelfConsumptionKWH must be > 0, got %v", p.DefaultSelfConsumptionKWH)
	}
	for m, v := range p.SelfConsumptionKWHByMonth {
		if m < 1 || m > 12 {
			return fmt.Errorf("selfConsumptionKWHByMonth has invalid month %d", m)
		}
		if v <= 0 {
			return fmt.Errorf("selfConsumptionKWHByMonth[%d] must be > 0, got %v", m, v)
		}
	}
	return nil
}
