// Package hass talks to Home Assistant: it reads the price, solar and battery
// sensors the optimizer needs and issues the inverter control service calls
// the chosen plan requires.
package hass

import (
	"context"

	"github.com/helioplan/helioplan/pkg/types"
)

// Inverter working modes and TOU period strings understood by the
// huawei_solar integration.
const (
	WorkingModeTOU                = "time_of_use_luna2000"
	WorkingModeFullyFedToGrid     = "fully_fed_to_grid"
	WorkingModeMaxSelfConsumption = "maximise_self_consumption"

	// TOUPeriodIdle is a degenerate one-minute discharge window; with no
	// usable window the battery effectively stays idle.
	TOUPeriodIdle = "00:00-00:01/1/-"
)

// Bridge defines the interface for reading planning inputs from and issuing
// control commands to a Home Assistant installation.
type Bridge interface {
	// GetPrices returns the Nordpool hourly price forecast.
	GetPrices(ctx context.Context) (types.PriceForecast, error)

	// GetSolarForecast returns the Solcast hourly PV production forecast.
	// A missing forecast entity yields an empty forecast, not an error.
	GetSolarForecast(ctx context.Context) (types.SolarForecast, error)

	// GetBatterySOC returns the battery state of charge in percent.
	GetBatterySOC(ctx context.Context) (float64, error)

	// PublishPlan exposes the chosen plan as sensor attributes.
	PublishPlan(ctx context.Context, plan types.Plan) error

	// SetMaximumFeedGridPower limits grid export power in watts.
	SetMaximumFeedGridPower(ctx context.Context, powerW float64) error

	// SetTOUPeriods replaces the battery's TOU period schedule.
	SetTOUPeriods(ctx context.Context, periods string) error

	// SelectWorkingMode switches the inverter working mode.
	SelectWorkingMode(ctx context.Context, option string) error
}
