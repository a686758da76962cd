package hass

import (
	"context"
	"sync"

	"github.com/helioplan/helioplan/pkg/types"
)

// Mock is an in-memory Bridge for tests. Readings are canned, control calls
// are recorded.
type Mock struct {
	mu         sync.Mutex
	prices     types.PriceForecast
	solar      types.SolarForecast
	socPercent float64

	pricesErr  error
	solarErr   error
	socErr     error
	publishErr error
	serviceErr error

	publishedPlans []types.Plan
	feedGridPowerW []float64
	touPeriods     []string
	workingModes   []string
}

// NewMock returns a Mock with no readings set.
func NewMock() *Mock {
	return &Mock{}
}

// SetPrices sets the price forecast returned by GetPrices.
func (m *Mock) SetPrices(p types.PriceForecast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = p
}

// SetSolarForecast sets the forecast returned by GetSolarForecast.
func (m *Mock) SetSolarForecast(s types.SolarForecast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solar = s
}

// SetBatterySOC sets the percentage returned by GetBatterySOC.
func (m *Mock) SetBatterySOC(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socPercent = pct
}

// FailPrices makes GetPrices return err.
func (m *Mock) FailPrices(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pricesErr = err
}

// FailSolarForecast makes GetSolarForecast return err.
func (m *Mock) FailSolarForecast(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solarErr = err
}

// FailBatterySOC makes GetBatterySOC return err.
func (m *Mock) FailBatterySOC(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socErr = err
}

// FailPublish makes PublishPlan return err.
func (m *Mock) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// FailServices makes all control service calls return err.
func (m *Mock) FailServices(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serviceErr = err
}

// GetPrices implements Bridge.
func (m *Mock) GetPrices(ctx context.Context) (types.PriceForecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pricesErr != nil {
		return types.PriceForecast{}, m.pricesErr
	}
	return m.prices, nil
}

// GetSolarForecast implements Bridge.
func (m *Mock) GetSolarForecast(ctx context.Context) (types.SolarForecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.solarErr != nil {
		return types.SolarForecast{}, m.solarErr
	}
	return m.solar, nil
}

// GetBatterySOC implements Bridge.
func (m *Mock) GetBatterySOC(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socErr != nil {
		return 0, m.socErr
	}
	return m.socPercent, nil
}

// PublishPlan implements Bridge.
func (m *Mock) PublishPlan(ctx context.Context, plan types.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishedPlans = append(m.publishedPlans, plan)
	return nil
}

// SetMaximumFeedGridPower implements Bridge.
func (m *Mock) SetMaximumFeedGridPower(ctx context.Context, powerW float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serviceErr != nil {
		return m.serviceErr
	}
	m.feedGridPowerW = append(m.feedGridPowerW, powerW)
	return nil
}

// SetTOUPeriods implements Bridge.
func (m *Mock) SetTOUPeriods(ctx context.Context, periods string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serviceErr != nil {
		return m.serviceErr
	}
	m.touPeriods = append(m.touPeriods, periods)
	return nil
}

// SelectWorkingMode implements Bridge.
func (m *Mock) SelectWorkingMode(ctx context.Context, option string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serviceErr != nil {
		return m.serviceErr
	}
	m.workingModes = append(m.workingModes, option)
	return nil
}

// PublishedPlans returns every plan published so far.
func (m *Mock) PublishedPlans() []types.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Plan(nil), m.publishedPlans...)
}

// FeedGridPowerCalls returns every power limit set so far.
func (m *Mock) FeedGridPowerCalls() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.feedGridPowerW...)
}

// TOUPeriodCalls returns every TOU period string set so far.
func (m *Mock) TOUPeriodCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.touPeriods...)
}

// WorkingModeCalls returns every working mode selected so far.
func (m *Mock) WorkingModeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.workingModes...)
}

// ResetCalls clears the recorded control calls.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedPlans = nil
	m.feedGridPowerW = nil
	m.touPeriods = nil
	m.workingModes = nil
}
