package types

// PriceForecast represents the hourly grid electricity prices published by the
// market sensor. Prices are in cents per kWh and may be negative.
type PriceForecast struct {
	// Today holds one price per hour for the current day.
	Today []float64 `json:"today"`
	// Tomorrow holds one price per hour for the next day. It is only
	// meaningful when TomorrowValid is true (day-ahead prices are published
	// in the early afternoon).
	Tomorrow      []float64 `json:"tomorrow"`
	TomorrowValid bool      `json:"tomorrowValid"`
}

// SolarEstimate is a single hourly production estimate from the PV forecast.
type SolarEstimate struct {
	// PVEstimate is the estimated production for the hour in kWh.
	PVEstimate float64 `json:"pv_estimate"`
}

// SolarForecast represents the hourly PV production forecast for today and
// tomorrow. Either day may be empty, in which case zero production is assumed.
type SolarForecast struct {
	Today    []SolarEstimate `json:"today"`
	Tomorrow []SolarEstimate `json:"tomorrow"`
}
