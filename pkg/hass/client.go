package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helioplan/helioplan/pkg/common"
	"github.com/helioplan/helioplan/pkg/log"
	"github.com/helioplan/helioplan/pkg/types"

	"github.com/levenlabs/go-lflag"
)

// ErrEntityNotFound is returned when Home Assistant has no state for the
// requested entity.
var ErrEntityNotFound = errors.New("hass: entity not found")

// Client implements Bridge against the Home Assistant REST API using a
// long-lived access token.
type Client struct {
	client  *http.Client
	baseURL string
	token   string

	priceEntity         string
	solarTodayEntity    string
	solarTomorrowEntity string
	socEntity           string
	planEntity          string
	workingModeEntity   string
	batteryDeviceID     string
	inverterDeviceID    string
}

// New creates a Client for the given Home Assistant base URL and token, with
// the default entity IDs of the reference installation.
func New(baseURL, token string) *Client {
	return &Client{
		client:  common.HTTPClient(time.Minute),
		baseURL: baseURL,
		token:   token,

		priceEntity:         "sensor.nordpool_kwh_ee_eur_3_10_0",
		solarTodayEntity:    "sensor.solcast_pv_forecast_forecast_today",
		solarTomorrowEntity: "sensor.solcast_pv_forecast_forecast_tomorrow",
		socEntity:           "sensor.batteries_state_of_capacity",
		planEntity:          "sensor.energy_planning_sensor",
		workingModeEntity:   "select.batteries_working_mode",
	}
}

// Configured initializes the Client from command-line flags.
// It uses lflag to register command-line flags for configuration.
func Configured() *Client {
	c := &Client{}

	baseURL := lflag.String("hass-url", "http://homeassistant.local:8123", "Home Assistant base URL")
	token := lflag.RequiredString("hass-token", "Home Assistant long-lived access token")
	priceEntity := lflag.String("hass-price-entity", "sensor.nordpool_kwh_ee_eur_3_10_0", "Nordpool price sensor entity ID")
	solarToday := lflag.String("hass-solar-today-entity", "sensor.solcast_pv_forecast_forecast_today", "Solcast today forecast entity ID")
	solarTomorrow := lflag.String("hass-solar-tomorrow-entity", "sensor.solcast_pv_forecast_forecast_tomorrow", "Solcast tomorrow forecast entity ID")
	socEntity := lflag.String("hass-soc-entity", "sensor.batteries_state_of_capacity", "Battery state-of-capacity sensor entity ID")
	planEntity := lflag.String("hass-plan-entity", "sensor.energy_planning_sensor", "Entity ID the plan is published under")
	workingMode := lflag.String("hass-working-mode-entity", "select.batteries_working_mode", "Inverter working mode select entity ID")
	batteryDevice := lflag.RequiredString("hass-battery-device-id", "Device ID of the battery in Home Assistant")
	inverterDevice := lflag.RequiredString("hass-inverter-device-id", "Device ID of the inverter in Home Assistant")

	lflag.Do(func() {
		c.client = common.HTTPClient(time.Minute)
		c.baseURL = *baseURL
		c.token = *token
		c.priceEntity = *priceEntity
		c.solarTodayEntity = *solarToday
		c.solarTomorrowEntity = *solarTomorrow
		c.socEntity = *socEntity
		c.planEntity = *planEntity
		c.workingModeEntity = *workingMode
		c.batteryDeviceID = *batteryDevice
		c.inverterDeviceID = *inverterDevice
	})

	return c
}

type stateResult struct {
	EntityID   string          `json:"entity_id"`
	State      string          `json:"state"`
	Attributes json.RawMessage `json:"attributes"`
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, dest interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrEntityNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Ctx(req.Context()).ErrorContext(req.Context(), "hass api error",
			slog.Int("status", resp.StatusCode),
			slog.String("path", req.URL.Path),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("hass: status %d", resp.StatusCode)
	}

	if dest == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode hass response",
			slog.Any("error", err),
			slog.String("path", req.URL.Path),
		)
		return fmt.Errorf("hass: failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) getState(ctx context.Context, entityID string) (stateResult, error) {
	req, err := c.newRequest(ctx, "GET", "api/states/"+entityID, nil)
	if err != nil {
		return stateResult{}, err
	}
	var res stateResult
	if err := c.doRequest(req, &res); err != nil {
		return stateResult{}, fmt.Errorf("get state %s: %w", entityID, err)
	}
	return res, nil
}

func (c *Client) callService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	req, err := c.newRequest(ctx, "POST", "api/services/"+domain+"/"+service, data)
	if err != nil {
		return err
	}
	if err := c.doRequest(req, nil); err != nil {
		return fmt.Errorf("call service %s/%s: %w", domain, service, err)
	}
	return nil
}

type priceAttributes struct {
	Today         []float64       `json:"today"`
	Tomorrow      json.RawMessage `json:"tomorrow"`
	TomorrowValid bool            `json:"tomorrow_valid"`
}

// GetPrices returns the Nordpool price forecast. The tomorrow series is only
// decoded when the sensor marks it valid; before publication it can hold
// nulls.
func (c *Client) GetPrices(ctx context.Context) (types.PriceForecast, error) {
	res, err := c.getState(ctx, c.priceEntity)
	if err != nil {
		return types.PriceForecast{}, err
	}

	var attrs priceAttributes
	if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
		return types.PriceForecast{}, fmt.Errorf("hass: failed to decode price attributes: %w", err)
	}

	out := types.PriceForecast{
		Today:         attrs.Today,
		TomorrowValid: attrs.TomorrowValid,
	}
	if attrs.TomorrowValid {
		if err := json.Unmarshal(attrs.Tomorrow, &out.Tomorrow); err != nil {
			return types.PriceForecast{}, fmt.Errorf("hass: failed to decode tomorrow prices: %w", err)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched prices",
		slog.Int("today", len(out.Today)),
		slog.Bool("tomorrowValid", out.TomorrowValid),
	)
	return out, nil
}

type solarAttributes struct {
	DetailedHourly []types.SolarEstimate `json:"detailedHourly"`
}

// GetSolarForecast returns today's and tomorrow's hourly PV estimates. A
// missing forecast entity is treated as zero production.
func (c *Client) GetSolarForecast(ctx context.Context) (types.SolarForecast, error) {
	today, err := c.getSolarDay(ctx, c.solarTodayEntity)
	if err != nil {
		return types.SolarForecast{}, err
	}
	tomorrow, err := c.getSolarDay(ctx, c.solarTomorrowEntity)
	if err != nil {
		return types.SolarForecast{}, err
	}
	return types.SolarForecast{Today: today, Tomorrow: tomorrow}, nil
}

func (c *Client) getSolarDay(ctx context.Context, entityID string) ([]types.SolarEstimate, error) {
	res, err := c.getState(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "solar forecast entity missing, assuming zero production",
				slog.String("entity", entityID))
			return nil, nil
		}
		return nil, err
	}

	var attrs solarAttributes
	if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("hass: failed to decode solar attributes: %w", err)
	}
	return attrs.DetailedHourly, nil
}

// GetBatterySOC returns the battery state of charge in percent.
func (c *Client) GetBatterySOC(ctx context.Context) (float64, error) {
	res, err := c.getState(ctx, c.socEntity)
	if err != nil {
		return 0, err
	}
	soc, err := strconv.ParseFloat(strings.TrimSpace(res.State), 64)
	if err != nil {
		return 0, fmt.Errorf("hass: invalid battery SOC state %q: %w", res.State, err)
	}
	return soc, nil
}

type planAttributes struct {
	Price              []float64            `json:"price"`
	PVForecast         []float64            `json:"pv_forecast"`
	GridBuy            []float64            `json:"grid_buy"`
	GridSell           []float64            `json:"grid_sell"`
	SelfUsed           []float64            `json:"self_used"`
	SolarSelfUsed      []float64            `json:"solar_self_used"`
	SolarToBattery     []float64            `json:"solar_to_battery"`
	SolarToGrid        []float64            `json:"solar_to_grid"`
	SOC                []float64            `json:"soc"`
	InverterMode       []types.InverterMode `json:"inverter_mode"`
	CurrentWorkingMode types.InverterMode   `json:"current_working_mode"`
}

// PublishPlan exposes the chosen plan as attributes of the planning sensor so
// dashboards can graph the schedule.
func (c *Client) PublishPlan(ctx context.Context, plan types.Plan) error {
	body := struct {
		State      string         `json:"state"`
		Attributes planAttributes `json:"attributes"`
	}{
		State: "Ok",
		Attributes: planAttributes{
			Price:              plan.Prices,
			PVForecast:         plan.PVForecast,
			GridBuy:            plan.GridBuy,
			GridSell:           plan.GridSell,
			SelfUsed:           plan.SelfUsed,
			SolarSelfUsed:      plan.SolarSelfUsed,
			SolarToBattery:     plan.SolarToBattery,
			SolarToGrid:        plan.SolarToGrid,
			SOC:                plan.SOC,
			InverterMode:       plan.Modes,
			CurrentWorkingMode: plan.CurrentMode(),
		},
	}

	req, err := c.newRequest(ctx, "POST", "api/states/"+c.planEntity, body)
	if err != nil {
		return err
	}
	if err := c.doRequest(req, nil); err != nil {
		return fmt.Errorf("publish plan: %w", err)
	}
	return nil
}

// SetMaximumFeedGridPower limits grid export power in watts.
func (c *Client) SetMaximumFeedGridPower(ctx context.Context, powerW float64) error {
	log.Ctx(ctx).InfoContext(ctx, "setting maximum feed grid power", slog.Float64("powerW", powerW))
	return c.callService(ctx, "huawei_solar", "set_maximum_feed_grid_power", map[string]interface{}{
		"device_id": c.inverterDeviceID,
		"power":     powerW,
	})
}

// SetTOUPeriods replaces the battery's TOU period schedule.
func (c *Client) SetTOUPeriods(ctx context.Context, periods string) error {
	log.Ctx(ctx).InfoContext(ctx, "setting TOU periods", slog.String("periods", periods))
	return c.callService(ctx, "huawei_solar", "set_tou_periods", map[string]interface{}{
		"device_id": c.batteryDeviceID,
		"periods":   periods,
	})
}

// SelectWorkingMode switches the inverter working mode.
func (c *Client) SelectWorkingMode(ctx context.Context, option string) error {
	log.Ctx(ctx).InfoContext(ctx, "selecting working mode", slog.String("option", option))
	return c.callService(ctx, "select", "select_option", map[string]interface{}{
		"entity_id": c.workingModeEntity,
		"option":    option,
	})
}
