package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helioplan/helioplan/pkg/hass"
	"github.com/helioplan/helioplan/pkg/log"
	"github.com/helioplan/helioplan/pkg/types"
)

// errInput marks a run that failed on input data; these are recoverable and
// the next trigger retries with fresh readings.
var errInput = errors.New("input data unavailable")

// runOnce performs one full optimization cycle: read inputs, plan, publish
// and apply the current hour's control actions. Runs are serialized; a second
// trigger waits for the first to finish.
func (s *Server) runOnce(ctx context.Context, now time.Time) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()

	prices, err := s.bridge.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("%w: prices: %w", errInput, err)
	}
	solar, err := s.bridge.GetSolarForecast(ctx)
	if err != nil {
		return fmt.Errorf("%w: solar forecast: %w", errInput, err)
	}
	soc, err := s.bridge.GetBatterySOC(ctx)
	if err != nil {
		return fmt.Errorf("%w: battery SOC: %w", errInput, err)
	}

	in, err := s.planner.Assemble(prices, solar, soc, now)
	if err != nil {
		return fmt.Errorf("%w: %w", errInput, err)
	}

	plan, err := s.planner.Plan(ctx, in)
	if err != nil {
		// solver failures leave the previous control state untouched
		return err
	}

	s.planMu.Lock()
	s.lastPlan = &plan
	s.planMu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "computed plan",
		slog.Int("horizon", plan.Horizon),
		slog.Int("currentHour", plan.CurrentHour),
		slog.Bool("gridChargingAllowed", plan.GridChargingAllowed),
		slog.Float64("profitCents", plan.ProfitCents),
		slog.String("currentMode", string(plan.CurrentMode())),
		slog.Duration("took", time.Since(start)),
	)

	if err := s.bridge.PublishPlan(ctx, plan); err != nil {
		// the plan sensor is informational only, keep going
		log.Ctx(ctx).WarnContext(ctx, "failed to publish plan", slog.Any("error", err))
	}

	return s.applyControls(ctx, plan, now)
}

// applyControls translates the plan's current-hour decision into inverter
// service calls.
func (s *Server) applyControls(ctx context.Context, plan types.Plan, now time.Time) error {
	params := s.planner.Parameters()
	price := plan.Prices[plan.CurrentHour]
	mode := plan.CurrentMode()

	// while the price is below the export fee every exported kWh loses
	// money, so clamp feed-in to the minimum the inverter allows
	feedPowerW := params.MaxFeedGridPowerW
	if price < params.GridSellFeeCents {
		feedPowerW = params.MinFeedGridPowerW
	}
	if err := s.setFeedGridPower(ctx, feedPowerW); err != nil {
		return err
	}

	switch mode {
	case types.InverterModeIdle:
		if err := s.setTOUPeriods(ctx, hass.TOUPeriodIdle); err != nil {
			return err
		}
		return s.selectWorkingMode(ctx, hass.WorkingModeTOU)
	case types.InverterModeFeedToGrid:
		if err := s.selectWorkingMode(ctx, hass.WorkingModeFullyFedToGrid); err != nil {
			return err
		}
		// the export limit caps feed-in at exactly the planned amount
		return s.setFeedGridPower(ctx, plan.GridSell[plan.CurrentHour]*1000)
	case types.InverterModeGridCharge:
		if err := s.setTOUPeriods(ctx, touChargePeriod(now)); err != nil {
			return err
		}
		return s.selectWorkingMode(ctx, hass.WorkingModeTOU)
	default:
		return s.selectWorkingMode(ctx, hass.WorkingModeMaxSelfConsumption)
	}
}

func (s *Server) setFeedGridPower(ctx context.Context, powerW float64) error {
	if s.dryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run: would've set maximum feed grid power", slog.Float64("powerW", powerW))
		return nil
	}
	return s.bridge.SetMaximumFeedGridPower(ctx, powerW)
}

func (s *Server) setTOUPeriods(ctx context.Context, periods string) error {
	if s.dryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run: would've set TOU periods", slog.String("periods", periods))
		return nil
	}
	return s.bridge.SetTOUPeriods(ctx, periods)
}

func (s *Server) selectWorkingMode(ctx context.Context, option string) error {
	if s.dryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run: would've selected working mode", slog.String("option", option))
		return nil
	}
	return s.bridge.SelectWorkingMode(ctx, option)
}

// touChargePeriod builds a one-hour charge window starting at the top of the
// current hour, in the huawei_solar "HH:MM-HH:MM/weekday/+" format with an
// ISO weekday (Monday is 1).
func touChargePeriod(now time.Time) string {
	start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	end := start.Add(time.Hour)
	weekday := (int(now.Weekday())+6)%7 + 1
	return fmt.Sprintf("%s-%s/%d/+", start.Format("15:04"), end.Format("15:04"), weekday)
}
