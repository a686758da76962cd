// Package planner computes the hourly battery charge/discharge schedule that
// maximizes financial value over the planning horizon, given grid prices, a
// PV production forecast and the battery's current state of charge.
package planner

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/helioplan/helioplan/pkg/log"
	"github.com/helioplan/helioplan/pkg/types"

	"github.com/levenlabs/go-lflag"
)

// Planner owns the immutable optimization parameters and runs the full
// plan pipeline. A Planner is safe for concurrent use; every run builds its
// own model and shares no state with other runs.
type Planner struct {
	params       types.Parameters
	solveTimeout time.Duration
}

// New creates a Planner with the given parameters.
func New(params types.Parameters) (*Planner, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Planner{
		params:       params,
		solveTimeout: 30 * time.Second,
	}, nil
}

// Configured initializes the Planner from command-line flags.
// It uses lflag to register command-line flags for configuration.
func Configured() *Planner {
	pl := &Planner{}

	params := types.DefaultParameters()
	lflag.JSON(&params, "planner-parameters", params, "JSON battery and pricing parameters for the optimizer")
	solveTimeout := lflag.Duration("planner-solve-timeout", 30*time.Second, "Time budget for a single solve (0 disables the budget)")

	lflag.Do(func() {
		if err := params.Validate(); err != nil {
			log.Ctx(context.Background()).Error("invalid planner parameters", slog.Any("error", err))
			os.Exit(1)
		}
		pl.params = params
		pl.solveTimeout = *solveTimeout
	})

	return pl
}

// Parameters returns the planner's configured parameters.
func (pl *Planner) Parameters() types.Parameters {
	return pl.params
}

// Plan solves the optimization twice, once permitting battery charging from
// the grid and once forbidding it, and keeps the grid-charging plan only when
// its extra profit clears the configured threshold. The marginal benefit has
// to pay for the additional battery cycling.
func (pl *Planner) Plan(ctx context.Context, in Inputs) (types.Plan, error) {
	withGridCharge, err := pl.solveOnce(ctx, in, true)
	if err != nil {
		return types.Plan{}, err
	}
	withoutGridCharge, err := pl.solveOnce(ctx, in, false)
	if err != nil {
		return types.Plan{}, err
	}

	profitDiff := withGridCharge.ProfitCents - withoutGridCharge.ProfitCents
	log.Ctx(ctx).DebugContext(ctx, "grid charging trade-off",
		slog.Float64("profitWithGridCharge", withGridCharge.ProfitCents),
		slog.Float64("profitWithoutGridCharge", withoutGridCharge.ProfitCents),
		slog.Float64("profitDiff", profitDiff),
		slog.Float64("threshold", pl.params.MinGridChargeProfitCents),
	)

	chosen := withGridCharge
	if profitDiff < pl.params.MinGridChargeProfitCents {
		chosen = withoutGridCharge
	}
	chosen.GeneratedAt = time.Now()
	return chosen, nil
}
