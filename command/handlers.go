package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-identity-transfer/core"
)

type PhaseOneRunner interface {
	Run(ctx context.Context) (core.RunReport, error)
}

type PhaseTwoRunner interface {
	Run(ctx context.Context, confirmation core.TransferConfirmation) (core.RunReport, error)
}

type RunPhaseOneCommand struct {
	runner PhaseOneRunner
}

func NewRunPhaseOneCommand(runner PhaseOneRunner) *RunPhaseOneCommand {
	return &RunPhaseOneCommand{runner: runner}
}

// Execute stores the run report in the context result collector, including
// the partial report of a run that stopped with an error.
func (c *RunPhaseOneCommand) Execute(ctx context.Context, _ RunPhaseOneMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: phase one runner is required")
	}
	report, err := c.runner.Run(ctx)
	storeResult(ctx, report)
	return err
}

type RunPhaseTwoCommand struct {
	runner PhaseTwoRunner
	now    func() time.Time
}

func NewRunPhaseTwoCommand(runner PhaseTwoRunner) *RunPhaseTwoCommand {
	return &RunPhaseTwoCommand{runner: runner, now: func() time.Time { return time.Now().UTC() }}
}

func (c *RunPhaseTwoCommand) Execute(ctx context.Context, msg RunPhaseTwoMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: phase two runner is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	confirmation := msg.Confirmation
	if confirmation.ConfirmedAt.IsZero() && c.now != nil {
		confirmation.ConfirmedAt = c.now()
	}
	report, err := c.runner.Run(ctx, confirmation)
	storeResult(ctx, report)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
