package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	migrationcommand "github.com/goliatone/go-identity-transfer/command"
	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Handlers are the migration commands and queries a Bus exposes. Nil
// handlers are not registered.
type Handlers struct {
	PhaseOne *migrationcommand.RunPhaseOneCommand
	PhaseTwo *migrationcommand.RunPhaseTwoCommand
	ListRuns *query.ListRunsQuery
	GetUser  *query.GetUserQuery
}

// Bus registers the migration handlers with a go-command registry and the
// process wide dispatcher. Close releases the dispatcher subscriptions.
type Bus struct {
	registry      *command.Registry
	subscriptions []commanddispatcher.Subscription
}

func NewBus(handlers Handlers, runnerOpts ...runner.Option) (*Bus, error) {
	bus := &Bus{registry: command.NewRegistry()}

	if handlers.PhaseOne != nil {
		if err := registerCommand(bus, handlers.PhaseOne, runnerOpts...); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if handlers.PhaseTwo != nil {
		if err := registerCommand(bus, handlers.PhaseTwo, runnerOpts...); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if handlers.ListRuns != nil {
		if err := registerQuery(bus, handlers.ListRuns, runnerOpts...); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if handlers.GetUser != nil {
		if err := registerQuery(bus, handlers.GetUser, runnerOpts...); err != nil {
			bus.Close()
			return nil, err
		}
	}

	if err := bus.registry.Initialize(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("gocommand: initialize registry: %w", err)
	}
	return bus, nil
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// RunPhaseOne dispatches a phase one run and returns its report. The report
// is returned alongside a run error when the run stopped early.
func (b *Bus) RunPhaseOne(ctx context.Context) (core.RunReport, error) {
	return dispatchForReport(ctx, migrationcommand.RunPhaseOneMessage{})
}

func (b *Bus) RunPhaseTwo(ctx context.Context, confirmation core.TransferConfirmation) (core.RunReport, error) {
	return dispatchForReport(ctx, migrationcommand.RunPhaseTwoMessage{Confirmation: confirmation})
}

func (b *Bus) ListRuns(ctx context.Context, msg query.ListRunsMessage) ([]core.RunReport, error) {
	return commanddispatcher.Query[query.ListRunsMessage, []core.RunReport](ctx, msg)
}

func (b *Bus) GetUser(ctx context.Context, id string) (core.UserRecord, error) {
	return commanddispatcher.Query[query.GetUserMessage, core.UserRecord](ctx, query.GetUserMessage{ID: id})
}

func dispatchForReport[T command.Message](ctx context.Context, msg T) (core.RunReport, error) {
	if err := ValidateMessageContract(msg); err != nil {
		return core.RunReport{}, err
	}
	collector := command.NewResult[core.RunReport]()
	err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg)
	report, _ := collector.Load()
	return report, err
}

func registerCommand[T any](bus *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := bus.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	bus.subscriptions = append(bus.subscriptions, subscription)
	return nil
}

func registerQuery[T any, R any](bus *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := bus.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	bus.subscriptions = append(bus.subscriptions, subscription)
	return nil
}
