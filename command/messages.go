package command

import (
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
)

const (
	TypeRunPhaseOne = "identity_transfer.command.phase_one.run"
	TypeRunPhaseTwo = "identity_transfer.command.phase_two.run"
)

// RunPhaseOneMessage starts a transfer sub resolution run.
type RunPhaseOneMessage struct{}

func (RunPhaseOneMessage) Type() string { return TypeRunPhaseOne }

// RunPhaseTwoMessage starts an identity exchange run. The confirmation must
// name who attested that the organizational transfer is complete.
type RunPhaseTwoMessage struct {
	Confirmation core.TransferConfirmation
}

func (RunPhaseTwoMessage) Type() string { return TypeRunPhaseTwo }

func (m RunPhaseTwoMessage) Validate() error {
	if !m.Confirmation.Confirmed {
		return commandValidationError("confirmation.confirmed", "transfer completion must be confirmed")
	}
	if strings.TrimSpace(m.Confirmation.ConfirmedBy) == "" {
		return commandValidationError("confirmation.confirmed_by", "confirming operator is required")
	}
	return nil
}
