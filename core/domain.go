package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPhase          = errors.New("core: invalid migration phase")
	ErrTransferNotConfirmed  = errors.New("core: organizational transfer completion was not confirmed")
	ErrRecordNotFound        = errors.New("core: user record not found")
	ErrMissingProviderSub    = errors.New("core: provider sub is required")
	ErrMissingTransferSub    = errors.New("core: transfer sub is required")
	ErrIncompleteIdentity    = errors.New("core: provider identity is missing sub or email")
	ErrCredentialUnavailable = errors.New("core: access token is unavailable")
)

type Phase string

const (
	PhaseResolveTransfer  Phase = "resolve_transfer"
	PhaseExchangeIdentity Phase = "exchange_identity"
)

func (p Phase) Validate() error {
	switch p {
	case PhaseResolveTransfer, PhaseExchangeIdentity:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPhase, string(p))
	}
}

func ParsePhase(raw string) (Phase, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "1", "one", "phase-one", "phase_one", string(PhaseResolveTransfer):
		return PhaseResolveTransfer, nil
	case "2", "two", "phase-two", "phase_two", string(PhaseExchangeIdentity):
		return PhaseExchangeIdentity, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, raw)
	}
}

type RecordState string

const (
	RecordStateIneligible      RecordState = "ineligible"
	RecordStateUnmigrated      RecordState = "unmigrated"
	RecordStateTransferPending RecordState = "transfer_pending"
)

// UserRecord holds the credential fields a migration reads. A migrated record
// is indistinguishable from a transfer-pending one by shape alone; the
// provider decides by returning the same sub.
type UserRecord struct {
	ID            string
	RegisteredAt  time.Time
	ProviderSub   string
	TransferSub   string
	ProviderEmail string
}

func (r UserRecord) State() RecordState {
	switch {
	case strings.TrimSpace(r.ProviderSub) == "":
		return RecordStateIneligible
	case strings.TrimSpace(r.TransferSub) == "":
		return RecordStateUnmigrated
	default:
		return RecordStateTransferPending
	}
}

// EligibleFor reports whether the record matches the candidate filter of phase.
func (r UserRecord) EligibleFor(phase Phase) bool {
	switch phase {
	case PhaseResolveTransfer:
		return r.State() == RecordStateUnmigrated
	case PhaseExchangeIdentity:
		return r.State() == RecordStateTransferPending
	default:
		return false
	}
}

func (r UserRecord) Position() ScanPosition {
	return ScanPosition{RegisteredAt: r.RegisteredAt, ID: r.ID}
}

// ScanPosition is the keyset of the candidate scan: registration time first,
// record id as tie breaker.
type ScanPosition struct {
	RegisteredAt time.Time
	ID           string
}

func (p ScanPosition) IsZero() bool {
	return p.RegisteredAt.IsZero() && strings.TrimSpace(p.ID) == ""
}

// Before reports whether p sorts strictly before other.
func (p ScanPosition) Before(other ScanPosition) bool {
	if !p.RegisteredAt.Equal(other.RegisteredAt) {
		return p.RegisteredAt.Before(other.RegisteredAt)
	}
	return p.ID < other.ID
}

type CandidateQuery struct {
	Phase Phase
	After *ScanPosition
	Limit int
}

func (q CandidateQuery) Validate() error {
	if err := q.Phase.Validate(); err != nil {
		return err
	}
	if q.Limit <= 0 {
		return fmt.Errorf("core: candidate query limit must be positive")
	}
	return nil
}

type AccessToken struct {
	Value     string
	TokenType string
	ExpiresAt *time.Time
}

func (t AccessToken) Valid(now time.Time) bool {
	if strings.TrimSpace(t.Value) == "" {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// Credentials are shared read-only by every provider call of a run.
type Credentials struct {
	AccessToken  string
	ClientSecret string
}

type ProviderIdentity struct {
	Sub            string
	Email          string
	IsPrivateEmail bool
}

func (i ProviderIdentity) Validate() error {
	if strings.TrimSpace(i.Sub) == "" || strings.TrimSpace(i.Email) == "" {
		return ErrIncompleteIdentity
	}
	return nil
}

type TransferConfirmation struct {
	Confirmed   bool
	ConfirmedBy string
	ConfirmedAt time.Time
}

func (c TransferConfirmation) Validate() error {
	if !c.Confirmed {
		return ErrTransferNotConfirmed
	}
	return nil
}

type RecordOutcome string

const (
	OutcomeUpdated         RecordOutcome = "updated"
	OutcomeAlreadyMigrated RecordOutcome = "already_migrated"
	OutcomeConflict        RecordOutcome = "conflict"
	OutcomeFailed          RecordOutcome = "failed"
)

type RunReport struct {
	RunID           string
	Phase           Phase
	Scanned         int
	Updated         int
	AlreadyMigrated int
	Conflicts       int
	Failed          int
	Interrupted     bool
	LastPosition    *ScanPosition
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (r *RunReport) record(outcome RecordOutcome) {
	switch outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeAlreadyMigrated:
		r.AlreadyMigrated++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeFailed:
		r.Failed++
	}
}

func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
