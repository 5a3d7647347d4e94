package core

import (
	"context"
	"strings"
)

// PhaseTwoRunner exchanges stored transfer subs for the identity issued by the
// receiving team. It must only run after the organizational transfer is done.
type PhaseTwoRunner struct {
	scanner   scanner
	exchanger IdentityExchanger
}

func NewPhaseTwoRunner(
	store UserStore,
	exchanger IdentityExchanger,
	credentials CredentialSource,
	opts ...Option,
) (*PhaseTwoRunner, error) {
	if exchanger == nil {
		return nil, dependencyError("core: identity exchanger is required")
	}
	s, err := newScanner(store, credentials, opts)
	if err != nil {
		return nil, err
	}
	return &PhaseTwoRunner{scanner: s, exchanger: exchanger}, nil
}

func (r *PhaseTwoRunner) Run(ctx context.Context, confirmation TransferConfirmation) (RunReport, error) {
	if r == nil {
		return RunReport{}, dependencyError("core: phase two runner is nil")
	}
	if err := confirmation.Validate(); err != nil {
		return RunReport{Phase: PhaseExchangeIdentity}, wrapBadInput(err, "core: phase two requires transfer confirmation")
	}
	r.scanner.logger.Info("transfer completion confirmed",
		"confirmed_by", confirmation.ConfirmedBy,
		"confirmed_at", confirmation.ConfirmedAt,
	)
	return r.scanner.run(ctx, PhaseExchangeIdentity, r.visit)
}

func (r *PhaseTwoRunner) visit(ctx context.Context, record UserRecord, creds Credentials) (RecordOutcome, error) {
	logger := r.scanner.logger.WithContext(ctx)
	identity, outcome, err := callProvider(ctx, r.scanner, logger, record, "failed to get new identity",
		func(ctx context.Context) (ProviderIdentity, error) {
			return r.exchanger.ExchangeTransferSub(ctx, creds, record.TransferSub)
		},
	)
	if err != nil || outcome == OutcomeFailed {
		return OutcomeFailed, err
	}
	if validateErr := identity.Validate(); validateErr != nil {
		logger.Warn("failed to get new identity",
			"user_id", record.ID,
			"registered_at", record.RegisteredAt,
			"provider_sub", record.ProviderSub,
			"error", validateErr,
		)
		return OutcomeFailed, nil
	}
	if strings.TrimSpace(identity.Sub) == strings.TrimSpace(record.ProviderSub) {
		logger.Info("already migrated",
			"user_id", record.ID,
			"registered_at", record.RegisteredAt,
			"provider_sub", record.ProviderSub,
		)
		return OutcomeAlreadyMigrated, nil
	}

	updated, err := r.scanner.store.SetProviderIdentity(ctx, record.ID, record.ProviderSub, identity)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeFailed, ctxErr
		}
		logger.Error("failed to store new identity",
			"user_id", record.ID,
			"registered_at", record.RegisteredAt,
			"error", err,
		)
		return OutcomeFailed, nil
	}
	if !updated {
		logger.Info("provider sub changed during run", "user_id", record.ID, "registered_at", record.RegisteredAt)
		return OutcomeConflict, nil
	}
	logger.Debug("migrated identity",
		"user_id", record.ID,
		"is_private_email", identity.IsPrivateEmail,
	)
	return OutcomeUpdated, nil
}
