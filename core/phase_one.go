package core

import "context"

// PhaseOneRunner resolves a transfer sub for every record that has a provider
// sub and no transfer sub yet.
type PhaseOneRunner struct {
	scanner  scanner
	resolver TransferResolver
}

func NewPhaseOneRunner(
	store UserStore,
	resolver TransferResolver,
	credentials CredentialSource,
	opts ...Option,
) (*PhaseOneRunner, error) {
	if resolver == nil {
		return nil, dependencyError("core: transfer resolver is required")
	}
	s, err := newScanner(store, credentials, opts)
	if err != nil {
		return nil, err
	}
	return &PhaseOneRunner{scanner: s, resolver: resolver}, nil
}

func (r *PhaseOneRunner) Run(ctx context.Context) (RunReport, error) {
	if r == nil {
		return RunReport{}, dependencyError("core: phase one runner is nil")
	}
	return r.scanner.run(ctx, PhaseResolveTransfer, r.visit)
}

func (r *PhaseOneRunner) visit(ctx context.Context, record UserRecord, creds Credentials) (RecordOutcome, error) {
	logger := r.scanner.logger.WithContext(ctx)
	transferSub, outcome, err := callProvider(ctx, r.scanner, logger, record, "failed to get transfer sub",
		func(ctx context.Context) (string, error) {
			return r.resolver.ResolveTransferSub(ctx, creds, record.ProviderSub)
		},
	)
	if err != nil || outcome == OutcomeFailed {
		return OutcomeFailed, err
	}
	if isBlank(transferSub) {
		logger.Warn("failed to get transfer sub",
			"user_id", record.ID,
			"registered_at", record.RegisteredAt,
			"provider_sub", record.ProviderSub,
			"error", ErrMissingTransferSub,
		)
		return OutcomeFailed, nil
	}

	updated, err := r.scanner.store.SetTransferSub(ctx, record.ID, transferSub)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeFailed, ctxErr
		}
		logger.Error("failed to store transfer sub",
			"user_id", record.ID,
			"registered_at", record.RegisteredAt,
			"error", err,
		)
		return OutcomeFailed, nil
	}
	if !updated {
		logger.Info("transfer sub already present", "user_id", record.ID, "registered_at", record.RegisteredAt)
		return OutcomeConflict, nil
	}
	return OutcomeUpdated, nil
}
