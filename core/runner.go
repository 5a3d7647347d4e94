package core

import (
	"context"
	"strings"
)

type recordVisitor func(ctx context.Context, record UserRecord, creds Credentials) (RecordOutcome, error)

type scanner struct {
	runnerBuilder
	store       UserStore
	credentials CredentialSource
}

func newScanner(store UserStore, credentials CredentialSource, opts []Option) (scanner, error) {
	if store == nil {
		return scanner{}, dependencyError("core: user store is required")
	}
	if credentials == nil {
		return scanner{}, dependencyError("core: credential source is required")
	}
	return scanner{
		runnerBuilder: buildRunner(opts),
		store:         store,
		credentials:   credentials,
	}, nil
}

// run visits every candidate of phase once, oldest registration first. Pages
// are keyed on the last visited position so records that leave the candidate
// filter mid-run never shift the scan.
func (s scanner) run(ctx context.Context, phase Phase, visit recordVisitor) (report RunReport, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report = RunReport{
		RunID:     s.newRunID(),
		Phase:     phase,
		StartedAt: s.now(),
	}
	logger := s.logger.WithContext(ctx)
	logger.Info("migration run started", "run_id", report.RunID, "phase", phase)

	defer func() {
		report.FinishedAt = s.now()
		if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
			report.Interrupted = true
		}
		s.finish(context.WithoutCancel(ctx), logger, report, err)
	}()

	var after *ScanPosition
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		page, listErr := s.store.ListCandidates(ctx, CandidateQuery{
			Phase: phase,
			After: after,
			Limit: s.pageSize,
		})
		if listErr != nil {
			return report, storeError(listErr, "core: list migration candidates")
		}

		for _, record := range page {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			position := record.Position()
			if after != nil && !after.Before(position) {
				return report, dependencyError("core: user store returned candidates out of scan order")
			}
			after = &position
			report.LastPosition = &position

			if report.Scanned%s.progressEvery == 0 {
				logger.Info("processed users",
					"count", report.Scanned,
					"user_id", record.ID,
					"registered_at", record.RegisteredAt,
					"provider_sub", record.ProviderSub,
				)
			}
			report.Scanned++
			s.metrics.IncCounter(ctx, MetricRecordsScanned, 1, phaseTags(phase))

			if !record.EligibleFor(phase) {
				logger.Debug("skipping ineligible record", "user_id", record.ID, "state", record.State())
				continue
			}

			creds, credErr := s.credentials.Credentials(ctx)
			if credErr != nil {
				if FailureKindOf(credErr) == FailureNone {
					credErr = authFailure("core: resolve provider credentials", credErr)
				}
				return report, credErr
			}

			outcome, visitErr := visit(ctx, record, creds)
			if visitErr != nil {
				return report, visitErr
			}
			report.record(outcome)
			s.metrics.IncCounter(ctx, MetricRecordOutcome, 1, phaseTags(phase, "outcome", string(outcome)))
		}

		if len(page) < s.pageSize {
			return report, nil
		}
	}
}

func (s scanner) finish(ctx context.Context, logger Logger, report RunReport, runErr error) {
	s.metrics.ObserveHistogram(ctx, MetricRunDurationMS, float64(report.Duration().Milliseconds()), phaseTags(report.Phase))

	args := []any{
		"run_id", report.RunID,
		"phase", report.Phase,
		"updated", report.Updated,
		"scanned", report.Scanned,
		"already_migrated", report.AlreadyMigrated,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
		"interrupted", report.Interrupted,
	}
	if runErr != nil {
		logger.Error("migration run stopped", append(args, "error", runErr)...)
	} else {
		logger.Info("migration run finished", args...)
	}

	if s.ledger != nil {
		if err := s.ledger.RecordRun(ctx, report); err != nil {
			logger.Warn("failed to record migration run", "run_id", report.RunID, "error", err)
		}
	}
}

// callProvider runs call under the retry policy and classifies its error:
// record level failures are logged and reported as OutcomeFailed with a nil
// error, anything else stops the run.
func callProvider[T any](
	ctx context.Context,
	s scanner,
	logger Logger,
	record UserRecord,
	message string,
	call func(ctx context.Context) (T, error),
) (T, RecordOutcome, error) {
	out, attempts, err := callWithRetry(ctx, s.retry, s.scheduler, call)
	s.metrics.IncCounter(ctx, MetricProviderAttempts, int64(attempts), nil)
	if err == nil {
		return out, "", nil
	}
	if !IsRecordLevel(err) {
		return out, OutcomeFailed, err
	}
	status, body := failureDetails(err)
	logger.Warn(message,
		"user_id", record.ID,
		"registered_at", record.RegisteredAt,
		"provider_sub", record.ProviderSub,
		"failure", FailureKindOf(err),
		"status_code", status,
		"body", body,
		"attempts", attempts,
		"error", err,
	)
	return out, OutcomeFailed, nil
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}
