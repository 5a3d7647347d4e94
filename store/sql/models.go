package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID               string    `bun:"id,pk"`
	RegisteredAt     time.Time `bun:"registered_at,notnull"`
	AppleSub         string    `bun:"apple_sub,nullzero"`
	AppleTransferSub string    `bun:"apple_transfer_sub,nullzero"`
	AppleEmail       string    `bun:"apple_email,nullzero"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *userRecord) toDomain() core.UserRecord {
	if r == nil {
		return core.UserRecord{}
	}
	return core.UserRecord{
		ID:            r.ID,
		RegisteredAt:  r.RegisteredAt.UTC(),
		ProviderSub:   strings.TrimSpace(r.AppleSub),
		TransferSub:   strings.TrimSpace(r.AppleTransferSub),
		ProviderEmail: strings.TrimSpace(r.AppleEmail),
	}
}

func userRecordFromDomain(user core.UserRecord) *userRecord {
	return &userRecord{
		ID:               strings.TrimSpace(user.ID),
		RegisteredAt:     user.RegisteredAt.UTC(),
		AppleSub:         strings.TrimSpace(user.ProviderSub),
		AppleTransferSub: strings.TrimSpace(user.TransferSub),
		AppleEmail:       strings.TrimSpace(user.ProviderEmail),
	}
}

type runRecord struct {
	bun.BaseModel `bun:"table:migration_runs,alias:mr"`

	ID               string     `bun:"id,pk"`
	RunID            string     `bun:"run_id,notnull"`
	Phase            string     `bun:"phase,notnull"`
	Scanned          int        `bun:"scanned,notnull"`
	Updated          int        `bun:"updated,notnull"`
	AlreadyMigrated  int        `bun:"already_migrated,notnull"`
	Conflicts        int        `bun:"conflicts,notnull"`
	Failed           int        `bun:"failed,notnull"`
	Interrupted      bool       `bun:"interrupted,notnull"`
	LastRegisteredAt *time.Time `bun:"last_registered_at,nullzero"`
	LastUserID       string     `bun:"last_user_id,nullzero"`
	StartedAt        time.Time  `bun:"started_at,notnull"`
	FinishedAt       time.Time  `bun:"finished_at,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func runRecordFromReport(report core.RunReport) *runRecord {
	record := &runRecord{
		RunID:           strings.TrimSpace(report.RunID),
		Phase:           string(report.Phase),
		Scanned:         report.Scanned,
		Updated:         report.Updated,
		AlreadyMigrated: report.AlreadyMigrated,
		Conflicts:       report.Conflicts,
		Failed:          report.Failed,
		Interrupted:     report.Interrupted,
		StartedAt:       report.StartedAt.UTC(),
		FinishedAt:      report.FinishedAt.UTC(),
	}
	if report.LastPosition != nil {
		at := report.LastPosition.RegisteredAt.UTC()
		record.LastRegisteredAt = &at
		record.LastUserID = report.LastPosition.ID
	}
	return record
}

func (r *runRecord) toDomain() core.RunReport {
	if r == nil {
		return core.RunReport{}
	}
	report := core.RunReport{
		RunID:           r.RunID,
		Phase:           core.Phase(r.Phase),
		Scanned:         r.Scanned,
		Updated:         r.Updated,
		AlreadyMigrated: r.AlreadyMigrated,
		Conflicts:       r.Conflicts,
		Failed:          r.Failed,
		Interrupted:     r.Interrupted,
		StartedAt:       r.StartedAt.UTC(),
		FinishedAt:      r.FinishedAt.UTC(),
	}
	if r.LastRegisteredAt != nil || r.LastUserID != "" {
		position := core.ScanPosition{ID: r.LastUserID}
		if r.LastRegisteredAt != nil {
			position.RegisteredAt = r.LastRegisteredAt.UTC()
		}
		report.LastPosition = &position
	}
	return report
}
