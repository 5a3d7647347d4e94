package mongostore

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	fieldID               = "_id"
	fieldRegDate          = "regDate"
	fieldAppleSub         = "credential.appleSub"
	fieldAppleTransferSub = "credential.appleTransferSub"
	fieldAppleEmail       = "credential.appleEmail"
)

type credentialDocument struct {
	AppleSub         string `bson:"appleSub,omitempty"`
	AppleTransferSub string `bson:"appleTransferSub,omitempty"`
	AppleEmail       string `bson:"appleEmail,omitempty"`
}

type userDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	RegDate    time.Time          `bson:"regDate"`
	Credential credentialDocument `bson:"credential"`
}

func (d userDocument) toDomain() core.UserRecord {
	return core.UserRecord{
		ID:            d.ID.Hex(),
		RegisteredAt:  d.RegDate.UTC(),
		ProviderSub:   strings.TrimSpace(d.Credential.AppleSub),
		TransferSub:   strings.TrimSpace(d.Credential.AppleTransferSub),
		ProviderEmail: strings.TrimSpace(d.Credential.AppleEmail),
	}
}

func userDocumentFromDomain(user core.UserRecord) (userDocument, error) {
	doc := userDocument{
		RegDate: user.RegisteredAt.UTC(),
		Credential: credentialDocument{
			AppleSub:         strings.TrimSpace(user.ProviderSub),
			AppleTransferSub: strings.TrimSpace(user.TransferSub),
			AppleEmail:       strings.TrimSpace(user.ProviderEmail),
		},
	}
	if strings.TrimSpace(user.ID) != "" {
		id, err := parseObjectID(user.ID)
		if err != nil {
			return userDocument{}, err
		}
		doc.ID = id
	}
	return doc, nil
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("mongostore: invalid user id %q: %w", id, err)
	}
	return oid, nil
}

type runDocument struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	RunID            string             `bson:"runId"`
	Phase            string             `bson:"phase"`
	Scanned          int                `bson:"scanned"`
	Updated          int                `bson:"updated"`
	AlreadyMigrated  int                `bson:"alreadyMigrated"`
	Conflicts        int                `bson:"conflicts"`
	Failed           int                `bson:"failed"`
	Interrupted      bool               `bson:"interrupted"`
	LastRegisteredAt *time.Time         `bson:"lastRegDate,omitempty"`
	LastUserID       string             `bson:"lastUserId,omitempty"`
	StartedAt        time.Time          `bson:"startedAt"`
	FinishedAt       time.Time          `bson:"finishedAt"`
}

func runDocumentFromReport(report core.RunReport) runDocument {
	doc := runDocument{
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
		doc.LastRegisteredAt = &at
		doc.LastUserID = report.LastPosition.ID
	}
	return doc
}

func (d runDocument) toDomain() core.RunReport {
	report := core.RunReport{
		RunID:           d.RunID,
		Phase:           core.Phase(d.Phase),
		Scanned:         d.Scanned,
		Updated:         d.Updated,
		AlreadyMigrated: d.AlreadyMigrated,
		Conflicts:       d.Conflicts,
		Failed:          d.Failed,
		Interrupted:     d.Interrupted,
		StartedAt:       d.StartedAt.UTC(),
		FinishedAt:      d.FinishedAt.UTC(),
	}
	if d.LastRegisteredAt != nil {
		report.LastPosition = &core.ScanPosition{RegisteredAt: d.LastRegisteredAt.UTC(), ID: d.LastUserID}
	}
	return report
}
