package mongostore

import (
	"fmt"
	"regexp"

	"github.com/goliatone/go-identity-transfer/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// absent matches a missing, null or empty string field.
func absent() bson.D {
	return bson.D{{Key: "$in", Value: bson.A{nil, ""}}}
}

func present() bson.D {
	return bson.D{{Key: "$nin", Value: bson.A{nil, ""}}}
}

func candidateFilter(query core.CandidateQuery) (bson.D, error) {
	filter := bson.D{{Key: fieldAppleSub, Value: present()}}
	switch query.Phase {
	case core.PhaseResolveTransfer:
		filter = append(filter, bson.E{Key: fieldAppleTransferSub, Value: absent()})
	case core.PhaseExchangeIdentity:
		filter = append(filter, bson.E{Key: fieldAppleTransferSub, Value: present()})
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidPhase, string(query.Phase))
	}

	if after := query.After; after != nil {
		id, err := parseObjectID(after.ID)
		if err != nil {
			return nil, err
		}
		at := after.RegisteredAt.UTC()
		branches := bson.A{
			bson.D{{Key: fieldRegDate, Value: bson.D{{Key: "$gt", Value: at}}}},
			bson.D{
				{Key: fieldRegDate, Value: at},
				{Key: fieldID, Value: bson.D{{Key: "$gt", Value: id}}},
			},
		}
		// A null or missing regDate decodes to the zero time and sorts
		// ahead of every date, so those documents continue by _id.
		if after.RegisteredAt.IsZero() {
			branches = append(branches, bson.D{
				{Key: fieldRegDate, Value: nil},
				{Key: fieldID, Value: bson.D{{Key: "$gt", Value: id}}},
			})
		}
		filter = append(filter, bson.E{Key: "$or", Value: branches})
	}
	return filter, nil
}

func candidateSort() bson.D {
	return bson.D{
		{Key: fieldRegDate, Value: 1},
		{Key: fieldID, Value: 1},
	}
}

func transferSubUpdate(id string, transferSub string) (bson.D, bson.D, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, nil, err
	}
	filter := bson.D{
		{Key: fieldID, Value: oid},
		{Key: fieldAppleSub, Value: present()},
		{Key: fieldAppleTransferSub, Value: absent()},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: fieldAppleTransferSub, Value: transferSub},
	}}}
	return filter, update, nil
}

// storedSub matches sub ignoring whitespace around the stored value.
func storedSub(sub string) primitive.Regex {
	return primitive.Regex{Pattern: `^\s*` + regexp.QuoteMeta(sub) + `\s*$`}
}

func identityUpdate(id string, expectedSub string, identity core.ProviderIdentity) (bson.D, bson.D, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, nil, err
	}
	filter := bson.D{
		{Key: fieldID, Value: oid},
		{Key: fieldAppleSub, Value: storedSub(expectedSub)},
		{Key: fieldAppleTransferSub, Value: present()},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: fieldAppleSub, Value: identity.Sub},
		{Key: fieldAppleEmail, Value: identity.Email},
	}}}
	return filter, update, nil
}
