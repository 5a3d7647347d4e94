package query

import (
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
)

const (
	TypeListRuns = "identity_transfer.query.runs.list"
	TypeGetUser  = "identity_transfer.query.user.get"

	MaxRunsLimit = 500
)

// ListRunsMessage lists recorded runs, newest first. An empty Phase matches
// both phases and a zero Limit uses the store default.
type ListRunsMessage struct {
	Phase core.Phase
	Limit int
}

func (ListRunsMessage) Type() string { return TypeListRuns }

func (m ListRunsMessage) Validate() error {
	if m.Phase != "" {
		if err := m.Phase.Validate(); err != nil {
			return queryValidationError("phase", err.Error())
		}
	}
	if m.Limit < 0 || m.Limit > MaxRunsLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

type GetUserMessage struct {
	ID string
}

func (GetUserMessage) Type() string { return TypeGetUser }

func (m GetUserMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "user id is required")
	}
	return nil
}
