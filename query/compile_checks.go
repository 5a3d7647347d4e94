package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-identity-transfer/core"
)

var (
	_ gocmd.Querier[ListRunsMessage, []core.RunReport] = (*ListRunsQuery)(nil)
	_ gocmd.Querier[GetUserMessage, core.UserRecord]   = (*GetUserQuery)(nil)
)
