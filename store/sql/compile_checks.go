package sqlstore

import (
	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/query"
)

var (
	_ core.UserStore         = (*UserStore)(nil)
	_ core.RunLedger         = (*RunStore)(nil)
	_ query.RunHistoryReader = (*RunStore)(nil)
	_ query.UserReader       = (*UserStore)(nil)
)
