package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RunPhaseOneMessage] = (*RunPhaseOneCommand)(nil)
	_ gocmd.Commander[RunPhaseTwoMessage] = (*RunPhaseTwoCommand)(nil)
)
