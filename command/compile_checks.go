package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]      = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[ReplayDeadLetterMessage]   = (*ReplayDeadLetterCommand)(nil)
	_ gocmd.Commander[PurgeIdempotencyMessage]   = (*PurgeIdempotencyCommand)(nil)
	_ gocmd.Commander[ApplyMessageStatusMessage] = (*ApplyMessageStatusCommand)(nil)
)
