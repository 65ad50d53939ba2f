package sqlstore

import "github.com/contractlane/go-webhooks/core"

var (
	_ core.IdempotencyStore   = (*IdempotencyKeyStore)(nil)
	_ core.DispatchLog        = (*DispatchLogStore)(nil)
	_ core.TrackingLog        = (*TrackingEventStore)(nil)
	_ core.MessageStatusStore = (*MessageStatusStore)(nil)
	_ core.MessageStatusStore = (*CachedMessageStatusStore)(nil)
)
