package httpapi

import (
	"github.com/contractlane/go-webhooks/messaging"
	"github.com/contractlane/go-webhooks/webhooks"
	"github.com/uptrace/bun"
)

var (
	_ InboundProcessor = (*webhooks.Processor)(nil)
	_ StatusApplier    = (*messaging.StatusHandler)(nil)
	_ Pinger           = (*bun.DB)(nil)
)
