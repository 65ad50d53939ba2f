package httpapi

import (
	"context"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/messaging"
	"github.com/contractlane/go-webhooks/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

// InboundProcessor runs the verified inbound pipeline. The webhooks.Processor
// satisfies it.
type InboundProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

// StatusApplier applies a provider delivery-status callback.
type StatusApplier interface {
	Apply(ctx context.Context, update messaging.StatusUpdate) (bool, error)
}

// Pinger reports datastore liveness. *bun.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// App carries the wired collaborators the route handlers need.
type App struct {
	Processor InboundProcessor
	Status    StatusApplier
	Lifecycle webhooks.Verifier
	Tracking  core.TrackingLog
	DB        Pinger
	Logger    core.Logger
}

func NewApp(processor InboundProcessor, status StatusApplier, lifecycle webhooks.Verifier, tracking core.TrackingLog) *App {
	return &App{
		Processor: processor,
		Status:    status,
		Lifecycle: lifecycle,
		Tracking:  tracking,
	}
}

func (a *App) logger() core.Logger {
	if a != nil && a.Logger != nil {
		return a.Logger
	}
	return glog.Nop()
}
