package adapters

import (
	"context"

	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

// TransportState is the renderer-reported AVTransport state.
type TransportState string

const (
	StatePlaying       TransportState = "PLAYING"
	StateStopped       TransportState = "STOPPED"
	StatePaused        TransportState = "PAUSED_PLAYBACK"
	StateTransitioning TransportState = "TRANSITIONING"
	StateNoMedia       TransportState = "NO_MEDIA_PRESENT"
)

// TransportEvent is one asynchronous notification from a renderer.
// CurrentURI may be empty when the device omits it from the change set.
type TransportEvent struct {
	State      TransportState
	CurrentURI string
}

// AVControl drives one renderer. Implementations carry their own per-call
// network timeouts; callers additionally bound calls with ctx.
type AVControl interface {
	SetTransportURI(ctx context.Context, uri, metadataXML string) error
	SetNextTransportURI(ctx context.Context, uri, metadataXML string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	// SetVolume forwards a 0.0-1.0 fraction to the rendering-control
	// service; it fails when the renderer exposes none.
	SetVolume(ctx context.Context, level float64) error
	Subscribe(ctx context.Context, onEvent func(TransportEvent)) error
	Unsubscribe(ctx context.Context) error
}

// AVControlFactory creates AVControl instances bound to a renderer.
type AVControlFactory interface {
	NewControl(renderer domain.Renderer) (AVControl, error)
}

// EventEndpoint is the process-wide listener that receives asynchronous
// device notifications. Its lifecycle is owned by the session registry.
type EventEndpoint interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	CallbackURL() string
}
