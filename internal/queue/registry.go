package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ebongard/renfield-mcp-dlna/internal/adapters"
	"github.com/ebongard/renfield-mcp-dlna/internal/didl"
	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

// Registry holds at most one playback session per renderer UDN and owns
// the lifecycle of the shared event endpoint: it starts when the first
// session needs it and stops when the last one detaches.
type Registry struct {
	factory  adapters.AVControlFactory
	endpoint adapters.EventEndpoint
	metadata func(domain.Track) string
	logger   *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	endpointUp bool
}

func NewRegistry(factory adapters.AVControlFactory, endpoint adapters.EventEndpoint, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		factory:  factory,
		endpoint: endpoint,
		logger:   logger,
		sessions: map[string]*Session{},
		metadata: func(track domain.Track) string {
			return didl.Format(track.URL, track.Title, track.Artist, track.Album, track.ArtURL, "")
		},
	}
}

// PlayTracks starts a new queue on the renderer. Any session already
// bound to the same device is stopped first, so a renderer never serves
// two queues at once.
func (r *Registry) PlayTracks(ctx context.Context, renderer domain.Renderer, tracks []domain.Track) (domain.PlayResult, error) {
	if len(tracks) == 0 {
		return domain.PlayResult{}, errors.New("track list is empty")
	}

	r.mu.Lock()
	old := r.sessions[renderer.UDN]
	delete(r.sessions, renderer.UDN)
	r.mu.Unlock()
	if old != nil {
		if err := old.Stop(ctx); err != nil {
			r.logger.Warn("previous_session_stop_failed",
				slog.String("renderer", renderer.Name),
				slog.String("error", err.Error()))
		}
	}

	if err := r.ensureEndpoint(ctx); err != nil {
		return domain.PlayResult{}, errors.Wrap(err, "starting event endpoint")
	}

	control, err := r.factory.NewControl(renderer)
	if err != nil {
		r.releaseEndpointIfIdle()
		return domain.PlayResult{}, err
	}

	session := newSession(renderer, tracks, control, r.metadata, r.detach, r.logger)
	r.mu.Lock()
	r.sessions[renderer.UDN] = session
	r.mu.Unlock()

	if err := session.start(ctx); err != nil {
		r.detach(session)
		return domain.PlayResult{}, err
	}

	return domain.PlayResult{
		OK:              true,
		Renderer:        renderer.Name,
		TotalTracks:     len(tracks),
		SupportsGapless: renderer.SupportsGapless,
		NowPlaying: domain.NowPlaying{
			Track:       1,
			TotalTracks: len(tracks),
			Title:       tracks[0].Title,
			Artist:      tracks[0].Artist,
			Album:       tracks[0].Album,
		},
	}, nil
}

// Session returns the active session for a renderer UDN, or nil.
func (r *Registry) Session(udn string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[udn]
}

// Close stops every active session. Used on shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	active := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		active = append(active, session)
	}
	r.mu.Unlock()

	for _, session := range active {
		if err := session.Stop(ctx); err != nil {
			r.logger.Warn("session_stop_failed", slog.String("error", err.Error()))
		}
	}
	r.releaseEndpointIfIdle()
}

func (r *Registry) ensureEndpoint(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpointUp {
		return nil
	}
	if err := r.endpoint.Start(ctx); err != nil {
		return err
	}
	r.endpointUp = true
	return nil
}

// detach removes a closed session. When it was the last one, the shared
// event endpoint shuts down too.
func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UDN()] == s {
		delete(r.sessions, s.UDN())
	}
	r.stopEndpointIfIdleLocked()
}

func (r *Registry) releaseEndpointIfIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopEndpointIfIdleLocked()
}

func (r *Registry) stopEndpointIfIdleLocked() {
	if len(r.sessions) > 0 || !r.endpointUp {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.endpoint.Stop(ctx); err != nil {
		r.logger.Warn("event_endpoint_stop_failed", slog.String("error", err.Error()))
	}
	r.endpointUp = false
}
