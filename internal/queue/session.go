package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ebongard/renfield-mcp-dlna/internal/adapters"
	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

const (
	// eventQueueSize bounds the per-session event channel. Renderers that
	// notify faster than the loop drains lose the oldest pending events;
	// transport state is re-sent on the next change.
	eventQueueSize = 16

	commandTimeout  = 10 * time.Second
	teardownTimeout = 5 * time.Second
)

// Session owns playback of one track queue on one renderer. All state
// transitions, whether caller-driven (skip, stop) or device-driven
// (transport events), are serialized under s.mu.
type Session struct {
	renderer domain.Renderer
	tracks   []domain.Track
	control  adapters.AVControl
	metadata func(domain.Track) string
	onClose  func(*Session)
	logger   *slog.Logger

	events     chan adapters.TransportEvent
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	mu             sync.Mutex
	currentIndex   int
	preloadedIndex int // -1 when no next-track URI is outstanding
	transportState adapters.TransportState
	live           bool
	closed         bool
}

func newSession(renderer domain.Renderer, tracks []domain.Track, control adapters.AVControl, metadata func(domain.Track) string, onClose func(*Session), logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		renderer:       renderer,
		tracks:         tracks,
		control:        control,
		metadata:       metadata,
		onClose:        onClose,
		logger:         logger,
		events:         make(chan adapters.TransportEvent, eventQueueSize),
		loopDone:       make(chan struct{}),
		preloadedIndex: -1,
	}
}

// start subscribes to transport events, begins playback of the first
// track and, on gapless renderers, preloads the second. Subscription and
// initial playback failures are fatal; a failed preload is not.
func (s *Session) start(ctx context.Context) error {
	if err := s.control.Subscribe(ctx, s.enqueueEvent); err != nil {
		return errors.Wrapf(err, "subscribing to %s", s.renderer.Name)
	}

	first := s.tracks[0]
	if err := s.control.SetTransportURI(ctx, first.URL, s.metadata(first)); err != nil {
		s.unsubscribeBestEffort()
		return errors.Wrapf(err, "loading first track on %s", s.renderer.Name)
	}
	if err := s.control.Play(ctx); err != nil {
		s.unsubscribeBestEffort()
		return errors.Wrapf(err, "starting playback on %s", s.renderer.Name)
	}

	s.mu.Lock()
	s.live = true
	s.transportState = adapters.StatePlaying
	s.preloadLocked(ctx)
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	go s.eventLoop(loopCtx)

	s.logger.Info("queue_started",
		slog.String("renderer", s.renderer.Name),
		slog.Int("tracks", len(s.tracks)),
		slog.Bool("gapless", s.renderer.SupportsGapless))
	return nil
}

func (s *Session) enqueueEvent(event adapters.TransportEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Debug("event_dropped", slog.String("renderer", s.renderer.Name))
	}
}

func (s *Session) eventLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			s.handleEvent(ctx, event)
		}
	}
}

// handleEvent applies one renderer notification. Exactly one of four
// outcomes fires, checked in priority order: a gapless advance confirmed
// by the preloaded URI, an explicit advance after a non-gapless track
// ends, end-of-queue teardown, or nothing.
func (s *Session) handleEvent(ctx context.Context, event adapters.TransportEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if event.State != "" {
		s.transportState = event.State
	}

	switch {
	case s.preloadedIndex >= 0 && event.CurrentURI != "" && event.CurrentURI == s.tracks[s.preloadedIndex].URL:
		// The renderer switched to the preloaded URI on its own; no
		// transport command is needed, only the next preload.
		s.currentIndex = s.preloadedIndex
		s.preloadedIndex = -1
		s.logger.Info("gapless_advance",
			slog.String("renderer", s.renderer.Name),
			slog.Int("track", s.currentIndex+1))
		s.preloadLocked(ctx)

	case event.State == adapters.StateStopped && !s.renderer.SupportsGapless && s.currentIndex < len(s.tracks)-1:
		s.currentIndex++
		s.logger.Info("queue_advance",
			slog.String("renderer", s.renderer.Name),
			slog.Int("track", s.currentIndex+1))
		if err := s.setAndPlayLocked(ctx); err != nil {
			s.logger.Warn("advance_failed",
				slog.String("renderer", s.renderer.Name),
				slog.Int("track", s.currentIndex+1),
				slog.String("error", err.Error()))
		}

	case event.State == adapters.StateStopped && s.currentIndex >= len(s.tracks)-1:
		s.logger.Info("queue_finished", slog.String("renderer", s.renderer.Name))
		s.teardownLocked()

	default:
		s.logger.Debug("transport_event",
			slog.String("renderer", s.renderer.Name),
			slog.String("state", string(event.State)),
			slog.String("uri", event.CurrentURI))
	}
}

// setAndPlayLocked loads and starts the current track. Callers hold s.mu.
func (s *Session) setAndPlayLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	track := s.tracks[s.currentIndex]
	if err := s.control.SetTransportURI(ctx, track.URL, s.metadata(track)); err != nil {
		return err
	}
	return s.control.Play(ctx)
}

// preloadLocked hands the renderer the next track's URI when the device
// supports gapless transitions and a next track exists. Failures are
// logged and leave the session to fall back on stop-driven advances.
func (s *Session) preloadLocked(ctx context.Context) {
	if !s.renderer.SupportsGapless || s.currentIndex+1 >= len(s.tracks) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	next := s.tracks[s.currentIndex+1]
	if err := s.control.SetNextTransportURI(ctx, next.URL, s.metadata(next)); err != nil {
		s.logger.Warn("preload_failed",
			slog.String("renderer", s.renderer.Name),
			slog.Int("track", s.currentIndex+2),
			slog.String("error", err.Error()))
		return
	}
	s.preloadedIndex = s.currentIndex + 1
}

// SkipNext moves to the following track. At the end of the queue it
// reports nothing to do by returning nil, nil.
func (s *Session) SkipNext(ctx context.Context) (*domain.NowPlaying, error) {
	return s.skip(ctx, 1)
}

// SkipPrevious moves to the preceding track, returning nil, nil at the
// start of the queue.
func (s *Session) SkipPrevious(ctx context.Context) (*domain.NowPlaying, error) {
	return s.skip(ctx, -1)
}

func (s *Session) skip(ctx context.Context, delta int) (*domain.NowPlaying, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session is closed")
	}

	target := s.currentIndex + delta
	if target < 0 || target >= len(s.tracks) {
		return nil, nil
	}

	s.preloadedIndex = -1
	s.currentIndex = target
	if err := s.setAndPlayLocked(ctx); err != nil {
		return nil, errors.Wrapf(err, "starting track %d on %s", target+1, s.renderer.Name)
	}
	s.transportState = adapters.StatePlaying
	s.preloadLocked(ctx)

	now := s.nowPlayingLocked()
	return &now, nil
}

func (s *Session) Pause(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.control.Pause(ctx); err != nil {
		return errors.Wrapf(err, "pausing %s", s.renderer.Name)
	}
	s.mu.Lock()
	s.transportState = adapters.StatePaused
	s.mu.Unlock()
	return nil
}

func (s *Session) Resume(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.control.Play(ctx); err != nil {
		return errors.Wrapf(err, "resuming %s", s.renderer.Name)
	}
	s.mu.Lock()
	s.transportState = adapters.StatePlaying
	s.mu.Unlock()
	return nil
}

// SetVolume accepts a 0-100 level, clamping out-of-range values.
func (s *Session) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.control.SetVolume(ctx, float64(level)/100); err != nil {
		return errors.Wrapf(err, "setting volume on %s", s.renderer.Name)
	}
	return nil
}

// Stop halts playback and tears the session down. It is idempotent; the
// transport Stop is best effort so an unreachable renderer cannot pin a
// dead session in the registry.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.control.Stop(stopCtx); err != nil {
		s.logger.Warn("stop_command_failed",
			slog.String("renderer", s.renderer.Name),
			slog.String("error", err.Error()))
	}
	s.teardownLocked()
	return nil
}

// teardownLocked closes the session: it unsubscribes, stops the event
// loop and hands itself back to the registry. Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.live = false

	s.unsubscribeBestEffort()
	if s.loopCancel != nil {
		s.loopCancel()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Info("session_closed", slog.String("renderer", s.renderer.Name))
}

func (s *Session) unsubscribeBestEffort() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.control.Unsubscribe(ctx); err != nil {
		s.logger.Debug("unsubscribe_failed",
			slog.String("renderer", s.renderer.Name),
			slog.String("error", err.Error()))
	}
}

func (s *Session) Status() domain.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := "stopped"
	if s.live {
		switch s.transportState {
		case adapters.StatePaused:
			state = "paused"
		case adapters.StateTransitioning:
			state = "transitioning"
		default:
			state = "playing"
		}
	}

	track := s.tracks[s.currentIndex]
	return domain.QueueStatus{
		Renderer:    s.renderer.Name,
		State:       state,
		Track:       s.currentIndex + 1,
		TotalTracks: len(s.tracks),
		Title:       track.Title,
		Artist:      track.Artist,
		Album:       track.Album,
	}
}

func (s *Session) nowPlayingLocked() domain.NowPlaying {
	track := s.tracks[s.currentIndex]
	return domain.NowPlaying{
		Track:       s.currentIndex + 1,
		TotalTracks: len(s.tracks),
		Title:       track.Title,
		Artist:      track.Artist,
		Album:       track.Album,
	}
}

// UDN returns the renderer identity this session is bound to.
func (s *Session) UDN() string {
	return s.renderer.UDN
}
