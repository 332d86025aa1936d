package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

// RendererDirectory finds renderers on the local network.
type RendererDirectory interface {
	Discover(ctx context.Context, force bool) ([]domain.Renderer, error)
	Resolve(ctx context.Context, name string) (*domain.Renderer, error)
}

// PlaybackSession is one live queue on one renderer.
type PlaybackSession interface {
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SkipNext(ctx context.Context) (*domain.NowPlaying, error)
	SkipPrevious(ctx context.Context) (*domain.NowPlaying, error)
	SetVolume(ctx context.Context, level int) error
	Status() domain.QueueStatus
}

// QueueController starts queues and hands out active sessions by
// renderer UDN. Session returns nil when the renderer has none.
type QueueController interface {
	PlayTracks(ctx context.Context, renderer domain.Renderer, tracks []domain.Track) (domain.PlayResult, error)
	Session(udn string) PlaybackSession
}

type Server struct {
	wire          *wire
	serverName    string
	serverVersion string
	logger        *slog.Logger
	tools         []toolSpec
	directory     RendererDirectory
	queues        QueueController
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
	Directory     RendererDirectory
	Queues        QueueController
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "renfield-mcp-dlna"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	return &Server{
		wire:          newWire(in, out),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		logger:        cfg.Logger,
		tools:         staticTools(),
		directory:     cfg.Directory,
		queues:        cfg.Queues,
	}
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		payload, err := s.wire.read()
		if err != nil {
			if err == io.EOF {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(payload)))

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", "", startedAt, "-32700")
		return s.send(errResponse(nil, codeParseError, "parse error"))
	}

	// Notifications carry no ID and get no reply.
	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != jsonrpcVersion {
		s.logCall(req.Method, "", startedAt, "-32600")
		return s.send(errResponse(req.ID, codeInvalidRequest, "invalid request"))
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", "", startedAt, "")
		return s.send(okResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Use tools/list to inspect available tools.",
		}))
	case "tools/list":
		s.logCall("tools/list", "", startedAt, "")
		return s.send(okResponse(req.ID, toolsListResult{Tools: s.tools}))
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, "", startedAt, "-32601")
		return s.send(errResponse(req.ID, codeMethodNotFound, "method not found"))
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	name, args, err := decodeToolCall(rawParams)
	if err != nil {
		return s.sendInvalidParams("tools/call", "", startedAt, id)
	}

	switch name {
	case "list_renderers":
		return s.handleListRenderers(ctx, id, args)
	case "play_tracks":
		return s.handlePlayTracks(ctx, id, args)
	case "stop":
		return s.handleStop(ctx, id, args)
	case "pause":
		return s.handlePause(ctx, id, args)
	case "resume":
		return s.handleResume(ctx, id, args)
	case "next_track":
		return s.handleNextTrack(ctx, id, args)
	case "previous_track":
		return s.handlePreviousTrack(ctx, id, args)
	case "get_status":
		return s.handleGetStatus(ctx, id, args)
	case "set_volume":
		return s.handleSetVolume(ctx, id, args)
	default:
		s.logCall(name, "", startedAt, "TOOL_NOT_FOUND")
		return s.send(okResponse(id, toolErrorResult("TOOL_NOT_FOUND", fmt.Sprintf("unknown tool: %s", name))))
	}
}

// decodeToolCall accepts both the canonical {"name","arguments"} params
// shape and the flattened form some clients send with arguments inlined
// next to the name.
func decodeToolCall(raw json.RawMessage) (string, json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, err
	}

	var name string
	if nameRaw, ok := payload["name"]; ok {
		if err := json.Unmarshal(nameRaw, &name); err != nil {
			return "", nil, err
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("missing tool name")
	}

	arguments := payload["arguments"]
	if arguments == nil {
		flattened := map[string]json.RawMessage{}
		for key, value := range payload {
			if key == "name" || key == "_meta" {
				continue
			}
			flattened[key] = value
		}
		if len(flattened) > 0 {
			normalized, err := json.Marshal(flattened)
			if err != nil {
				return "", nil, err
			}
			arguments = normalized
		}
	}
	if len(bytes.TrimSpace(arguments)) == 0 {
		arguments = json.RawMessage("{}")
	}

	return name, arguments, nil
}

func (s *Server) handleListRenderers(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	var args struct {
		ForceRefresh *bool `json:"force_refresh,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("list_renderers", "", startedAt, id)
	}
	force := args.ForceRefresh != nil && *args.ForceRefresh

	renderers, err := s.directory.Discover(ctx, force)
	if err != nil {
		return s.sendToolError(id, "list_renderers", "", startedAt,
			&domain.ToolError{Code: domain.CodeInternalError, Message: err.Error()})
	}
	s.logCall("list_renderers", "", startedAt, "")

	text := fmt.Sprintf("Found %d renderer(s).", len(renderers))
	if len(renderers) > 0 {
		text += "\n" + formatRenderers(renderers)
	}
	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{Type: "text", Text: text}},
		StructuredContent: map[string]any{
			"count":     len(renderers),
			"renderers": renderers,
		},
	}))
}

func (s *Server) handlePlayTracks(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	var args struct {
		RendererName string `json:"renderer_name"`
		Tracks       string `json:"tracks"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("play_tracks", "", startedAt, id)
	}
	args.RendererName = strings.TrimSpace(args.RendererName)
	if args.RendererName == "" {
		return s.sendInvalidParams("play_tracks", "", startedAt, id)
	}

	renderer, done, err := s.resolveRenderer(ctx, id, "play_tracks", args.RendererName, startedAt)
	if done || err != nil {
		return err
	}

	tracks, terr := parseTrackList(args.Tracks)
	if terr != nil {
		return s.sendToolError(id, "play_tracks", renderer.Name, startedAt, terr)
	}

	result, err := s.queues.PlayTracks(ctx, *renderer, tracks)
	if err != nil {
		return s.sendToolError(id, "play_tracks", renderer.Name, startedAt,
			asToolError(err, domain.CodePlaybackFailed, "playback failed"))
	}
	s.logCall("play_tracks", renderer.Name, startedAt, "")

	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("Playing %d track(s) on %s.", result.TotalTracks, result.Renderer),
		}},
		StructuredContent: result,
	}))
}

func (s *Server) handleStop(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	return s.sessionCommand(ctx, id, rawArgs, "stop", "stopped", func(ctx context.Context, session PlaybackSession) error {
		return session.Stop(ctx)
	})
}

func (s *Server) handlePause(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	return s.sessionCommand(ctx, id, rawArgs, "pause", "paused", func(ctx context.Context, session PlaybackSession) error {
		return session.Pause(ctx)
	})
}

func (s *Server) handleResume(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	return s.sessionCommand(ctx, id, rawArgs, "resume", "resumed", func(ctx context.Context, session PlaybackSession) error {
		return session.Resume(ctx)
	})
}

// sessionCommand covers the tools that resolve a renderer, require an
// active session and run one transport command against it.
func (s *Server) sessionCommand(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage, tool, action string, run func(context.Context, PlaybackSession) error) error {
	startedAt := time.Now()

	renderer, session, done, err := s.requireSession(ctx, id, tool, rawArgs, startedAt)
	if done || err != nil {
		return err
	}

	if err := run(ctx, session); err != nil {
		return s.sendToolError(id, tool, renderer.Name, startedAt,
			asToolError(err, domain.CodeCommandFailed, tool+" failed"))
	}
	s.logCall(tool, renderer.Name, startedAt, "")

	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("Playback %s on %s.", action, renderer.Name),
		}},
		StructuredContent: map[string]any{
			"ok":       true,
			"renderer": renderer.Name,
			"action":   action,
		},
	}))
}

func (s *Server) handleNextTrack(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	return s.skipCommand(ctx, id, rawArgs, "next_track", domain.CodeEndOfQueue, "already at the last track",
		func(ctx context.Context, session PlaybackSession) (*domain.NowPlaying, error) {
			return session.SkipNext(ctx)
		})
}

func (s *Server) handlePreviousTrack(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	return s.skipCommand(ctx, id, rawArgs, "previous_track", domain.CodeStartOfQueue, "already at the first track",
		func(ctx context.Context, session PlaybackSession) (*domain.NowPlaying, error) {
			return session.SkipPrevious(ctx)
		})
}

func (s *Server) skipCommand(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage, tool, boundaryCode, boundaryMessage string, run func(context.Context, PlaybackSession) (*domain.NowPlaying, error)) error {
	startedAt := time.Now()

	renderer, session, done, err := s.requireSession(ctx, id, tool, rawArgs, startedAt)
	if done || err != nil {
		return err
	}

	now, err := run(ctx, session)
	if err != nil {
		return s.sendToolError(id, tool, renderer.Name, startedAt,
			asToolError(err, domain.CodeCommandFailed, tool+" failed"))
	}
	if now == nil {
		return s.sendToolError(id, tool, renderer.Name, startedAt,
			&domain.ToolError{Code: boundaryCode, Message: boundaryMessage})
	}
	s.logCall(tool, renderer.Name, startedAt, "")

	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("Now playing track %d of %d on %s.", now.Track, now.TotalTracks, renderer.Name),
		}},
		StructuredContent: map[string]any{
			"ok":          true,
			"renderer":    renderer.Name,
			"now_playing": now,
		},
	}))
}

func (s *Server) handleGetStatus(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	renderer, done, err := s.resolveFromArgs(ctx, id, "get_status", rawArgs, startedAt)
	if done || err != nil {
		return err
	}

	session := s.queues.Session(renderer.UDN)
	if session == nil {
		s.logCall("get_status", renderer.Name, startedAt, "")
		return s.send(okResponse(id, toolCallResult{
			Content: []toolContent{{
				Type: "text",
				Text: fmt.Sprintf("No active playback on %s.", renderer.Name),
			}},
			StructuredContent: map[string]any{
				"renderer": renderer.Name,
				"state":    "idle",
			},
		}))
	}

	status := session.Status()
	s.logCall("get_status", renderer.Name, startedAt, "")
	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("%s: %s, track %d of %d.", status.Renderer, status.State, status.Track, status.TotalTracks),
		}},
		StructuredContent: status,
	}))
}

func (s *Server) handleSetVolume(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	var args struct {
		RendererName string `json:"renderer_name"`
		Volume       *int   `json:"volume"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("set_volume", "", startedAt, id)
	}
	args.RendererName = strings.TrimSpace(args.RendererName)
	if args.RendererName == "" || args.Volume == nil {
		return s.sendInvalidParams("set_volume", args.RendererName, startedAt, id)
	}

	renderer, done, err := s.resolveRenderer(ctx, id, "set_volume", args.RendererName, startedAt)
	if done || err != nil {
		return err
	}

	session := s.queues.Session(renderer.UDN)
	if session == nil {
		return s.sendNoActiveSession(id, "set_volume", renderer.Name, startedAt)
	}

	volume := *args.Volume
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	if err := session.SetVolume(ctx, volume); err != nil {
		return s.sendToolError(id, "set_volume", renderer.Name, startedAt,
			asToolError(err, domain.CodeCommandFailed, "failed to set volume"))
	}
	s.logCall("set_volume", renderer.Name, startedAt, "")

	return s.send(okResponse(id, toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("Volume set to %d on %s.", volume, renderer.Name),
		}},
		StructuredContent: map[string]any{
			"ok":       true,
			"renderer": renderer.Name,
			"volume":   volume,
		},
	}))
}

// resolveFromArgs decodes the common {"renderer_name"} argument shape
// and resolves it. done reports that a response was already sent.
func (s *Server) resolveFromArgs(ctx context.Context, id json.RawMessage, tool string, rawArgs json.RawMessage, startedAt time.Time) (*domain.Renderer, bool, error) {
	var args struct {
		RendererName string `json:"renderer_name"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return nil, true, s.sendInvalidParams(tool, "", startedAt, id)
	}
	args.RendererName = strings.TrimSpace(args.RendererName)
	if args.RendererName == "" {
		return nil, true, s.sendInvalidParams(tool, "", startedAt, id)
	}
	return s.resolveRenderer(ctx, id, tool, args.RendererName, startedAt)
}

func (s *Server) resolveRenderer(ctx context.Context, id json.RawMessage, tool, name string, startedAt time.Time) (*domain.Renderer, bool, error) {
	renderer, err := s.directory.Resolve(ctx, name)
	if err != nil {
		return nil, true, s.sendToolError(id, tool, name, startedAt,
			&domain.ToolError{Code: domain.CodeInternalError, Message: err.Error()})
	}
	if renderer == nil {
		return nil, true, s.sendToolError(id, tool, name, startedAt, &domain.ToolError{
			Code:    domain.CodeRendererNotFound,
			Message: fmt.Sprintf("renderer %q not found", name),
		})
	}
	return renderer, false, nil
}

func (s *Server) requireSession(ctx context.Context, id json.RawMessage, tool string, rawArgs json.RawMessage, startedAt time.Time) (*domain.Renderer, PlaybackSession, bool, error) {
	renderer, done, err := s.resolveFromArgs(ctx, id, tool, rawArgs, startedAt)
	if done || err != nil {
		return nil, nil, true, err
	}

	session := s.queues.Session(renderer.UDN)
	if session == nil {
		return nil, nil, true, s.sendNoActiveSession(id, tool, renderer.Name, startedAt)
	}
	return renderer, session, false, nil
}

func (s *Server) sendNoActiveSession(id json.RawMessage, tool, rendererName string, startedAt time.Time) error {
	return s.sendToolError(id, tool, rendererName, startedAt, &domain.ToolError{
		Code:    domain.CodeNoActiveSession,
		Message: fmt.Sprintf("no active playback on %q", rendererName),
	})
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

func asToolError(err error, code, prefix string) *domain.ToolError {
	var terr *domain.ToolError
	if errors.As(err, &terr) && terr != nil {
		return terr
	}
	return &domain.ToolError{Code: code, Message: prefix + ": " + err.Error()}
}

func toolErrorResult(code, message string) toolCallResult {
	return toolCallResult{
		Content: []toolContent{{
			Type: "text",
			Text: fmt.Sprintf("%s: %s", code, message),
		}},
		StructuredContent: map[string]any{
			"error": map[string]string{
				"code":    code,
				"message": message,
			},
		},
		IsError: true,
	}
}

func (s *Server) sendToolError(id json.RawMessage, tool, rendererName string, startedAt time.Time, terr *domain.ToolError) error {
	s.logCall(tool, rendererName, startedAt, terr.Code)

	result := toolErrorResult(terr.Code, terr.Message)
	if len(terr.Details) > 0 {
		structured := map[string]any{
			"code":    terr.Code,
			"message": terr.Message,
			"details": terr.Details,
		}
		result.StructuredContent = map[string]any{"error": structured}
	}
	return s.send(okResponse(id, result))
}

func (s *Server) sendInvalidParams(tool, rendererName string, startedAt time.Time, id json.RawMessage) error {
	s.logCall(tool, rendererName, startedAt, "-32602")
	return s.send(errResponse(id, codeInvalidParams, "invalid params"))
}

func formatRenderers(renderers []domain.Renderer) string {
	var out strings.Builder
	for i, renderer := range renderers {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(&out, "%d. %s (udn=%s gapless=%t)", i+1, renderer.Name, renderer.UDN, renderer.SupportsGapless)
	}
	return out.String()
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	return s.wire.write(encoded)
}

func (s *Server) logCall(method, rendererName string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.String("renderer", strings.TrimSpace(rendererName)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
