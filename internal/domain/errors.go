package domain

// ToolError is a caller-visible failure with a stable machine code.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Error codes surfaced through the tool layer.
const (
	CodeRendererNotFound = "RENDERER_NOT_FOUND"
	CodeNoActiveSession  = "NO_ACTIVE_SESSION"
	CodeInvalidTracks    = "INVALID_TRACKS"
	CodePlaybackFailed   = "PLAYBACK_FAILED"
	CodeCommandFailed    = "COMMAND_FAILED"
	CodeEndOfQueue       = "END_OF_QUEUE"
	CodeStartOfQueue     = "START_OF_QUEUE"
	CodeInternalError    = "INTERNAL_ERROR"
)
