package mcpserver

import (
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

// parseTrackList decodes the play_tracks "tracks" argument: a JSON array
// of objects where each entry needs a non-empty "url" and may carry
// title, artist, album and art_url.
func parseTrackList(raw string) ([]domain.Track, *domain.ToolError) {
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 || data[0] != '[' {
		return nil, &domain.ToolError{
			Code:    domain.CodeInvalidTracks,
			Message: "tracks must be a non-empty JSON array",
		}
	}

	var (
		tracks   []domain.Track
		badEntry *domain.ToolError
		index    = -1
	)
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		index++
		if badEntry != nil {
			return
		}
		if dataType != jsonparser.Object {
			badEntry = invalidTrackError(index, fmt.Sprintf("track %d is not an object", index))
			return
		}

		url, err := jsonparser.GetString(value, "url")
		if err != nil || strings.TrimSpace(url) == "" {
			badEntry = invalidTrackError(index, fmt.Sprintf("track %d missing required 'url' field", index))
			return
		}

		title, _ := jsonparser.GetString(value, "title")
		artist, _ := jsonparser.GetString(value, "artist")
		album, _ := jsonparser.GetString(value, "album")
		artURL, _ := jsonparser.GetString(value, "art_url")

		tracks = append(tracks, domain.Track{
			URL:    url,
			Title:  title,
			Artist: artist,
			Album:  album,
			ArtURL: artURL,
		})
	})
	if err != nil {
		return nil, &domain.ToolError{
			Code:    domain.CodeInvalidTracks,
			Message: "tracks is not valid JSON: " + err.Error(),
		}
	}
	if badEntry != nil {
		return nil, badEntry
	}
	if len(tracks) == 0 {
		return nil, &domain.ToolError{
			Code:    domain.CodeInvalidTracks,
			Message: "tracks must be a non-empty JSON array",
		}
	}
	return tracks, nil
}

func invalidTrackError(index int, message string) *domain.ToolError {
	return &domain.ToolError{
		Code:    domain.CodeInvalidTracks,
		Message: message,
		Details: map[string]any{"index": index},
	}
}
