package mcpserver

func rendererNameProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Name (or partial name) of the DLNA renderer. Obtain names by calling 'list_renderers' first.",
	}
}

func sessionToolSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"renderer_name": rendererNameProperty(),
		},
		"required":             []string{"renderer_name"},
		"additionalProperties": false,
	}
}

func staticTools() []toolSpec {
	return []toolSpec{
		{
			Name:        "list_renderers",
			Description: "Discover DLNA/UPnP media renderers on the local network. Call this first to find renderer names for the other tools. Results are cached; pass force_refresh to rescan.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"force_refresh": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Bypass the discovery cache and rescan the network.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "play_tracks",
			Description: "Play a queue of audio tracks on a DLNA renderer with gapless transitions where the device supports them. Replaces any queue already playing on that renderer.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"renderer_name": rendererNameProperty(),
					"tracks": map[string]any{
						"type":        "string",
						"description": "JSON array of track objects. Each needs 'url' (required) and may carry 'title', 'artist', 'album' and 'art_url'.",
					},
				},
				"required":             []string{"renderer_name", "tracks"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "stop",
			Description: "Stop playback and clear the queue on a DLNA renderer.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "pause",
			Description: "Pause playback on a DLNA renderer.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "resume",
			Description: "Resume paused playback on a DLNA renderer.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "next_track",
			Description: "Skip to the next track in the queue.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "previous_track",
			Description: "Go back to the previous track in the queue.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "get_status",
			Description: "Get current playback state, track info and queue position for a DLNA renderer.",
			InputSchema: sessionToolSchema(),
		},
		{
			Name:        "set_volume",
			Description: "Set playback volume (0-100) on a DLNA renderer.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"renderer_name": rendererNameProperty(),
					"volume": map[string]any{
						"type":        "integer",
						"minimum":     0,
						"maximum":     100,
						"description": "Volume level from 0 (mute) to 100.",
					},
				},
				"required":             []string{"renderer_name", "volume"},
				"additionalProperties": false,
			},
		},
	}
}
