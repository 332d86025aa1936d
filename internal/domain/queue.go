package domain

// Track is one playable item in a queue. Only URL is required.
type Track struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	ArtURL string `json:"art_url,omitempty"`
}

// QueueStatus is a point-in-time snapshot of one playback session.
// Track is 1-based for display.
type QueueStatus struct {
	Renderer    string `json:"renderer"`
	State       string `json:"state"`
	Track       int    `json:"track"`
	TotalTracks int    `json:"total_tracks"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
}

// NowPlaying describes the track a caller-driven transition landed on.
type NowPlaying struct {
	Track       int    `json:"track"`
	TotalTracks int    `json:"total_tracks"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
}

// PlayResult reports a successfully started queue.
type PlayResult struct {
	OK              bool       `json:"ok"`
	Renderer        string     `json:"renderer"`
	TotalTracks     int        `json:"total_tracks"`
	SupportsGapless bool       `json:"supports_gapless"`
	NowPlaying      NowPlaying `json:"now_playing"`
}
