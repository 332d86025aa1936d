package domain

// Renderer identifies one discovered DLNA MediaRenderer. Records are
// immutable after discovery; a new discovery pass replaces them wholesale.
type Renderer struct {
	Name                  string `json:"name"`
	UDN                   string `json:"udn"`
	Location              string `json:"location"`
	BaseURL               string `json:"base_url"`
	AVTransportControlURL string `json:"av_transport_control_url"`
	AVTransportEventURL   string `json:"av_transport_event_url,omitempty"`
	RenderingControlURL   string `json:"rendering_control_url,omitempty"`
	SupportsGapless       bool   `json:"supports_gapless"`
}
