package discovery

import (
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

const (
	avTransportType      = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlType = "urn:schemas-upnp-org:service:RenderingControl:1"

	setNextActionName = "SetNextAVTransportURI"
)

// deviceDescription is the urn:schemas-upnp-org:device-1-0 document.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Services []deviceService `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

type deviceService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// scpdDocument is the per-service capability document; only the action
// names matter here.
type scpdDocument struct {
	XMLName xml.Name `xml:"scpd"`
	Actions []struct {
		Name string `xml:"name"`
	} `xml:"actionList>action"`
}

// parseDescription turns a device-description document into a Renderer.
// The returned scpdURL points at the AVTransport capability document (or
// is empty); the caller decides whether to probe it. Records without an
// AVTransport control URL are unusable for playback and rejected.
func parseDescription(doc []byte, location string) (*domain.Renderer, string, error) {
	var desc deviceDescription
	if err := xml.Unmarshal(doc, &desc); err != nil {
		return nil, "", errors.Wrap(err, "malformed device description")
	}

	udn := strings.TrimSpace(desc.Device.UDN)
	if udn == "" {
		return nil, "", errors.New("device description has no UDN")
	}
	if len(desc.Device.ServiceList.Services) == 0 {
		return nil, "", errors.New("device description has no service list")
	}

	base := baseURLFor(location)
	rec := &domain.Renderer{
		Name:     strings.TrimSpace(desc.Device.FriendlyName),
		UDN:      udn,
		Location: location,
		BaseURL:  base,
	}

	scpdURL := ""
	for _, svc := range desc.Device.ServiceList.Services {
		switch strings.TrimSpace(svc.ServiceType) {
		case avTransportType:
			rec.AVTransportControlURL = absoluteURL(base, svc.ControlURL)
			rec.AVTransportEventURL = absoluteURL(base, svc.EventSubURL)
			scpdURL = absoluteURL(base, svc.SCPDURL)
		case renderingControlType:
			rec.RenderingControlURL = absoluteURL(base, svc.ControlURL)
		}
	}

	if rec.AVTransportControlURL == "" {
		return nil, "", errors.New("device exposes no AVTransport control URL")
	}
	return rec, scpdURL, nil
}

// scpdSupportsSetNext reports whether the AVTransport capability document
// lists the gapless-preload action.
func scpdSupportsSetNext(doc []byte) bool {
	var scpd scpdDocument
	if err := xml.Unmarshal(doc, &scpd); err != nil {
		return false
	}
	for _, action := range scpd.Actions {
		if strings.TrimSpace(action.Name) == setNextActionName {
			return true
		}
	}
	return false
}

// baseURLFor reduces a description URL to scheme://host:port.
func baseURLFor(location string) string {
	parsed, err := url.Parse(location)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// absoluteURL rewrites a relative control path against the device's base
// URL. Already-absolute URLs pass through unchanged.
func absoluteURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if base == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return base + raw
}
