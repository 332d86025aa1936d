package upnp

import (
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/ebongard/renfield-mcp-dlna/internal/adapters"
)

// propertySet is the outer GENA NOTIFY body. The AVTransport LastChange
// value is itself an XML document, delivered escaped inside the property
// element.
type propertySet struct {
	XMLName    xml.Name `xml:"propertyset"`
	LastChange string   `xml:"property>LastChange"`
}

type lastChangeEvent struct {
	XMLName  xml.Name `xml:"Event"`
	Instance struct {
		TransportState struct {
			Val string `xml:"val,attr"`
		} `xml:"TransportState"`
		CurrentTrackURI struct {
			Val string `xml:"val,attr"`
		} `xml:"CurrentTrackURI"`
		AVTransportURI struct {
			Val string `xml:"val,attr"`
		} `xml:"AVTransportURI"`
	} `xml:"InstanceID"`
}

// parseTransportEvent extracts the transport state and current track URI
// from a NOTIFY body. It returns false when the body carries no
// LastChange payload, which renderers send for events on other state
// variables.
func parseTransportEvent(body []byte) (adapters.TransportEvent, bool, error) {
	var set propertySet
	if err := xml.Unmarshal(body, &set); err != nil {
		return adapters.TransportEvent{}, false, errors.Wrap(err, "parsing event property set")
	}
	if set.LastChange == "" {
		return adapters.TransportEvent{}, false, nil
	}

	var event lastChangeEvent
	if err := xml.Unmarshal([]byte(set.LastChange), &event); err != nil {
		return adapters.TransportEvent{}, false, errors.Wrap(err, "parsing LastChange payload")
	}

	uri := event.Instance.CurrentTrackURI.Val
	if uri == "" {
		uri = event.Instance.AVTransportURI.Val
	}

	return adapters.TransportEvent{
		State:      adapters.TransportState(event.Instance.TransportState.Val),
		CurrentURI: uri,
	}, true, nil
}
