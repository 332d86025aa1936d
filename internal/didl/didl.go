// Package didl builds DIDL-Lite metadata documents for DLNA renderers.
// The output is the CurrentURIMetaData/NextURIMetaData argument of the
// AVTransport SetAVTransportURI and SetNextAVTransportURI actions.
package didl

import "encoding/xml"

const (
	didlNamespace = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	dcNamespace   = "http://purl.org/dc/elements/1.1/"
	upnpNamespace = "urn:schemas-upnp-org:metadata-1-0/upnp/"

	musicTrackClass = "object.item.audioItem.musicTrack"
	defaultMimeType = "audio/flac"
)

type document struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	XMLNS   string   `xml:"xmlns,attr"`
	DC      string   `xml:"xmlns:dc,attr"`
	UPNP    string   `xml:"xmlns:upnp,attr"`
	Item    item     `xml:"item"`
}

type item struct {
	ID          string   `xml:"id,attr"`
	ParentID    string   `xml:"parentID,attr"`
	Restricted  string   `xml:"restricted,attr"`
	Class       string   `xml:"upnp:class"`
	Title       string   `xml:"dc:title"`
	Creator     string   `xml:"dc:creator,omitempty"`
	Album       string   `xml:"upnp:album,omitempty"`
	AlbumArtURI string   `xml:"upnp:albumArtURI,omitempty"`
	Res         resource `xml:"res"`
}

type resource struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	URL          string `xml:",chardata"`
}

// Format renders the DIDL-Lite document for one music track. Pure and
// deterministic: identical input yields identical output.
func Format(url, title, artist, album, artURL, mimeType string) string {
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	if title == "" {
		title = "Unknown"
	}

	doc := document{
		XMLNS: didlNamespace,
		DC:    dcNamespace,
		UPNP:  upnpNamespace,
		Item: item{
			ID:          "0",
			ParentID:    "-1",
			Restricted:  "1",
			Class:       musicTrackClass,
			Title:       title,
			Creator:     artist,
			Album:       album,
			AlbumArtURI: artURL,
			Res: resource{
				ProtocolInfo: "http-get:*:" + mimeType + ":*",
				URL:          url,
			},
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(out)
}
