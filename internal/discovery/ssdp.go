package discovery

import (
	"context"
	"net"
	"strings"
	"time"
)

const (
	ssdpGroup    = "239.255.255.250:1900"
	searchTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"

	probeSpacing = 100 * time.Millisecond
	maxReadWait  = time.Second
	responseSize = 4096
)

// searchDestination is a variable so tests can point probes at a local
// responder instead of the multicast group.
var searchDestination = ssdpGroup

// searchFunc collects device-description URLs within the timeout window.
type searchFunc func(ctx context.Context, timeout time.Duration) []string

func buildSearchRequest() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpGroup + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: " + searchTarget + "\r\n" +
		"\r\n")
}

// ssdpSearch sends an M-SEARCH probe twice (UDP is lossy) and collects
// LOCATION headers from responses until the deadline. Best-effort: socket
// errors end the search early and a partial result is returned. Silence
// is normal; devices that are off or filtered simply never answer.
func ssdpSearch(ctx context.Context, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", searchDestination)
	if err != nil {
		return nil
	}

	msg := buildSearchRequest()
	for i := 0; i < 2; i++ {
		if _, err := conn.WriteTo(msg, dst); err != nil {
			break
		}
		time.Sleep(probeSpacing)
	}

	var locations []string
	seen := make(map[string]struct{})
	buf := make([]byte, responseSize)

	for {
		if ctx.Err() != nil {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		// Bound each read so one slow packet cannot push the search
		// past the overall deadline.
		wait := remaining
		if wait > maxReadWait {
			wait = maxReadWait
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			break
		}

		loc := parseLocation(string(buf[:n]))
		if loc == "" {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		locations = append(locations, loc)
	}

	return locations
}

// parseLocation extracts the LOCATION header from an SSDP response.
func parseLocation(response string) string {
	for _, line := range strings.Split(response, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "location") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
