package discovery

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestBuildSearchRequest(t *testing.T) {
	req := string(buildSearchRequest())

	if !strings.HasPrefix(req, "M-SEARCH * HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", req)
	}
	for _, want := range []string{
		"HOST: 239.255.255.250:1900\r\n",
		"MAN: \"ssdp:discover\"\r\n",
		"MX: 3\r\n",
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n",
	} {
		if !strings.Contains(req, want) {
			t.Fatalf("expected header %q in request %q", want, req)
		}
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Fatalf("expected terminating blank line, got %q", req)
	}
}

func TestParseLocation(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"location:  http://10.0.0.9:9197/description.xml \r\n" +
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n\r\n"

	if got := parseLocation(response); got != "http://10.0.0.9:9197/description.xml" {
		t.Fatalf("unexpected location %q", got)
	}

	if got := parseLocation("HTTP/1.1 200 OK\r\nST: upnp:rootdevice\r\n\r\n"); got != "" {
		t.Fatalf("expected empty location, got %q", got)
	}
}

// TestSSDPSearchCollectsResponses runs a loopback responder in place of
// the multicast group and checks deduplication plus discard of responses
// without a LOCATION header.
func TestSSDPSearchCollectsResponses(t *testing.T) {
	responder, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("responder listen: %v", err)
	}
	defer responder.Close()

	savedDestination := searchDestination
	searchDestination = responder.LocalAddr().String()
	defer func() { searchDestination = savedDestination }()

	replies := []string{
		"HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.9:9197/description.xml\r\n\r\n",
		"HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.9:9197/description.xml\r\n\r\n",
		"HTTP/1.1 200 OK\r\nST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n\r\n",
		"HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.20:8080/desc.xml\r\n\r\n",
	}
	go func() {
		buf := make([]byte, 2048)
		for {
			_, addr, err := responder.ReadFrom(buf)
			if err != nil {
				return
			}
			for _, reply := range replies {
				_, _ = responder.WriteTo([]byte(reply), addr)
			}
		}
	}()

	locations := ssdpSearch(context.Background(), 800*time.Millisecond)

	if len(locations) != 2 {
		t.Fatalf("expected 2 unique locations, got %v", locations)
	}
	if locations[0] != "http://10.0.0.9:9197/description.xml" {
		t.Fatalf("expected first-seen ordering, got %v", locations)
	}
	if locations[1] != "http://10.0.0.20:8080/desc.xml" {
		t.Fatalf("unexpected second location %v", locations)
	}
}

func TestSSDPSearchRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	locations := ssdpSearch(ctx, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected early exit on cancelled context, took %v", elapsed)
	}
	if len(locations) != 0 {
		t.Fatalf("expected no locations, got %v", locations)
	}
}
