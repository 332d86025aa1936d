package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const scpdWithSetNext = `<?xml version="1.0"?>
<scpd><actionList>
  <action><name>SetAVTransportURI</name></action>
  <action><name>SetNextAVTransportURI</name></action>
  <action><name>Play</name></action>
</actionList></scpd>`

const scpdWithoutSetNext = `<?xml version="1.0"?>
<scpd><actionList>
  <action><name>SetAVTransportURI</name></action>
  <action><name>Play</name></action>
</actionList></scpd>`

func descriptionDoc(name, udn string, withAVTransport bool) string {
	services := `<service>
  <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
  <controlURL>/cm/control</controlURL>
</service>`
	if withAVTransport {
		services += `<service>
  <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
  <controlURL>/avt/control</controlURL>
  <eventSubURL>/avt/event</eventSubURL>
  <SCPDURL>/avt/scpd.xml</SCPDURL>
</service>`
	}
	return fmt.Sprintf(`<?xml version="1.0"?>
<root><device>
  <friendlyName>%s</friendlyName>
  <UDN>%s</UDN>
  <serviceList>%s</serviceList>
</device></root>`, name, udn, services)
}

// newTestEngine wires an Engine to a fake network: an HTTP server for
// description documents and a canned SSDP search result.
func newTestEngine(t *testing.T, scpd string, descriptions map[string]string) (*Engine, *httptest.Server, *int) {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/avt/scpd.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(scpd))
	})
	for path, doc := range descriptions {
		doc := doc
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(doc))
		})
	}

	searchCalls := 0
	engine := NewEngine(nil)
	engine.search = func(_ context.Context, _ time.Duration) []string {
		searchCalls++
		locations := make([]string, 0, len(descriptions))
		// Stable order keeps first-discovered semantics testable.
		for _, path := range []string{"/dev1.xml", "/dev2.xml", "/dev3.xml"} {
			if _, ok := descriptions[path]; ok {
				locations = append(locations, server.URL+path)
			}
		}
		return locations
	}
	return engine, server, &searchCalls
}

func TestDiscoverParsesAndCaches(t *testing.T) {
	engine, _, searchCalls := newTestEngine(t, scpdWithSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Living Room Speaker", "uuid:dev1", true),
	})

	renderers, err := engine.Discover(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(renderers) != 1 {
		t.Fatalf("expected 1 renderer, got %d", len(renderers))
	}
	if !renderers[0].SupportsGapless {
		t.Fatal("expected gapless support detected from capability document")
	}

	// Second call inside the TTL serves the cache.
	if _, err := engine.Discover(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *searchCalls != 1 {
		t.Fatalf("expected 1 search, got %d", *searchCalls)
	}

	// force bypasses the cache.
	if _, err := engine.Discover(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *searchCalls != 2 {
		t.Fatalf("expected forced rescan, got %d searches", *searchCalls)
	}
}

func TestDiscoverExpiredCacheRescans(t *testing.T) {
	engine, _, searchCalls := newTestEngine(t, scpdWithoutSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Speaker", "uuid:dev1", true),
	})

	base := time.Now()
	engine.now = func() time.Time { return base }
	if _, err := engine.Discover(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine.now = func() time.Time { return base.Add(cacheTTL + time.Second) }
	if _, err := engine.Discover(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *searchCalls != 2 {
		t.Fatalf("expected stale cache to trigger a rescan, got %d searches", *searchCalls)
	}
}

func TestDiscoverSkipsUnusableDevices(t *testing.T) {
	engine, _, _ := newTestEngine(t, scpdWithoutSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Usable", "uuid:dev1", true),
		"/dev2.xml": descriptionDoc("No Transport", "uuid:dev2", false),
	})

	renderers, err := engine.Discover(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(renderers) != 1 || renderers[0].Name != "Usable" {
		t.Fatalf("expected only the usable device, got %+v", renderers)
	}
	if renderers[0].SupportsGapless {
		t.Fatal("expected gapless unsupported for this capability document")
	}
}

func TestResolvePrefersExactMatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, scpdWithoutSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Samsung TV Living Room", "uuid:dev1", true),
		"/dev2.xml": descriptionDoc("Samsung TV", "uuid:dev2", true),
	})

	rec, err := engine.Resolve(context.Background(), "samsung tv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.UDN != "uuid:dev2" {
		t.Fatalf("expected exact match to win, got %+v", rec)
	}
}

func TestResolveSubstringFallsBackToFirstDiscovered(t *testing.T) {
	engine, _, _ := newTestEngine(t, scpdWithoutSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Kitchen Speaker", "uuid:dev1", true),
		"/dev2.xml": descriptionDoc("Bedroom Speaker", "uuid:dev2", true),
	})

	rec, err := engine.Resolve(context.Background(), "SPEAKER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.UDN != "uuid:dev1" {
		t.Fatalf("expected first-discovered substring match, got %+v", rec)
	}
}

func TestResolveMissReturnsNilNotError(t *testing.T) {
	engine, _, _ := newTestEngine(t, scpdWithoutSetNext, map[string]string{
		"/dev1.xml": descriptionDoc("Speaker", "uuid:dev1", true),
	})

	rec, err := engine.Resolve(context.Background(), "projector")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for unknown renderer, got %+v", rec)
	}
}
