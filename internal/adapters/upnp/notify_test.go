package upnp

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func startTestNotifyServer(t *testing.T) *NotifyServer {
	t.Helper()
	server := NewNotifyServer(nil)
	server.listenIP = func() string { return "127.0.0.1" }
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server
}

func sendNotify(t *testing.T, url, sid, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("NOTIFY", url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if sid != "" {
		req.Header.Set("SID", sid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send notify: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestNotifyServerRoutesBySID(t *testing.T) {
	server := startTestNotifyServer(t)

	received := make(chan string, 1)
	server.register("uuid:sub-1", func(body []byte) {
		received <- string(body)
	})

	resp := sendNotify(t, server.CallbackURL(), "uuid:sub-1", "payload")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := <-received; got != "payload" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestNotifyServerRejectsUnknownSID(t *testing.T) {
	server := startTestNotifyServer(t)

	resp := sendNotify(t, server.CallbackURL(), "uuid:nobody", "payload")
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 for unknown SID, got %d", resp.StatusCode)
	}
}

func TestNotifyServerUnregisterStopsDelivery(t *testing.T) {
	server := startTestNotifyServer(t)

	server.register("uuid:sub-1", func([]byte) {
		t.Error("handler called after unregister")
	})
	server.unregister("uuid:sub-1")

	resp := sendNotify(t, server.CallbackURL(), "uuid:sub-1", "payload")
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 after unregister, got %d", resp.StatusCode)
	}
}

func TestNotifyServerRejectsOtherMethods(t *testing.T) {
	server := startTestNotifyServer(t)

	resp, err := http.Get(server.CallbackURL())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for GET, got %d", resp.StatusCode)
	}
}

func TestNotifyServerLifecycle(t *testing.T) {
	server := NewNotifyServer(nil)
	server.listenIP = func() string { return "127.0.0.1" }

	if url := server.CallbackURL(); url != "" {
		t.Fatalf("expected empty callback URL before start, got %q", url)
	}

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	url := server.CallbackURL()
	if !strings.HasPrefix(url, "http://127.0.0.1:") || !strings.HasSuffix(url, "/events") {
		t.Fatalf("unexpected callback URL %q", url)
	}

	// Start is idempotent while running.
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if server.CallbackURL() != url {
		t.Fatal("expected callback URL unchanged on repeated start")
	}

	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if url := server.CallbackURL(); url != "" {
		t.Fatalf("expected empty callback URL after stop, got %q", url)
	}
	// Stop after stop is a no-op.
	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDetectListenIPHonorsOverride(t *testing.T) {
	t.Setenv("DLNA_LISTEN_IP", "192.168.7.42")
	if got := detectListenIP(); got != "192.168.7.42" {
		t.Fatalf("expected env override, got %q", got)
	}
}
