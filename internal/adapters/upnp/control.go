package upnp

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/soap"
	"github.com/pkg/errors"

	"github.com/ebongard/renfield-mcp-dlna/internal/adapters"
	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
)

const (
	avTransportNamespace      = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlNamespace = "urn:schemas-upnp-org:service:RenderingControl:1"
	subscribeTimeout          = "Second-1800"
)

type setAVTransportURIArgs struct {
	InstanceID         string
	CurrentURI         string
	CurrentURIMetaData string
}

type setNextAVTransportURIArgs struct {
	InstanceID      string
	NextURI         string
	NextURIMetaData string
}

type playArgs struct {
	InstanceID string
	Speed      string
}

type instanceArgs struct {
	InstanceID string
}

type setVolumeArgs struct {
	InstanceID    string
	Channel       string
	DesiredVolume string
}

// Control drives a single renderer's AVTransport (and, when present,
// RenderingControl) service over SOAP, and manages the GENA subscription
// that feeds transport events back through the shared NotifyServer.
type Control struct {
	renderer domain.Renderer
	endpoint *NotifyServer
	logger   *slog.Logger

	transport  *soap.SOAPClient
	rendering  *soap.SOAPClient
	httpClient *http.Client

	mu  sync.Mutex
	sid string
}

func newControl(renderer domain.Renderer, endpoint *NotifyServer, logger *slog.Logger) (*Control, error) {
	transportURL, err := url.Parse(renderer.AVTransportControlURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing AVTransport control URL for %s", renderer.Name)
	}

	control := &Control{
		renderer:   renderer,
		endpoint:   endpoint,
		logger:     logger,
		transport:  soap.NewSOAPClient(*transportURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	if renderer.RenderingControlURL != "" {
		renderingURL, err := url.Parse(renderer.RenderingControlURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing RenderingControl URL for %s", renderer.Name)
		}
		control.rendering = soap.NewSOAPClient(*renderingURL)
	}

	return control, nil
}

func (c *Control) SetTransportURI(ctx context.Context, uri, metadataXML string) error {
	args := setAVTransportURIArgs{
		InstanceID:         "0",
		CurrentURI:         uri,
		CurrentURIMetaData: metadataXML,
	}
	err := c.transport.PerformActionCtx(ctx, avTransportNamespace, "SetAVTransportURI", &args, nil)
	return errors.Wrap(err, "SetAVTransportURI")
}

func (c *Control) SetNextTransportURI(ctx context.Context, uri, metadataXML string) error {
	args := setNextAVTransportURIArgs{
		InstanceID:      "0",
		NextURI:         uri,
		NextURIMetaData: metadataXML,
	}
	err := c.transport.PerformActionCtx(ctx, avTransportNamespace, "SetNextAVTransportURI", &args, nil)
	return errors.Wrap(err, "SetNextAVTransportURI")
}

func (c *Control) Play(ctx context.Context) error {
	args := playArgs{InstanceID: "0", Speed: "1"}
	err := c.transport.PerformActionCtx(ctx, avTransportNamespace, "Play", &args, nil)
	return errors.Wrap(err, "Play")
}

func (c *Control) Pause(ctx context.Context) error {
	args := instanceArgs{InstanceID: "0"}
	err := c.transport.PerformActionCtx(ctx, avTransportNamespace, "Pause", &args, nil)
	return errors.Wrap(err, "Pause")
}

func (c *Control) Stop(ctx context.Context) error {
	args := instanceArgs{InstanceID: "0"}
	err := c.transport.PerformActionCtx(ctx, avTransportNamespace, "Stop", &args, nil)
	return errors.Wrap(err, "Stop")
}

// SetVolume sets the master channel volume. level is a fraction in
// [0.0, 1.0] mapped onto the renderer's 0-100 scale.
func (c *Control) SetVolume(ctx context.Context, level float64) error {
	if c.rendering == nil {
		return errors.Errorf("%s does not expose a RenderingControl service", c.renderer.Name)
	}
	args := setVolumeArgs{
		InstanceID:    "0",
		Channel:       "Master",
		DesiredVolume: strconv.Itoa(int(math.Round(level * 100))),
	}
	err := c.rendering.PerformActionCtx(ctx, renderingControlNamespace, "SetVolume", &args, nil)
	return errors.Wrap(err, "SetVolume")
}

// Subscribe opens a GENA subscription on the AVTransport event URL and
// routes NOTIFY bodies carrying a LastChange payload to onEvent.
func (c *Control) Subscribe(ctx context.Context, onEvent func(adapters.TransportEvent)) error {
	callbackURL := c.endpoint.CallbackURL()
	if callbackURL == "" {
		return errors.New("event endpoint is not running")
	}

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", c.renderer.AVTransportEventURL, nil)
	if err != nil {
		return errors.Wrap(err, "building SUBSCRIBE request")
	}
	req.Header.Set("CALLBACK", "<"+callbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", subscribeTimeout)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "subscribing to %s", c.renderer.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("SUBSCRIBE to %s returned %s", c.renderer.Name, resp.Status)
	}

	sid := strings.TrimSpace(resp.Header.Get("SID"))
	if sid == "" {
		return errors.Errorf("SUBSCRIBE to %s returned no SID", c.renderer.Name)
	}

	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()

	c.endpoint.register(sid, func(body []byte) {
		event, ok, err := parseTransportEvent(body)
		if err != nil {
			c.logger.Debug("event_parse_failed",
				slog.String("renderer", c.renderer.Name),
				slog.String("error", err.Error()))
			return
		}
		if !ok {
			return
		}
		onEvent(event)
	})

	c.logger.Debug("subscribed",
		slog.String("renderer", c.renderer.Name),
		slog.String("sid", sid))
	return nil
}

func (c *Control) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sid
	c.sid = ""
	c.mu.Unlock()

	if sid == "" {
		return nil
	}
	c.endpoint.unregister(sid)

	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", c.renderer.AVTransportEventURL, nil)
	if err != nil {
		return errors.Wrap(err, "building UNSUBSCRIBE request")
	}
	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "unsubscribing from %s", c.renderer.Name)
	}
	resp.Body.Close()
	return nil
}

// ControlFactory builds Controls bound to the shared NotifyServer.
type ControlFactory struct {
	Endpoint *NotifyServer
	Logger   *slog.Logger
}

func (f *ControlFactory) NewControl(renderer domain.Renderer) (adapters.AVControl, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return newControl(renderer, f.Endpoint, logger)
}
