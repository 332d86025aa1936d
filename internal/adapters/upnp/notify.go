package upnp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	notifyPath     = "/events"
	notifyBodyMax  = 256 << 10
	listenIPEnvVar = "DLNA_LISTEN_IP"
	multicastProbe = "239.255.255.250:1900"
)

// NotifyServer is the shared HTTP endpoint that receives GENA NOTIFY
// callbacks from renderers and routes them to subscriptions by SID.
// It is started lazily by the session registry and stopped when the
// last session is torn down.
type NotifyServer struct {
	logger   *slog.Logger
	listenIP func() string

	mu          sync.Mutex
	server      *http.Server
	listener    net.Listener
	callbackURL string
	handlers    map[string]func(body []byte)
}

func NewNotifyServer(logger *slog.Logger) *NotifyServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NotifyServer{
		logger:   logger,
		listenIP: detectListenIP,
		handlers: map[string]func(body []byte){},
	}
}

func (n *NotifyServer) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp4", net.JoinHostPort(n.listenIP(), "0"))
	if err != nil {
		return err
	}

	n.listener = listener
	n.callbackURL = "http://" + listener.Addr().String() + notifyPath
	n.server = &http.Server{
		Handler:           http.HandlerFunc(n.handleNotify),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := n.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			n.logger.Warn("notify_server_error", slog.String("error", err.Error()))
		}
	}()

	n.logger.Info("notify_server_started", slog.String("callback_url", n.callbackURL))
	return nil
}

func (n *NotifyServer) Stop(ctx context.Context) error {
	n.mu.Lock()
	server := n.server
	n.server = nil
	n.listener = nil
	n.callbackURL = ""
	n.handlers = map[string]func(body []byte){}
	n.mu.Unlock()

	if server == nil {
		return nil
	}
	n.logger.Info("notify_server_stopped")
	return server.Shutdown(ctx)
}

func (n *NotifyServer) CallbackURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callbackURL
}

func (n *NotifyServer) register(sid string, handler func(body []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[sid] = handler
}

func (n *NotifyServer) unregister(sid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, sid)
}

func (n *NotifyServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" || r.URL.Path != notifyPath {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sid := strings.TrimSpace(r.Header.Get("SID"))
	n.mu.Lock()
	handler := n.handlers[sid]
	n.mu.Unlock()
	if handler == nil {
		// GENA: unknown subscription ID.
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, notifyBodyMax))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	handler(body)
	w.WriteHeader(http.StatusOK)
}

// ListenIP reports the address the notify endpoint would bind to.
// Exposed for startup diagnostics.
func ListenIP() string {
	return detectListenIP()
}

// detectListenIP picks the local address renderers can reach for event
// callbacks: the DLNA_LISTEN_IP override wins, then the interface the OS
// would route toward the SSDP multicast group, then the any address.
func detectListenIP() string {
	if env := strings.TrimSpace(os.Getenv(listenIPEnvVar)); env != "" {
		return env
	}

	conn, err := net.Dial("udp4", multicastProbe)
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "0.0.0.0"
}
