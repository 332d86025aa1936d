package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ebongard/renfield-mcp-dlna/internal/adapters/upnp"
	"github.com/ebongard/renfield-mcp-dlna/internal/buildinfo"
	"github.com/ebongard/renfield-mcp-dlna/internal/discovery"
	"github.com/ebongard/renfield-mcp-dlna/internal/domain"
	"github.com/ebongard/renfield-mcp-dlna/internal/lifecycle"
	"github.com/ebongard/renfield-mcp-dlna/internal/mcpserver"
	"github.com/ebongard/renfield-mcp-dlna/internal/queue"
)

const serverName = "renfield-mcp-dlna"

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Wiring struct {
		DiscoveryWired bool   `json:"discovery_wired"`
		QueueWired     bool   `json:"queue_wired"`
		ListenIP       string `json:"listen_ip"`
	} `json:"wiring"`
}

// queueBackend narrows *queue.Registry to the server's controller port.
// The indirection keeps a missing session a typed nil interface.
type queueBackend struct {
	registry *queue.Registry
}

func (q queueBackend) PlayTracks(ctx context.Context, renderer domain.Renderer, tracks []domain.Track) (domain.PlayResult, error) {
	return q.registry.PlayTracks(ctx, renderer, tracks)
}

func (q queueBackend) Session(udn string) mcpserver.PlaybackSession {
	if session := q.registry.Session(udn); session != nil {
		return session
	}
	return nil
}

func main() {
	selfTest := flag.Bool("self-test", false, "run wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	logLevel := parseLogLevel(os.Getenv("RENFIELD_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	engine := discovery.NewEngine(logger)
	endpoint := upnp.NewNotifyServer(logger)
	factory := &upnp.ControlFactory{Endpoint: endpoint, Logger: logger}
	registry := queue.NewRegistry(factory, endpoint, logger)

	if *selfTest {
		var out selfTestOutput
		out.Server.Name = serverName
		out.Server.Version = buildinfo.Version
		out.Wiring.DiscoveryWired = engine != nil
		out.Wiring.QueueWired = registry != nil
		out.Wiring.ListenIP = upnp.ListenIP()

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logger.Info(
		"mcp_server_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	srv := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:    serverName,
		ServerVersion: buildinfo.Version,
		Logger:        logger,
		Directory:     engine,
		Queues:        queueBackend{registry: registry},
	})

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("mcp_server_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("mcp_server_stopping", slog.String("reason", "clean_eof"))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	registry.Close(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid RENFIELD_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
