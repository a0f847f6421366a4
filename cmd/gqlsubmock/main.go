// gqlsubmock serves GraphQL subscription fixtures over the graphql-ws
// WebSocket sub-protocol, for trying out subscription clients by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gqlsubtest/gqlsubtest/pkg/logging"
	"github.com/gqlsubtest/gqlsubtest/pkg/mockserver"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gqlsubmock", flag.ContinueOnError)
	var (
		host      string
		port      int
		path      string
		fixtures  string
		logLevel  string
		logFormat string
		version   bool
	)
	fs.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	fs.IntVar(&port, "port", 4280, "Port to listen on")
	fs.StringVar(&path, "path", "/subscriptions", "WebSocket endpoint path")
	fs.StringVar(&fixtures, "fixtures", "", "Fixture file with scripted subscription events (YAML)")
	fs.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	fs.BoolVar(&version, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: gqlsubmock -fixtures FILE [flags]

Serve scripted GraphQL subscription events over the legacy graphql-ws
WebSocket sub-protocol.

Flags:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if version {
		fmt.Printf("gqlsubmock %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return nil
	}

	if fixtures == "" {
		fs.Usage()
		return fmt.Errorf("missing required -fixtures flag")
	}

	config, err := mockserver.LoadConfig(fixtures)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
		Output: os.Stderr,
	})

	srv := mockserver.New(config, log)
	mux := http.NewServeMux()
	mux.Handle(path, srv)

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving subscription fixtures", "addr", addr, "path", path, "fixtures", fixtures)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	srv.CloseAll("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
