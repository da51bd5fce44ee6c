package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/throw-if-null/vibe/internal/journal"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/paths"
	"github.com/throw-if-null/vibe/internal/server"
	"github.com/throw-if-null/vibe/internal/settings"
	"github.com/throw-if-null/vibe/internal/state"
	"github.com/throw-if-null/vibe/internal/telemetry"
	"github.com/throw-if-null/vibe/internal/version"
)

// replaced in tests
var telemetryInit = telemetry.Init

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		logging.Default().Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		rootDir string
		host    string
		port    int
	)
	cmd := &cobra.Command{
		Use:           "vibe-server",
		Short:         "Serve the vibe HTTP endpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := rootDir
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = paths.ProjectRoot(wd)
			}
			s, err := settings.Load(root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				if port < 0 || port > 65535 {
					return fmt.Errorf("port out of range: %d", port)
				}
				s.Port = port
			}
			log := logging.New(stdout, stderr, s.Level())

			handler, shutdown, err := setup(cmd.Context(), root, s, log)
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Infof("%s %s (%s) listening on http://%s", s.AppName, version.Version, version.Commit, ln.Addr())
			return serve(cmd.Context(), ln, handler, log)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	// -h stays with help
	cmd.Flags().StringVar(&host, "host", "", "Interface to bind (default from HOST, else 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from PORT, else 8000)")
	cmd.Flags().StringVar(&rootDir, "root", "", "Project root whose .vibe state and history are served")
	return cmd
}

// setup builds the HTTP handler and everything behind it. The returned
// shutdown closes the journal and flushes traces.
func setup(ctx context.Context, root string, s settings.Settings, log *logging.Logger) (http.Handler, func(context.Context) error, error) {
	traceShutdown, err := telemetryInit(ctx, telemetry.Config{
		ServiceName:    s.AppName,
		ServiceVersion: version.Version,
		Environment:    s.Environment,
		OTLPEndpoint:   s.OTLPEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry init: %w", err)
	}

	var runs server.RunStore
	j, err := journal.Open(paths.JournalPath(root))
	if err != nil {
		log.Warnf("Run history unavailable: %v", err)
	} else {
		runs = j
	}

	srv := server.NewServer(runs, state.New(paths.StatePath(root), log), log)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if j != nil {
			errs = append(errs, j.Close())
		}
		errs = append(errs, traceShutdown(ctx))
		return errors.Join(errs...)
	}
	return srv.Handler(), shutdown, nil
}

// serve runs the HTTP server on ln until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, ln net.Listener, h http.Handler, log *logging.Logger) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
