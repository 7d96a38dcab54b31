package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coadapt/coadapt/core"
)

var (
	telemetrySource string // "-" for stdin, "tcp://addr", or a file path
	controllerURL   string // controller sink base URL; empty = dry-run
	networkURL      string // network sink base URL; empty = dry-run
	statusAddr      string // status API listen address; empty = disabled
)

func init() {
	runCmd.Flags().StringVar(&telemetrySource, "telemetry", "-", "Telemetry JSON-lines source (- for stdin, tcp://addr to listen, or a file/FIFO path)")
	runCmd.Flags().StringVar(&controllerURL, "controller-url", "", "Controller sink base URL (empty = log-only dry run)")
	runCmd.Flags().StringVar(&networkURL, "network-url", "", "Network sink base URL (empty = log-only dry run)")
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Status API listen address, e.g. :5002 (empty = disabled)")
}

// runCmd drives the live control loop against a telemetry stream until
// interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the decision loop against a live telemetry stream",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		source, closeSource, err := openTelemetrySource(telemetrySource)
		if err != nil {
			logrus.Fatalf("Opening telemetry source: %v", err)
		}
		defer closeSource()

		loop, reader := buildCore(cfg, source)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return loop.Run(ctx) })
		g.Go(func() error {
			// EOF on the telemetry stream is not fatal: the loop keeps
			// ticking on carried-forward state until interrupted.
			if err := reader.Run(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Warn("telemetry reader stopped")
			}
			return nil
		})
		g.Go(func() error {
			ticker := time.NewTicker(cfg.MetricsInterval.Std())
			defer ticker.Stop()
			exportLog := logrus.WithField("component", "metrics")
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					loop.Metrics().Emit(exportLog)
				}
			}
		})
		if statusAddr != "" {
			srv := &http.Server{Addr: statusAddr, Handler: core.NewStatusRouter(loop)}
			g.Go(func() error {
				logrus.Infof("Status API listening on %s", statusAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		if err := g.Wait(); err != nil {
			logrus.Fatalf("Decision core failed: %v", err)
		}
		loop.Metrics().Emit(logrus.WithField("component", "metrics"))
		logrus.Info("Decision core stopped.")
	},
}

// buildCore wires the loop, bandit, dispatcher, and telemetry reader.
func buildCore(cfg *core.Config, source io.Reader) (*core.Loop, *core.TelemetryReader) {
	rng := core.NewPartitionedRNG(core.RunKey(seed))
	bandit := core.NewBanditPolicy(cfg.Bandit, core.DefaultActionCatalog(), rng.ForSubsystem(core.SubsystemBandit))

	var controller core.ControllerSink
	var network core.NetworkSink
	logSink := core.NewLogSink()
	controller = logSink
	network = logSink
	if controllerURL != "" {
		controller = core.NewHTTPControllerSink(controllerURL, cfg.Sinks.DispatchTimeout.Std())
	}
	if networkURL != "" {
		network = core.NewHTTPNetworkSink(networkURL, cfg.Sinks.DispatchTimeout.Std())
	}
	dispatcher := core.NewDispatcher(controller, network, cfg.Sinks.DispatchTimeout.Std())

	reports := make(chan core.TelemetryReport, 256)
	loop := core.NewLoop(cfg, bandit, dispatcher, reports)
	reader, err := core.NewTelemetryReader(source, reports, loop.Metrics())
	if err != nil {
		logrus.Fatalf("Building telemetry reader: %v", err)
	}
	return loop, reader
}

// openTelemetrySource resolves the --telemetry flag: "-" for stdin,
// "tcp://addr" to listen and accept a single stream, anything else a
// file or FIFO path.
func openTelemetrySource(source string) (io.Reader, func(), error) {
	if source == "-" {
		return os.Stdin, func() {}, nil
	}
	if addr, ok := strings.CutPrefix(source, "tcp://"); ok {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, nil, err
		}
		logrus.Infof("Waiting for telemetry connection on %s", addr)
		conn, err := ln.Accept()
		if err != nil {
			ln.Close()
			return nil, nil, err
		}
		return conn, func() { conn.Close(); ln.Close() }, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
