package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetharness/scheduler/internal/config"
	"github.com/fleetharness/scheduler/internal/device"
	"github.com/fleetharness/scheduler/internal/fakes"
	"github.com/fleetharness/scheduler/internal/remote"
	"github.com/fleetharness/scheduler/internal/scheduler"
	"github.com/fleetharness/scheduler/internal/watcher"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// set by LDFLAGS at release build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	var rt config.Runtime
	fs := pflag.NewFlagSet("schedulerd", pflag.ExitOnError)
	rt.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{}
	if rt.Verbose {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buildInfo := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "schedulerd_build_info",
		Help: "Build information of the scheduler daemon.",
	}, []string{"version", "commit"})
	buildInfo.WithLabelValues(version, commit).Set(1)

	go serveMetrics(rt.MetricsAddr)

	if err := run(ctx, rt); err != nil {
		slog.Error("schedulerd exited with error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to start prometheus metrics listener", "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("prometheus metrics server started", "address", listener.Addr().String())
	if err := http.Serve(listener, mux); err != nil {
		slog.Error("prometheus metrics server stopped", "error", err)
	}
}

// run wires the core (scheduler, remote manager, file watcher) against
// the external device/config/invocation adapters and runs until ctx is
// cancelled. The device manager, invocation runner, and config factory
// are explicitly out of scope for this module (spec's non-goals exclude
// a concrete device bridge); the fakes package stands in as the
// reference adapter until a real one is wired in its place.
func run(ctx context.Context, rt config.Runtime) error {
	deviceManager := fakes.NewDeviceManager()
	invocationRunner := &fakes.InvocationRunner{}
	configFactory := &fakes.ConfigFactory{}
	commandParser := &fakes.CommandFileParser{}

	util := device.NewUtilizationMonitor()

	sched := scheduler.New(scheduler.Options{
		DeviceManager:    deviceManager,
		InvocationRunner: invocationRunner,
		ConfigFactory:    configFactory,
		Utilization:      util,
	})

	for _, c := range sched.Collectors() {
		prometheus.MustRegister(c)
	}
	for _, c := range util.Collectors() {
		prometheus.MustRegister(c)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Shutdown()
		return sched.AwaitStopped(context.Background())
	})

	if err := sched.AwaitStarted(ctx); err != nil {
		return fmt.Errorf("schedulerd: scheduler failed to start: %w", err)
	}

	if rt.StartRemoteManagerOnBoot {
		mgr := remote.New(remote.Options{
			Addr:               fmt.Sprintf(":%d", rt.RemoteManagerPort),
			DeviceManager:      deviceManager,
			Scheduler:          sched,
			AcceptTimeout:      rt.SocketTimeout(),
			AutoHandover:       rt.AutoHandover,
			DescriptorCacheTTL: time.Second,
		})
		for _, c := range mgr.Collectors() {
			prometheus.MustRegister(c)
		}
		g.Go(func() error { return mgr.Serve(gctx) })
	}

	if len(rt.CommandFiles) > 0 {
		var files []watcher.CommandFile
		for _, p := range rt.CommandFiles {
			files = append(files, watcher.CommandFile{Path: p})
		}
		w := watcher.New(files, commandParser, sched, nil)
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}
