// Command repld is the peer-to-peer drone-sighting replication daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/repld/internal/config"
	"github.com/dantte-lp/repld/internal/plotstore"
	"github.com/dantte-lp/repld/internal/queue"
	"github.com/dantte-lp/repld/internal/replicator"
	"github.com/dantte-lp/repld/internal/replmetrics"
	appversion "github.com/dantte-lp/repld/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "repld",
		Short: "Peer-to-peer drone-sighting replication daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		nodeID     uint32
		listen     string
		peersPath  string
		keyPath    string
		offset     int64
		timeMult   float64
		verbosity  int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replication daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlagOverrides(cfg, cmd, nodeID, listen, peersPath, keyPath, offset, timeMult, verbosity, metricsAddr)

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(config.ParseLogLevel(cfg.Verbosity))
			logger.Info("repld starting",
				slog.String("version", appversion.Version),
				slog.Uint64("node_id", uint64(cfg.NodeID)),
				slog.String("listen", cfg.Listen),
				slog.String("metrics_addr", cfg.MetricsAddr),
			)

			return runDaemon(cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	flags.Uint32Var(&nodeID, "node-id", 0, "this node's identity")
	flags.StringVar(&listen, "listen", "", "inbound listen address (ip:port)")
	flags.StringVar(&peersPath, "peers", "", "path to the peers file (YAML)")
	flags.StringVar(&keyPath, "key", "", "path to the shared symmetric key file")
	flags.Int64Var(&offset, "offset", 0, "adjusted-clock offset, in seconds")
	flags.Float64Var(&timeMult, "time-mult", 0, "adjusted-clock multiplier")
	flags.IntVar(&verbosity, "verbosity", -1, "log verbosity: 0=warn, 1=info, 2+=debug")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (ip:port)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.DefaultConfig(), nil
}

// applyFlagOverrides layers explicitly-set flags over the file/env/default
// configuration: flags win over file and environment.
func applyFlagOverrides(
	cfg *config.Config,
	cmd *cobra.Command,
	nodeID uint32,
	listen, peersPath, keyPath string,
	offset int64,
	timeMult float64,
	verbosity int,
	metricsAddr string,
) {
	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.NodeID = nodeID
	}
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("peers") {
		cfg.PeersFile = peersPath
	}
	if flags.Changed("key") {
		cfg.KeyFile = keyPath
	}
	if flags.Changed("offset") {
		cfg.OffsetSeconds = offset
	}
	if flags.Changed("time-mult") {
		cfg.TimeMult = timeMult
	}
	if flags.Changed("verbosity") {
		cfg.Verbosity = verbosity
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
}

func runDaemon(cfg *config.Config, logger *slog.Logger) error {
	key, err := config.LoadKey(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	peerEntries, err := config.LoadPeers(cfg.PeersFile)
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}
	peers := make([]queue.Peer, 0, len(peerEntries))
	for _, p := range peerEntries {
		peers = append(peers, queue.Peer{ID: p.NodeID, Addr: p.Addr})
	}

	reg := prometheus.NewRegistry()
	collector := replmetrics.NewCollector(reg)

	qm := queue.NewManager(cfg.NodeID, key, peers, logger)
	if err := qm.Bind(cfg.Listen); err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Listen, err)
	}
	defer qm.Close()

	store := plotstore.New()

	rep := replicator.New(store, qm, logger,
		replicator.WithMetrics(collector),
		replicator.WithTimeMult(timeMultOrDefault(cfg.TimeMult)),
		replicator.WithOffset(cfg.OffsetSeconds),
	)

	metricsSrv := newMetricsServer(cfg.MetricsAddr, reg)

	ctx, stop := signalNotifyContext()
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
		return listenAndServe(gCtx, metricsSrv, cfg.MetricsAddr)
	})

	g.Go(func() error {
		return rep.Run(gCtx)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(rep, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}

	logger.Info("repld stopped")
	return nil
}

func timeMultOrDefault(mult float64) float64 {
	if mult <= 0 {
		return 1.0
	}
	return mult
}

func signalNotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func gracefulShutdown(rep *replicator.Replicator, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	rep.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
