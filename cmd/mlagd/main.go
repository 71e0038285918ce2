// mlagd is the MLAG control-plane daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"log/slog"

	"github.com/open-ethernet/MLAG-sub002/internal/config"
	"github.com/open-ethernet/MLAG-sub002/internal/counters"
	"github.com/open-ethernet/MLAG-sub002/internal/manager"
	"github.com/open-ethernet/MLAG-sub002/internal/registry"
	"github.com/open-ethernet/MLAG-sub002/internal/transport"
	appversion "github.com/open-ethernet/MLAG-sub002/internal/version"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// shutdownTimeout bounds how long the HTTP servers get to drain.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("mlagd"))
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("mlagd starting",
		slog.String("version", appversion.Version),
		slog.Bool("metrics_enabled", cfg.Metrics.Enabled),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := counters.NewCollector(reg)

	core, t, err := buildCore(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to build manager core", slog.String("error", err.Error()))
		return 1
	}

	if err := runDaemon(cfg, core, t, reg, logger); err != nil {
		logger.Error("mlagd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("mlagd stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// buildCore wires the peer/IPL registries, the manager core, and (if any
// peers are configured) the peer transport, from a loaded config.
func buildCore(cfg *config.Config, logger *slog.Logger, collector *counters.Collector) (*manager.Core, *transport.Transport, error) {
	localIP, err := netip.ParseAddr(cfg.LocalIP)
	if err != nil {
		return nil, nil, fmt.Errorf("parse local_ip: %w", err)
	}

	var localSystemID uint64
	if cfg.LocalSystemID != "" {
		localSystemID, err = strconv.ParseUint(cfg.LocalSystemID, 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parse local_system_id: %w", err)
		}
	}

	peers := registry.NewPeers()
	ipls := registry.NewIPLs()

	type iplBootstrap struct {
		portID     int
		local, peer netip.Addr
		vlanID     int
	}
	var iplsToCreate []iplBootstrap
	for _, ipl := range cfg.IPLs {
		local, perr := netip.ParseAddr(ipl.LocalIP)
		if perr != nil {
			return nil, nil, fmt.Errorf("parse ipl local_ip: %w", perr)
		}
		peer, perr := netip.ParseAddr(ipl.PeerIP)
		if perr != nil {
			return nil, nil, fmt.Errorf("parse ipl peer_ip: %w", perr)
		}
		iplsToCreate = append(iplsToCreate, iplBootstrap{portID: ipl.PortID, local: local, peer: peer, vlanID: ipl.VLANID})
	}

	var peerIP netip.Addr
	for i, p := range cfg.Peers {
		ip, perr := netip.ParseAddr(p.PeerIP)
		if perr != nil {
			return nil, nil, fmt.Errorf("parse peer ip: %w", perr)
		}
		idx, err := peers.Add(ip)
		if err != nil {
			return nil, nil, fmt.Errorf("add peer: %w", err)
		}
		if p.SystemID != "" {
			systemID, serr := strconv.ParseUint(p.SystemID, 0, 64)
			if serr != nil {
				return nil, nil, fmt.Errorf("parse peers[%d].system_id: %w", i, serr)
			}
			if err := peers.SetSystemID(idx, systemID); err != nil {
				return nil, nil, fmt.Errorf("set peer system_id: %w", err)
			}
		}
		peerIP = ip
	}

	mcfg := manager.Config{
		LocalIP:       localIP,
		LocalSystemID: localSystemID,
		ReloadDelay:   cfg.ReloadDelay(),
		Reconnect:   cfg.ReconnectInterval(),
		TCPPort:     cfg.Transport.TCPPort,
		IGMPEnabled: cfg.IGMPEnabled,
		LACPEnabled: cfg.LACPEnabled,
	}

	core := manager.New(mcfg, logger, peers, ipls, collector, nil)

	// IPLs are provisioned through the same ipl_set(CREATE) event the
	// dispatcher handles at runtime (spec.md §4.2), not by touching the
	// registry directly: config-time provisioning and a future runtime
	// IPL add both go through Core.CreateIPL. Events queue on Core's
	// buffered channel and are processed once Run starts the dispatcher.
	for _, b := range iplsToCreate {
		core.CreateIPL(b.portID, b.local, b.peer, b.vlanID)
	}

	var tr *transport.Transport
	if peerIP.IsValid() {
		role := transport.RoleMaster
		if less(localIP, peerIP) {
			role = transport.RoleSlave
		}
		tr = transport.New(role, cfg.Transport.TCPPort, cfg.ReconnectInterval(), &collector.Transport, logger)
	}

	return core, tr, nil
}

func less(a, b netip.Addr) bool {
	ab, bb := a.As4(), b.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

func runDaemon(cfg *config.Config, core *manager.Core, t *transport.Transport, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return core.Run(gctx, t)
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(cfg.Metrics.Addr, reg)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
			return listenAndServe(gctx, metricsSrv, cfg.Metrics.Addr)
		})
	}

	g.Go(func() error {
		return runWatchdog(gctx, logger)
	})

	core.Post(wire.SystemEvent{Kind: wire.EventStart})
	notifyReady(logger)

	g.Go(func() error {
		<-gctx.Done()
		return gracefulShutdown(core, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func gracefulShutdown(core *manager.Core, logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), shutdownTimeout)
	defer cancel()

	if !core.Stop(shutdownCtx) {
		logger.Warn("stop barrier timed out, shutting down anyway")
	}

	var errs []error
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
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

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}
