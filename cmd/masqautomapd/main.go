// Command masqautomapd is the daemon entrypoint: it parses configuration,
// wires every subsystem's logger to a single rotating backend, brings up
// a NAT port mapping and its housekeeping loop, and exposes prometheus
// metrics (automap's and, pre-registered, the payment adjuster's) over
// HTTP. The adjuster itself is a library call driven by the out-of-scope
// accountant caller, not this daemon loop.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/masqproject/masq-automap/automap"
	"github.com/masqproject/masq-automap/automap/housekeeping"
	automapmetrics "github.com/masqproject/masq-automap/automap/metrics"
	"github.com/masqproject/masq-automap/automap/pcp"
	"github.com/masqproject/masq-automap/automap/pmp"
	"github.com/masqproject/masq-automap/automap/upnp"
	"github.com/masqproject/masq-automap/config"
	"github.com/masqproject/masq-automap/masqlog"
	"github.com/masqproject/masq-automap/paymentadjuster/assembler"
	adjustermetrics "github.com/masqproject/masq-automap/paymentadjuster/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "masqautomapd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		level = slog.LevelInfo
	}
	var logPath string
	if cfg.LogDir != "" {
		logPath = filepath.Join(cfg.LogDir, "masqautomapd.log")
	}
	backend, err := masqlog.NewBackend(logPath, 3, level)
	if err != nil {
		return err
	}
	defer backend.Close()

	backend.Wire(map[string]masqlog.Registerer{
		masqlog.SubsystemPCP:         pcpLogger{},
		masqlog.SubsystemPMP:         pmpLogger{},
		masqlog.SubsystemUPnP:        upnpLogger{},
		masqlog.SubsystemHousekeeping: housekeepingLogger{},
		masqlog.SubsystemAdjuster:    assemblerLogger{},
	})
	log := backend.Logger(masqlog.SubsystemAutomap)

	reg := prometheus.NewRegistry()
	autoMetrics := automapmetrics.NewCollector(reg)
	// Registered up front so the adjuster's counters are visible on
	// /metrics from process start, even though the out-of-scope accountant
	// caller (see accountantdb/blockchainbridge) owns actually invoking
	// paymentadjuster.New().WithMetrics(...).Adjust.
	_ = adjustermetrics.NewCollector(reg)

	transactor := pcp.NewTransactor().WithMetrics(autoMetrics)

	routers, err := transactor.FindRouters()
	if err != nil {
		log.Errorf("could not find a default gateway: %v", err)
		return err
	}
	router := routers[0]

	halfLifetime, err := transactor.AddMapping(router, cfg.Mapping.HolePort, uint32(cfg.Mapping.NextLifetime.Seconds()))
	if err != nil {
		log.Errorf("initial mapping failed: %v", err)
		return err
	}
	log.Infof("mapped port %d through %s, remap in %d seconds", cfg.Mapping.HolePort, router, halfLifetime)

	changeHandler := func(change automap.AutomapChange) {
		switch change.Kind {
		case automap.ChangeNewIP:
			log.Infof("public IP is now %s", change.NewIP)
		case automap.ChangeError:
			log.Errorf("housekeeping error: %v", change.Err)
		}
	}

	cmdCh, err := transactor.StartHousekeepingThread(changeHandler, router)
	if err != nil {
		log.Errorf("could not start housekeeping: %v", err)
		return err
	}
	if cfg.Housekeeper.RemapIntervalMs > 0 {
		ms := cfg.Housekeeper.RemapIntervalMs
		cmdCh <- automap.HousekeepingCommand{SetRemapIntervalMs: &ms}
	}

	metricsSrv := &http.Server{Addr: ":9150", Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof("shutting down")
	transactor.StopHousekeepingThread()
	metricsSrv.Close()
	return nil
}

// The per-package UseLogger hooks aren't interchangeable (each package
// owns its own unexported log var), so a tiny adapter per package
// satisfies masqlog.Registerer for backend.Wire.
type pcpLogger struct{}

func (pcpLogger) UseLogger(l slog.Logger) { pcp.UseLogger(l) }

type pmpLogger struct{}

func (pmpLogger) UseLogger(l slog.Logger) { pmp.UseLogger(l) }

type upnpLogger struct{}

func (upnpLogger) UseLogger(l slog.Logger) { upnp.UseLogger(l) }

type housekeepingLogger struct{}

func (housekeepingLogger) UseLogger(l slog.Logger) { housekeeping.UseLogger(l) }

type assemblerLogger struct{}

func (assemblerLogger) UseLogger(l slog.Logger) { assembler.UseLogger(l) }
