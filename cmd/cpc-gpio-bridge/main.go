// Command cpc-gpio-bridge is the bridge daemon's process entrypoint: CLI
// flags, logging setup, lock-file acquisition, and the southbound/
// northbound wiring described in SPEC_FULL.md's AMBIENT STACK and DOMAIN
// STACK sections (§6 "External interfaces" for the CLI surface itself).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/cpctransport"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/driver"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/exitsignal"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/lockfile"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/metrics"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/router"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/secondary"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
)

// southboundAPIMajor is this bridge's southbound API major version,
// compared against the secondary's reported version during Initialize
// (§4.2, §3 "Version").
const southboundAPIMajor uint8 = 1

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 for every clean-exit sentinel path
// (--deinit, a kernel Exit command, a handled signal), non-zero otherwise
// (§6 "Exit codes").
func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := newLogger(cfg)
	logKernelVersion(log)

	lock, err := lockfile.Acquire(cfg.lockDir, cfg.instance)
	if err != nil {
		log.WithError(err).Error("failed to acquire instance lock")
		return 1
	}
	defer lock.Release()
	log.WithField("path", lock.Path()).Debug("acquired instance lock")

	cause := bridge(cfg, log)

	var sentinel *exitsignal.Sentinel
	if cause == nil || errors.As(cause, &sentinel) {
		if cause != nil {
			log.WithField("reason", sentinel.Reason).Info("exiting cleanly")
		}
		return 0
	}

	log.WithError(cause).Error("exiting with failure")
	return 1
}

// bridge runs the southbound handshake, the northbound handshake, and the
// router's event loop, returning its terminal error (nil or an
// *exitsignal.Sentinel mean a clean exit; see run's exit-code mapping).
func bridge(cfg *config, log *logrus.Entry) error {
	_, libcpcTrace, _ := traceLevel(cfg.trace) // already validated by parseFlags

	transport, closeTransport, err := dialTransport(cfg, libcpcTrace, log)
	if err != nil {
		return fmt.Errorf("southbound dial: %w", err)
	}
	defer closeTransport()

	southboundLog := log.WithField("component", "southbound")
	client := secondary.NewClient(transport, southboundLog)

	chip, err := secondary.Initialize(client, southboundAPIMajor)
	if err != nil {
		return fmt.Errorf("southbound initialize: %w", err)
	}
	southboundLog.WithFields(logrus.Fields{
		"unique_id": chip.UniqueID,
		"label":     chip.Label,
		"gpios":     len(chip.PinNames),
	}).Info("southbound handshake complete")

	driverLog := log.WithField("component", "driver")
	driverHandle, err := driver.Open(cfg.deinit, chip.UniqueID, chip.Label, chip.PinNames, driverLog)
	if err != nil {
		return err
	}
	defer driverHandle.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, prometheus.Labels{"instance": cfg.instance, "chip_label": chip.Label})
	if selfHealth, err := metrics.NewSelfHealthCollector(func(err error) {
		log.WithError(err).Warn("self-health scrape failed")
	}); err != nil {
		log.WithError(err).Warn("self-health collector unavailable")
	} else {
		reg.MustRegister(selfHealth)
	}

	if _, stopMetrics, err := serveMetrics(cfg.metricsAddr, reg, log); err != nil {
		log.WithError(err).Warn("metrics listener unavailable, continuing without it")
	} else {
		defer stopMetrics()
	}

	routerLog := log.WithField("component", "router")
	return router.New(client, driverHandle, chip, routerLog, m).Run()
}

// dialTransport opens the southbound capability. No CPC client Library is
// wired into this repository (the CPC client library is an out-of-scope
// external collaborator, §1/§6), so it always returns the in-process mock,
// chosen once at construction per §9 "Inline mock vs real transport".
func dialTransport(cfg *config, libcpcTrace bool, log *logrus.Entry) (cpctransport.Capability, func(), error) {
	_ = libcpcTrace // forwarded to a real Library's trace argument once one is wired in

	mockUniqueID := uint64(1)
	mock := cpctransport.NewMock(cfg.instance, mockUniqueID, version.Version{Major: southboundAPIMajor})
	log.WithField("instance", cfg.instance).Warn("no CPC client library wired in; using the in-process mock secondary")
	return mock, func() { _ = mock.Close() }, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Entry) (*metrics.Server, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := metrics.NewServer(addr, reg)
	go func() {
		if err := srv.Serve(ln); err != nil {
			log.WithError(err).Warn("metrics server exited")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving /metrics")
	return srv, func() { _ = srv.Shutdown(context.Background()) }, nil
}

func newLogger(cfg *config) *logrus.Entry {
	level, _, _ := traceLevel(cfg.trace) // already validated by parseFlags
	base := logrus.New()
	base.SetLevel(level)
	return base.WithField("instance", cfg.instance)
}

// logKernelVersion logs the host kernel version for support/bug-report
// purposes (DOMAIN STACK: generic-netlink multicast semantics used here
// were standardized in specific kernel ranges). Unlike the teacher's
// pkg/linux/init.go, a failed probe here only degrades logging, since this
// bridge's true fatal-at-construction condition is a southbound/northbound
// version mismatch (§7), not a kernel-version-gated struct layout.
func logKernelVersion(log *logrus.Entry) {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		log.WithError(err).Warn("unable to determine host kernel version")
		return
	}
	log.WithField("kernel_version", v.String()).Info("starting cpc-gpio-bridge")
}
