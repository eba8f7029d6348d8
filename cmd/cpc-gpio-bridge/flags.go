package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// config holds the parsed CLI surface (§6). Only flags; no config file, no
// hot reload.
type config struct {
	trace       string
	instance    string
	lockDir     string
	deinit      bool
	metricsAddr string
}

func parseFlags(args []string) (*config, error) {
	fs := pflag.NewFlagSet("cpc-gpio-bridge", pflag.ContinueOnError)

	cfg := &config{}
	fs.StringVar(&cfg.trace, "trace", "none", "trace level: none|bridge|libcpc|all")
	fs.StringVar(&cfg.instance, "instance", "cpcd_0", "CPC instance name, passed to the CPC library for endpoint selection")
	fs.StringVar(&cfg.lockDir, "lock-dir", "/tmp", "directory holding the per-instance lock file")
	fs.BoolVar(&cfg.deinit, "deinit", false, "perform the handshake, issue a Deinit against the kernel driver, and exit")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9123", "address the internal Prometheus /metrics listener binds to")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if _, _, err := traceLevel(cfg.trace); err != nil {
		return nil, err
	}

	return cfg, nil
}

// traceLevel maps --trace to a logrus level plus the CPC library's own
// verbose-tracing flag (AMBIENT STACK: "none→Info, bridge→Debug, all→Trace
// (and also toggles verbose tracing inside the CPC capability's real
// implementation via its own trace flag argument)"). "libcpc" enables only
// the library-side tracing, leaving the bridge's own logging at Info.
func traceLevel(trace string) (level logrus.Level, libcpcTrace bool, err error) {
	switch trace {
	case "none":
		return logrus.InfoLevel, false, nil
	case "bridge":
		return logrus.DebugLevel, false, nil
	case "libcpc":
		return logrus.InfoLevel, true, nil
	case "all":
		return logrus.TraceLevel, true, nil
	default:
		return 0, false, fmt.Errorf("--trace: unrecognized level %q (want none, bridge, libcpc, or all)", trace)
	}
}
