//go:build linux

package router

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/driver"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/exitsignal"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/genl"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/metrics"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/secondary"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

// pollInterval bounds how long the multicast readiness poller blocks
// between checking for the loop's own shutdown, since unix.Poll has no
// context-cancellation hook.
const pollInterval = 250 * time.Millisecond

// Loop is the router's event loop (§4.5): it owns no state of its own
// beyond the chip identity, dispatching every inbound driver request to
// the southbound client and translating the outcome back.
type Loop struct {
	client  *secondary.Client
	driver  *driver.Handle
	chip    *secondary.GpioChip
	log     *logrus.Entry
	metrics *metrics.Metrics // nil means "don't instrument"

	taskExit *exitsignal.Pipe
}

// New builds a Loop over an already-initialized southbound client and
// northbound driver handle sharing the same chip identity. m may be nil.
func New(client *secondary.Client, driverHandle *driver.Handle, chip *secondary.GpioChip, log *logrus.Entry, m *metrics.Metrics) *Loop {
	return &Loop{
		client:   client,
		driver:   driverHandle,
		chip:     chip,
		log:      log,
		metrics:  m,
		taskExit: exitsignal.New(),
	}
}

// Run blocks until a terminal event arrives, always attempting a final
// Deinit before returning (§4.5 "Shutdown discipline"). The returned error
// is nil, or an *exitsignal.Sentinel, exactly when the process should exit
// 0 (checked by the caller with errors.As).
func (l *Loop) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	ready, stopPoller := l.pollMulticast()
	defer stopPoller()

	for {
		select {
		case sig := <-sigCh:
			return l.shutdown(exitsignal.CleanExit(fmt.Sprintf("received signal %s", sig)))

		case <-ready:
			if exit := l.drainDriver(); exit != nil {
				return l.shutdown(exit)
			}

		case <-l.client.ExitPipe().C():
			return l.shutdown(fmt.Errorf("southbound link died: %w", l.client.ExitPipe().Err()))

		case <-l.driver.ExitPipe().C():
			return l.shutdown(fmt.Errorf("northbound link died: %w", l.driver.ExitPipe().Err()))

		case <-l.taskExit.C():
			return l.shutdown(l.taskExit.Err())
		}
	}
}

// pollMulticast watches the driver's non-blocking multicast fd with
// unix.Poll and signals ready whenever it has data, the way the original
// registers the fd with mio's epoll-backed Poll (router/mod.rs).
func (l *Loop) pollMulticast() (<-chan struct{}, func()) {
	ready := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		fds := []unix.PollFd{{Fd: int32(l.driver.FD()), Events: unix.POLLIN}}
		for {
			select {
			case <-done:
				return
			default:
			}
			n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
			if err != nil {
				if errors.Is(err, unix.EINTR) {
					continue
				}
				l.log.WithError(err).Warn("router: multicast poll failed")
				continue
			}
			if n > 0 {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ready, func() { close(done) }
}

// drainDriver reads and dispatches multicast packets until the socket
// would block. It returns non-nil only for a terminal condition (the
// kernel driver announcing unload, or a read error): ordinary per-request
// failures are translated into a reply and logged, never propagated here.
func (l *Loop) drainDriver() error {
	for {
		msg, err := l.driver.ReadMulticast()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			readErr := fmt.Errorf("northbound read failed: %w", err)
			l.driver.ExitPipe().Notify(readErr)
			return readErr
		}

		req, err := l.driver.Parse(msg)
		if err != nil {
			switch {
			case errors.Is(err, driver.Discard):
				l.log.Debug("router: discarded multicast packet addressed to another instance")
			case errors.Is(err, driver.ErrUnknownCommand):
				l.log.WithError(err).Warn("router: discarded multicast packet with unknown command")
			default:
				l.log.WithError(err).Warn("router: discarded malformed multicast packet")
			}
			continue
		}

		if exit, ok := req.(driver.Exit); ok {
			return exitsignal.CleanExit(fmt.Sprintf("kernel driver announced unload: %s", exit.Message))
		}

		l.dispatch(req)
	}
}

// dispatch calls the matching southbound operation for one inbound driver
// request and replies, stamping each with a short correlation id for log
// correlation across the southbound/northbound hop (GLOSSARY addendum
// "RequestLifecycle correlation id").
func (l *Loop) dispatch(req driver.Request) {
	rid := xid.New().String()
	log := l.log.WithField("rid", rid)

	switch r := req.(type) {
	case driver.GetGpioValue:
		l.observeNorthbound(genl.CmdGetGpioValue, metrics.Inbound)
		start := time.Now()
		value, err := l.client.GetGpioValue(uint8(r.Pin))
		l.observeSouthbound("get_gpio_value", start, err)
		verdict := Translate(err)
		if verdict.Escalate {
			l.taskExit.Notify(err)
			return
		}
		if !verdict.Reply {
			return
		}
		var valuePtr *uint32
		if err == nil {
			v := uint32(value)
			valuePtr = &v
		}
		status := verdict.Status
		if sendErr := l.driver.ReplyGetGpioValue(l.chip.UniqueID, r.Pin, valuePtr, &status); sendErr != nil {
			log.WithError(sendErr).Warn("router: failed to send GetGpioValue reply")
		}
		l.observeNorthbound(genl.CmdGetGpioValue, metrics.Outbound)
		log.WithFields(logrus.Fields{"pin": r.Pin, "status": status}).Debug("GetGpioValue")

	case driver.SetGpioValue:
		l.observeNorthbound(genl.CmdSetGpioValue, metrics.Inbound)
		start := time.Now()
		err := l.client.SetGpioValue(uint8(r.Pin), wire.PinValue(r.Value))
		l.observeSouthbound("set_gpio_value", start, err)
		l.replyStatusOnly(log, genl.CmdSetGpioValue, r.Pin, err, l.driver.ReplySetGpioValue)

	case driver.SetGpioConfig:
		l.observeNorthbound(genl.CmdSetGpioConfig, metrics.Inbound)
		start := time.Now()
		err := l.client.SetGpioConfig(uint8(r.Pin), wire.PinConfig(r.Config))
		l.observeSouthbound("set_gpio_config", start, err)
		l.replyStatusOnly(log, genl.CmdSetGpioConfig, r.Pin, err, l.driver.ReplySetGpioConfig)

	case driver.SetGpioDirection:
		l.observeNorthbound(genl.CmdSetGpioDirection, metrics.Inbound)
		start := time.Now()
		err := l.client.SetGpioDirection(uint8(r.Pin), wire.PinDirection(r.Direction))
		l.observeSouthbound("set_gpio_direction", start, err)
		l.replyStatusOnly(log, genl.CmdSetGpioDirection, r.Pin, err, l.driver.ReplySetGpioDirection)

	default:
		log.Warnf("router: no handler for request type %T", req)
	}
}

type statusReplyFunc func(uniqueID uint64, pin uint32, status *genl.Status) error

func (l *Loop) replyStatusOnly(log *logrus.Entry, cmd genl.Command, pin uint32, err error, reply statusReplyFunc) {
	verdict := Translate(err)
	if verdict.Escalate {
		l.taskExit.Notify(err)
		return
	}
	if !verdict.Reply {
		return
	}
	status := verdict.Status
	if sendErr := reply(l.chip.UniqueID, pin, &status); sendErr != nil {
		log.WithError(sendErr).Warnf("router: failed to send %s reply", cmd)
	}
	l.observeNorthbound(cmd, metrics.Outbound)
	log.WithFields(logrus.Fields{"pin": pin, "status": status}).Debugf("%s", cmd)
}

// observeSouthbound records one southbound operation's latency and, on
// failure, its error kind. m may be nil (metrics disabled).
func (l *Loop) observeSouthbound(op string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.ObserveSouthbound(op, time.Since(start), southboundErrorKind(err))
}

func (l *Loop) observeNorthbound(cmd genl.Command, dir metrics.Direction) {
	if l.metrics == nil {
		return
	}
	l.metrics.ObserveNorthbound(cmd, dir)
}

// southboundErrorKind extracts the RecoverableKind/UnrecoverableKind
// string from a southbound error, or "" for success.
func southboundErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var recoverable *secondary.RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.Kind.String()
	}
	var unrecoverable *secondary.UnrecoverableError
	if errors.As(err, &unrecoverable) {
		return unrecoverable.Kind.String()
	}
	return "unknown"
}

// shutdown always attempts a final Deinit before returning the exit
// context (§4.5). The Deinit outcome never suppresses the original cause.
func (l *Loop) shutdown(cause error) error {
	log := l.log.WithError(cause)
	if deinitErr := l.driver.Deinit(l.chip.UniqueID); deinitErr != nil {
		log = log.WithField("deinit_error", deinitErr.Error())
	}
	log.Info("router: shutting down")
	return cause
}
