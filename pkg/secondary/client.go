// Package secondary implements the southbound client: sequence-numbered
// request/response exchanges with the remote co-processor over a
// cpctransport.Capability, and the one-time initialization sequence that
// produces the bridge's GpioChip (§4.2).
package secondary

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/cpctransport"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/exitsignal"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

// requestTimeout is ENDPOINT_RX_TIMEOUT_MS (§4.2): the end-to-end budget a
// single operation has to see its matching reply.
const requestTimeout = 2000 * time.Millisecond

// replyQueueDepth bounds the in-process reply queue the background reader
// feeds. The transmit window is 1, so one slot would do; a few more absorb
// stale replies (such as a late reply to a timed-out request) without
// blocking the reader.
const replyQueueDepth = 4

// GpioChip is the immutable chip identity produced by Initialize, held for
// the lifetime of the bridge process (§3).
type GpioChip struct {
	UniqueID uint64
	Label    string
	PinNames []string
}

// Client is the southbound request/response engine. At most one request is
// outstanding at a time: mu serializes "increment seq, send, wait for
// matching reply" into one critical section per §5.
type Client struct {
	transport cpctransport.Capability
	log       *logrus.Entry
	exit      *exitsignal.Pipe

	mu  sync.Mutex
	seq uint8

	replies chan wire.RawFrame
}

// NewClient wraps an already-dialed transport and starts the background
// reader. The transport is assumed open; construction-time retry/deadline
// handling lives in cpctransport.Dial.
func NewClient(transport cpctransport.Capability, log *logrus.Entry) *Client {
	c := &Client{
		transport: transport,
		log:       log,
		exit:      exitsignal.New(),
		replies:   make(chan wire.RawFrame, replyQueueDepth),
	}
	go c.readLoop()
	return c
}

// ExitPipe is the readiness source the router observes for a dead
// southbound link (§4.5, §9).
func (c *Client) ExitPipe() *exitsignal.Pipe {
	return c.exit
}

// readLoop continuously drains the transport, splits concatenated frames,
// and either queues an expected reply or drops+logs an UnsupportedCmdIs or
// unrecognized frame. A transport read error notifies the exit pipe and the
// loop terminates (§4.2, §9).
func (c *Client) readLoop() {
	for {
		buf, err := c.transport.Read()
		if err != nil {
			c.exit.Notify(newTransportFailure(err))
			return
		}
		if len(buf) == 0 {
			continue
		}

		frames, err := wire.Split(buf)
		if err != nil {
			c.log.WithError(err).Warn("southbound: dropping unparseable read, buffer desynchronized")
			continue
		}

		for _, f := range frames {
			switch wire.SecondaryCommand(f.Cmd) {
			case wire.CmdUnsupportedCmdIs:
				reply, err := wire.ParseUnsupportedCmdIs(f.Payload)
				if err != nil {
					c.log.WithError(err).Warn("southbound: malformed UnsupportedCmdIs")
					continue
				}
				c.log.WithField("origCmd", reply.OrigCmd).Warn("secondary reported unsupported command")

			case wire.CmdVersionIs, wire.CmdStatusIs, wire.CmdUniqueIdIs, wire.CmdChipLabelIs,
				wire.CmdGpioCountIs, wire.CmdGpioNameIs, wire.CmdGpioValueIs:
				select {
				case c.replies <- f:
				case <-c.exit.C():
					return
				}

			default:
				c.log.WithField("cmd", f.Cmd).Warn("secondary sent an unrecognized command")
			}
		}
	}
}

func (c *Client) nextSeq() uint8 {
	c.seq++
	return c.seq
}

// waitUnsequenced waits for the sole reply GetVersion ever produces. No
// sequence number exists yet to match against.
func (c *Client) waitUnsequenced() (wire.RawFrame, error) {
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case f := <-c.replies:
		return f, nil
	case <-timer.C:
		return wire.RawFrame{}, newTimeout()
	case <-c.exit.C():
		return wire.RawFrame{}, newTransportFailure(c.exit.Err())
	}
}

// waitSequenced blocks for the reply matching seq, discarding (and logging)
// any reply that doesn't match, all within the same requestTimeout budget
// (§3 SequenceCounter, §4.2, §8 "Sequencing").
func (c *Client) waitSequenced(seq uint8) (wire.RawFrame, error) {
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	for {
		select {
		case f := <-c.replies:
			if len(f.Payload) == 0 {
				c.log.WithField("cmd", f.Cmd).Warn("southbound: dropping reply with empty payload")
				continue
			}
			if got := f.Payload[0]; got != seq {
				c.log.WithFields(logrus.Fields{"want": seq, "got": got, "cmd": f.Cmd}).
					Debug("southbound: discarding reply with mismatched sequence")
				continue
			}
			return f, nil
		case <-timer.C:
			return wire.RawFrame{}, newTimeout()
		case <-c.exit.C():
			return wire.RawFrame{}, newTransportFailure(c.exit.Err())
		}
	}
}

// sequencedRoundTrip owns the exclusive critical section for one sequenced
// request: pre-increment seq, build the frame, write, wait for the matching
// reply.
func (c *Client) sequencedRoundTrip(build func(seq uint8) []byte) (wire.RawFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.nextSeq()
	if err := c.transport.Write(build(seq)); err != nil {
		return wire.RawFrame{}, newTransportFailure(err)
	}
	return c.waitSequenced(seq)
}

// unexpectedReply flags a reply whose command does not fit the request as a
// deserialization failure.
func unexpectedReply(op string, cmd uint8) error {
	return newDeserialization(fmt.Errorf("%s: unexpected reply command %#x", op, cmd))
}

// GetVersion retrieves the secondary's southbound API version. Stateless
// and unsequenced (§4.1): it may be sent before a session exists.
func (c *Client) GetVersion() (version.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Write(wire.SerializeGetVersion()); err != nil {
		return version.Version{}, newTransportFailure(err)
	}
	f, err := c.waitUnsequenced()
	if err != nil {
		return version.Version{}, err
	}
	if wire.SecondaryCommand(f.Cmd) != wire.CmdVersionIs {
		return version.Version{}, unexpectedReply("get_version", f.Cmd)
	}
	reply, err := wire.ParseVersionIs(f.Payload)
	if err != nil {
		return version.Version{}, newDeserialization(err)
	}
	return reply.Version, nil
}

func (c *Client) GetUniqueId() (uint64, error) {
	f, err := c.sequencedRoundTrip(wire.SerializeGetUniqueId)
	if err != nil {
		return 0, err
	}
	switch wire.SecondaryCommand(f.Cmd) {
	case wire.CmdUniqueIdIs:
		reply, err := wire.ParseUniqueIdIs(f.Payload)
		if err != nil {
			return 0, newDeserialization(err)
		}
		return reply.UniqueId, nil
	case wire.CmdStatusIs:
		return 0, statusReplyError(f.Payload)
	default:
		return 0, unexpectedReply("get_unique_id", f.Cmd)
	}
}

func (c *Client) GetChipLabel() (string, error) {
	f, err := c.sequencedRoundTrip(wire.SerializeGetChipLabel)
	if err != nil {
		return "", err
	}
	switch wire.SecondaryCommand(f.Cmd) {
	case wire.CmdChipLabelIs:
		reply, err := wire.ParseChipLabelIs(f.Payload)
		if err != nil {
			return "", newDeserialization(err)
		}
		return reply.Label, nil
	case wire.CmdStatusIs:
		return "", statusReplyError(f.Payload)
	default:
		return "", unexpectedReply("get_chip_label", f.Cmd)
	}
}

func (c *Client) GetGpioCount() (uint8, error) {
	f, err := c.sequencedRoundTrip(wire.SerializeGetGpioCount)
	if err != nil {
		return 0, err
	}
	switch wire.SecondaryCommand(f.Cmd) {
	case wire.CmdGpioCountIs:
		reply, err := wire.ParseGpioCountIs(f.Payload)
		if err != nil {
			return 0, newDeserialization(err)
		}
		return reply.Count, nil
	case wire.CmdStatusIs:
		return 0, statusReplyError(f.Payload)
	default:
		return 0, unexpectedReply("get_gpio_count", f.Cmd)
	}
}

func (c *Client) GetGpioName(pin uint8) (string, error) {
	f, err := c.sequencedRoundTrip(func(seq uint8) []byte { return wire.SerializeGetGpioName(seq, pin) })
	if err != nil {
		return "", err
	}
	switch wire.SecondaryCommand(f.Cmd) {
	case wire.CmdGpioNameIs:
		reply, err := wire.ParseGpioNameIs(f.Payload)
		if err != nil {
			return "", newDeserialization(err)
		}
		return reply.Name, nil
	case wire.CmdStatusIs:
		return "", statusReplyError(f.Payload)
	default:
		return "", unexpectedReply("get_gpio_name", f.Cmd)
	}
}

func (c *Client) GetGpioValue(pin uint8) (wire.PinValue, error) {
	f, err := c.sequencedRoundTrip(func(seq uint8) []byte { return wire.SerializeGetGpioValue(seq, pin) })
	if err != nil {
		return wire.PinValueUnknown, err
	}
	switch wire.SecondaryCommand(f.Cmd) {
	case wire.CmdGpioValueIs:
		reply, err := wire.ParseGpioValueIs(f.Payload)
		if err != nil {
			return wire.PinValueUnknown, newDeserialization(err)
		}
		return reply.Value, nil
	case wire.CmdStatusIs:
		return wire.PinValueUnknown, statusReplyError(f.Payload)
	default:
		return wire.PinValueUnknown, unexpectedReply("get_gpio_value", f.Cmd)
	}
}

func (c *Client) SetGpioValue(pin uint8, v wire.PinValue) error {
	return c.setAndExpectStatus("set_gpio_value", func(seq uint8) []byte {
		return wire.SerializeSetGpioValue(seq, pin, v)
	})
}

func (c *Client) SetGpioConfig(pin uint8, cfg wire.PinConfig) error {
	return c.setAndExpectStatus("set_gpio_config", func(seq uint8) []byte {
		return wire.SerializeSetGpioConfig(seq, pin, cfg)
	})
}

func (c *Client) SetGpioDirection(pin uint8, d wire.PinDirection) error {
	return c.setAndExpectStatus("set_gpio_direction", func(seq uint8) []byte {
		return wire.SerializeSetGpioDirection(seq, pin, d)
	})
}

func (c *Client) setAndExpectStatus(op string, build func(seq uint8) []byte) error {
	f, err := c.sequencedRoundTrip(build)
	if err != nil {
		return err
	}
	if wire.SecondaryCommand(f.Cmd) != wire.CmdStatusIs {
		return unexpectedReply(op, f.Cmd)
	}
	return statusReplyError(f.Payload)
}

// statusReplyError parses a StatusIs payload and returns nil for StatusOk,
// a RecoverableError otherwise.
func statusReplyError(payload []byte) error {
	reply, err := wire.ParseStatusIs(payload)
	if err != nil {
		return newDeserialization(err)
	}
	if reply.Status == wire.StatusOk {
		return nil
	}
	return newStatusNotOk(reply.Status)
}

// Initialize runs the one-time startup sequence (§4.2) and returns the
// resulting GpioChip. Any failure here is unrecoverable: there is no chip
// identity yet to report through, so the bridge cannot continue running.
func Initialize(c *Client, southboundMajor uint8) (*GpioChip, error) {
	v, err := c.GetVersion()
	if err != nil {
		return nil, newInternalInvariant(fmt.Errorf("get_version: %w", err))
	}
	if !version.Compatible(v, version.Version{Major: southboundMajor}) {
		return nil, newInternalInvariant(fmt.Errorf("southbound version mismatch: secondary=%s bridge major=%d", v, southboundMajor))
	}

	uniqueID, err := c.GetUniqueId()
	if err != nil {
		return nil, newInternalInvariant(fmt.Errorf("get_unique_id: %w", err))
	}
	if uniqueID == 0 {
		return nil, newInternalInvariant(errors.New("secondary reported unique_id=0"))
	}

	label, err := c.GetChipLabel()
	if err != nil {
		return nil, newInternalInvariant(fmt.Errorf("get_chip_label: %w", err))
	}

	count, err := c.GetGpioCount()
	if err != nil {
		return nil, newInternalInvariant(fmt.Errorf("get_gpio_count: %w", err))
	}

	names := make([]string, 0, count)
	for pin := 0; pin < int(count); pin++ {
		name, err := c.GetGpioName(uint8(pin))
		if err != nil {
			return nil, newInternalInvariant(fmt.Errorf("get_gpio_name(%d): %w", pin, err))
		}
		names = append(names, name)
	}

	for pin := 0; pin < int(count); pin++ {
		if err := c.SetGpioDirection(uint8(pin), wire.DirectionDisabled); err != nil {
			return nil, newInternalInvariant(fmt.Errorf("set_gpio_direction(%d, disabled): %w", pin, err))
		}
	}

	return &GpioChip{UniqueID: uniqueID, Label: label, PinNames: names}, nil
}
