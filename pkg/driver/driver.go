//go:build linux

// Package driver implements the northbound driver handle (§4.4): the
// generic-netlink unicast/multicast socket pair the bridge uses to talk to
// the in-kernel GPIO chip driver, its Deinit-first handshake, and the
// typed inbound request/outbound reply shapes the router translates
// southbound requests through.
package driver

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/exitsignal"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/genl"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
)

// APIVersion is this bridge's northbound API major version, compared
// against the kernel driver's reported version during Deinit (§4.4).
var APIVersion = version.Version{Major: 1, Minor: 0, Patch: 0}

const multicastAllUID = 0

// Request is the sum type of inbound multicast packets a Handle can
// dispatch, after the UniqueId filter and command decode (§4.4).
type Request interface {
	isRequest()
}

type Exit struct{ Message string }

type GetGpioValue struct{ Pin uint32 }

type SetGpioValue struct {
	Pin   uint32
	Value genl.PinValue
}

type SetGpioConfig struct {
	Pin    uint32
	Config genl.PinConfig
}

type SetGpioDirection struct {
	Pin       uint32
	Direction genl.PinDirection
}

func (Exit) isRequest()             {}
func (GetGpioValue) isRequest()     {}
func (SetGpioValue) isRequest()     {}
func (SetGpioConfig) isRequest()    {}
func (SetGpioDirection) isRequest() {}

// Discard is returned by Parse for packets that fail the UniqueId filter
// (owned by another bridge instance); the router silently drops these.
var Discard = errors.New("driver: packet addressed to another instance")

// ErrUnknownCommand marks a broadcast or unicast frame whose command this
// bridge doesn't recognize (§4.4 "treated as unknown").
var ErrUnknownCommand = errors.New("driver: unknown command")

// Handle owns the unicast and multicast netlink sockets for one kernel GPIO
// chip driver instance.
type Handle struct {
	unicast   *genl.Socket
	multicast *genl.Socket
	familyID  uint16
	uniqueID  uint64
	log       *logrus.Entry
	exit      *exitsignal.Pipe
}

// Open resolves the family, opens both sockets, and runs the Deinit
// handshake. If deinitAndExit is set, Open returns an *exitsignal.Sentinel
// as its error after Deinit succeeds and never sends Init (§4.4). The
// caller is expected to treat that as a clean shutdown, not a failure.
func Open(deinitAndExit bool, uniqueID uint64, chipLabel string, pinNames []string, log *logrus.Entry) (*Handle, error) {
	unicast, err := genl.OpenUnicast()
	if err != nil {
		return nil, fmt.Errorf("driver: open unicast socket: %w", err)
	}

	familyID, groupID, err := unicast.ResolveFamily(genl.FamilyName, genl.MulticastGroupName)
	if err != nil {
		_ = unicast.Close()
		return nil, fmt.Errorf("driver: resolve family %q: is the kernel driver loaded? %w", genl.FamilyName, err)
	}

	multicast, err := genl.OpenMulticast(groupID)
	if err != nil {
		_ = unicast.Close()
		return nil, fmt.Errorf("driver: open multicast socket (group %d): %w", groupID, err)
	}

	h := &Handle{
		unicast:   unicast,
		multicast: multicast,
		familyID:  familyID,
		uniqueID:  uniqueID,
		log:       log,
		exit:      exitsignal.New(),
	}

	if err := h.deinit(uniqueID); err != nil {
		_ = h.Close()
		return nil, err
	}

	if deinitAndExit {
		_ = h.Close()
		return nil, exitsignal.CleanExit(fmt.Sprintf("deinitialized kernel driver (uid %d)", uniqueID))
	}

	if err := h.init(uniqueID, chipLabel, pinNames); err != nil {
		_ = h.Close()
		return nil, err
	}

	return h, nil
}

// ExitPipe fires when the multicast read loop observes a transport error,
// mirroring the southbound client's link-death notification (§5).
func (h *Handle) ExitPipe() *exitsignal.Pipe {
	return h.exit
}

// FD exposes the non-blocking multicast socket's descriptor for the
// router's poll loop (§4.4).
func (h *Handle) FD() int {
	return h.multicast.FD()
}

func (h *Handle) Close() error {
	err1 := h.unicast.Close()
	err2 := h.multicast.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (h *Handle) send(cmd genl.Command, attrs []genl.Attr) error {
	hdr := genl.Header{Type: h.familyID, Flags: genl.FlagRequest, Cmd: uint8(cmd), Version: genl.APIVersion}
	return h.unicast.Send(hdr, attrs)
}

func (h *Handle) recvUnicast() (genl.Message, error) {
	msg, raw, err := h.unicast.Recv()
	if err != nil {
		return genl.Message{}, fmt.Errorf("driver: read from kernel driver: %w", err)
	}
	if errno, isErr := genl.IsError(msg.Header, raw); isErr {
		return genl.Message{}, fmt.Errorf("driver: kernel driver returned NLMSG_ERROR: errno %d", -errno)
	}
	return msg, nil
}

// Deinit sends a final Deinit{UniqueId} to the kernel driver, the shutdown
// discipline every exit path runs before the process exits (§4.5). It
// reuses the handshake's own validation: a second Deinit is expected to
// succeed identically to the first.
func (h *Handle) Deinit(uniqueID uint64) error {
	return h.deinit(uniqueID)
}

// deinit sends Deinit{UniqueId} and validates the peer's genl API version
// and northbound major version against ours before anything else is sent
// (§4.4 handshake).
func (h *Handle) deinit(uniqueID uint64) error {
	if err := h.send(genl.CmdDeinit, []genl.Attr{genl.PutU64(genl.AttrUniqueId, uniqueID)}); err != nil {
		return fmt.Errorf("driver: send Deinit: %w", err)
	}

	msg, err := h.recvUnicast()
	if err != nil {
		return err
	}

	if msg.Header.Version != genl.APIVersion {
		return fmt.Errorf("driver: bridge generic-netlink API (v%d) != kernel driver API (v%d)", genl.APIVersion, msg.Header.Version)
	}

	peer := version.Version{}
	if peer.Major, err = genl.AttrU8(msg.Attrs, genl.AttrVersionMajor); err != nil {
		return fmt.Errorf("driver: Deinit reply: %w", err)
	}
	if peer.Minor, err = genl.AttrU8(msg.Attrs, genl.AttrVersionMinor); err != nil {
		return fmt.Errorf("driver: Deinit reply: %w", err)
	}
	if peer.Patch, err = genl.AttrU8(msg.Attrs, genl.AttrVersionPatch); err != nil {
		return fmt.Errorf("driver: Deinit reply: %w", err)
	}
	if !version.Compatible(APIVersion, peer) {
		return fmt.Errorf("driver: bridge API (v%s) is not compatible with kernel driver API (v%s)", APIVersion, peer)
	}

	status, err := genl.AttrU32(msg.Attrs, genl.AttrStatus)
	if err != nil {
		return fmt.Errorf("driver: Deinit reply: %w", err)
	}
	if status != 0 {
		return fmt.Errorf("driver: failed to deinitialize kernel driver: errno -%d", status)
	}

	h.log.WithFields(logrus.Fields{"unique_id": uniqueID, "kernel_driver_version": peer.String()}).Info("deinitialized kernel driver")
	return nil
}

// init sends Init{UniqueId,GpioCount,GpioNames,ChipLabel} after validating
// the two pre-Init invariants (§4.4).
func (h *Handle) init(uniqueID uint64, chipLabel string, pinNames []string) error {
	if uniqueID == 0 {
		return fmt.Errorf("driver: refusing to Init with unique_id 0")
	}
	if len(pinNames) == 0 {
		return fmt.Errorf("driver: refusing to Init with 0 gpios")
	}

	attrs := []genl.Attr{
		genl.PutU64(genl.AttrUniqueId, uniqueID),
		genl.PutU32(genl.AttrGpioCount, uint32(len(pinNames))),
		genl.PutStrings(genl.AttrGpioNames, pinNames),
		genl.PutString(genl.AttrChipLabel, chipLabel),
	}
	if err := h.send(genl.CmdInit, attrs); err != nil {
		return fmt.Errorf("driver: send Init: %w", err)
	}

	msg, err := h.recvUnicast()
	if err != nil {
		return err
	}

	status, err := genl.AttrU32(msg.Attrs, genl.AttrStatus)
	if err != nil {
		return fmt.Errorf("driver: Init reply: %w", err)
	}
	if status != 0 {
		return fmt.Errorf("driver: failed to initialize kernel driver (uid %d, label %q, %d gpios): errno -%d", uniqueID, chipLabel, len(pinNames), status)
	}

	h.log.WithFields(logrus.Fields{"unique_id": uniqueID, "label": chipLabel, "gpio_count": len(pinNames)}).Info("initialized kernel driver")
	return nil
}

// ReadMulticast performs one non-blocking read from the multicast socket.
// unix.EAGAIN (surfaced by genl.Socket.Recv as an error satisfying
// errors.Is(err, syscall.EAGAIN)) means the caller has drained the socket
// for this readiness notification; any other error is a transport failure,
// which the router also pushes onto ExitPipe.
func (h *Handle) ReadMulticast() (genl.Message, error) {
	msg, _, err := h.multicast.Recv()
	return msg, err
}

// Parse applies the §4.4 UniqueId filter and decodes the matching command
// into a typed Request. Returns Discard for frames owned by another
// instance, and an error wrapping ErrUnknownCommand for a recognized
// destination but unrecognized command.
func (h *Handle) Parse(msg genl.Message) (Request, error) {
	dest, err := genl.AttrU64(msg.Attrs, genl.AttrUniqueId)
	if err != nil {
		return nil, fmt.Errorf("driver: multicast packet: %w", err)
	}

	cmd := genl.Command(msg.Header.Cmd)

	switch {
	case dest == multicastAllUID:
		if cmd != genl.CmdExit {
			return nil, fmt.Errorf("%w: %s on broadcast", ErrUnknownCommand, cmd)
		}
		message, err := genl.AttrString(msg.Attrs, genl.AttrMessage)
		if err != nil {
			return nil, fmt.Errorf("driver: Exit packet: %w", err)
		}
		return Exit{Message: message}, nil

	case dest == h.uniqueID:
		pin, err := genl.AttrU32(msg.Attrs, genl.AttrGpioPin)
		if err != nil {
			return nil, fmt.Errorf("driver: %s packet: %w", cmd, err)
		}
		switch cmd {
		case genl.CmdGetGpioValue:
			return GetGpioValue{Pin: pin}, nil
		case genl.CmdSetGpioValue:
			v, err := genl.AttrU32(msg.Attrs, genl.AttrGpioValue)
			if err != nil {
				return nil, fmt.Errorf("driver: SetGpioValue packet: %w", err)
			}
			return SetGpioValue{Pin: pin, Value: genl.PinValue(v)}, nil
		case genl.CmdSetGpioConfig:
			c, err := genl.AttrU32(msg.Attrs, genl.AttrGpioConfig)
			if err != nil {
				return nil, fmt.Errorf("driver: SetGpioConfig packet: %w", err)
			}
			return SetGpioConfig{Pin: pin, Config: genl.PinConfig(c)}, nil
		case genl.CmdSetGpioDirection:
			d, err := genl.AttrU32(msg.Attrs, genl.AttrGpioDirection)
			if err != nil {
				return nil, fmt.Errorf("driver: SetGpioDirection packet: %w", err)
			}
			return SetGpioDirection{Pin: pin, Direction: genl.PinDirection(d)}, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
		}

	default:
		return nil, Discard
	}
}

// replyAttrs builds the common {UniqueId, GpioPin, Status} triple every
// reply builder shares.
func replyAttrs(uniqueID uint64, pin uint32, status genl.Status) []genl.Attr {
	return []genl.Attr{
		genl.PutU64(genl.AttrUniqueId, uniqueID),
		genl.PutU32(genl.AttrGpioPin, pin),
		genl.PutU32(genl.AttrStatus, uint32(status)),
	}
}

// ReplyGetGpioValue sends a GetGpioValue reply. status == nil absorbs the
// request without a reply (§4.4 "being absorbed without reply").
func (h *Handle) ReplyGetGpioValue(uniqueID uint64, pin uint32, value *uint32, status *genl.Status) error {
	if status == nil {
		return nil
	}
	attrs := replyAttrs(uniqueID, pin, *status)
	if value != nil {
		attrs = append(attrs, genl.PutU32(genl.AttrGpioValue, *value))
	}
	return h.send(genl.CmdGetGpioValue, attrs)
}

func (h *Handle) ReplySetGpioValue(uniqueID uint64, pin uint32, status *genl.Status) error {
	if status == nil {
		return nil
	}
	return h.send(genl.CmdSetGpioValue, replyAttrs(uniqueID, pin, *status))
}

func (h *Handle) ReplySetGpioConfig(uniqueID uint64, pin uint32, status *genl.Status) error {
	if status == nil {
		return nil
	}
	return h.send(genl.CmdSetGpioConfig, replyAttrs(uniqueID, pin, *status))
}

func (h *Handle) ReplySetGpioDirection(uniqueID uint64, pin uint32, status *genl.Status) error {
	if status == nil {
		return nil
	}
	return h.send(genl.CmdSetGpioDirection, replyAttrs(uniqueID, pin, *status))
}
