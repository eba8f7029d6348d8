// Package wire implements the southbound framed request/response codec: the
// wire format spoken over the CPC endpoint between the bridge (master) and
// the secondary co-processor. A frame on the wire is `cmd:u8 | len:u8 |
// payload[len]`; multiple frames may arrive concatenated in one transport
// read, so Split walks the buffer pair by pair.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
)

// HostCommand identifies a request the bridge sends to the secondary.
// The high bit is clear for all host->secondary commands.
type HostCommand uint8

const (
	CmdGetVersion       HostCommand = 0
	CmdGetUniqueId      HostCommand = 1
	CmdGetChipLabel     HostCommand = 2
	CmdGetGpioCount     HostCommand = 3
	CmdGetGpioName      HostCommand = 4
	CmdGetGpioValue     HostCommand = 5
	CmdSetGpioValue     HostCommand = 6
	CmdSetGpioConfig    HostCommand = 7
	CmdSetGpioDirection HostCommand = 8
)

// SecondaryCommand identifies a reply the secondary sends to the bridge.
// The high bit is set for all secondary->host commands.
type SecondaryCommand uint8

const (
	CmdVersionIs        SecondaryCommand = 128
	CmdStatusIs         SecondaryCommand = 129
	CmdUniqueIdIs       SecondaryCommand = 130
	CmdChipLabelIs      SecondaryCommand = 131
	CmdGpioCountIs      SecondaryCommand = 132
	CmdGpioNameIs       SecondaryCommand = 133
	CmdGpioValueIs      SecondaryCommand = 134
	CmdUnsupportedCmdIs SecondaryCommand = 255
)

// Status is the southbound outcome code, distinct from the northbound
// Status in pkg/genl by design (see genl.Status): the two peers have
// different failure vocabularies.
type Status uint8

const (
	StatusOk           Status = 0
	StatusNotSupported Status = 1
	StatusInvalidPin   Status = 2
	StatusUnknown      Status = 255
)

// ParseStatus decodes a status byte, falling back to StatusUnknown for any
// value outside the defined set rather than failing the surrounding frame.
func ParseStatus(b byte) Status {
	switch b {
	case 0, 1, 2:
		return Status(b)
	default:
		return StatusUnknown
	}
}

// PinValue is the logical level of a GPIO pin.
type PinValue uint8

const (
	PinLow          PinValue = 0
	PinHigh         PinValue = 1
	PinValueUnknown PinValue = 255
)

func ParsePinValue(b byte) PinValue {
	switch b {
	case 0:
		return PinLow
	case 1:
		return PinHigh
	default:
		return PinValueUnknown
	}
}

// PinDirection mirrors the northbound direction encoding (§4.3) so the
// router can pass values through without re-mapping them.
type PinDirection uint8

const (
	DirectionOutput   PinDirection = 0
	DirectionInput    PinDirection = 1
	DirectionDisabled PinDirection = 2
	DirectionUnknown  PinDirection = 255
)

func ParsePinDirection(b byte) PinDirection {
	switch b {
	case 0, 1, 2:
		return PinDirection(b)
	default:
		return DirectionUnknown
	}
}

// PinConfig uses the Linux pin-control identifiers named in §4.3.
type PinConfig uint8

const (
	ConfigBiasDisable     PinConfig = 1
	ConfigBiasPullDown    PinConfig = 3
	ConfigBiasPullUp      PinConfig = 5
	ConfigDriveOpenDrain  PinConfig = 6
	ConfigDriveOpenSource PinConfig = 7
	ConfigDrivePushPull   PinConfig = 8
	ConfigUnknown         PinConfig = 255
)

func ParsePinConfig(b byte) PinConfig {
	switch b {
	case 1, 3, 5, 6, 7, 8:
		return PinConfig(b)
	default:
		return ConfigUnknown
	}
}

// Sentinel deserialization errors. ErrMissingNul and ErrPayloadLength are
// Recoverable.Deserialization per §3/§7.
var (
	ErrTruncatedHeader  = errors.New("wire: truncated frame header")
	ErrTruncatedPayload = errors.New("wire: truncated frame payload")
	ErrMissingNul       = errors.New("wire: string missing NUL terminator")
	ErrPayloadLength    = errors.New("wire: unexpected payload length")
)

// RawFrame is one split-out frame: the command byte and its payload, with
// no distinction yet made between host and secondary namespaces.
type RawFrame struct {
	Cmd     uint8
	Payload []byte
}

// Split walks buf splitting it into consecutive (cmd, len, payload) frames.
// It rejects truncation: a dangling header or a payload shorter than its
// declared length is an error, never silently accepted as a partial frame.
func Split(buf []byte) ([]RawFrame, error) {
	var frames []RawFrame
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("%w: %d byte(s) remaining", ErrTruncatedHeader, len(buf))
		}
		cmd := buf[0]
		length := int(buf[1])
		if len(buf) < 2+length {
			return nil, fmt.Errorf("%w: want %d have %d", ErrTruncatedPayload, length, len(buf)-2)
		}
		payload := append([]byte(nil), buf[2:2+length]...)
		frames = append(frames, RawFrame{Cmd: cmd, Payload: payload})
		buf = buf[2+length:]
	}
	return frames, nil
}

func frame(cmd uint8, payload []byte) []byte {
	buf := make([]byte, 2+len(payload))
	buf[0] = cmd
	buf[1] = byte(len(payload))
	copy(buf[2:], payload)
	return buf
}

func sequencedFrame(cmd HostCommand, seq uint8, extra []byte) []byte {
	payload := make([]byte, 1+len(extra))
	payload[0] = seq
	copy(payload[1:], extra)
	return frame(byte(cmd), payload)
}

// SerializeGetVersion builds the one stateless, unsequenced host request.
func SerializeGetVersion() []byte {
	return frame(byte(CmdGetVersion), nil)
}

func SerializeGetUniqueId(seq uint8) []byte  { return sequencedFrame(CmdGetUniqueId, seq, nil) }
func SerializeGetChipLabel(seq uint8) []byte { return sequencedFrame(CmdGetChipLabel, seq, nil) }
func SerializeGetGpioCount(seq uint8) []byte { return sequencedFrame(CmdGetGpioCount, seq, nil) }

func SerializeGetGpioName(seq uint8, pin uint8) []byte {
	return sequencedFrame(CmdGetGpioName, seq, []byte{pin})
}

func SerializeGetGpioValue(seq uint8, pin uint8) []byte {
	return sequencedFrame(CmdGetGpioValue, seq, []byte{pin})
}

func SerializeSetGpioValue(seq uint8, pin uint8, v PinValue) []byte {
	return sequencedFrame(CmdSetGpioValue, seq, []byte{pin, byte(v)})
}

func SerializeSetGpioConfig(seq uint8, pin uint8, c PinConfig) []byte {
	return sequencedFrame(CmdSetGpioConfig, seq, []byte{pin, byte(c)})
}

func SerializeSetGpioDirection(seq uint8, pin uint8, d PinDirection) []byte {
	return sequencedFrame(CmdSetGpioDirection, seq, []byte{pin, byte(d)})
}

func parseNulString(b []byte) (string, error) {
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return "", ErrMissingNul
	}
	return string(b[:idx]), nil
}

// VersionIsReply is the stateless, unsequenced reply to GetVersion.
type VersionIsReply struct {
	Version version.Version
}

func ParseVersionIs(payload []byte) (VersionIsReply, error) {
	if len(payload) != 3 {
		return VersionIsReply{}, fmt.Errorf("%w: VersionIs len=%d want=3", ErrPayloadLength, len(payload))
	}
	return VersionIsReply{Version: version.Version{Major: payload[0], Minor: payload[1], Patch: payload[2]}}, nil
}

// StatusIsReply reports the outcome of the most recent sequenced request.
type StatusIsReply struct {
	Seq    uint8
	Status Status
}

func ParseStatusIs(payload []byte) (StatusIsReply, error) {
	if len(payload) != 2 {
		return StatusIsReply{}, fmt.Errorf("%w: StatusIs len=%d want=2", ErrPayloadLength, len(payload))
	}
	return StatusIsReply{Seq: payload[0], Status: ParseStatus(payload[1])}, nil
}

type UniqueIdIsReply struct {
	Seq      uint8
	UniqueId uint64
}

func ParseUniqueIdIs(payload []byte) (UniqueIdIsReply, error) {
	if len(payload) != 9 {
		return UniqueIdIsReply{}, fmt.Errorf("%w: UniqueIdIs len=%d want=9", ErrPayloadLength, len(payload))
	}
	return UniqueIdIsReply{Seq: payload[0], UniqueId: binary.LittleEndian.Uint64(payload[1:9])}, nil
}

type ChipLabelIsReply struct {
	Seq   uint8
	Label string
}

func ParseChipLabelIs(payload []byte) (ChipLabelIsReply, error) {
	if len(payload) < 1 {
		return ChipLabelIsReply{}, fmt.Errorf("%w: ChipLabelIs len=%d want>=1", ErrPayloadLength, len(payload))
	}
	label, err := parseNulString(payload[1:])
	if err != nil {
		return ChipLabelIsReply{}, err
	}
	return ChipLabelIsReply{Seq: payload[0], Label: label}, nil
}

type GpioCountIsReply struct {
	Seq   uint8
	Count uint8
}

func ParseGpioCountIs(payload []byte) (GpioCountIsReply, error) {
	if len(payload) != 2 {
		return GpioCountIsReply{}, fmt.Errorf("%w: GpioCountIs len=%d want=2", ErrPayloadLength, len(payload))
	}
	return GpioCountIsReply{Seq: payload[0], Count: payload[1]}, nil
}

type GpioNameIsReply struct {
	Seq  uint8
	Name string
}

func ParseGpioNameIs(payload []byte) (GpioNameIsReply, error) {
	if len(payload) < 1 {
		return GpioNameIsReply{}, fmt.Errorf("%w: GpioNameIs len=%d want>=1", ErrPayloadLength, len(payload))
	}
	name, err := parseNulString(payload[1:])
	if err != nil {
		return GpioNameIsReply{}, err
	}
	return GpioNameIsReply{Seq: payload[0], Name: name}, nil
}

type GpioValueIsReply struct {
	Seq   uint8
	Value PinValue
}

func ParseGpioValueIs(payload []byte) (GpioValueIsReply, error) {
	if len(payload) != 2 {
		return GpioValueIsReply{}, fmt.Errorf("%w: GpioValueIs len=%d want=2", ErrPayloadLength, len(payload))
	}
	return GpioValueIsReply{Seq: payload[0], Value: ParsePinValue(payload[1])}, nil
}

// UnsupportedCmdIsReply reports the original command the secondary could not
// service. The client logs and drops this reply rather than surfacing it
// through the reply queue (§4.2).
type UnsupportedCmdIsReply struct {
	Seq     uint8
	OrigCmd uint8
}

func ParseUnsupportedCmdIs(payload []byte) (UnsupportedCmdIsReply, error) {
	if len(payload) != 2 {
		return UnsupportedCmdIsReply{}, fmt.Errorf("%w: UnsupportedCmdIs len=%d want=2", ErrPayloadLength, len(payload))
	}
	return UnsupportedCmdIsReply{Seq: payload[0], OrigCmd: payload[1]}, nil
}
