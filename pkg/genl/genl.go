//go:build linux

// Package genl implements the northbound generic-netlink protocol engine:
// the family/attribute/command codec shared with the in-kernel GPIO chip
// driver (§4.3), plus the raw socket plumbing to resolve the family, join
// its multicast group, and exchange messages. Field widths mirror the
// Linux struct layouts the way the teacher mirrors kernel structs in
// pkg/linux/tcpinfo.go, but netlink messages are variable-length TLV
// streams rather than a single fixed struct, so encode/decode walks the
// buffer instead of overlaying a Go struct onto it.
package genl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FamilyName and MulticastGroupName identify the kernel GPIO chip driver's
// generic-netlink family (§4.3).
const (
	FamilyName         = "CPC_GPIO_GENL"
	MulticastGroupName = "CPC_GPIO_GENL_M"
	APIVersion         = 1
)

// Command identifies a generic-netlink command within the family.
type Command uint8

const (
	CmdExit             Command = 1
	CmdInit             Command = 2
	CmdDeinit           Command = 3
	CmdGetGpioValue     Command = 4
	CmdSetGpioValue     Command = 5
	CmdSetGpioConfig    Command = 6
	CmdSetGpioDirection Command = 7
)

func (c Command) String() string {
	switch c {
	case CmdExit:
		return "Exit"
	case CmdInit:
		return "Init"
	case CmdDeinit:
		return "Deinit"
	case CmdGetGpioValue:
		return "GetGpioValue"
	case CmdSetGpioValue:
		return "SetGpioValue"
	case CmdSetGpioConfig:
		return "SetGpioConfig"
	case CmdSetGpioDirection:
		return "SetGpioDirection"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// AttrType identifies an attribute within the family (§4.3).
type AttrType uint16

const (
	AttrStatus        AttrType = 1  // u32 errno
	AttrMessage       AttrType = 2  // string
	AttrVersionMajor  AttrType = 3  // u8
	AttrVersionMinor  AttrType = 4  // u8
	AttrVersionPatch  AttrType = 5  // u8
	AttrUniqueId      AttrType = 6  // u64
	AttrChipLabel     AttrType = 7  // string
	AttrGpioCount     AttrType = 8  // u32
	AttrGpioNames     AttrType = 9  // sequence of NUL-terminated strings
	AttrGpioPin       AttrType = 10 // u32
	AttrGpioValue     AttrType = 11 // u32
	AttrGpioConfig    AttrType = 12 // u32
	AttrGpioDirection AttrType = 13 // u32
)

// Status is the northbound outcome code. Deliberately distinct from
// wire.Status (§9 "Duplicated Status enums") because the two peers encode
// different failure vocabularies.
type Status uint32

const (
	StatusOk            Status = 0
	StatusNotSupported  Status = 1
	StatusBrokenPipe    Status = 2
	StatusProtocolError Status = 3
	StatusUnknown       Status = 0xFFFFFFFF
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusNotSupported:
		return "NotSupported"
	case StatusBrokenPipe:
		return "BrokenPipe"
	case StatusProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// PinDirection mirrors the southbound wire.PinDirection encoding (the
// kernel driver and the secondary agree on the same numeric IDs), carried
// as a u32 attribute northbound.
type PinDirection uint32

const (
	DirectionOutput   PinDirection = 0
	DirectionInput    PinDirection = 1
	DirectionDisabled PinDirection = 2
)

// PinValue mirrors the southbound wire.PinValue encoding, carried as a u32
// attribute northbound (AttrGpioValue).
type PinValue uint32

const (
	PinLow  PinValue = 0
	PinHigh PinValue = 1
)

// PinConfig uses the Linux pin-control identifiers (§4.3), same values as
// wire.PinConfig, carried as a u32 attribute northbound.
type PinConfig uint32

const (
	ConfigBiasDisable     PinConfig = 1
	ConfigBiasPullDown    PinConfig = 3
	ConfigBiasPullUp      PinConfig = 5
	ConfigDriveOpenDrain  PinConfig = 6
	ConfigDriveOpenSource PinConfig = 7
	ConfigDrivePushPull   PinConfig = 8
)

var (
	ErrTruncatedAttr  = errors.New("genl: truncated attribute header")
	ErrAttrNotFound   = errors.New("genl: required attribute missing")
	ErrMalformedAttr  = errors.New("genl: malformed attribute payload")
)

// nlaAlign rounds up to netlink's 4-byte attribute alignment (NLA_ALIGNTO).
func nlaAlign(n int) int {
	return (n + 3) &^ 3
}

const nlaHeaderLen = 4 // nlattr{len:u16, type:u16}

// Attr is one decoded netlink attribute: its type and raw payload bytes
// (unpadded).
type Attr struct {
	Type    AttrType
	Payload []byte
}

// PutAttrs serializes a sequence of (type, payload) pairs into one
// concatenated, individually-padded attribute stream.
func PutAttrs(attrs []Attr) []byte {
	var buf []byte
	for _, a := range attrs {
		buf = append(buf, encodeAttr(a.Type, a.Payload)...)
	}
	return buf
}

func encodeAttr(t AttrType, payload []byte) []byte {
	total := nlaHeaderLen + len(payload)
	out := make([]byte, nlaAlign(total))
	binary.NativeEndian.PutUint16(out[0:2], uint16(total))
	binary.NativeEndian.PutUint16(out[2:4], uint16(t))
	copy(out[4:], payload)
	return out
}

// ParseAttrs walks a netlink attribute stream, rejecting truncation the
// same way wire.Split rejects a truncated frame header/payload.
func ParseAttrs(buf []byte) ([]Attr, error) {
	var attrs []Attr
	for len(buf) > 0 {
		if len(buf) < nlaHeaderLen {
			return nil, fmt.Errorf("%w: %d byte(s) remaining", ErrTruncatedAttr, len(buf))
		}
		length := int(binary.NativeEndian.Uint16(buf[0:2]))
		typ := AttrType(binary.NativeEndian.Uint16(buf[2:4]))
		if length < nlaHeaderLen || length > len(buf) {
			return nil, fmt.Errorf("%w: declared len=%d have=%d", ErrTruncatedAttr, length, len(buf))
		}
		payload := append([]byte(nil), buf[nlaHeaderLen:length]...)
		attrs = append(attrs, Attr{Type: typ, Payload: payload})
		buf = buf[nlaAlign(length):]
	}
	return attrs, nil
}

func findAttr(attrs []Attr, t AttrType) ([]byte, bool) {
	for _, a := range attrs {
		if a.Type == t {
			return a.Payload, true
		}
	}
	return nil, false
}

func AttrU8(attrs []Attr, t AttrType) (uint8, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return 0, fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	if len(p) != 1 {
		return 0, fmt.Errorf("%w: type %d len=%d want=1", ErrMalformedAttr, t, len(p))
	}
	return p[0], nil
}

func AttrU32(attrs []Attr, t AttrType) (uint32, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return 0, fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	if len(p) != 4 {
		return 0, fmt.Errorf("%w: type %d len=%d want=4", ErrMalformedAttr, t, len(p))
	}
	return binary.NativeEndian.Uint32(p), nil
}

func AttrU64(attrs []Attr, t AttrType) (uint64, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return 0, fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	if len(p) != 8 {
		return 0, fmt.Errorf("%w: type %d len=%d want=8", ErrMalformedAttr, t, len(p))
	}
	return binary.NativeEndian.Uint64(p), nil
}

func AttrString(attrs []Attr, t AttrType) (string, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return "", fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	if len(p) > 0 && p[len(p)-1] == 0 {
		p = p[:len(p)-1]
	}
	return string(p), nil
}

// AttrStrings decodes AttrGpioNames: a sequence of NUL-terminated strings
// concatenated back to back inside the one attribute's payload (the kernel
// driver has no notion of nested string arrays for this family).
func AttrStrings(attrs []Attr, t AttrType) ([]string, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	var out []string
	start := 0
	for i, b := range p {
		if b == 0 {
			out = append(out, string(p[start:i]))
			start = i + 1
		}
	}
	return out, nil
}

func PutU8(t AttrType, v uint8) Attr { return Attr{Type: t, Payload: []byte{v}} }
func PutU32(t AttrType, v uint32) Attr {
	p := make([]byte, 4)
	binary.NativeEndian.PutUint32(p, v)
	return Attr{Type: t, Payload: p}
}
func PutU64(t AttrType, v uint64) Attr {
	p := make([]byte, 8)
	binary.NativeEndian.PutUint64(p, v)
	return Attr{Type: t, Payload: p}
}
func PutString(t AttrType, v string) Attr {
	return Attr{Type: t, Payload: append([]byte(v), 0)}
}
func PutStrings(t AttrType, vs []string) Attr {
	var p []byte
	for _, v := range vs {
		p = append(p, append([]byte(v), 0)...)
	}
	return Attr{Type: t, Payload: p}
}
