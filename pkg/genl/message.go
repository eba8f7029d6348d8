//go:build linux

package genl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	nlmsghdrLen   = 16
	genlmsghdrLen = 4
)

// netlink message flags used by this family (linux/netlink.h).
const (
	FlagRequest = 1
	FlagAck     = 4
)

// Netlink message types reserved by the kernel (linux/netlink.h).
const (
	NLMsgError = 2
	NLMsgDone  = 3
)

// GenlIDCtrl is the well-known generic-netlink controller family id used to
// resolve a family name to its numeric id and multicast group ids
// (linux/genetlink.h: GENL_ID_CTRL).
const GenlIDCtrl = 0x10

// Controller command/attribute ids for family resolution
// (linux/genetlink.h).
const (
	ctrlCmdGetFamily     = 3
	ctrlAttrFamilyID     = 1
	ctrlAttrFamilyName   = 2
	ctrlAttrMcastGroups  = 7
	ctrlAttrMcastGrpName = 1
	ctrlAttrMcastGrpID   = 2
)

var ErrTruncatedHeader = errors.New("genl: truncated message header")

// Header is the combined nlmsghdr + genlmsghdr pair every message in this
// family carries.
type Header struct {
	Type    uint16 // family id, filled in by ResolveFamily
	Flags   uint16
	Seq     uint32
	Pid     uint32
	Cmd     uint8
	Version uint8
}

// Message is one decoded generic-netlink message: its header and parsed
// attributes.
type Message struct {
	Header Header
	Attrs  []Attr
}

// Encode serializes a full nlmsghdr+genlmsghdr+attrs message, computing the
// nlmsghdr length field from the actual payload size.
func Encode(h Header, attrs []Attr) []byte {
	body := PutAttrs(attrs)
	total := nlmsghdrLen + genlmsghdrLen + len(body)

	buf := make([]byte, total)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(total))
	binary.NativeEndian.PutUint16(buf[4:6], h.Type)
	binary.NativeEndian.PutUint16(buf[6:8], h.Flags)
	binary.NativeEndian.PutUint32(buf[8:12], h.Seq)
	binary.NativeEndian.PutUint32(buf[12:16], h.Pid)
	buf[16] = h.Cmd
	buf[17] = h.Version
	// buf[18:20] reserved, left zero
	copy(buf[nlmsghdrLen+genlmsghdrLen:], body)
	return buf
}

// Decode parses one message out of buf. Netlink read buffers hold exactly
// one message per unicast datagram read in this bridge's use (no multipart
// dumps are needed beyond family resolution, handled separately).
func Decode(buf []byte) (Message, error) {
	if len(buf) < nlmsghdrLen+genlmsghdrLen {
		return Message{}, fmt.Errorf("%w: %d byte(s)", ErrTruncatedHeader, len(buf))
	}
	length := binary.NativeEndian.Uint32(buf[0:4])
	if int(length) > len(buf) {
		return Message{}, fmt.Errorf("%w: declared len=%d have=%d", ErrTruncatedHeader, length, len(buf))
	}
	h := Header{
		Type:  binary.NativeEndian.Uint16(buf[4:6]),
		Flags: binary.NativeEndian.Uint16(buf[6:8]),
		Seq:   binary.NativeEndian.Uint32(buf[8:12]),
		Pid:   binary.NativeEndian.Uint32(buf[12:16]),
	}
	h.Cmd = buf[16]
	h.Version = buf[17]

	attrs, err := ParseAttrs(buf[nlmsghdrLen+genlmsghdrLen : length])
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Attrs: attrs}, nil
}

// IsError reports whether the message is a kernel NLMSG_ERROR frame and
// returns the embedded errno (0 means an ACK, not a failure).
func IsError(h Header, raw []byte) (errno int32, isError bool) {
	if h.Type != NLMsgError {
		return 0, false
	}
	if len(raw) < nlmsghdrLen+4 {
		return 0, true
	}
	return int32(binary.NativeEndian.Uint32(raw[nlmsghdrLen : nlmsghdrLen+4])), true
}
