//go:build linux

package genl

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Socket wraps a raw AF_NETLINK/NETLINK_GENERIC socket. Unicast use blocks;
// multicast use is opened non-blocking so its fd can be a poll-style
// readiness source for the router (§4.4, §5).
type Socket struct {
	fd       int
	pid      uint32
	seq      uint32
	familyID uint16
}

// OpenUnicast opens a blocking netlink socket bound to an auto-assigned
// port id, suitable for request/reply exchanges with the kernel driver.
func OpenUnicast() (*Socket, error) {
	return open(false)
}

// OpenMulticast opens a non-blocking netlink socket and joins groupID,
// suitable for driving from a poll loop (§4.4 "the multicast socket is
// non-blocking; its file descriptor is exposed for poll-style readiness").
func OpenMulticast(groupID uint32) (*Socket, error) {
	s, err := open(true)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(groupID)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("genl: join multicast group %d: %w", groupID, err)
	}
	return s, nil
}

func open(nonblocking bool) (*Socket, error) {
	sockType := unix.SOCK_RAW
	if nonblocking {
		sockType |= unix.SOCK_NONBLOCK
	}
	fd, err := unix.Socket(unix.AF_NETLINK, sockType, unix.NETLINK_GENERIC)
	if err != nil {
		return nil, fmt.Errorf("genl: socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("genl: bind: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("genl: getsockname: %w", err)
	}
	nlAddr, ok := bound.(*unix.SockaddrNetlink)
	if !ok {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("genl: getsockname returned unexpected address type %T", bound)
	}
	return &Socket{fd: fd, pid: nlAddr.Pid}, nil
}

// FD returns the raw descriptor, for poll/select-based readiness checks.
func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Send addresses the message to the kernel (pid 0) and writes it.
func (s *Socket) Send(h Header, attrs []Attr) error {
	s.seq++
	h.Seq = s.seq
	h.Pid = s.pid
	buf := Encode(h, attrs)
	return unix.Sendto(s.fd, buf, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
}

// Recv reads one datagram and decodes it. For the non-blocking multicast
// socket, a unix.EAGAIN/EWOULDBLOCK error means "nothing ready" and the
// caller should treat it as drained, not fatal.
func (s *Socket) Recv() (Message, []byte, error) {
	buf := make([]byte, 8192)
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return Message{}, nil, err
	}
	raw := buf[:n]
	msg, err := Decode(raw)
	if err != nil {
		return Message{}, raw, err
	}
	return msg, raw, nil
}

// ResolveFamily asks the generic-netlink controller (GENL_ID_CTRL) for the
// numeric family id and the id of its named multicast group, the one
// netlink round trip every driver handle performs before anything else
// (§4.4).
func (s *Socket) ResolveFamily(familyName, groupName string) (familyID uint16, groupID uint32, err error) {
	h := Header{Type: GenlIDCtrl, Flags: FlagRequest, Cmd: ctrlCmdGetFamily, Version: 1}
	attrs := []Attr{PutString(ctrlAttrFamilyName, familyName)}
	if err := s.Send(h, attrs); err != nil {
		return 0, 0, fmt.Errorf("genl: send CTRL_CMD_GETFAMILY: %w", err)
	}

	msg, raw, err := s.Recv()
	if err != nil {
		return 0, 0, fmt.Errorf("genl: recv CTRL_CMD_GETFAMILY reply: %w", err)
	}
	if errno, isErr := IsError(msg.Header, raw); isErr {
		if errno != 0 {
			return 0, 0, fmt.Errorf("genl: kernel rejected family lookup for %q: errno %d", familyName, -errno)
		}
		return 0, 0, fmt.Errorf("genl: unexpected bare ACK resolving family %q", familyName)
	}

	id, err := AttrU16(msg.Attrs, ctrlAttrFamilyID)
	if err != nil {
		return 0, 0, fmt.Errorf("genl: family %q: %w", familyName, err)
	}
	familyID = id

	groupsRaw, ok := findAttr(msg.Attrs, ctrlAttrMcastGroups)
	if !ok {
		return 0, 0, fmt.Errorf("genl: family %q has no multicast groups", familyName)
	}
	// CTRL_ATTR_MCAST_GROUPS nests one array-indexed attribute per group,
	// each containing CTRL_ATTR_MCAST_GRP_NAME/ID attributes.
	nested, err := ParseAttrs(groupsRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("genl: family %q: malformed multicast group list: %w", familyName, err)
	}
	for _, group := range nested {
		groupAttrs, err := ParseAttrs(group.Payload)
		if err != nil {
			continue
		}
		name, err := AttrString(groupAttrs, ctrlAttrMcastGrpName)
		if err != nil || name != groupName {
			continue
		}
		gid, err := AttrU32(groupAttrs, ctrlAttrMcastGrpID)
		if err != nil {
			continue
		}
		return familyID, gid, nil
	}
	return 0, 0, fmt.Errorf("genl: family %q has no multicast group named %q", familyName, groupName)
}

// AttrU16 decodes a u16 attribute (used only for CTRL_ATTR_FAMILY_ID).
func AttrU16(attrs []Attr, t AttrType) (uint16, error) {
	p, ok := findAttr(attrs, t)
	if !ok {
		return 0, fmt.Errorf("%w: type %d", ErrAttrNotFound, t)
	}
	if len(p) != 2 {
		return 0, fmt.Errorf("%w: type %d len=%d want=2", ErrMalformedAttr, t, len(p))
	}
	return binary.NativeEndian.Uint16(p), nil
}
