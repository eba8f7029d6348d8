// Package version holds the peer version triplet exchanged on both the
// southbound (CPC secondary) and northbound (netlink kernel driver) links.
package version

import "fmt"

// Version is the {major,minor,patch} triplet reported by a peer.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// String renders the version the way both handshake log lines print it.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether two peers can interoperate: their major
// versions must be equal. Minor/patch differences are assumed backwards
// compatible within a major line.
func Compatible(a, b Version) bool {
	return a.Major == b.Major
}
