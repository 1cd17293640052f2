package relay

import (
	"net"

	"golang.org/x/net/ipv4"
)

// dscpExpeditedForwarding is the DSCP codepoint (EF, RFC 3246) relay
// traffic is marked with so routers along the path queue it ahead of
// best-effort flows. The IPv4 TOS byte packs DSCP in its high 6 bits.
const dscpExpeditedForwarding = 46

// MarkExpeditedForwarding sets the relay's forwarding socket to tag
// outgoing datagrams with the EF DSCP codepoint, so low-latency media
// traffic gets priority queuing on routers that honor it. A failure
// here is non-fatal: DSCP marking is a best-effort optimization, not a
// protocol requirement, and is commonly dropped or rewritten by
// intermediate networks regardless.
func MarkExpeditedForwarding(conn *net.UDPConn) error {
	pc := ipv4.NewPacketConn(conn)
	return pc.SetTOS(dscpExpeditedForwarding << 2)
}
