// Package peerfilter holds predicates deciding whether a connected peer should
// be dropped. Filters are independent and side-effect free; the engine binding
// decides how a rejection is enforced.
package peerfilter

import "net"

// PeerInfo is what the engine knows about a peer once the handshake is done.
type PeerInfo struct {
	IP     net.IP
	Client string
	ID     []byte
}

type Filter interface {
	Rejects(p PeerInfo) bool
}

// IPFilter is implemented by filters that only look at the address. The engine
// can apply those before a connection is made.
type IPFilter interface {
	Filter
	RejectsIP(ip net.IP) bool
}

type anyFilter []Filter

// Any rejects a peer when at least one of filters does.
func Any(filters ...Filter) Filter {
	out := make(anyFilter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (a anyFilter) Rejects(p PeerInfo) bool {
	for _, f := range a {
		if f.Rejects(p) {
			return true
		}
	}
	return false
}

// SplitIP separates address-only filters from the ones that need the
// handshake.
func SplitIP(filters []Filter) (ip []IPFilter, other []Filter) {
	for _, f := range filters {
		if f == nil {
			continue
		}
		if ipf, ok := f.(IPFilter); ok {
			ip = append(ip, ipf)
			continue
		}
		other = append(other, f)
	}
	return ip, other
}
