package peerfilter

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/anacrolix/torrent/iplist"
)

// IPRangeFilter rejects peers whose address falls inside any configured
// range. IPv4 and IPv6 ranges are kept in separate lists so lookups compare
// addresses of the same width.
type IPRangeFilter struct {
	v4 *iplist.IPList
	v6 *iplist.IPList
	n  int
}

// ParseRange accepts "first-last" or CIDR notation.
func ParseRange(s string) (iplist.Range, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return iplist.Range{}, fmt.Errorf("%w %q: %v", ErrInvalidRange, s, err)
		}
		first := ipnet.IP
		last := make(net.IP, len(first))
		for i := range first {
			last[i] = first[i] | ^ipnet.Mask[i]
		}
		return normalizeRange(iplist.Range{First: first, Last: last, Description: s})
	}

	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		hi = lo
	}
	r := iplist.Range{
		First:       net.ParseIP(strings.TrimSpace(lo)),
		Last:        net.ParseIP(strings.TrimSpace(hi)),
		Description: s,
	}
	if r.First == nil || r.Last == nil {
		return iplist.Range{}, fmt.Errorf("%w %q", ErrInvalidRange, s)
	}
	return normalizeRange(r)
}

func normalizeRange(r iplist.Range) (iplist.Range, error) {
	f4, l4 := r.First.To4(), r.Last.To4()
	switch {
	case f4 != nil && l4 != nil:
		r.First, r.Last = f4, l4
	case f4 == nil && l4 == nil:
		r.First, r.Last = r.First.To16(), r.Last.To16()
	default:
		return iplist.Range{}, fmt.Errorf("%w %q: mixed address families", ErrInvalidRange, r.Description)
	}
	if bytes.Compare(r.First, r.Last) > 0 {
		return iplist.Range{}, fmt.Errorf("%w %q: first address after last", ErrInvalidRange, r.Description)
	}
	return r, nil
}

// NewIPRangeFilter parses every spec with ParseRange.
func NewIPRangeFilter(specs ...string) (*IPRangeFilter, error) {
	ranges := make([]iplist.Range, 0, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := ParseRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return NewIPRangeFilterFromRanges(ranges), nil
}

// NewIPRangeFilterFromRanges builds the filter from already normalized
// ranges. Overlapping ranges are merged.
func NewIPRangeFilterFromRanges(ranges []iplist.Range) *IPRangeFilter {
	var v4, v6 []iplist.Range
	for _, r := range ranges {
		if len(r.First) == net.IPv4len {
			v4 = append(v4, r)
		} else {
			v6 = append(v6, r)
		}
	}
	v4, v6 = mergeRanges(v4), mergeRanges(v6)
	return &IPRangeFilter{
		v4: iplist.New(v4),
		v6: iplist.New(v6),
		n:  len(v4) + len(v6),
	}
}

func mergeRanges(rs []iplist.Range) []iplist.Range {
	if len(rs) == 0 {
		return nil
	}
	sort.Slice(rs, func(i, j int) bool {
		return bytes.Compare(rs[i].First, rs[j].First) < 0
	})
	out := []iplist.Range{rs[0]}
	for _, r := range rs[1:] {
		cur := &out[len(out)-1]
		if bytes.Compare(r.First, cur.Last) <= 0 {
			if bytes.Compare(r.Last, cur.Last) > 0 {
				cur.Last = r.Last
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *IPRangeFilter) Rejects(p PeerInfo) bool {
	return f.RejectsIP(p.IP)
}

func (f *IPRangeFilter) RejectsIP(ip net.IP) bool {
	_, ok := f.Lookup(ip)
	return ok
}

// Lookup satisfies iplist.Ranger so the filter can be handed to the engine as
// a block list.
func (f *IPRangeFilter) Lookup(ip net.IP) (iplist.Range, bool) {
	if f == nil || ip == nil {
		return iplist.Range{}, false
	}
	if v4 := ip.To4(); v4 != nil {
		return f.v4.Lookup(v4)
	}
	return f.v6.Lookup(ip.To16())
}

func (f *IPRangeFilter) NumRanges() int {
	if f == nil {
		return 0
	}
	return f.n
}
