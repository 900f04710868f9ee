package anacrolix

import (
	"net"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/iplist"
	pp "github.com/anacrolix/torrent/peer_protocol"
	mapset "github.com/deckarep/golang-set"

	"seqtorrent/internal/peerfilter"
)

// blocklist is handed to the client as its IP block list. It answers from the
// address-only peer filters plus addresses banned after a handshake.
type blocklist struct {
	mu      sync.RWMutex
	filters []peerfilter.IPFilter
	banned  mapset.Set
}

var _ iplist.Ranger = (*blocklist)(nil)

func newBlocklist() *blocklist {
	return &blocklist{banned: mapset.NewSet()}
}

func (b *blocklist) set(filters []peerfilter.IPFilter) {
	b.mu.Lock()
	b.filters = filters
	b.mu.Unlock()
}

func (b *blocklist) ban(ip net.IP) {
	b.banned.Add(ip.String())
}

func (b *blocklist) Lookup(ip net.IP) (iplist.Range, bool) {
	if ip == nil {
		return iplist.Range{}, false
	}
	if b.banned.Contains(ip.String()) {
		return iplist.Range{First: ip, Last: ip, Description: "rejected after handshake"}, true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, f := range b.filters {
		if f.RejectsIP(ip) {
			return iplist.Range{First: ip, Last: ip, Description: "peer filter"}, true
		}
	}
	return iplist.Range{}, false
}

func (b *blocklist) NumRanges() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.filters) + b.banned.Cardinality()
}

func (s *Session) setPeerFilters(filters []peerfilter.Filter) {
	ip, other := peerfilter.SplitIP(filters)
	s.blocklist.set(ip)
	s.filters.Store(&other)
}

// onHandshake runs the filters that need the peer ID. There is no way to drop
// the connection from here, so a rejected peer's address is blocked for every
// later connection attempt.
func (s *Session) onHandshake(pc *torrent.PeerConn, ih torrent.InfoHash) {
	s.checkPeer(peerInfo(pc, ""), ih.HexString())
}

// onExtendedHandshake runs the filters again once the peer has named its
// client, which the base handshake does not carry.
func (s *Session) onExtendedHandshake(pc *torrent.PeerConn, msg *pp.ExtendedHandshakeMessage) {
	if msg == nil || msg.V == "" {
		return
	}
	s.checkPeer(peerInfo(pc, msg.V), "")
}

func peerInfo(pc *torrent.PeerConn, client string) peerfilter.PeerInfo {
	return peerfilter.PeerInfo{
		IP:     remoteIP(pc.RemoteAddr.String()),
		ID:     append([]byte(nil), pc.PeerID[:]...),
		Client: client,
	}
}

func (s *Session) checkPeer(info peerfilter.PeerInfo, infoHash string) {
	fs := s.filters.Load()
	if fs == nil || len(*fs) == 0 || info.IP == nil {
		return
	}
	for _, f := range *fs {
		if f.Rejects(info) {
			s.blocklist.ban(info.IP)
			s.log.Info().
				Str("ip", info.IP.String()).
				Str("infoHash", infoHash).
				Str("client", info.Client).
				Bytes("peerID", info.ID).
				Msg("peer rejected by filter")
			return
		}
	}
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}
