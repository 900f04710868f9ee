package peerfilter

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anacrolix/torrent/iplist"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peer(ip string) PeerInfo {
	return PeerInfo{IP: net.ParseIP(ip)}
}

func TestIPRangeFilter(t *testing.T) {
	f, err := NewIPRangeFilter("10.0.0.0/8", "192.168.1.10-192.168.1.20", "192.168.1.15-192.168.1.30", "2001:db8::/32", "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.NumRanges(), "overlapping ranges merge")

	assert.True(t, f.Rejects(peer("10.1.2.3")))
	assert.True(t, f.Rejects(peer("192.168.1.10")))
	assert.True(t, f.Rejects(peer("192.168.1.30")))
	assert.False(t, f.Rejects(peer("192.168.1.31")))
	assert.False(t, f.Rejects(peer("11.0.0.1")))
	assert.True(t, f.Rejects(peer("2001:db8::1")))
	assert.False(t, f.Rejects(peer("2001:db9::1")))
	assert.False(t, f.Rejects(PeerInfo{}))

	var _ iplist.Ranger = f
}

func TestParseRangeErrors(t *testing.T) {
	for _, s := range []string{"nope", "10.0.0.5-10.0.0.1", "10.0.0.1-::1", "10.0.0.0/99"} {
		_, err := ParseRange(s)
		assert.ErrorIs(t, err, ErrInvalidRange, s)
	}

	r, err := ParseRange("1.2.3.4")
	require.NoError(t, err)
	assert.True(t, r.First.Equal(r.Last))
}

func TestClientAndIDFilters(t *testing.T) {
	cf, err := NewClientFilter(`(?i)^xunlei`)
	require.NoError(t, err)
	assert.True(t, cf.Rejects(PeerInfo{Client: "Xunlei 0.0.1"}))
	assert.False(t, cf.Rejects(PeerInfo{Client: "qBittorrent 4.2.5"}))
	assert.False(t, cf.Rejects(PeerInfo{}))

	idf, err := NewIDFilter(`^-XL`)
	require.NoError(t, err)
	assert.True(t, idf.Rejects(PeerInfo{ID: []byte("-XL0012-abcdefghijkl")}))
	assert.False(t, idf.Rejects(PeerInfo{ID: []byte("-qB4250-abcdefghijkl")}))

	_, err = NewClientFilter("(")
	assert.ErrorIs(t, err, ErrInvalidPattern)
	_, err = NewIDFilter("[")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestFingerprintFilter(t *testing.T) {
	var f FingerprintFilter
	assert.False(t, f.Rejects(PeerInfo{ID: []byte("-qB4250-abcdefghijkl")}))
	assert.False(t, f.Rejects(PeerInfo{ID: []byte("-TR3000-abcdefghijkl")}))
	assert.True(t, f.Rejects(PeerInfo{ID: []byte("M7-2-2--abcdefghijkl")}))
	assert.True(t, f.Rejects(PeerInfo{ID: []byte("-abcdefghijklmnopqrs")}))
	assert.True(t, f.Rejects(PeerInfo{ID: []byte("--abcdefghijklmnopqr")}))
	assert.True(t, f.Rejects(PeerInfo{}))
}

func TestAnyAndSplit(t *testing.T) {
	bl := NewBlacklistFilter(net.ParseIP("1.1.1.1"))
	cf, err := NewClientFilter("bad")
	require.NoError(t, err)

	f := Any(bl, nil, cf)
	assert.True(t, f.Rejects(PeerInfo{IP: net.ParseIP("1.1.1.1")}))
	assert.True(t, f.Rejects(PeerInfo{IP: net.ParseIP("2.2.2.2"), Client: "bad client"}))
	assert.False(t, f.Rejects(PeerInfo{IP: net.ParseIP("2.2.2.2"), Client: "good"}))
	assert.False(t, Any().Rejects(PeerInfo{}))

	ipOnly, other := SplitIP([]Filter{bl, cf, FingerprintFilter{}, nil})
	assert.Len(t, ipOnly, 1)
	assert.Len(t, other, 2)
}

func TestLoadBlacklistFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	content := "# comment\n\n1.2.3.4\n  5.6.7.8  \nnot-an-ip\n::1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	set, err := LoadBlacklistFile(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, set, 3)

	f := &BlacklistFilter{}
	assert.False(t, f.RejectsIP(net.ParseIP("1.2.3.4")), "unloaded filter rejects nothing")
	f.Replace(set)
	assert.True(t, f.RejectsIP(net.ParseIP("5.6.7.8")))
	assert.True(t, f.RejectsIP(net.ParseIP("::1")))
	assert.False(t, f.RejectsIP(net.ParseIP("9.9.9.9")))

	_, err = LoadBlacklistFile(filepath.Join(t.TempDir(), "missing"), zerolog.Nop())
	assert.Error(t, err)
}

func TestWatchBlacklistFileReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.2.3.4\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &BlacklistFilter{}
	WatchBlacklistFile(ctx, path, 10*time.Millisecond, f, zerolog.Nop())
	assert.Equal(t, 1, f.Len())

	require.NoError(t, os.WriteFile(path, []byte("1.2.3.4\n4.3.2.1\n"), 0o600))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		return f.RejectsIP(net.ParseIP("4.3.2.1"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchBlacklistFileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &BlacklistFilter{}
	WatchBlacklistFile(ctx, path, 10*time.Millisecond, f, zerolog.Nop())
	assert.Zero(t, f.Len())

	require.NoError(t, os.WriteFile(path, []byte("8.8.4.4\n"), 0o600))
	assert.Eventually(t, func() bool {
		return f.RejectsIP(net.ParseIP("8.8.4.4"))
	}, 2*time.Second, 10*time.Millisecond)
}
