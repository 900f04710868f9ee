package peerfilter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBlacklistRefresh = 5 * time.Minute

// BlacklistFilter rejects an exact set of addresses. The set can be swapped at
// runtime; a filter that was never loaded rejects nothing.
type BlacklistFilter struct {
	set atomic.Pointer[map[string]struct{}]
}

func NewBlacklistFilter(ips ...net.IP) *BlacklistFilter {
	f := &BlacklistFilter{}
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if ip != nil {
			set[ip.String()] = struct{}{}
		}
	}
	f.set.Store(&set)
	return f
}

func (f *BlacklistFilter) Rejects(p PeerInfo) bool {
	return f.RejectsIP(p.IP)
}

func (f *BlacklistFilter) RejectsIP(ip net.IP) bool {
	m := f.set.Load()
	if m == nil || ip == nil {
		return false
	}
	_, ok := (*m)[ip.String()]
	return ok
}

func (f *BlacklistFilter) Len() int {
	m := f.set.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}

// Replace swaps in a new address set.
func (f *BlacklistFilter) Replace(set map[string]struct{}) {
	f.set.Store(&set)
}

// LoadBlacklistFile reads one address per line. Blank lines and lines starting
// with # are skipped, as are lines that do not parse; the latter are logged.
func LoadBlacklistFile(path string, log zerolog.Logger) (map[string]struct{}, error) {
	file, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer file.Close()

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ip := net.ParseIP(line)
		if ip == nil {
			log.Warn().Str("path", path).Int("line", lineNum).Msg("skipping invalid blacklist address")
			continue
		}
		set[ip.String()] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return set, fmt.Errorf("read blacklist: %w", err)
	}
	return set, nil
}

// WatchBlacklistFile loads path into f now and then reloads it whenever its
// modification time changes, until ctx is done. A missing file leaves f
// empty.
func WatchBlacklistFile(ctx context.Context, path string, interval time.Duration, f *BlacklistFilter, log zerolog.Logger) {
	if interval <= 0 {
		interval = DefaultBlacklistRefresh
	}

	load := func() {
		set, err := LoadBlacklistFile(path, log)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to load blacklist")
			if set == nil {
				return
			}
		}
		f.Replace(set)
		log.Info().Str("path", path).Int("addresses", len(set)).Msg("blacklist loaded")
	}
	// The baseline is taken before loading so that a write racing the load
	// is picked up by the next tick.
	var lastMod time.Time
	if fi, err := os.Stat(path); err == nil {
		lastMod = fi.ModTime()
	}
	load()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fi, err := os.Stat(path)
				if err != nil {
					log.Debug().Err(err).Str("path", path).Msg("blacklist stat failed")
					continue
				}
				if !fi.ModTime().Equal(lastMod) {
					lastMod = fi.ModTime()
					load()
				}
			}
		}
	}()
}
