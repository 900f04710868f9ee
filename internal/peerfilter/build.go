package peerfilter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Options lists the filters to build. Every non-empty field adds one filter.
type Options struct {
	IPRanges           []string      `mapstructure:"ip_ranges"`
	ClientPatterns     []string      `mapstructure:"client_patterns"`
	IDPatterns         []string      `mapstructure:"id_patterns"`
	RequireFingerprint bool          `mapstructure:"require_fingerprint"`
	BlacklistFile      string        `mapstructure:"blacklist_file"`
	BlacklistRefresh   time.Duration `mapstructure:"blacklist_refresh"`
}

// Build compiles opts into filters. A blacklist file is watched until ctx is
// done.
func Build(ctx context.Context, opts Options, log zerolog.Logger) ([]Filter, error) {
	var filters []Filter

	if len(opts.IPRanges) > 0 {
		f, err := NewIPRangeFilter(opts.IPRanges...)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	for _, p := range opts.ClientPatterns {
		f, err := NewClientFilter(p)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	for _, p := range opts.IDPatterns {
		f, err := NewIDFilter(p)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if opts.RequireFingerprint {
		filters = append(filters, FingerprintFilter{})
	}
	if opts.BlacklistFile != "" {
		bl := &BlacklistFilter{}
		WatchBlacklistFile(ctx, opts.BlacklistFile, opts.BlacklistRefresh, bl, log)
		filters = append(filters, bl)
	}

	log.Debug().Int("filters", len(filters)).Msg("peer filters built")
	return filters, nil
}
