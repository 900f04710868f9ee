package peerfilter

import (
	"fmt"
	"regexp"
)

// ClientFilter rejects peers whose advertised client name matches.
type ClientFilter struct {
	re *regexp.Regexp
}

func NewClientFilter(pattern string) (*ClientFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &ClientFilter{re: re}, nil
}

func (f *ClientFilter) Rejects(p PeerInfo) bool {
	return p.Client != "" && f.re.MatchString(p.Client)
}

// IDFilter matches against the raw 20-byte peer ID.
type IDFilter struct {
	re *regexp.Regexp
}

func NewIDFilter(pattern string) (*IDFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &IDFilter{re: re}, nil
}

func (f *IDFilter) Rejects(p PeerInfo) bool {
	return len(p.ID) > 0 && f.re.Match(p.ID)
}

// FingerprintFilter rejects peers that do not announce an Azureus-style
// client fingerprint, "-XX0000-", at the start of their ID. Peers that send no
// ID at all are rejected too.
type FingerprintFilter struct{}

func (FingerprintFilter) Rejects(p PeerInfo) bool {
	return !HasFingerprint(p.ID)
}

// HasFingerprint reports whether id starts with '-', followed by at least two
// alphanumeric bytes and a closing '-' no later than byte 8.
func HasFingerprint(id []byte) bool {
	if len(id) < 4 || id[0] != '-' {
		return false
	}
	for i := 1; i < len(id) && i <= 8; i++ {
		c := id[i]
		if c == '-' {
			return i >= 3
		}
		if !isAlnum(c) {
			return false
		}
	}
	return false
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
