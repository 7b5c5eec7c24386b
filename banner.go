package bootinfo

import (
	"bytes"

	"github.com/grafana/regexp"
)

const BANNER_PREFIX = "Linux version "

// Capture groups
//
//   - release:  kernel version with any suffixes, e.g. "w.x.y-flavor"
//   - version:  kernel version, e.g. "w.x.y"
//   - builder:  builder machine's info, e.g. "username@hostname"
//   - compiler: compiler information, e.g. "gcc ..., GNU ld ..."
//   - extra:    anything extra, e.g. "#1 SMP PREEMPT Thu Jan 1 00:00:01 UTC 1970"
var bannerRe = regexp.MustCompile(`^Linux version (?P<release>(?P<version>[0-9]+\.[0-9]+\.[0-9]+).*) \((?P<builder>.*@.*)\) \((?P<compiler>.*)\) (?P<extra>.*)\n`)

var (
	bannerRelease  = bannerRe.SubexpIndex("release")
	bannerVersion  = bannerRe.SubexpIndex("version")
	bannerBuilder  = bannerRe.SubexpIndex("builder")
	bannerCompiler = bannerRe.SubexpIndex("compiler")
	bannerExtra    = bannerRe.SubexpIndex("extra")
)

// KernelBanner holds sub-slices of the buffer the banner was found in.
type KernelBanner struct {
	Banner   []byte
	Release  []byte
	Version  []byte
	Builder  []byte
	Compiler []byte
	Extra    []byte
}

// FindKernelBanner returns the first "Linux version " occurrence in haystack
// that parses as a full banner line.
func FindKernelBanner(haystack []byte) (*KernelBanner, bool) {
	prefix := []byte(BANNER_PREFIX)
	for pos := 0; pos < len(haystack); {
		i := bytes.Index(haystack[pos:], prefix)
		if i < 0 {
			break
		}
		// the pattern cannot cross a newline, so only the line is matched
		line := haystack[pos+i:]
		nl := bytes.IndexByte(line, '\n')
		if nl < 0 {
			break
		}
		if b, ok := ParseKernelBanner(line[:nl+1]); ok {
			return b, true
		}
		pos += i + len(prefix)
	}
	return nil, false
}

// ParseKernelBanner matches a banner line starting at haystack[0].
func ParseKernelBanner(haystack []byte) (*KernelBanner, bool) {
	m := bannerRe.FindSubmatchIndex(haystack)
	if m == nil {
		return nil, false
	}
	group := func(i int) []byte {
		return haystack[m[2*i]:m[2*i+1]:m[2*i+1]]
	}
	return &KernelBanner{
		Banner:   group(0),
		Release:  group(bannerRelease),
		Version:  group(bannerVersion),
		Builder:  group(bannerBuilder),
		Compiler: group(bannerCompiler),
		Extra:    group(bannerExtra),
	}, true
}
