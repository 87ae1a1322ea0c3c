package ogimage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// CacheBusterMarker prefixes a path segment that should be treated as a cache-buster token,
	// e.g. /https%3A%2F%2Fwww.11ty.dev%2F/_20210802/
	CacheBusterMarker = "_"
	// ErrorModeToken requests an empty body instead of the placeholder when no image is found.
	ErrorModeToken = "onerror"
)

var ErrMalformedURL = errors.New("malformed target url")

// Descriptor is the decoded form of a request path.
type Descriptor struct {
	TargetURL   string
	Size        string
	Format      string
	ErrorMode   bool
	CacheBuster string
}

// SegmentKind tags what an optional path segment resolved to.
type SegmentKind int

const (
	KindUnknown SegmentKind = iota
	KindSize
	KindFormat
	KindErrorMode
	KindCacheBuster
)

func (k SegmentKind) String() string {
	switch k {
	case KindSize:
		return "size"
	case KindFormat:
		return "format"
	case KindErrorMode:
		return "error-mode"
	case KindCacheBuster:
		return "cache-buster"
	default:
		return "unknown"
	}
}

// Segment is a classified optional path segment.
type Segment struct {
	Kind  SegmentKind
	Value string
}

// nominal kinds of segments 2..5
var slotKinds = []SegmentKind{KindSize, KindFormat, KindUnknown, KindCacheBuster}

// Classify resolves an optional segment by content first and by position second.
// slot is the zero-based index among the optional segments (0 = the segment after the url).
func Classify(segment string, slot int) Segment {
	switch {
	case strings.HasPrefix(segment, CacheBusterMarker):
		return Segment{Kind: KindCacheBuster, Value: segment}
	case segment == ErrorModeToken:
		return Segment{Kind: KindErrorMode, Value: segment}
	case slot >= 0 && slot < len(slotKinds):
		return Segment{Kind: slotKinds[slot], Value: segment}
	default:
		return Segment{Kind: KindUnknown, Value: segment}
	}
}

// Decode parses /<url>[/<size>][/<format>][/<onerror>][/<cachebuster>] into a Descriptor.
func Decode(path string) (Descriptor, error) {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return Descriptor{}, fmt.Errorf("%w: empty path", ErrMalformedURL)
	}

	var desc Descriptor

	optional := segments[1:]
	if len(optional) > len(slotKinds) {
		optional = optional[:len(slotKinds)]
	}

	// A cache buster in an earlier slot beats the trailing cache-buster slot.
	explicitBuster := ""
	for slot, raw := range optional {
		seg := Classify(raw, slot)
		switch seg.Kind {
		case KindSize:
			desc.Size = seg.Value
		case KindFormat:
			desc.Format = seg.Value
		case KindErrorMode:
			desc.ErrorMode = true
		case KindCacheBuster:
			if slot == len(slotKinds)-1 {
				explicitBuster = seg.Value
			} else {
				desc.CacheBuster = seg.Value
			}
		}
	}
	if desc.CacheBuster == "" {
		desc.CacheBuster = explicitBuster
	}

	// The optional fields are still returned on failure so the fallback can echo the cache buster.
	target, err := decodeComponent(segments[0])
	if err != nil {
		return desc, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	desc.TargetURL = target

	return desc, nil
}

// decodeComponent mirrors decodeURIComponent: %XX escapes are decoded, '+' is kept literally.
func decodeComponent(s string) (string, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", fmt.Errorf("invalid utf-8 in %q", s)
	}
	return decoded, nil
}
