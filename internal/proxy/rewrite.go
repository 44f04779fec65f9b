package proxy

import (
	"net/url"
	"strings"
)

// RewriteRoomSegment substitutes resolved for the path segment following
// "rooms" that names raw. path is escaped; raw may be given escaped or
// not. resolved must be a validated room id.
func RewriteRoomSegment(path, raw, resolved string) string {
	want := unescapeSegment(raw)
	if want == resolved {
		return path
	}
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if segments[i-1] == "rooms" && unescapeSegment(segments[i]) == want {
			segments[i] = resolved
			return strings.Join(segments, "/")
		}
	}
	return path
}

func unescapeSegment(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
