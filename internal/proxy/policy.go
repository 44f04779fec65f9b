package proxy

import (
	"net/http"
	"strings"
	"time"
)

// Kind classifies a proxied request for cache policy purposes.
type Kind int

const (
	KindGeneric Kind = iota
	KindRoomState
	KindMessages
	KindSearch
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindRoomState:
		return "room_state"
	case KindMessages:
		return "messages"
	case KindSearch:
		return "search"
	case KindMedia:
		return "media"
	default:
		return "generic"
	}
}

const SearchPath = "/_matrix/client/v3/search"

var mediaPrefixes = []string{"/_matrix/client/v1/media/", "/_matrix/media/"}

// Classify derives the request kind from its method and path.
func Classify(method, path string) Kind {
	for _, prefix := range mediaPrefixes {
		if strings.HasPrefix(path, prefix) {
			return KindMedia
		}
	}
	if method == http.MethodPost && path == SearchPath {
		return KindSearch
	}
	switch {
	case strings.HasSuffix(path, "/state") || strings.Contains(path, "/state/"):
		return KindRoomState
	case strings.HasSuffix(path, "/messages"):
		return KindMessages
	}
	return KindGeneric
}

// Policy decides which responses are cached and for how long.
type Policy struct {
	// Enabled switches response caching as a whole.
	Enabled   bool
	TTL       time.Duration
	RoomState bool
	Messages  bool
	Generic   bool
	Search    bool
	SearchTTL time.Duration
}

// Cacheable reports whether a request of kind k sent with method may be
// served from and written to the cache.
func (p Policy) Cacheable(method string, k Kind) bool {
	if !p.Enabled {
		return false
	}
	if k == KindSearch {
		return p.Search
	}
	if method != http.MethodGet {
		return false
	}
	switch k {
	case KindRoomState:
		return p.RoomState
	case KindMessages:
		return p.Messages
	case KindGeneric:
		return p.Generic
	}
	return false
}

func (p Policy) ttl(k Kind) time.Duration {
	if k == KindSearch && p.SearchTTL > 0 {
		return p.SearchTTL
	}
	return p.TTL
}
