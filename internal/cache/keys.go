package cache

import "fmt"

const (
	PublicRoomsKey  = "public_rooms"
	PublicSpacesKey = "public_spaces"
)

// JoinedKey caches the affirmative "bot is joined" flag for a room.
func JoinedKey(roomID string) string {
	return fmt.Sprintf("appservice:joined:%s", roomID)
}

// RoomStateKey memoizes a room's full state.
func RoomStateKey(roomID string) string {
	return fmt.Sprintf("room_state:%s", roomID)
}

// ProxyRequestKey caches an idempotent proxied read by its target URL.
func ProxyRequestKey(targetURL string) string {
	return fmt.Sprintf("proxy_request:%s", targetURL)
}

// ProxySearchKey caches a body-bearing search by target URL and body hash.
func ProxySearchKey(targetURL, bodyHash string) string {
	return fmt.Sprintf("proxy_post_request:%s:%s", targetURL, bodyHash)
}

// SpaceSummaryKey caches the summary of a configured space by its slug.
func SpaceSummaryKey(slug string) string {
	return fmt.Sprintf("space_summary:%s", slug)
}
