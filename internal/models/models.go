// Package models defines the data shapes shared between the homeserver
// client, the directory aggregator and the HTTP handlers.
package models

import "encoding/json"

// StateEvent is one entry of a room's current state as returned by the
// homeserver. Content is kept raw and interpreted by event type.
type StateEvent struct {
	Type           string          `json:"type"`
	StateKey       string          `json:"state_key"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	EventID        string          `json:"event_id,omitempty"`
	Content        json.RawMessage `json:"content"`
}

// RoomState is the ordered list of state events of a room.
type RoomState []StateEvent

// RoomSummary is the client facing view of a room.
type RoomSummary struct {
	RoomID         string `json:"room_id"`
	Name           string `json:"name,omitempty"`
	CanonicalAlias string `json:"canonical_alias,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	BannerURL      string `json:"banner_url,omitempty"`
	Topic          string `json:"topic,omitempty"`
	RoomType       string `json:"type,omitempty"`
}

// PublicRoom is one entry of the public room directory.
type PublicRoom struct {
	RoomID            string   `json:"room_id"`
	RoomType          string   `json:"type,omitempty"`
	OriginServerTS    int64    `json:"origin_server_ts,omitempty"`
	CommuneRoomType   string   `json:"room_type,omitempty"`
	Name              string   `json:"name,omitempty"`
	CanonicalAlias    string   `json:"canonical_alias,omitempty"`
	Sender            string   `json:"sender,omitempty"`
	AvatarURL         string   `json:"avatar_url,omitempty"`
	BannerURL         string   `json:"banner_url,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	JoinRule          string   `json:"join_rule,omitempty"`
	HistoryVisibility string   `json:"history_visibility,omitempty"`
	Children          []string `json:"children,omitempty"`
	IsBridge          bool     `json:"is_bridge,omitempty"`
}

// Summary projects the room onto the summary fields.
func (r PublicRoom) Summary() RoomSummary {
	return RoomSummary{
		RoomID:         r.RoomID,
		Name:           r.Name,
		CanonicalAlias: r.CanonicalAlias,
		AvatarURL:      r.AvatarURL,
		BannerURL:      r.BannerURL,
		Topic:          r.Topic,
		RoomType:       r.RoomType,
	}
}

// HierarchyRoom is one room of a space hierarchy page.
type HierarchyRoom struct {
	RoomID           string            `json:"room_id"`
	Name             string            `json:"name,omitempty"`
	Topic            string            `json:"topic,omitempty"`
	CanonicalAlias   string            `json:"canonical_alias,omitempty"`
	AvatarURL        string            `json:"avatar_url,omitempty"`
	JoinRule         string            `json:"join_rule,omitempty"`
	RoomType         string            `json:"room_type,omitempty"`
	NumJoinedMembers int               `json:"num_joined_members"`
	WorldReadable    bool              `json:"world_readable"`
	GuestCanJoin     bool              `json:"guest_can_join"`
	ChildrenState    []json.RawMessage `json:"children_state,omitempty"`
}

// Profile is a user's public profile.
type Profile struct {
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// RoomInfo bundles a room summary with an optional child room and event.
type RoomInfo struct {
	Info   RoomSummary     `json:"info"`
	Room   *RoomSummary    `json:"room,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
	Sender *Profile        `json:"sender,omitempty"`
}
