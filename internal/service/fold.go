package service

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/commune-sh/public-appservice/internal/models"
)

// HiddenRoomMarker excludes a room from the directory when it appears in
// the room's name.
const HiddenRoomMarker = "[⛓️]"

var bridgeEventTypes = map[string]struct{}{
	"m.bridge":            {},
	"m.room.bridged":      {},
	"m.room.discord":      {},
	"m.room.irc":          {},
	"uk.half-shot.bridge": {},
}

// FoldPublicRoom scans a room's state once and builds its directory entry.
func FoldPublicRoom(roomID string, state models.RoomState) models.PublicRoom {
	room := models.PublicRoom{RoomID: roomID}
	customName := false

	for _, evt := range state {
		content := gjson.ParseBytes(evt.Content)

		switch evt.Type {
		case "m.room.create":
			room.Sender = evt.Sender
			room.OriginServerTS = evt.OriginServerTS
			room.RoomType = content.Get("type").String()
		case "m.room.name":
			if !customName {
				room.Name = content.Get("name").String()
			}
		case "commune.room.name":
			if name := content.Get("name").String(); name != "" {
				room.Name = name
				customName = true
			}
		case "m.room.canonical_alias":
			room.CanonicalAlias = content.Get("alias").String()
		case "m.room.avatar":
			room.AvatarURL = content.Get("url").String()
		case "m.room.topic":
			room.Topic = content.Get("topic").String()
		case "m.room.history_visibility":
			room.HistoryVisibility = content.Get("history_visibility").String()
		case "m.room.join_rules":
			room.JoinRule = content.Get("join_rule").String()
		case "commune.room.banner":
			room.BannerURL = content.Get("url").String()
		case "commune.room.type":
			room.CommuneRoomType = content.Get("type").String()
		case "m.space.child":
			if len(content.Get("via").Array()) > 0 && evt.StateKey != "" {
				room.Children = append(room.Children, evt.StateKey)
			}
		}

		if _, ok := bridgeEventTypes[evt.Type]; ok {
			room.IsBridge = true
		}
	}
	return room
}

// FoldSummary is FoldPublicRoom restricted to the summary fields.
func FoldSummary(roomID string, state models.RoomState) models.RoomSummary {
	return FoldPublicRoom(roomID, state).Summary()
}

// Hidden reports whether room must be left out of the directory.
func Hidden(room models.PublicRoom) bool {
	return strings.Contains(room.Name, HiddenRoomMarker)
}
