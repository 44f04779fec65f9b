package service

import (
	"github.com/tidwall/gjson"
)

const (
	EventTypeHistoryVisibility = "m.room.history_visibility"
	EventTypeSpaceChild        = "m.space.child"
	EventTypeMember            = "m.room.member"
	EventTypePublicRoom        = "commune.public.room"

	VisibilityWorldReadable = "world_readable"
)

// Event is one classified event of a pushed transaction. The set of
// implementations is closed; consumers switch on the concrete type.
type Event interface {
	Room() string
	sealed()
}

type HistoryVisibilityEvent struct {
	RoomID     string
	Visibility string
}

type SpaceChildEvent struct {
	RoomID  string
	ChildID string
	Via     []string
}

type PublicRoomMarkerEvent struct {
	RoomID string
	Public bool
}

type MembershipEvent struct {
	RoomID     string
	Sender     string
	StateKey   string
	Membership string
}

// UnrecognizedEvent is anything the synchronizer ignores.
type UnrecognizedEvent struct {
	RoomID string
	Type   string
}

func (e HistoryVisibilityEvent) Room() string { return e.RoomID }
func (e SpaceChildEvent) Room() string        { return e.RoomID }
func (e PublicRoomMarkerEvent) Room() string  { return e.RoomID }
func (e MembershipEvent) Room() string        { return e.RoomID }
func (e UnrecognizedEvent) Room() string      { return e.RoomID }

func (HistoryVisibilityEvent) sealed() {}
func (SpaceChildEvent) sealed()        {}
func (PublicRoomMarkerEvent) sealed()  {}
func (MembershipEvent) sealed()        {}
func (UnrecognizedEvent) sealed()      {}

// ClassifyEvent decodes the fields the synchronizer needs from a raw
// event. Malformed events come back as UnrecognizedEvent.
func ClassifyEvent(raw []byte) Event {
	if !gjson.ValidBytes(raw) {
		return UnrecognizedEvent{}
	}
	fields := gjson.GetManyBytes(raw, "type", "room_id", "state_key", "sender", "content")
	evtType, roomID, stateKey, content := fields[0].String(), fields[1].String(), fields[2], fields[4]
	unknown := UnrecognizedEvent{RoomID: roomID, Type: evtType}
	if roomID == "" || !content.IsObject() {
		return unknown
	}

	switch evtType {
	case EventTypeHistoryVisibility:
		if v := content.Get("history_visibility"); v.Type == gjson.String {
			return HistoryVisibilityEvent{RoomID: roomID, Visibility: v.Str}
		}
	case EventTypeSpaceChild:
		if stateKey.Type == gjson.String && stateKey.Str != "" {
			ev := SpaceChildEvent{RoomID: roomID, ChildID: stateKey.Str}
			for _, v := range content.Get("via").Array() {
				ev.Via = append(ev.Via, v.String())
			}
			return ev
		}
	case EventTypePublicRoom:
		if p := content.Get("public"); p.IsBool() {
			return PublicRoomMarkerEvent{RoomID: roomID, Public: p.Bool()}
		}
	case EventTypeMember:
		m := content.Get("membership")
		if m.Type == gjson.String && stateKey.Type == gjson.String {
			return MembershipEvent{
				RoomID:     roomID,
				Sender:     fields[3].String(),
				StateKey:   stateKey.Str,
				Membership: m.Str,
			}
		}
	}
	return unknown
}
