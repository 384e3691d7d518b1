// policy/event.go
package policy

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Well-known event and message types. Legacy clients still emit the
// org.matrix.* message type, so both are treated as messages.
const (
	EventTypeMessage       = "m.room.message"
	eventTypeMessageLegacy = "org.matrix.room.message"
	EventTypeMember        = "m.room.member"

	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
	MsgTypeImage  = "m.image"
	MsgTypeVideo  = "m.video"

	MembershipJoin  = "join"
	MembershipLeave = "leave"
	MembershipBan   = "ban"
)

// Event is a room event with its content kept as raw JSON. Payload shapes
// vary wildly across clients, so typed accessors below extract the optional
// fields with documented defaults instead of free-form map access.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Sender    string          `json:"sender"`
	StateKey  *string         `json:"state_key,omitempty"`
	Timestamp int64           `json:"origin_server_ts"` // milliseconds
	Content   json.RawMessage `json:"content"`
	Unsigned  json.RawMessage `json:"unsigned,omitempty"`
}

// IsMessage reports whether the event carries a room message, including the
// legacy message event type.
func (e *Event) IsMessage() bool {
	return e.Type == EventTypeMessage || e.Type == eventTypeMessageLegacy
}

// MsgType returns the message type of the content. A missing msgtype
// defaults to m.text.
func (e *Event) MsgType() string {
	if v := gjson.GetBytes(e.Content, "msgtype"); v.Exists() {
		return v.String()
	}
	return MsgTypeText
}

// Body returns the plain-text body, or the empty string when absent.
func (e *Event) Body() string {
	return gjson.GetBytes(e.Content, "body").String()
}

// FormattedBody returns the HTML body, or the empty string when absent.
func (e *Event) FormattedBody() string {
	return gjson.GetBytes(e.Content, "formatted_body").String()
}

// Membership returns the membership state carried by a member event. Events
// with no content (e.g. cleared state) default to join, matching how the
// room state endpoint reports them.
func (e *Event) Membership() string {
	if v := gjson.GetBytes(e.Content, "membership"); v.Exists() {
		return v.String()
	}
	return MembershipJoin
}

// MediaURL returns the content's media URL (usually an mxc:// reference),
// or the empty string when absent.
func (e *Event) MediaURL() string {
	return gjson.GetBytes(e.Content, "url").String()
}

// MediaMimeType returns the declared mimetype of attached media, or the
// empty string when absent.
func (e *Event) MediaMimeType() string {
	return gjson.GetBytes(e.Content, "info.mimetype").String()
}

// IsTrueJoin reports whether a member event represents a user genuinely
// joining the room, as opposed to a profile update or other state churn
// where the previous membership was already join.
func (e *Event) IsTrueJoin() bool {
	if e.Type != EventTypeMember || e.StateKey == nil {
		return false
	}
	if e.Membership() != MembershipJoin {
		return false
	}
	prev := gjson.GetBytes(e.Unsigned, "prev_content.membership")
	return !prev.Exists() || prev.String() != MembershipJoin
}
