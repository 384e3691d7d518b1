// testutils/event.go
package testutils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/watchful-im/warden/policy"
)

// User IDs for tests that don't need specific identities.
const (
	TestUserID   = "@alice:example.org"
	TestRoomID   = "!room:example.org"
	TestListRoom = "!list:example.org"
)

var eventCounter int

// MakeEvent builds a room event with the given content, assigning a
// predictable sequential event ID.
func MakeEvent(eventType, roomID, sender string, ts time.Time, content map[string]any) *policy.Event {
	eventCounter++
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return &policy.Event{
		ID:        fmt.Sprintf("$event-%d", eventCounter),
		Type:      eventType,
		RoomID:    roomID,
		Sender:    sender,
		Timestamp: ts.UnixMilli(),
		Content:   raw,
	}
}

// MakeMessage builds an m.text room message.
func MakeMessage(roomID, sender, body string, ts time.Time) *policy.Event {
	return MakeEvent(policy.EventTypeMessage, roomID, sender, ts, map[string]any{
		"msgtype": policy.MsgTypeText,
		"body":    body,
	})
}

// MakeImage builds an m.image room message referencing the given mxc URL.
func MakeImage(roomID, sender, url string, ts time.Time) *policy.Event {
	return MakeEvent(policy.EventTypeMessage, roomID, sender, ts, map[string]any{
		"msgtype": policy.MsgTypeImage,
		"body":    "image.png",
		"url":     url,
		"info":    map[string]any{"mimetype": "image/png"},
	})
}

// MakeJoin builds a membership event for userID joining the room.
// prevMembership, when non-empty, is recorded as the previous state (a
// prev membership of join makes this a profile update, not a true join).
func MakeJoin(roomID, userID, prevMembership string, ts time.Time) *policy.Event {
	ev := MakeEvent(policy.EventTypeMember, roomID, userID, ts, map[string]any{
		"membership": policy.MembershipJoin,
	})
	stateKey := userID
	ev.StateKey = &stateKey
	if prevMembership != "" {
		unsigned, _ := json.Marshal(map[string]any{
			"prev_content": map[string]any{"membership": prevMembership},
		})
		ev.Unsigned = unsigned
	}
	return ev
}

// MakeRuleEvent builds a rule state event as the external list contract
// persists them. Empty entity yields cleared content, which removes the
// rule named by the state key.
func MakeRuleEvent(kind policy.RuleKind, stateKeyEntity, entity, recommendation, reason string) *policy.Event {
	content := map[string]any{}
	if entity != "" {
		content["entity"] = entity
		content["recommendation"] = recommendation
		if reason != "" {
			content["reason"] = reason
		}
	}
	ev := MakeEvent(string(kind), TestListRoom, TestUserID, time.Now(), content)
	stateKey := "rule:" + stateKeyEntity
	ev.StateKey = &stateKey
	return ev
}
