// matrix/client.go
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/matrix-org/gomatrix"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/watchful-im/warden/policy"
)

const (
	managerCacheSize = 8192
	managerCacheTTL  = 5 * time.Minute

	defaultRedactionsPerSecond = 5
	defaultRedactionBurst      = 10
	defaultBackfillLimit       = 100
)

// Config wires a Client to a homeserver.
type Config struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
	// ManagementRoom backs IsManagementMember checks.
	ManagementRoom string
	// RedactionsPerSecond/RedactionBurst throttle outgoing redactions so a
	// large cleanup does not hammer the homeserver. Zero values use the
	// defaults above.
	RedactionsPerSecond float64
	RedactionBurst      int
	// BackfillLimit caps how many recent messages RedactUserMessages
	// inspects per room.
	BackfillLimit int
}

// Client implements the engine's capability interfaces on top of a
// homeserver's client-server API.
type Client struct {
	mc             *gomatrix.Client
	managementRoom string
	backfillLimit  int

	redactLimiter *rate.Limiter
	managers      *lru.LRU[string, bool]
	sf            singleflight.Group
}

var _ policy.Enforcer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	mc, err := gomatrix.NewClient(cfg.HomeserverURL, cfg.UserID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create homeserver client: %w", err)
	}

	rps := cfg.RedactionsPerSecond
	if rps <= 0 {
		rps = defaultRedactionsPerSecond
	}
	burst := cfg.RedactionBurst
	if burst <= 0 {
		burst = defaultRedactionBurst
	}
	backfill := cfg.BackfillLimit
	if backfill <= 0 {
		backfill = defaultBackfillLimit
	}

	return &Client{
		mc:             mc,
		managementRoom: cfg.ManagementRoom,
		backfillLimit:  backfill,
		redactLimiter:  rate.NewLimiter(rate.Limit(rps), burst),
		managers:       lru.NewLRU[string, bool](managerCacheSize, nil, managerCacheTTL),
	}, nil
}

// Underlying exposes the raw homeserver client for sync-loop wiring.
func (c *Client) Underlying() *gomatrix.Client { return c.mc }

// stateEvent is the shape of one entry of a GET /state response.
type stateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Content  json.RawMessage `json:"content"`
}

// Members returns the room's membership. MembersJoined uses the cheap
// joined-members endpoint and synthesizes membership == join;
// MembersFullState reads authoritative membership from room state.
func (c *Client) Members(ctx context.Context, roomID string, mode policy.MembershipMode) ([]policy.Member, error) {
	if mode == policy.MembersJoined {
		resp, err := c.mc.JoinedMembers(roomID)
		if err != nil {
			return nil, err
		}
		members := make([]policy.Member, 0, len(resp.Joined))
		for userID := range resp.Joined {
			members = append(members, policy.Member{UserID: userID, Membership: policy.MembershipJoin})
		}
		return members, nil
	}

	var state []stateEvent
	if err := c.mc.MakeRequest("GET", c.mc.BuildURL("rooms", roomID, "state"), nil, &state); err != nil {
		return nil, err
	}
	var members []policy.Member
	for _, ev := range state {
		if ev.Type != policy.EventTypeMember || ev.StateKey == "" {
			continue
		}
		membership := policy.MembershipJoin
		if v := gjson.GetBytes(ev.Content, "membership"); v.Exists() {
			membership = v.String()
		}
		members = append(members, policy.Member{UserID: ev.StateKey, Membership: membership})
	}
	return members, nil
}

// Sanction bans or kicks a user from a room.
func (c *Client) Sanction(ctx context.Context, userID, roomID string, action policy.Action, reason string) error {
	var err error
	switch action {
	case policy.ActionBan:
		_, err = c.mc.BanUser(roomID, &gomatrix.ReqBanUser{UserID: userID, Reason: reason})
	case policy.ActionKick:
		_, err = c.mc.KickUser(roomID, &gomatrix.ReqKickUser{UserID: userID, Reason: reason})
	default:
		return fmt.Errorf("unknown sanction action %q", action)
	}
	return err
}

// RedactEvent removes a single event, subject to the redaction throttle.
func (c *Client) RedactEvent(ctx context.Context, roomID, eventID, reason string) error {
	if err := c.redactLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.mc.RedactEvent(roomID, eventID, &gomatrix.ReqRedact{Reason: reason})
	return err
}

// RedactUserMessages removes the user's recent messages in the given rooms.
// One backfill page per room is inspected; older history is left alone.
func (c *Client) RedactUserMessages(ctx context.Context, userID string, roomIDs []string) error {
	for _, roomID := range roomIDs {
		resp, err := c.mc.Messages(roomID, "", "", 'b', c.backfillLimit)
		if err != nil {
			return err
		}
		for _, ev := range resp.Chunk {
			if ev.Sender != userID || ev.Type != policy.EventTypeMessage {
				continue
			}
			if len(ev.Content) == 0 {
				continue // already redacted
			}
			if err := c.RedactEvent(ctx, roomID, ev.ID, ""); err != nil {
				slog.Warn("Failed to redact message",
					"event_id", ev.ID, "room_id", roomID, "error", err)
			}
		}
	}
	return nil
}

// SendNotice posts a notice, optionally with an HTML rendering.
func (c *Client) SendNotice(ctx context.Context, roomID, text, html string) error {
	if html == "" {
		_, err := c.mc.SendNotice(roomID, text)
		return err
	}
	_, err := c.mc.SendMessageEvent(roomID, policy.EventTypeMessage, map[string]any{
		"msgtype":        policy.MsgTypeNotice,
		"body":           text,
		"format":         "org.matrix.custom.html",
		"formatted_body": html,
	})
	return err
}

// SendText posts a plain text message.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	_, err := c.mc.SendText(roomID, text)
	return err
}

// SendStateEvent publishes a state event, used to persist rules into a
// list's room.
func (c *Client) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error {
	_, err := c.mc.SendStateEvent(roomID, eventType, stateKey, content)
	return err
}

// ResolveAlias resolves a #alias to its room ID. Room IDs pass through.
func (c *Client) ResolveAlias(ctx context.Context, room string) (string, error) {
	if len(room) == 0 || room[0] != '#' {
		return room, nil
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := c.mc.MakeRequest("GET", c.mc.BuildURL("directory", "room", room), nil, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// RoomState returns the room's current state as engine events, used to
// prime rule lists at startup.
func (c *Client) RoomState(ctx context.Context, roomID string) ([]*policy.Event, error) {
	var state []stateEvent
	if err := c.mc.MakeRequest("GET", c.mc.BuildURL("rooms", roomID, "state"), nil, &state); err != nil {
		return nil, err
	}
	events := make([]*policy.Event, 0, len(state))
	for _, ev := range state {
		stateKeyCopy := ev.StateKey
		events = append(events, &policy.Event{
			Type:     ev.Type,
			RoomID:   roomID,
			StateKey: &stateKeyCopy,
			Content:  ev.Content,
		})
	}
	return events, nil
}

// IsManagementMember reports whether the user is joined to the management
// room. Lookups are cached and de-duplicated; every event dispatched to the
// flood protection consults this.
func (c *Client) IsManagementMember(ctx context.Context, userID string) (bool, error) {
	if v, ok := c.managers.Get(userID); ok {
		return v, nil
	}

	v, err, _ := c.sf.Do(userID, func() (any, error) {
		if v, ok := c.managers.Get(userID); ok {
			return v, nil
		}
		resp, err := c.mc.JoinedMembers(c.managementRoom)
		if err != nil {
			return false, err
		}
		for member := range resp.Joined {
			c.managers.Add(member, true)
		}
		_, joined := resp.Joined[userID]
		c.managers.Add(userID, joined)
		return joined, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ToEvent converts a raw homeserver event into the engine's event model.
func ToEvent(ev *gomatrix.Event) *policy.Event {
	content, _ := json.Marshal(ev.Content)

	unsigned := ev.Unsigned
	if ev.PrevContent != nil {
		if unsigned == nil {
			unsigned = map[string]any{}
		}
		if _, ok := unsigned["prev_content"]; !ok {
			unsigned["prev_content"] = ev.PrevContent
		}
	}
	var unsignedRaw json.RawMessage
	if unsigned != nil {
		unsignedRaw, _ = json.Marshal(unsigned)
	}

	return &policy.Event{
		ID:        ev.ID,
		Type:      ev.Type,
		RoomID:    ev.RoomID,
		Sender:    ev.Sender,
		StateKey:  ev.StateKey,
		Timestamp: ev.Timestamp,
		Content:   content,
		Unsigned:  unsignedRaw,
	}
}
