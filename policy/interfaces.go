// policy/interfaces.go
package policy

import "context"

// MembershipMode selects how room membership is retrieved.
type MembershipMode int

const (
	// MembersJoined fetches only currently joined members, which is cheaper
	// but synthesizes membership == join for everyone returned.
	MembersJoined MembershipMode = iota
	// MembersFullState reads authoritative membership from room state,
	// including leave and ban entries.
	MembersFullState
)

// Member is one entry of a room's membership.
type Member struct {
	UserID     string
	Membership string
}

// Action is a sanction kind applied to a user in a room.
type Action string

const (
	ActionBan  Action = "ban"
	ActionKick Action = "kick"
)

// Enforcer is the narrow slice of the chat client the engine acts through.
// Transport concerns (auth, retries, timeouts) belong to the implementation.
// It allows for easy swapping of the real client with a mock in tests.
type Enforcer interface {
	// Members returns the room's membership according to the given mode.
	Members(ctx context.Context, roomID string, mode MembershipMode) ([]Member, error)

	// Sanction bans or kicks a user from a room with the given reason.
	Sanction(ctx context.Context, userID, roomID string, action Action, reason string) error

	// RedactEvent removes a single event.
	RedactEvent(ctx context.Context, roomID, eventID, reason string) error

	// RedactUserMessages removes the user's recent messages in the rooms.
	RedactUserMessages(ctx context.Context, userID string, roomIDs []string) error

	// SendNotice posts a notice, optionally with an HTML rendering.
	SendNotice(ctx context.Context, roomID, text, html string) error

	// IsManagementMember reports whether the user belongs to the privileged
	// management room.
	IsManagementMember(ctx context.Context, userID string) (bool, error)
}
