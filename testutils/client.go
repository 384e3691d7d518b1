// testutils/client.go
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/watchful-im/warden/policy"
)

// SanctionCall records one Sanction invocation.
type SanctionCall struct {
	UserID string
	RoomID string
	Action policy.Action
	Reason string
}

// RedactionCall records one RedactEvent invocation.
type RedactionCall struct {
	RoomID  string
	EventID string
	Reason  string
}

// NoticeCall records one SendNotice invocation.
type NoticeCall struct {
	RoomID string
	Text   string
	HTML   string
}

// MockClient is a recording implementation of policy.Enforcer. The Ops
// slice additionally keeps a flat, ordered trace of mutating calls so tests
// can assert ordering (e.g. redact-before-sanction).
type MockClient struct {
	mu sync.Mutex

	MembersByRoom map[string][]policy.Member
	MembersErr    map[string]error
	SanctionErr   error
	Managers      map[string]bool

	Sanctions     []SanctionCall
	Redactions    []RedactionCall
	RedactedUsers []string
	Notices       []NoticeCall
	Ops           []string
}

var _ policy.Enforcer = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		MembersByRoom: make(map[string][]policy.Member),
		MembersErr:    make(map[string]error),
		Managers:      make(map[string]bool),
	}
}

func (c *MockClient) Members(ctx context.Context, roomID string, mode policy.MembershipMode) ([]policy.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.MembersErr[roomID]; err != nil {
		return nil, err
	}
	return c.MembersByRoom[roomID], nil
}

func (c *MockClient) Sanction(ctx context.Context, userID, roomID string, action policy.Action, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SanctionErr != nil {
		return c.SanctionErr
	}
	c.Sanctions = append(c.Sanctions, SanctionCall{UserID: userID, RoomID: roomID, Action: action, Reason: reason})
	c.Ops = append(c.Ops, fmt.Sprintf("%s %s %s", action, userID, roomID))
	return nil
}

func (c *MockClient) RedactEvent(ctx context.Context, roomID, eventID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Redactions = append(c.Redactions, RedactionCall{RoomID: roomID, EventID: eventID, Reason: reason})
	c.Ops = append(c.Ops, "redact "+eventID)
	return nil
}

func (c *MockClient) RedactUserMessages(ctx context.Context, userID string, roomIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RedactedUsers = append(c.RedactedUsers, userID)
	c.Ops = append(c.Ops, "redact-user "+userID)
	return nil
}

func (c *MockClient) SendNotice(ctx context.Context, roomID, text, html string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notices = append(c.Notices, NoticeCall{RoomID: roomID, Text: text, HTML: html})
	return nil
}

func (c *MockClient) IsManagementMember(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Managers[userID], nil
}
