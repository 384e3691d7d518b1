// policy/firstmedia_test.go
package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchful-im/warden/policy"
	"github.com/watchful-im/warden/testutils"
)

func TestFirstMediaKicksMediaFirstPoster(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{})

	join := testutils.MakeJoin(testutils.TestRoomID, testutils.TestUserID, "", timeNow())
	p.HandleEvent(ctx, testutils.TestRoomID, join)

	img := testutils.MakeImage(testutils.TestRoomID, testutils.TestUserID, "mxc://example.org/abc", timeNow())
	p.HandleEvent(ctx, testutils.TestRoomID, img)

	require.Len(t, client.Sanctions, 1)
	require.Equal(t, policy.ActionKick, client.Sanctions[0].Action)
	require.Equal(t, testutils.TestUserID, client.Sanctions[0].UserID)
	require.Len(t, client.Redactions, 1)
	require.Equal(t, img.ID, client.Redactions[0].EventID)

	// The flag is consumed; a second image is no longer the first event.
	img2 := testutils.MakeImage(testutils.TestRoomID, testutils.TestUserID, "mxc://example.org/def", timeNow())
	p.HandleEvent(ctx, testutils.TestRoomID, img2)
	require.Len(t, client.Sanctions, 1)
}

func TestFirstMediaTextClearsSuspicion(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{})

	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeJoin(testutils.TestRoomID, testutils.TestUserID, "", timeNow()))
	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeMessage(testutils.TestRoomID, testutils.TestUserID, "hello", timeNow()))
	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeImage(testutils.TestRoomID, testutils.TestUserID, "mxc://example.org/abc", timeNow()))

	require.Empty(t, client.Sanctions)
	require.Empty(t, client.Redactions)
}

func TestFirstMediaIgnoresProfileUpdates(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{})

	// Previous membership already join: a display name change, not a join.
	update := testutils.MakeJoin(testutils.TestRoomID, testutils.TestUserID, policy.MembershipJoin, timeNow())
	p.HandleEvent(ctx, testutils.TestRoomID, update)
	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeImage(testutils.TestRoomID, testutils.TestUserID, "mxc://example.org/abc", timeNow()))

	require.Empty(t, client.Sanctions)
}

func TestFirstMediaCatchesEmbeddedImages(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{})

	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeJoin(testutils.TestRoomID, testutils.TestUserID, "", timeNow()))

	// An m.text message smuggling an image tag in its HTML body counts as
	// media, regardless of tag casing.
	smuggled := testutils.MakeEvent(policy.EventTypeMessage, testutils.TestRoomID, testutils.TestUserID, timeNow(), map[string]any{
		"msgtype":        policy.MsgTypeText,
		"body":           "look",
		"format":         "org.matrix.custom.html",
		"formatted_body": `<IMG src="mxc://example.org/abc">`,
	})
	p.HandleEvent(ctx, testutils.TestRoomID, smuggled)

	require.Len(t, client.Sanctions, 1)
	require.Len(t, client.Redactions, 1)
}

func TestFirstMediaScopedPerRoom(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{})

	p.HandleEvent(ctx, "!a:x", testutils.MakeJoin("!a:x", testutils.TestUserID, "", timeNow()))

	// Media in a room the user did not just join is not this protection's
	// business.
	p.HandleEvent(ctx, "!b:x", testutils.MakeImage("!b:x", testutils.TestUserID, "mxc://example.org/abc", timeNow()))
	require.Empty(t, client.Sanctions)

	p.HandleEvent(ctx, "!a:x", testutils.MakeImage("!a:x", testutils.TestUserID, "mxc://example.org/abc", timeNow()))
	require.Len(t, client.Sanctions, 1)
}

func TestFirstMediaNoop(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewMockClient()
	p := policy.NewFirstMediaProtection(client, policy.FirstMediaConfig{Noop: true})

	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeJoin(testutils.TestRoomID, testutils.TestUserID, "", timeNow()))
	p.HandleEvent(ctx, testutils.TestRoomID, testutils.MakeImage(testutils.TestRoomID, testutils.TestUserID, "mxc://example.org/abc", timeNow()))

	require.Empty(t, client.Sanctions)
	require.Empty(t, client.Redactions)
}
