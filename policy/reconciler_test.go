// policy/reconciler_test.go
package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchful-im/warden/policy"
	"github.com/watchful-im/warden/testutils"
)

func listWithRules(shortcode string, rules ...*policy.Rule) *policy.List {
	list := policy.NewList(shortcode, "!"+shortcode+":example.org")
	for _, r := range rules {
		list.UpsertRule(policy.RuleUser, r)
	}
	return list
}

func joinedMembers(userIDs ...string) []policy.Member {
	members := make([]policy.Member, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, policy.Member{UserID: id, Membership: policy.MembershipJoin})
	}
	return members
}

func TestApplyRulesFirstMatchingListWins(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@target:x")

	// The kick list comes first, so the matching kick rule wins even though a
	// later list recommends a ban for the same user.
	kicks := listWithRules("kicks", policy.NewRule("@target:x", "m.kick", "kicked"))
	bans := listWithRules("bans", policy.NewRule("@target:x", "m.ban", "banned"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{})
	errs := r.ApplyRules(context.Background(), []*policy.List{kicks, bans}, []string{"!r:x"})
	require.Empty(t, errs)

	require.Len(t, client.Sanctions, 1)
	require.Equal(t, policy.ActionKick, client.Sanctions[0].Action)
	require.Equal(t, "@target:x", client.Sanctions[0].UserID)
	require.Equal(t, "kicked", client.Sanctions[0].Reason)
}

func TestApplyRulesFirstRuleInListWins(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@target:x")

	list := listWithRules("rules",
		policy.NewRule("@target:x", "m.ban", "banned"),
		policy.NewRule("@target*:x", "m.kick", "kicked"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})
	require.Empty(t, errs)

	// Ban and kick are never both applied to one member in a single pass.
	require.Len(t, client.Sanctions, 1)
	require.Equal(t, policy.ActionBan, client.Sanctions[0].Action)
}

func TestApplyRulesSkipsSanctionedMembers(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = []policy.Member{
		{UserID: "@banned:x", Membership: policy.MembershipBan},
		{UserID: "@left:x", Membership: policy.MembershipLeave},
		{UserID: "@joined:x", Membership: policy.MembershipJoin},
	}

	list := listWithRules("rules", policy.NewRule("@*:x", "m.ban", "match all"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{IgnoreLeftUsers: true})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})
	require.Empty(t, errs)

	// Already-banned members are always skipped; left members only because
	// IgnoreLeftUsers is set. Running the same pass again changes nothing
	// once the membership reflects the sanction.
	require.Len(t, client.Sanctions, 1)
	require.Equal(t, "@joined:x", client.Sanctions[0].UserID)
}

func TestApplyRulesContinuesPastFailingRooms(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!a:x"] = joinedMembers("@target:x")
	client.MembersErr["!b:x"] = errors.New("M_FORBIDDEN: You don't have permission to ban/kick in this room")
	client.MembersByRoom["!c:x"] = joinedMembers("@target:x")

	list := listWithRules("rules", policy.NewRule("@target:x", "m.ban", ""))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!a:x", "!b:x", "!c:x"})

	// The failing room produces exactly one error and the pass still covers
	// the rooms after it.
	require.Len(t, errs, 1)
	require.Equal(t, "!b:x", errs[0].RoomID)
	require.Equal(t, policy.ErrorKindPermission, errs[0].Kind)
	require.Contains(t, errs[0].Message, "permission")

	require.Len(t, client.Sanctions, 2)
	require.Equal(t, "!a:x", client.Sanctions[0].RoomID)
	require.Equal(t, "!c:x", client.Sanctions[1].RoomID)
}

func TestApplyRulesClassifiesUnknownErrorsAsFatal(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersErr["!r:x"] = errors.New("connection refused")

	r := policy.NewReconciler(client, policy.ReconcilerConfig{})
	errs := r.ApplyRules(context.Background(), nil, []string{"!r:x"})
	require.Len(t, errs, 1)
	require.Equal(t, policy.ErrorKindFatal, errs[0].Kind)
}

func TestApplyRulesRedactsBeforeSanction(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@spammer:x")

	list := listWithRules("rules", policy.NewRule("@spammer:x", "m.ban", "Spam advertising"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{
		AutomaticRedactReasons: []string{"spam*"},
	})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})
	require.Empty(t, errs)

	// Reason matching is case-insensitive and the redaction strictly precedes
	// the sanction.
	require.Equal(t, []string{"redact-user @spammer:x", "ban @spammer:x !r:x"}, client.Ops)
}

func TestApplyRulesNoRedactionWhenReasonDoesNotMatch(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@target:x")

	list := listWithRules("rules", policy.NewRule("@target:x", "m.ban", "being rude"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{
		AutomaticRedactReasons: []string{"spam*"},
	})
	r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})

	require.Empty(t, client.RedactedUsers)
	require.Len(t, client.Sanctions, 1)
}

func TestApplyRulesNoopCountsWithoutActing(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@target:x")

	list := listWithRules("rules", policy.NewRule("@target:x", "m.ban", "spam"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{
		Noop:                   true,
		ManagementRoom:         "!mgmt:x",
		AutomaticRedactReasons: []string{"spam*"},
	})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})
	require.Empty(t, errs)

	// Nothing mutates, but the would-be ban still shows up in the summary.
	require.Empty(t, client.Sanctions)
	require.Empty(t, client.RedactedUsers)
	require.Len(t, client.Notices, 1)
	require.Equal(t, "Banned 1 users", client.Notices[0].Text)
}

func TestApplyRulesSkipsUnknownRecommendations(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@target:x")

	// The first matching rule carries an unenforceable action; the scan must
	// continue and apply the later ban rule.
	list := listWithRules("rules",
		policy.NewRule("@target:x", "m.mute", "unknown action"),
		policy.NewRule("@target:x", "m.ban", "banned"))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{})
	errs := r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})
	require.Empty(t, errs)

	require.Len(t, client.Sanctions, 1)
	require.Equal(t, policy.ActionBan, client.Sanctions[0].Action)
}

func TestApplyRulesSummaryNotice(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@banme:x", "@kickme:x", "@alsoban:x")

	list := listWithRules("rules",
		policy.NewRule("@banme:x", "m.ban", ""),
		policy.NewRule("@alsoban:x", "m.ban", ""),
		policy.NewRule("@kickme:x", "m.kick", ""))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{ManagementRoom: "!mgmt:x"})
	r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})

	require.Len(t, client.Notices, 2)
	require.Equal(t, "!mgmt:x", client.Notices[0].RoomID)
	require.Equal(t, "Banned 2 users", client.Notices[0].Text)
	require.Equal(t, `<font color="#00cc00"><b>Banned 2 users</b></font>`, client.Notices[0].HTML)
	require.Equal(t, "Kicked 1 users", client.Notices[1].Text)
}

func TestApplyRulesNoSummaryWhenNothingHappened(t *testing.T) {
	client := testutils.NewMockClient()
	client.MembersByRoom["!r:x"] = joinedMembers("@innocent:x")

	list := listWithRules("rules", policy.NewRule("@guilty:x", "m.ban", ""))

	r := policy.NewReconciler(client, policy.ReconcilerConfig{ManagementRoom: "!mgmt:x"})
	r.ApplyRules(context.Background(), []*policy.List{list}, []string{"!r:x"})

	require.Empty(t, client.Notices)
}
