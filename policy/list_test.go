// policy/list_test.go
package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchful-im/warden/policy"
	"github.com/watchful-im/warden/testutils"
)

func TestParseRuleKind(t *testing.T) {
	tests := []struct {
		eventType string
		want      policy.RuleKind
		ok        bool
	}{
		{"m.policy.rule.user", policy.RuleUser, true},
		{"m.room.rule.user", policy.RuleUser, true},
		{"org.matrix.mjolnir.rule.user", policy.RuleUser, true},
		{"m.policy.rule.room", policy.RuleRoom, true},
		{"m.policy.rule.server", policy.RuleServer, true},
		{"m.room.message", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.eventType, func(t *testing.T) {
			kind, ok := policy.ParseRuleKind(tc.eventType)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, kind)
		})
	}
}

func TestListUpsertReplacesInPlace(t *testing.T) {
	list := policy.NewList("test", testutils.TestListRoom)
	list.UpsertRule(policy.RuleUser, policy.NewRule("@a:x", "m.ban", "first"))
	list.UpsertRule(policy.RuleUser, policy.NewRule("@b:x", "m.ban", "second"))
	list.UpsertRule(policy.RuleUser, policy.NewRule("@a:x", "m.kick", "updated"))

	rules := list.UserRules()
	require.Len(t, rules, 2)
	// The updated rule keeps its original position.
	require.Equal(t, "@a:x", rules[0].Entity)
	require.Equal(t, "updated", rules[0].Reason)
	require.Equal(t, policy.RecommendationKick, rules[0].Recommendation())
	require.Equal(t, "@b:x", rules[1].Entity)
}

func TestListRemoveRule(t *testing.T) {
	list := policy.NewList("test", testutils.TestListRoom)
	list.UpsertRule(policy.RuleUser, policy.NewRule("@a:x", "m.ban", ""))
	list.UpsertRule(policy.RuleUser, policy.NewRule("@b:x", "m.ban", ""))

	list.RemoveRule(policy.RuleUser, "@a:x")
	rules := list.UserRules()
	require.Len(t, rules, 1)
	require.Equal(t, "@b:x", rules[0].Entity)

	// Removing an absent entity is a no-op.
	list.RemoveRule(policy.RuleUser, "@missing:x")
	require.Len(t, list.UserRules(), 1)
}

func TestListApplyRuleEvent(t *testing.T) {
	list := policy.NewList("test", testutils.TestListRoom)

	list.ApplyRuleEvent(testutils.MakeRuleEvent(policy.RuleUser, "@spam*:x", "@spam*:x", "m.ban", "spam"))
	require.Len(t, list.UserRules(), 1)
	require.Equal(t, "@spam*:x", list.UserRules()[0].Entity)
	require.Equal(t, "spam", list.UserRules()[0].Reason)

	// Legacy event types land in the same kind.
	legacy := testutils.MakeRuleEvent(policy.RuleUser, "@old:x", "@old:x", "org.matrix.mjolnir.ban", "")
	legacy.Type = "org.matrix.mjolnir.rule.user"
	list.ApplyRuleEvent(legacy)
	require.Len(t, list.UserRules(), 2)

	// Cleared content removes the rule named by the state key.
	list.ApplyRuleEvent(testutils.MakeRuleEvent(policy.RuleUser, "@spam*:x", "", "", ""))
	rules := list.UserRules()
	require.Len(t, rules, 1)
	require.Equal(t, "@old:x", rules[0].Entity)

	// Non-rule events are ignored.
	list.ApplyRuleEvent(testutils.MakeMessage(testutils.TestListRoom, testutils.TestUserID, "hello", timeNow()))
	require.Len(t, list.UserRules(), 1)

	// Rule events without a state key are ignored.
	noKey := testutils.MakeRuleEvent(policy.RuleUser, "@x:x", "@x:x", "m.ban", "")
	noKey.StateKey = nil
	list.ApplyRuleEvent(noKey)
	require.Len(t, list.UserRules(), 1)
}
