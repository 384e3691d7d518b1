// policy/rule_test.go
package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchful-im/warden/policy"
)

func TestResolveRecommendation(t *testing.T) {
	tests := []struct {
		raw  string
		want policy.Recommendation
	}{
		{"m.ban", policy.RecommendationBan},
		{"org.matrix.mjolnir.ban", policy.RecommendationBan},
		{"m.kick", policy.RecommendationKick},
		{"org.matrix.mjolnir.kick", policy.RecommendationKick},
		{"m.mute", policy.RecommendationUnknown},
		{"", policy.RecommendationUnknown},
		{"M.BAN", policy.RecommendationUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			require.Equal(t, tc.want, policy.ResolveRecommendation(tc.raw))
		})
	}
}

func TestRecommendationIdentifiers(t *testing.T) {
	require.Equal(t, "m.ban", policy.RecommendationBan.Stable())
	require.Equal(t, "org.matrix.mjolnir.ban", policy.RecommendationBan.Unstable())
	require.Equal(t, "m.kick", policy.RecommendationKick.Stable())
	require.Equal(t, "org.matrix.mjolnir.kick", policy.RecommendationKick.Unstable())
	require.Empty(t, policy.RecommendationUnknown.Stable())
	require.Empty(t, policy.RecommendationUnknown.Unstable())

	// Resolving a recommendation's own identifiers round-trips.
	for _, r := range []policy.Recommendation{policy.RecommendationBan, policy.RecommendationKick} {
		require.Equal(t, r, policy.ResolveRecommendation(r.Stable()))
		require.Equal(t, r, policy.ResolveRecommendation(r.Unstable()))
	}
}

func TestRuleMatch(t *testing.T) {
	rule := policy.NewRule("@spam*:example.org", "m.ban", "spam")
	require.True(t, rule.Match("@spammer:example.org"))
	require.False(t, rule.Match("@regular:example.org"))
	require.Equal(t, policy.RecommendationBan, rule.Recommendation())

	empty := policy.NewRule("", "m.ban", "")
	require.False(t, empty.Match("@anyone:example.org"))
	require.False(t, empty.Match(""))
}
