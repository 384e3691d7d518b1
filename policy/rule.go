// policy/rule.go
package policy

// Stable and legacy identifiers for rule recommendations. Lists in the wild
// still carry the legacy org.matrix.mjolnir.* values, so both spellings
// resolve to the same Recommendation.
const (
	StableRecommendationBan  = "m.ban"
	StableRecommendationKick = "m.kick"

	legacyRecommendationBan  = "org.matrix.mjolnir.ban"
	legacyRecommendationKick = "org.matrix.mjolnir.kick"
)

// Recommendation is the normalized verdict attached to a rule.
type Recommendation int

const (
	RecommendationUnknown Recommendation = iota
	RecommendationBan
	RecommendationKick
)

// ResolveRecommendation normalizes a raw action identifier. Anything outside
// the stable and legacy identifier sets yields RecommendationUnknown, which
// is a valid, inert value: such rules are logged and skipped, never enforced.
func ResolveRecommendation(raw string) Recommendation {
	switch raw {
	case StableRecommendationBan, legacyRecommendationBan:
		return RecommendationBan
	case StableRecommendationKick, legacyRecommendationKick:
		return RecommendationKick
	default:
		return RecommendationUnknown
	}
}

// Stable returns the stable wire identifier for the recommendation, or the
// empty string for RecommendationUnknown.
func (r Recommendation) Stable() string {
	switch r {
	case RecommendationBan:
		return StableRecommendationBan
	case RecommendationKick:
		return StableRecommendationKick
	default:
		return ""
	}
}

// Unstable returns the legacy wire identifier for the recommendation, or
// the empty string for RecommendationUnknown. Rules are still published
// with the legacy identifiers for compatibility with older list consumers.
func (r Recommendation) Unstable() string {
	switch r {
	case RecommendationBan:
		return legacyRecommendationBan
	case RecommendationKick:
		return legacyRecommendationKick
	default:
		return ""
	}
}

func (r Recommendation) String() string {
	switch r {
	case RecommendationBan:
		return "ban"
	case RecommendationKick:
		return "kick"
	default:
		return "unknown"
	}
}

// Rule is an immutable matcher: a glob entity pattern, a raw action
// identifier, and a human-readable reason. The reason defaults to the empty
// string when absent from the rule content.
type Rule struct {
	Entity string
	Action string
	Reason string

	glob *Glob
}

func NewRule(entity, action, reason string) *Rule {
	return &Rule{
		Entity: entity,
		Action: action,
		Reason: reason,
		glob:   NewGlob(entity),
	}
}

func (r *Rule) Recommendation() Recommendation {
	return ResolveRecommendation(r.Action)
}

// Match reports whether the candidate identifier matches the rule's entity
// pattern. A rule with an empty entity pattern matches nothing.
func (r *Rule) Match(candidate string) bool {
	return r.glob.Match(candidate)
}
