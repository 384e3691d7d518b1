// policy/list.go
package policy

import (
	"strings"

	"github.com/tidwall/gjson"
)

// RuleKind is the category of entity a rule applies to.
type RuleKind string

const (
	RuleUser   RuleKind = "m.policy.rule.user"
	RuleRoom   RuleKind = "m.policy.rule.room"
	RuleServer RuleKind = "m.policy.rule.server"
)

// State event types that carry rules, newest first. Older lists still use
// the m.room.rule.* and org.matrix.mjolnir.rule.* spellings.
var (
	userRuleTypes   = []string{string(RuleUser), "m.room.rule.user", "org.matrix.mjolnir.rule.user"}
	roomRuleTypes   = []string{string(RuleRoom), "m.room.rule.room", "org.matrix.mjolnir.rule.room"}
	serverRuleTypes = []string{string(RuleServer), "m.room.rule.server", "org.matrix.mjolnir.rule.server"}
)

// ParseRuleKind normalizes a rule state event type to its kind. The second
// return is false for event types that do not carry rules.
func ParseRuleKind(eventType string) (RuleKind, bool) {
	for kind, types := range map[RuleKind][]string{
		RuleUser:   userRuleTypes,
		RuleRoom:   roomRuleTypes,
		RuleServer: serverRuleTypes,
	} {
		for _, t := range types {
			if t == eventType {
				return kind, true
			}
		}
	}
	return "", false
}

// RuleEventTypes returns every state event type that may carry a rule, for
// subscribers that need to watch all of them.
func RuleEventTypes() []string {
	var out []string
	out = append(out, userRuleTypes...)
	out = append(out, roomRuleTypes...)
	out = append(out, serverRuleTypes...)
	return out
}

// List is a named collection of rules for the user, room and server
// categories, populated by an external subscription mechanism. Rules keep
// insertion order within a kind; updating an existing entity replaces the
// rule in place. The engine only ever reads lists, and population happens on
// the same event-dispatch goroutine, so no locking is required.
type List struct {
	Shortcode string
	RoomID    string

	rules map[RuleKind][]*Rule
}

func NewList(shortcode, roomID string) *List {
	return &List{
		Shortcode: shortcode,
		RoomID:    roomID,
		rules:     make(map[RuleKind][]*Rule),
	}
}

func (l *List) UserRules() []*Rule   { return l.rules[RuleUser] }
func (l *List) RoomRules() []*Rule   { return l.rules[RuleRoom] }
func (l *List) ServerRules() []*Rule { return l.rules[RuleServer] }

// UpsertRule adds a rule, replacing any existing rule for the same entity
// pattern while keeping its position.
func (l *List) UpsertRule(kind RuleKind, rule *Rule) {
	existing := l.rules[kind]
	for i, r := range existing {
		if r.Entity == rule.Entity {
			existing[i] = rule
			return
		}
	}
	l.rules[kind] = append(existing, rule)
}

// RemoveRule deletes the rule for the given entity pattern, if present.
func (l *List) RemoveRule(kind RuleKind, entity string) {
	existing := l.rules[kind]
	for i, r := range existing {
		if r.Entity == entity {
			l.rules[kind] = append(existing[:i], existing[i+1:]...)
			return
		}
	}
}

// ApplyRuleEvent folds one rule state event into the list. The external
// contract is a state event keyed `rule:<entity>` whose content is
// {entity, recommendation, reason}; empty or cleared content removes the
// rule for that entity. Events that are not rule state events are ignored.
func (l *List) ApplyRuleEvent(ev *Event) {
	kind, ok := ParseRuleKind(ev.Type)
	if !ok || ev.StateKey == nil {
		return
	}

	entity := gjson.GetBytes(ev.Content, "entity").String()
	if entity == "" {
		// Cleared rule content: the entity is recovered from the state key.
		if removed, found := strings.CutPrefix(*ev.StateKey, "rule:"); found {
			l.RemoveRule(kind, removed)
		}
		return
	}

	action := gjson.GetBytes(ev.Content, "recommendation").String()
	reason := gjson.GetBytes(ev.Content, "reason").String()
	l.UpsertRule(kind, NewRule(entity, action, reason))
}
