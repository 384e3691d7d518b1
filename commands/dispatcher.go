// commands/dispatcher.go
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/watchful-im/warden/policy"
)

// Publisher is the slice of the chat client commands publish through.
type Publisher interface {
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error
	SendText(ctx context.Context, roomID, text string) error
	ResolveAlias(ctx context.Context, room string) (string, error)
}

// DefaultListSource resolves the default rule-list shortcode for commands
// that omit one.
type DefaultListSource interface {
	DefaultList(ctx context.Context) (string, error)
}

// Config wires a Dispatcher.
type Config struct {
	// Prefix is the command sigil, e.g. "!warden".
	Prefix         string
	ManagementRoom string
	Noop           bool

	Client    policy.Enforcer
	Publisher Publisher
	Manager   *policy.Manager
	Defaults  DefaultListSource

	// Lists and ProtectedRooms are read per command so hot reloads take
	// effect without rebuilding the dispatcher.
	Lists          func() []*policy.List
	ProtectedRooms func() []string
}

// Dispatcher parses management-room messages into moderation commands.
type Dispatcher struct {
	cfg Config
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Prefix == "" {
		cfg.Prefix = "!warden"
	}
	return &Dispatcher{cfg: cfg}
}

// rule content as persisted into a list's room; an empty object clears the
// rule for the state key's entity.
type ruleContent struct {
	Entity         string `json:"entity,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// HandleEvent inspects one room event and executes it as a command when it
// is a prefixed message in the management room.
func (d *Dispatcher) HandleEvent(ctx context.Context, roomID string, ev *policy.Event) {
	if roomID != d.cfg.ManagementRoom || !ev.IsMessage() {
		return
	}
	body := ev.Body()
	if body != d.cfg.Prefix && !strings.HasPrefix(body, d.cfg.Prefix+" ") {
		return
	}

	parts := strings.Fields(body)
	if len(parts) < 2 {
		d.reply(ctx, "Try `"+d.cfg.Prefix+" status`")
		return
	}

	slog.Info("Executing command", "command", parts[1], "sender", ev.Sender)

	switch parts[1] {
	case "addkick":
		d.execAddKick(ctx, parts)
	case "removekick":
		d.execRemoveKick(ctx, parts)
	case "kickonce":
		d.execKickOnce(ctx, parts)
	case "say":
		d.execSay(ctx, parts)
	case "enable":
		d.execSetProtection(ctx, parts, true)
	case "disable":
		d.execSetProtection(ctx, parts, false)
	case "status":
		d.execStatus(ctx)
	default:
		d.reply(ctx, fmt.Sprintf("Unknown command %q", parts[1]))
	}
}

func (d *Dispatcher) reply(ctx context.Context, text string) {
	if err := d.cfg.Client.SendNotice(ctx, d.cfg.ManagementRoom, text, ""); err != nil {
		slog.Error("Failed to send command reply", "error", err)
	}
}

// parseRuleArgs resolves the list, entity and reason of a rule command.
// The entity is the first argument that starts with '@' or contains a '*';
// a preceding argument naming a known shortcode selects the list, otherwise
// the stored default list is used. Everything after the entity is the
// reason. Returns a nil list with a user-facing message on failure.
func (d *Dispatcher) parseRuleArgs(ctx context.Context, parts []string) (*policy.List, string, string, string) {
	lists := d.cfg.Lists()

	findList := func(shortcode string) *policy.List {
		for _, l := range lists {
			if strings.EqualFold(l.Shortcode, shortcode) {
				return l
			}
		}
		return nil
	}

	var list *policy.List
	var entity string
	argumentIndex := 2
	for argumentIndex < 6 && argumentIndex < len(parts) {
		arg := parts[argumentIndex]
		argumentIndex++
		if arg == "" {
			break
		}
		if entity == "" && (arg[0] == '@' || strings.Contains(arg, "*")) {
			entity = arg
			break
		}
		if list == nil {
			list = findList(arg)
		}
	}

	if entity == "" {
		// Positional fallback: the entity sits right after the shortcode,
		// or right after the command when no shortcode was given.
		userIndex := 2
		if list != nil {
			userIndex++
		}
		if userIndex < len(parts) {
			entity = parts[userIndex]
		}
		argumentIndex = userIndex + 1
	}

	if list == nil {
		defaultShortcode, err := d.cfg.Defaults.DefaultList(ctx)
		if err != nil {
			slog.Warn("Non-fatal error getting default rule list", "error", err)
		} else if defaultShortcode != "" {
			list = findList(defaultShortcode)
		}
	}

	if list == nil {
		return nil, "", "", "No rule list matching that shortcode was found"
	}
	if entity == "" {
		return nil, "", "", "No entity found"
	}

	var reason string
	if argumentIndex < len(parts) {
		reason = strings.TrimSpace(strings.Join(parts[argumentIndex:], " "))
	}
	return list, entity, reason, ""
}

// addkick <shortcode> <glob> [reason] — publish a kick rule to the list.
func (d *Dispatcher) execAddKick(ctx context.Context, parts []string) {
	list, entity, reason, errMsg := d.parseRuleArgs(ctx, parts)
	if errMsg != "" {
		d.reply(ctx, errMsg)
		return
	}

	content := ruleContent{
		Entity:         entity,
		Recommendation: policy.RecommendationKick.Unstable(),
		Reason:         reason,
	}
	if err := d.cfg.Publisher.SendStateEvent(ctx, list.RoomID, string(policy.RuleUser), "rule:"+entity, content); err != nil {
		d.reply(ctx, "Failed to publish rule: "+err.Error())
		return
	}
	d.reply(ctx, "✅")
}

// removekick <shortcode> <glob> — clear the rule for the entity.
func (d *Dispatcher) execRemoveKick(ctx context.Context, parts []string) {
	list, entity, _, errMsg := d.parseRuleArgs(ctx, parts)
	if errMsg != "" {
		d.reply(ctx, errMsg)
		return
	}

	if err := d.cfg.Publisher.SendStateEvent(ctx, list.RoomID, string(policy.RuleUser), "rule:"+entity, ruleContent{}); err != nil {
		d.reply(ctx, "Failed to clear rule: "+err.Error())
		return
	}
	d.reply(ctx, "✅")
}

// kickonce <glob> [reason] — kick matching users from every protected room
// without publishing a rule.
func (d *Dispatcher) execKickOnce(ctx context.Context, parts []string) {
	var entity string
	argumentIndex := 2
	for argumentIndex < 6 && argumentIndex < len(parts) {
		arg := parts[argumentIndex]
		argumentIndex++
		if arg == "" {
			break
		}
		if arg[0] == '@' || strings.Contains(arg, "*") {
			entity = arg
			break
		}
	}
	if entity == "" && len(parts) > 2 {
		entity = parts[2]
		argumentIndex = 3
	}
	if entity == "" {
		d.reply(ctx, "No entity found")
		return
	}
	var reason string
	if argumentIndex < len(parts) {
		reason = strings.TrimSpace(strings.Join(parts[argumentIndex:], " "))
	}

	glob := policy.NewGlob(entity)
	slog.Info("Kicking users that match glob", "glob", entity)

	for _, roomID := range d.cfg.ProtectedRooms() {
		members, err := d.cfg.Client.Members(ctx, roomID, policy.MembersJoined)
		if err != nil {
			slog.Error("Failed to fetch members", "room_id", roomID, "error", err)
			continue
		}

		kicked := 0
		for _, member := range members {
			if !glob.Match(member.UserID) {
				continue
			}
			slog.Debug("Kicking user", "user_id", member.UserID, "room_id", roomID)
			if d.cfg.Noop {
				slog.Warn("Noop mode: kick skipped", "user_id", member.UserID, "room_id", roomID)
			} else if err := d.cfg.Client.Sanction(ctx, member.UserID, roomID, policy.ActionKick, reason); err != nil {
				slog.Error("Failed to kick user", "user_id", member.UserID, "room_id", roomID, "error", err)
				continue
			}
			kicked++
		}

		if kicked > 0 {
			text := fmt.Sprintf("Kicked %d user(s) in %s", kicked, roomID)
			html := fmt.Sprintf(`<font color="#00cc00"><b>Kicked %d user(s)</b></font> in %s`, kicked, roomID)
			if err := d.cfg.Client.SendNotice(ctx, d.cfg.ManagementRoom, text, html); err != nil {
				slog.Error("Failed to send kickonce summary", "error", err)
			}
		}
	}
}

// say <room alias/ID> <message> — speak into a room as the bot.
func (d *Dispatcher) execSay(ctx context.Context, parts []string) {
	var target string
	if len(parts) > 2 && (parts[2][0] == '#' || parts[2][0] == '!') {
		target = parts[2]
	}
	if target == "" {
		d.reply(ctx, "Please specify a target room")
		return
	}
	if len(parts) < 4 {
		d.reply(ctx, "Please specify a message to say")
		return
	}

	roomID, err := d.cfg.Publisher.ResolveAlias(ctx, target)
	if err != nil {
		d.reply(ctx, "Failed to resolve room: "+err.Error())
		return
	}

	message := strings.TrimSpace(strings.Join(parts[3:], " "))
	if err := d.cfg.Publisher.SendText(ctx, roomID, message); err != nil {
		d.reply(ctx, "Failed to send message: "+err.Error())
		return
	}
	d.reply(ctx, "✅")
}

// enable/disable <protection> — flip a protection, persisted across runs.
func (d *Dispatcher) execSetProtection(ctx context.Context, parts []string, enabled bool) {
	if len(parts) < 3 {
		d.reply(ctx, "Please specify a protection name")
		return
	}
	name := parts[2]

	var err error
	if enabled {
		err = d.cfg.Manager.Enable(ctx, name)
	} else {
		err = d.cfg.Manager.Disable(ctx, name)
	}
	if err != nil {
		d.reply(ctx, err.Error())
		return
	}
	d.reply(ctx, "✅")
}

// status — protections and lists at a glance.
func (d *Dispatcher) execStatus(ctx context.Context) {
	var b strings.Builder
	b.WriteString("Protections:\n")
	for _, p := range d.cfg.Manager.Available() {
		mark := "off"
		if d.cfg.Manager.IsEnabled(p.Name()) {
			mark = "on"
		}
		fmt.Fprintf(&b, "  %s [%s]\n", p.Name(), mark)
	}
	b.WriteString("Lists:\n")
	for _, l := range d.cfg.Lists() {
		fmt.Fprintf(&b, "  %s (%s): %d user rule(s)\n", l.Shortcode, l.RoomID, len(l.UserRules()))
	}
	if d.cfg.Noop {
		b.WriteString("Running in no-op mode.\n")
	}
	d.reply(ctx, b.String())
}
