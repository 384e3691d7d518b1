// policy/reconciler.go
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ReconcilerConfig carries the externally-owned knobs of a reconciliation
// pass.
type ReconcilerConfig struct {
	// ManagementRoom receives the aggregate summary notice after a pass.
	ManagementRoom string
	// FasterMembershipChecks selects the joined-only membership mode instead
	// of reading full room state.
	FasterMembershipChecks bool
	// IgnoreLeftUsers skips members in state leave as well as ban.
	IgnoreLeftUsers bool
	// Noop short-circuits every mutating call to a log-only action while
	// still counting it, for dry runs with identical control flow.
	Noop bool
	// AutomaticRedactReasons are glob patterns; when a matching rule's
	// reason matches one (case-insensitively), the member's recent messages
	// are redacted before the sanction is applied.
	AutomaticRedactReasons []string
}

// Reconciler applies the member sanctions represented by rule lists to
// protected rooms. Rooms are processed strictly sequentially so that error
// attribution stays per-room and load on the remote service stays bounded.
type Reconciler struct {
	client Enforcer

	mu          sync.RWMutex
	cfg         ReconcilerConfig
	redactGlobs []*Glob
}

func NewReconciler(client Enforcer, cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{client: client}
	r.setConfig(cfg)
	return r
}

// UpdateConfig swaps the reconciler's tuning, used by config hot-reload.
func (r *Reconciler) UpdateConfig(cfg ReconcilerConfig) {
	r.setConfig(cfg)
	slog.Debug("Reconciler configuration updated")
}

func (r *Reconciler) setConfig(cfg ReconcilerConfig) {
	globs := make([]*Glob, 0, len(cfg.AutomaticRedactReasons))
	for _, pattern := range cfg.AutomaticRedactReasons {
		globs = append(globs, NewGlob(strings.ToLower(pattern)))
	}

	r.mu.Lock()
	r.cfg = cfg
	r.redactGlobs = globs
	r.mu.Unlock()
}

func (r *Reconciler) snapshot() (ReconcilerConfig, []*Glob) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg, r.redactGlobs
}

// ApplyRules applies the user rules of the given lists to the given rooms,
// returning the rooms that could not be updated and their error. A failure
// in one room never aborts the others; the returned slice is always the
// complete error set for the pass. A single summary notice reporting the
// aggregate ban and kick counts is emitted at the end.
func (r *Reconciler) ApplyRules(ctx context.Context, lists []*List, roomIDs []string) []RoomUpdateError {
	cfg, redactGlobs := r.snapshot()

	var errs []RoomUpdateError
	var bansApplied, kicksApplied int

	for _, roomID := range roomIDs {
		bans, kicks, err := r.applyRoom(ctx, cfg, redactGlobs, lists, roomID)
		bansApplied += bans
		kicksApplied += kicks
		if err != nil {
			kind := classifyError(err)
			reconcileErrorCount.WithLabelValues(string(kind)).Inc()
			slog.Error("Failed to update room bans",
				"room_id", roomID, "kind", string(kind), "error", err)
			errs = append(errs, RoomUpdateError{
				RoomID:  roomID,
				Message: err.Error(),
				Kind:    kind,
			})
		}
	}

	r.reportSummary(ctx, cfg, bansApplied, kicksApplied)
	return errs
}

func (r *Reconciler) applyRoom(ctx context.Context, cfg ReconcilerConfig, redactGlobs []*Glob, lists []*List, roomID string) (bans, kicks int, err error) {
	slog.Debug("Updating member bans", "room_id", roomID)

	mode := MembersFullState
	if cfg.FasterMembershipChecks {
		mode = MembersJoined
	}
	members, err := r.client.Members(ctx, roomID, mode)
	if err != nil {
		return bans, kicks, err
	}

	for _, member := range members {
		if member.Membership == MembershipBan {
			continue // already sanctioned
		}
		if cfg.IgnoreLeftUsers && member.Membership == MembershipLeave {
			continue
		}

		// One ordered search over the flattened (list, rule) product: the
		// first rule recommending ban or kick wins for this member, and ban
		// and kick are never both applied in one pass.
	scan:
		for _, list := range lists {
			for _, rule := range list.UserRules() {
				if !rule.Match(member.UserID) {
					continue
				}

				switch rule.Recommendation() {
				case RecommendationBan:
					slog.Debug("Banning user",
						"user_id", member.UserID, "room_id", roomID, "reason", rule.Reason)
					if err := r.sanction(ctx, cfg, redactGlobs, member.UserID, roomID, ActionBan, rule.Reason); err != nil {
						return bans, kicks, err
					}
					bans++
					break scan
				case RecommendationKick:
					slog.Debug("Kicking user",
						"user_id", member.UserID, "room_id", roomID, "reason", rule.Reason)
					if err := r.sanction(ctx, cfg, redactGlobs, member.UserID, roomID, ActionKick, rule.Reason); err != nil {
						return bans, kicks, err
					}
					kicks++
					break scan
				default:
					slog.Warn("Unknown recommended action for user rule",
						"list", list.Shortcode, "entity", rule.Entity, "action", rule.Action)
				}
			}
		}
	}

	return bans, kicks, nil
}

func (r *Reconciler) sanction(ctx context.Context, cfg ReconcilerConfig, redactGlobs []*Glob, userID, roomID string, action Action, reason string) error {
	if cfg.Noop {
		slog.Warn("Noop mode: sanction skipped",
			"user_id", userID, "room_id", roomID, "action", string(action), "reason", reason)
		return nil
	}

	// Redactions always run before the sanction itself; once the user is
	// banned their messages may no longer be reachable.
	if reasonTriggersRedaction(redactGlobs, reason) {
		if err := r.client.RedactUserMessages(ctx, userID, []string{roomID}); err != nil {
			return err
		}
	}

	if err := r.client.Sanction(ctx, userID, roomID, action, reason); err != nil {
		return err
	}
	sanctionCount.WithLabelValues(string(action)).Inc()
	return nil
}

func reasonTriggersRedaction(redactGlobs []*Glob, reason string) bool {
	lowered := strings.ToLower(reason)
	for _, g := range redactGlobs {
		if g.Match(lowered) {
			return true
		}
	}
	return false
}

func (r *Reconciler) reportSummary(ctx context.Context, cfg ReconcilerConfig, bans, kicks int) {
	if cfg.ManagementRoom == "" {
		return
	}
	send := func(verb string, count int) {
		text := fmt.Sprintf("%s %d users", verb, count)
		html := fmt.Sprintf(`<font color="#00cc00"><b>%s %d users</b></font>`, verb, count)
		if err := r.client.SendNotice(ctx, cfg.ManagementRoom, text, html); err != nil {
			slog.Error("Failed to send reconciliation summary", "error", err)
		}
	}
	if bans > 0 {
		send("Banned", bans)
	}
	if kicks > 0 {
		send("Kicked", kicks)
	}
}
