// policy/firstmedia.go
package policy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// FirstMediaConfig tunes the first-message-is-media protection.
type FirstMediaConfig struct {
	// CacheSize and TTL bound the pending-join state map. The TTL also acts
	// as a natural amnesty: a joiner who says nothing for that long is no
	// longer suspect.
	CacheSize int           `toml:"cache_size"`
	TTL       time.Duration `toml:"ttl"`
	// Noop logs enforcement instead of performing it.
	Noop bool `toml:"-"`
}

const (
	defaultFirstMediaCacheSize = 65536
	defaultFirstMediaTTL       = time.Hour

	firstMediaReason = "[automated] first message is image/media protection"
)

func (c *FirstMediaConfig) withDefaults() FirstMediaConfig {
	out := *c
	if out.CacheSize <= 0 {
		out.CacheSize = defaultFirstMediaCacheSize
	}
	if out.TTL <= 0 {
		out.TTL = defaultFirstMediaTTL
	}
	return out
}

// FirstMediaProtection kicks users whose very first event after genuinely
// joining a room is an image or video, and redacts that event. A user is
// only suspect for their first post-join event: any non-membership event
// from them clears the flag regardless of classification.
type FirstMediaProtection struct {
	client  Enforcer
	cfg     FirstMediaConfig
	pending *lru.LRU[string, struct{}]
}

func NewFirstMediaProtection(client Enforcer, cfg FirstMediaConfig) *FirstMediaProtection {
	cfg = cfg.withDefaults()
	return &FirstMediaProtection{
		client:  client,
		cfg:     cfg,
		pending: lru.NewLRU[string, struct{}](cfg.CacheSize, nil, cfg.TTL),
	}
}

func (p *FirstMediaProtection) Name() string { return "FirstMessageIsMediaProtection" }

func (p *FirstMediaProtection) Description() string {
	return "If the first thing a user does after joining is to post an " +
		"image or video, they are kicked and the event is redacted. This " +
		"does not publish the kick to any rule list."
}

func (p *FirstMediaProtection) HandleEvent(ctx context.Context, roomID string, ev *Event) {
	if ev.Type == EventTypeMember {
		// Membership churn is another protection's problem; only a genuine
		// join marks the user as suspect.
		if ev.IsTrueJoin() && ev.StateKey != nil {
			p.pending.Add(stateKey(roomID, *ev.StateKey), struct{}{})
			slog.Info("Tracking user as just joined",
				"user_id", *ev.StateKey, "room_id", roomID)
		}
		return
	}

	key := stateKey(roomID, ev.Sender)
	suspect := p.pending.Contains(key)

	if suspect && ev.IsMessage() && isMediaMessage(ev) {
		p.enforce(ctx, roomID, ev)
	}

	if suspect {
		p.pending.Remove(key)
		slog.Info("User no longer considered suspect",
			"user_id", ev.Sender, "room_id", roomID)
	}
}

// isMediaMessage classifies a message as media: an explicit image or video
// msgtype, or an HTML body smuggling an image tag.
func isMediaMessage(ev *Event) bool {
	switch ev.MsgType() {
	case MsgTypeImage, MsgTypeVideo:
		return true
	}
	return strings.Contains(strings.ToLower(ev.FormattedBody()), "<img")
}

func (p *FirstMediaProtection) enforce(ctx context.Context, roomID string, ev *Event) {
	attrs := []any{
		"user_id", ev.Sender, "room_id", roomID, "event_id", ev.ID,
	}
	// Best-effort media identification for the audit record.
	if ref, ok := ParseMediaRef(ev.MediaURL()); ok {
		attrs = append(attrs, "media_domain", ref.Domain, "media_id", ref.MediaID)
	}
	if mime := ev.MediaMimeType(); mime != "" {
		attrs = append(attrs, "mimetype", mime)
	}
	slog.Warn("Kicking user for posting media as their first event after joining", attrs...)
	protectionActionCount.WithLabelValues(p.Name(), string(ActionKick)).Inc()

	if p.cfg.Noop {
		slog.Warn("Noop mode: first-media kick and redaction skipped",
			"user_id", ev.Sender, "room_id", roomID)
		return
	}

	if err := p.client.Sanction(ctx, ev.Sender, roomID, ActionKick, firstMediaReason); err != nil {
		slog.Error("Failed to kick user",
			"user_id", ev.Sender, "room_id", roomID, "error", err)
	}
	if err := p.client.RedactEvent(ctx, roomID, ev.ID, firstMediaReason); err != nil {
		slog.Error("Failed to redact media event",
			"event_id", ev.ID, "room_id", roomID, "error", err)
	}
}
