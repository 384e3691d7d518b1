// policy/flood.go
package policy

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// FloodConfig tunes the flood protection. Zero values fall back to the
// defaults below.
type FloodConfig struct {
	// MaxPerInterval is how many messages within Interval trip the
	// protection.
	MaxPerInterval int `toml:"max_per_interval"`
	// Interval is the sliding window; only messages strictly younger than
	// this count.
	Interval time.Duration `toml:"interval"`
	// TimestampSkew is how far in the past an event's claimed timestamp may
	// be before it is rewritten to now. Without this, backdated timestamps
	// would evade the window.
	TimestampSkew time.Duration `toml:"timestamp_skew"`
	// CacheSize and TTL bound the per-(room,user) state map.
	CacheSize int           `toml:"cache_size"`
	TTL       time.Duration `toml:"ttl"`
	// Noop logs enforcement instead of performing it.
	Noop bool `toml:"-"`
}

const (
	defaultFloodMaxPerInterval = 7
	defaultFloodInterval       = 10 * time.Second
	defaultFloodTimestampSkew  = 5 * time.Second
	defaultFloodCacheSize      = 65536
	defaultFloodTTL            = 10 * time.Minute
)

func (c *FloodConfig) withDefaults() FloodConfig {
	out := *c
	if out.MaxPerInterval <= 0 {
		out.MaxPerInterval = defaultFloodMaxPerInterval
	}
	if out.Interval <= 0 {
		out.Interval = defaultFloodInterval
	}
	if out.TimestampSkew <= 0 {
		out.TimestampSkew = defaultFloodTimestampSkew
	}
	if out.CacheSize <= 0 {
		out.CacheSize = defaultFloodCacheSize
	}
	if out.TTL <= 0 {
		out.TTL = defaultFloodTTL
	}
	return out
}

type messageRef struct {
	ts      time.Time
	eventID string
}

// FloodProtection kicks users who post too many messages in a short window
// and redacts the burst. State is a bounded, time-ordered queue of recent
// messages per (room, user), session-scoped and never persisted.
type FloodProtection struct {
	client Enforcer
	cfg    FloodConfig
	recent *lru.LRU[string, []messageRef]
	now    func() time.Time
}

func NewFloodProtection(client Enforcer, cfg FloodConfig) *FloodProtection {
	cfg = cfg.withDefaults()
	return &FloodProtection{
		client: client,
		cfg:    cfg,
		recent: lru.NewLRU[string, []messageRef](cfg.CacheSize, nil, cfg.TTL),
		now:    time.Now,
	}
}

func (p *FloodProtection) Name() string { return "FloodProtection" }

func (p *FloodProtection) Description() string {
	return "If a user posts too many messages in a short window they are " +
		"kicked for spam and the burst is redacted. This does not publish " +
		"the kick to any rule list."
}

func (p *FloodProtection) HandleEvent(ctx context.Context, roomID string, ev *Event) {
	if !ev.IsMessage() {
		return
	}

	// Events sent by members of the management room are never counted.
	isManager, err := p.client.IsManagementMember(ctx, ev.Sender)
	if err != nil {
		slog.Error("Failed to check management membership",
			"user_id", ev.Sender, "error", err)
		return
	}
	if isManager {
		return
	}

	now := p.now()
	ts := time.UnixMilli(ev.Timestamp)
	if now.Sub(ts) > p.cfg.TimestampSkew {
		slog.Warn("Event timestamp out of phase, rewriting to now",
			"event_id", ev.ID, "skew", now.Sub(ts))
		ts = now
	}

	key := stateKey(roomID, ev.Sender)
	queue, _ := p.recent.Get(key)
	queue = append(queue, messageRef{ts: ts, eventID: ev.ID})

	recent := 0
	for _, ref := range queue {
		if now.Sub(ref.ts) < p.cfg.Interval {
			recent++
		}
	}

	if recent >= p.cfg.MaxPerInterval {
		slog.Warn("Kicking user for flooding",
			"user_id", ev.Sender, "room_id", roomID,
			"messages", recent, "interval", p.cfg.Interval)
		protectionActionCount.WithLabelValues(p.Name(), string(ActionKick)).Inc()

		if p.cfg.Noop {
			slog.Warn("Noop mode: flood kick and redactions skipped",
				"user_id", ev.Sender, "room_id", roomID)
		} else {
			if err := p.client.Sanction(ctx, ev.Sender, roomID, ActionKick, "[automated] spam"); err != nil {
				slog.Error("Failed to kick flooding user",
					"user_id", ev.Sender, "room_id", roomID, "error", err)
			}
			for _, ref := range queue {
				if err := p.client.RedactEvent(ctx, roomID, ref.eventID, "[automated] spam"); err != nil {
					slog.Error("Failed to redact flood message",
						"event_id", ref.eventID, "room_id", roomID, "error", err)
				}
			}
		}

		// Clearing the queue resets the window: a user is punished at most
		// once per burst.
		p.recent.Remove(key)
		return
	}

	// The queue must stay bounded even when the threshold never fires.
	if max := p.cfg.MaxPerInterval * 2; len(queue) > max {
		queue = queue[len(queue)-max:]
	}
	p.recent.Add(key, queue)
}
