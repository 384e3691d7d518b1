// policy/protection.go
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// Protection is an independent, stateful real-time event handler that may
// autonomously issue enforcement actions. Each protection owns its own
// state; nothing is shared between protections. Within one room, events are
// delivered in arrival order; no ordering holds across rooms.
type Protection interface {
	Name() string
	Description() string
	HandleEvent(ctx context.Context, roomID string, ev *Event)
}

// ProtectionStore persists which protections are enabled across restarts.
type ProtectionStore interface {
	IsProtectionEnabled(ctx context.Context, name string) (bool, error)
	SetProtectionEnabled(ctx context.Context, name string, enabled bool) error
}

// Manager is a registry of protections. It dispatches each live room event
// to every enabled protection, in registration order, independently of the
// outcome of the others.
type Manager struct {
	store ProtectionStore

	mu         sync.RWMutex
	registered []Protection
	enabled    map[string]bool
}

func NewManager(store ProtectionStore) *Manager {
	return &Manager{
		store:   store,
		enabled: make(map[string]bool),
	}
}

// Register adds a protection to the set of available protections, initially
// disabled. Names identify protections for enable/disable and reporting, so
// duplicates are rejected.
func (m *Manager) Register(p Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.registered {
		if existing.Name() == p.Name() {
			return fmt.Errorf("protection %q is already registered", p.Name())
		}
	}
	m.registered = append(m.registered, p)
	return nil
}

// RestoreEnabled loads each registered protection's persisted enabled flag.
func (m *Manager) RestoreEnabled(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.registered {
		enabled, err := m.store.IsProtectionEnabled(ctx, p.Name())
		if err != nil {
			return fmt.Errorf("failed to restore protection %q: %w", p.Name(), err)
		}
		if enabled {
			m.enabled[p.Name()] = true
			slog.Info("Protection restored", "protection", p.Name())
		}
	}
	return nil
}

// Enable turns a registered protection on and persists the flag.
func (m *Manager) Enable(ctx context.Context, name string) error {
	return m.setEnabled(ctx, name, true)
}

// Disable turns a registered protection off and persists the flag.
func (m *Manager) Disable(ctx context.Context, name string) error {
	return m.setEnabled(ctx, name, false)
}

func (m *Manager) setEnabled(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found bool
	for _, p := range m.registered {
		if p.Name() == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown protection %q", name)
	}

	if err := m.store.SetProtectionEnabled(ctx, name, enabled); err != nil {
		return err
	}
	if enabled {
		m.enabled[name] = true
	} else {
		delete(m.enabled, name)
	}
	slog.Info("Protection state changed", "protection", name, "enabled", enabled)
	return nil
}

// Available returns every registered protection, in registration order.
func (m *Manager) Available() []Protection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Protection, len(m.registered))
	copy(out, m.registered)
	return out
}

// Enabled returns the names of enabled protections, sorted.
func (m *Manager) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.enabled))
	for name := range m.enabled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsEnabled reports whether the named protection is currently enabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[name]
}

// Dispatch hands one room event to every enabled protection. Protections
// never propagate failures to the dispatcher: panics are recovered and
// logged so one misbehaving protection cannot take down event handling.
func (m *Manager) Dispatch(ctx context.Context, roomID string, ev *Event) {
	for _, p := range m.Available() {
		if !m.IsEnabled(p.Name()) {
			continue
		}
		protectionEventCount.WithLabelValues(p.Name()).Inc()
		m.dispatchOne(ctx, p, roomID, ev)
	}
}

func (m *Manager) dispatchOne(ctx context.Context, p Protection, roomID string, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in protection",
				"protection", p.Name(), "room_id", roomID, "event_id", ev.ID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	p.HandleEvent(ctx, roomID, ev)
}

// stateKey builds the composite (room, user) key protections address their
// state with.
func stateKey(roomID, userID string) string {
	return roomID + "|" + userID
}
