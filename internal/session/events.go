package session

import (
	"context"

	"github.com/dtroode/storefront-session/internal/model"
)

// Listener receives session-ended events.
type Listener func(ev model.SessionEvent)

// OnSessionEnded registers l and returns a function that removes it.
func (m *Manager) OnSessionEnded(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = l

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// RedirectOnEnd returns a Listener sending nav to entryPoint unless it is already there.
func RedirectOnEnd(nav model.Navigator, entryPoint string) Listener {
	return func(model.SessionEvent) {
		if nav.Location() == entryPoint {
			return
		}
		nav.Redirect(entryPoint)
	}
}

func (m *Manager) endSession(ctx context.Context, reason model.EndReason, cause error) {
	ev := model.SessionEvent{Reason: reason, Err: cause, At: m.now()}

	m.metrics.SessionEnded(string(reason))
	if cause != nil {
		m.logger.WarnContext(ctx, "Session manager: session ended",
			"reason", reason,
			"error", cause.Error())
	} else {
		m.logger.InfoContext(ctx, "Session manager: session ended",
			"reason", reason)
	}

	m.listenersMu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

type nopMetrics struct{}

func (nopMetrics) RefreshCompleted(error) {}
func (nopMetrics) RequestQueued()         {}
func (nopMetrics) RequestRetried()        {}
func (nopMetrics) SessionEnded(string)    {}

