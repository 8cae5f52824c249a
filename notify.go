package main

import (
	"log/slog"
)

// RefreshListener is notified after every completed refresh with the
// freshly computed counters. Listeners let secondary caches and similar
// collaborators react without the scheduler depending on them; nothing is
// consumed from the call.
type RefreshListener interface {
	MetricsRefreshed(itemID uint, counts map[string]int64)
}

// Subscribe registers a listener for refresh notifications.
func (s *Scheduler) Subscribe(l RefreshListener) {
	s.listenerLk.Lock()
	defer s.listenerLk.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) notifyRefreshed(itemID uint, counts map[string]int64) {
	s.listenerLk.Lock()
	ls := make([]RefreshListener, len(s.listeners))
	copy(ls, s.listeners)
	s.listenerLk.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("refresh listener panicked", "item", itemID, "panic", r)
				}
			}()
			l.MetricsRefreshed(itemID, counts)
		}()
	}
}
