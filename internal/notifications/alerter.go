package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultCooldown = 15 * time.Minute

// Alerter forwards notifications to a Notifier, at most once per type per
// cooldown. Sends happen in the background so callers on the request path
// never wait on the notifier.
type Alerter struct {
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[NotificationType]time.Time
	wg       sync.WaitGroup
}

func NewAlerter(notifier Notifier, cooldown time.Duration) *Alerter {
	return &Alerter{
		notifier: notifier,
		cooldown: cooldown,
		now:      time.Now,
		lastSent: make(map[NotificationType]time.Time),
	}
}

// Alert reports whether the notification was dispatched.
func (a *Alerter) Alert(notification Notification) bool {
	if a == nil || a.notifier == nil {
		return false
	}

	a.mu.Lock()
	now := a.now()
	if last, ok := a.lastSent[notification.Type]; ok && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.lastSent[notification.Type] = now
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.notifier.Send(ctx, notification); err != nil {
			slog.Warn("failed to send notification", "type", notification.Type, "error", err)
		}
	}()

	return true
}

// Wait blocks until in-flight sends finish.
func (a *Alerter) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}
