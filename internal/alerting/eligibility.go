package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/beacon/internal/db"
)

// DefaultCooldown is the minimum time between two deliveries of the same
// alert to the same user.
const DefaultCooldown = 2 * time.Hour

// ShouldRemind decides whether alert is due for (re-)delivery to the user
// whose preference and latest delivery are pref and last. Either may be nil.
//
// Gates, first failure wins:
//  1. the alert has expired (now strictly after expiry)
//  2. reminders are disabled
//  3. the user snoozed it and now is strictly before snoozed_until
//  4. the last delivery is younger than the cooldown
func ShouldRemind(alert *db.Alert, pref *db.UserAlertPreference, last *db.NotificationDelivery, now time.Time) bool {
	return shouldRemind(alert, pref, last, now, DefaultCooldown)
}

func shouldRemind(alert *db.Alert, pref *db.UserAlertPreference, last *db.NotificationDelivery, now time.Time, cooldown time.Duration) bool {
	if alert.ExpiryTime != nil && now.After(*alert.ExpiryTime) {
		return false
	}

	if !alert.ReminderEnabled {
		return false
	}

	if pref != nil && pref.SnoozedUntil != nil && now.Before(*pref.SnoozedUntil) {
		return false
	}

	if last == nil {
		return true
	}

	return now.Sub(last.SentAt) >= cooldown
}

// Evaluator applies ShouldRemind with a configurable cooldown.
type Evaluator struct {
	cooldown time.Duration
}

// NewEvaluator creates an evaluator; a non-positive cooldown means DefaultCooldown.
func NewEvaluator(cooldown time.Duration) *Evaluator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Evaluator{cooldown: cooldown}
}

// Cooldown returns the configured cooldown.
func (e *Evaluator) Cooldown() time.Duration {
	return e.cooldown
}

// ShouldRemind is the pure decision with this evaluator's cooldown.
func (e *Evaluator) ShouldRemind(alert *db.Alert, pref *db.UserAlertPreference, last *db.NotificationDelivery, now time.Time) bool {
	return shouldRemind(alert, pref, last, now, e.cooldown)
}

// Evaluate loads the user's preference and latest delivery for alert and
// decides whether a reminder is due at now.
func (e *Evaluator) Evaluate(ctx context.Context, store HistoryStore, userID int64, alert *db.Alert, now time.Time) (bool, error) {
	pref, err := store.GetPreference(ctx, userID, alert.ID)
	if err != nil {
		return false, fmt.Errorf("load preference: %w", err)
	}

	last, err := store.LatestDelivery(ctx, userID, alert.ID)
	if err != nil {
		return false, fmt.Errorf("load latest delivery: %w", err)
	}

	return e.ShouldRemind(alert, pref, last, now), nil
}
