package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/lalithlochan/beacon/internal/db"
)

// Record appends one delivery of alertID to userID stamped now. It never
// deduplicates: every call adds a row.
func Record(ctx context.Context, store DeliveryStore, userID, alertID int64, now time.Time) (*db.NotificationDelivery, error) {
	d := &db.NotificationDelivery{
		UserID:  userID,
		AlertID: alertID,
		SentAt:  now,
	}

	if err := store.InsertDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("record delivery of alert %d to user %d: %w", alertID, userID, err)
	}

	return d, nil
}
