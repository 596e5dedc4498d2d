package db

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced row does not exist or is no
// longer visible (e.g. an archived alert).
var ErrNotFound = errors.New("not found")

// User is a recipient of alerts
type User struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Team *string `json:"team,omitempty"`
}

// Severity constants
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Severities lists every valid severity in display order.
var Severities = []string{SeverityInfo, SeverityWarning, SeverityCritical}

// Audience type constants
const (
	AudienceOrg  = "org"
	AudienceTeam = "team"
	AudienceUser = "user"
)

// Alert represents an alert in the database.
//
// AudienceIDs is stored as JSONB. Its element type depends on AudienceType:
// team names for "team", user ids for "user", and it is ignored for "org".
type Alert struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	Severity        string          `json:"severity"`
	StartTime       time.Time       `json:"start_time"`
	ExpiryTime      *time.Time      `json:"expiry_time"`
	ReminderEnabled bool            `json:"reminder_enabled"`
	AudienceType    string          `json:"audience_type"`
	AudienceIDs     json.RawMessage `json:"audience_ids"`
	IsArchived      bool            `json:"is_archived"`
}

// NotificationDelivery is one in-app delivery of an alert to a user.
// Rows are append-only.
type NotificationDelivery struct {
	ID      int64     `json:"id"`
	UserID  int64     `json:"user_id"`
	AlertID int64     `json:"alert_id"`
	SentAt  time.Time `json:"sent_at"`
}

// UserAlertPreference holds a user's read/snooze state for one alert.
// There is at most one row per (user_id, alert_id).
type UserAlertPreference struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	AlertID      int64      `json:"alert_id"`
	IsRead       bool       `json:"is_read"`
	SnoozedUntil *time.Time `json:"snoozed_until"`
}

// Analytics holds aggregate counters across the whole store
type Analytics struct {
	TotalAlerts int64            `json:"total_alerts"`
	Delivered   int64            `json:"delivered"`
	Read        int64            `json:"read"`
	Snoozed     int64            `json:"snoozed"`
	BySeverity  map[string]int64 `json:"by_severity"`
}
