package alerting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/sns"
)

func TestCreateAlert_Validation(t *testing.T) {
	valid := func() CreateAlertInput {
		return CreateAlertInput{
			Title:        "Office closed",
			Message:      "Building closed Friday",
			Severity:     db.SeverityInfo,
			AudienceType: db.AudienceTeam,
			AudienceIDs:  json.RawMessage(`["Engineering"]`),
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreateAlertInput)
	}{
		{"blank title", func(in *CreateAlertInput) { in.Title = "  " }},
		{"missing message", func(in *CreateAlertInput) { in.Message = "" }},
		{"unknown severity", func(in *CreateAlertInput) { in.Severity = "urgent" }},
		{"unknown audience type", func(in *CreateAlertInput) { in.AudienceType = "department" }},
		{"team ids are numbers", func(in *CreateAlertInput) { in.AudienceIDs = json.RawMessage(`[1]`) }},
		{"user ids are names", func(in *CreateAlertInput) {
			in.AudienceType = db.AudienceUser
			in.AudienceIDs = json.RawMessage(`["bob"]`)
		}},
		{"expiry in the past", func(in *CreateAlertInput) { in.ExpiryTime = tp(t0.Add(-time.Minute)) }},
		{"expiry now", func(in *CreateAlertInput) { in.ExpiryTime = tp(t0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore()
			svc, _ := newTestService(t, store, nil)

			in := valid()
			tt.mutate(&in)

			_, err := svc.CreateAlert(context.Background(), in, t0)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, store.alerts)
			assert.Empty(t, store.deliveries)
		})
	}
}

func TestCreateAlert_Defaults(t *testing.T) {
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	expiry := t0.Add(48 * time.Hour)
	in := orgAlert(db.SeverityCritical)
	in.AudienceIDs = json.RawMessage(`["ignored"]`)
	in.ExpiryTime = &expiry

	alert, err := svc.CreateAlert(context.Background(), in, t0)
	require.NoError(t, err)

	assert.NotZero(t, alert.ID)
	assert.Equal(t, t0, alert.StartTime)
	assert.True(t, alert.ReminderEnabled)
	assert.False(t, alert.IsArchived)
	assert.Equal(t, &expiry, alert.ExpiryTime)
	assert.Nil(t, alert.AudienceIDs, "org audiences persist no ids")
}

func TestCreateAlert_UserAudienceDeliversOncePerRecipient(t *testing.T) {
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	alert, err := svc.CreateAlert(context.Background(), CreateAlertInput{
		Title:        "Expense report overdue",
		Message:      "Please submit by EOD",
		Severity:     db.SeverityWarning,
		AudienceType: db.AudienceUser,
		AudienceIDs:  json.RawMessage(`[2,3]`),
	}, t0)
	require.NoError(t, err)

	assert.Equal(t, map[int64]int{2: 1, 3: 1}, store.deliveriesFor(alert.ID))
	assert.Len(t, store.deliveries, 2)
	assert.JSONEq(t, `[2,3]`, string(alert.AudienceIDs))
}

func TestCreateAlert_EmptyTeamCreatesNoDeliveries(t *testing.T) {
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	alert, err := svc.CreateAlert(context.Background(), CreateAlertInput{
		Title:        "Nobody",
		Message:      "Targets no one",
		Severity:     db.SeverityInfo,
		AudienceType: db.AudienceTeam,
		AudienceIDs:  json.RawMessage(`[]`),
	}, t0)
	require.NoError(t, err)

	assert.NotZero(t, alert.ID)
	assert.Empty(t, store.deliveries)
}

func TestCreateAlert_RollsBackOnDeliveryFailure(t *testing.T) {
	store := seededStore()
	store.failDeliveryAfter = 2
	events := &recordingPublisher{}
	svc, _ := newTestService(t, store, events)

	_, err := svc.CreateAlert(context.Background(), orgAlert(db.SeverityInfo), t0)
	require.ErrorIs(t, err, errInjected)

	assert.Empty(t, store.alerts, "alert and deliveries commit together")
	assert.Empty(t, store.deliveries)
	assert.Empty(t, events.types())
}

func TestArchiveAlert(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	events := &recordingPublisher{}
	svc, _ := newTestService(t, store, events)

	keep, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)
	gone, err := svc.CreateAlert(ctx, orgAlert(db.SeverityCritical), t0)
	require.NoError(t, err)

	require.NoError(t, svc.ArchiveAlert(ctx, gone.ID))

	active, err := svc.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	for _, u := range store.users {
		visible, err := svc.VisibleAlerts(ctx, u, t0.Add(time.Minute))
		require.NoError(t, err)
		for _, a := range visible {
			assert.NotEqual(t, gone.ID, a.ID, "archived alert visible to %s", u.Name)
		}
	}

	assert.ErrorIs(t, svc.ArchiveAlert(ctx, gone.ID), ErrNotFound, "archiving twice")
	assert.ErrorIs(t, svc.ArchiveAlert(ctx, 999), ErrNotFound)

	assert.Equal(t, []sns.EventType{sns.EventAlertCreated, sns.EventAlertCreated, sns.EventAlertArchived}, events.types())
}

func TestVisibleAlerts(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	org, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)

	eng, err := svc.CreateAlert(ctx, CreateAlertInput{
		Title: "Oncall", Message: "Rotation changed", Severity: db.SeverityWarning,
		AudienceType: db.AudienceTeam, AudienceIDs: json.RawMessage(`["Engineering"]`),
	}, t0)
	require.NoError(t, err)

	short := orgAlert(db.SeverityCritical)
	short.ExpiryTime = tp(t0.Add(time.Hour))
	expiring, err := svc.CreateAlert(ctx, short, t0)
	require.NoError(t, err)

	future, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0.Add(24*time.Hour))
	require.NoError(t, err)

	alice := store.users[0]
	bob := store.users[1]

	ids := func(alerts []UserAlert) []int64 {
		var out []int64
		for _, a := range alerts {
			out = append(out, a.ID)
		}
		return out
	}

	visible, err := svc.VisibleAlerts(ctx, alice, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{org.ID, eng.ID, expiring.ID}, ids(visible))

	visible, err = svc.VisibleAlerts(ctx, bob, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{org.ID, expiring.ID}, ids(visible), "bob is not in Engineering")

	visible, err = svc.VisibleAlerts(ctx, alice, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.NotContains(t, ids(visible), expiring.ID, "expired at the expiry instant")
	assert.NotContains(t, ids(visible), future.ID, "not started yet")
}

func TestVisibleAlerts_AnnotatesPreferences(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	first, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)
	second, err := svc.CreateAlert(ctx, orgAlert(db.SeverityWarning), t0)
	require.NoError(t, err)

	charlie := store.users[2]
	_, err = svc.MarkRead(ctx, charlie, first.ID, true)
	require.NoError(t, err)
	_, err = svc.Snooze(ctx, charlie, first.ID, t0.Add(time.Hour))
	require.NoError(t, err)

	visible, err := svc.VisibleAlerts(ctx, charlie, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, visible, 2)

	for _, a := range visible {
		switch a.ID {
		case first.ID:
			assert.True(t, a.IsRead)
			require.NotNil(t, a.SnoozedUntil)
			assert.Equal(t, time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC), *a.SnoozedUntil)
		case second.ID:
			assert.False(t, a.IsRead)
			assert.Nil(t, a.SnoozedUntil)
		}
	}

	data, err := json.Marshal(visible[0])
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	for _, key := range []string{"id", "title", "severity", "is_read", "snoozed_until", "audience_type"} {
		assert.Contains(t, flat, key)
	}
}

func TestSnooze(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc, _ := newTestService(t, store, nil)
	bob := store.users[1]

	alert, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)

	pref, err := svc.Snooze(ctx, bob, alert.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, pref.SnoozedUntil)
	assert.Equal(t, time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC), *pref.SnoozedUntil)

	// snoozing again upserts the same row
	again, err := svc.Snooze(ctx, bob, alert.ID, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, pref.ID, again.ID)
	assert.Len(t, store.prefs, 1)

	_, err = svc.Snooze(ctx, bob, 404, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.ArchiveAlert(ctx, alert.ID))
	_, err = svc.Snooze(ctx, bob, alert.ID, t0)
	assert.ErrorIs(t, err, ErrNotFound, "archived alerts cannot be snoozed")
}

func TestSnooze_UsesServiceLocation(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	loc := time.FixedZone("UTC-5", -5*60*60)
	svc := NewService(store, Config{Location: loc}, nil, zaptest.NewLogger(t))

	alert, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)

	// 02:00 UTC on the 5th is still the 4th in UTC-5
	now := time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)
	pref, err := svc.Snooze(ctx, store.users[0], alert.ID, now)
	require.NoError(t, err)

	want := time.Date(2024, 3, 4, 23, 59, 59, 0, loc)
	assert.True(t, want.Equal(*pref.SnoozedUntil), "got %s", pref.SnoozedUntil)
}

func TestEndOfDay(t *testing.T) {
	got := EndOfDay(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC), got)

	got = EndOfDay(time.Date(2024, 3, 4, 23, 59, 59, 500, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC), got)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc, _ := newTestService(t, store, nil)
	alice := store.users[0]

	alert, err := svc.CreateAlert(ctx, orgAlert(db.SeverityInfo), t0)
	require.NoError(t, err)

	pref, err := svc.MarkRead(ctx, alice, alert.ID, true)
	require.NoError(t, err)
	assert.True(t, pref.IsRead)
	assert.Nil(t, pref.SnoozedUntil)

	pref, err = svc.MarkRead(ctx, alice, alert.ID, false)
	require.NoError(t, err)
	assert.False(t, pref.IsRead)

	_, err = svc.MarkRead(ctx, alice, 77, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc, _ := newTestService(t, store, nil)

	a, err := svc.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"info": 0, "warning": 0, "critical": 0}, a.BySeverity)

	first, err := svc.CreateAlert(ctx, orgAlert(db.SeverityCritical), t0)
	require.NoError(t, err)
	_, err = svc.CreateAlert(ctx, orgAlert(db.SeverityCritical), t0)
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, store.users[0], first.ID, true)
	require.NoError(t, err)
	_, err = svc.Snooze(ctx, store.users[1], first.ID, t0)
	require.NoError(t, err)

	a, err = svc.Analytics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.TotalAlerts)
	assert.EqualValues(t, 6, a.Delivered)
	assert.EqualValues(t, 1, a.Read)
	assert.EqualValues(t, 1, a.Snoozed)
	assert.Equal(t, map[string]int64{"info": 0, "warning": 0, "critical": 2}, a.BySeverity)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, seededStore(), nil)

	u, err := svc.Authenticate(ctx, "charlie")
	require.NoError(t, err)
	assert.EqualValues(t, 3, u.ID)

	_, err = svc.Authenticate(ctx, "mallory")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
