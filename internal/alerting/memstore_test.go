package alerting

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/lalithlochan/beacon/internal/db"
)

// memStore is an in-memory TxStore. InTx snapshots the state and restores it
// when fn fails, so tests observe the same all-or-nothing behaviour as the
// Postgres repository.
type memStore struct {
	users      []db.User
	alerts     []*db.Alert
	deliveries []db.NotificationDelivery
	prefs      map[[2]int64]db.UserAlertPreference

	nextAlertID    int64
	nextDeliveryID int64
	nextPrefID     int64

	userQueries int

	// failDeliveryAfter makes InsertDelivery fail once this many rows have
	// been inserted by the current store. Zero disables it.
	failDeliveryAfter int
	insertedThisRun   int
	listErr           error
}

var _ TxStore = (*memStore)(nil)

func team(name string) *string { return &name }

// seededStore holds the three seed users from 0002_seed_users.up.sql.
func seededStore() *memStore {
	return newMemStore(
		db.User{ID: 1, Name: "alice", Team: team("Engineering")},
		db.User{ID: 2, Name: "bob", Team: team("Marketing")},
		db.User{ID: 3, Name: "charlie", Team: team("Engineering")},
	)
}

func newMemStore(users ...db.User) *memStore {
	return &memStore{
		users: users,
		prefs: make(map[[2]int64]db.UserAlertPreference),
	}
}

type memSnapshot struct {
	alerts     []db.Alert
	deliveries []db.NotificationDelivery
	prefs      map[[2]int64]db.UserAlertPreference
	ids        [3]int64
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		deliveries: slices.Clone(m.deliveries),
		prefs:      maps.Clone(m.prefs),
		ids:        [3]int64{m.nextAlertID, m.nextDeliveryID, m.nextPrefID},
	}
	for _, a := range m.alerts {
		s.alerts = append(s.alerts, *a)
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.alerts = nil
	for i := range s.alerts {
		a := s.alerts[i]
		m.alerts = append(m.alerts, &a)
	}
	m.deliveries = s.deliveries
	m.prefs = s.prefs
	m.nextAlertID, m.nextDeliveryID, m.nextPrefID = s.ids[0], s.ids[1], s.ids[2]
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	snap := m.snapshot()
	m.insertedThisRun = 0
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) ListUsers(ctx context.Context) ([]db.User, error) {
	m.userQueries++
	return slices.Clone(m.users), nil
}

func (m *memStore) ListUsersByTeams(ctx context.Context, teams []string) ([]db.User, error) {
	m.userQueries++
	var out []db.User
	for _, u := range m.users {
		if u.Team != nil && slices.Contains(teams, *u.Team) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) ListUsersByIDs(ctx context.Context, ids []int64) ([]db.User, error) {
	m.userQueries++
	var out []db.User
	for _, u := range m.users {
		if slices.Contains(ids, u.ID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) GetUserByName(ctx context.Context, name string) (*db.User, error) {
	for _, u := range m.users {
		if u.Name == name {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", name, db.ErrNotFound)
}

func (m *memStore) CreateAlert(ctx context.Context, alert *db.Alert) error {
	m.nextAlertID++
	alert.ID = m.nextAlertID
	stored := *alert
	m.alerts = append(m.alerts, &stored)
	return nil
}

func (m *memStore) GetAlert(ctx context.Context, id int64) (*db.Alert, error) {
	for _, a := range m.alerts {
		if a.ID == id {
			out := *a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("alert %d: %w", id, db.ErrNotFound)
}

func (m *memStore) filterAlerts(keep func(*db.Alert) bool) ([]*db.Alert, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*db.Alert
	for _, a := range m.alerts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveAlerts(ctx context.Context) ([]*db.Alert, error) {
	return m.filterAlerts(func(a *db.Alert) bool { return !a.IsArchived })
}

func (m *memStore) ListReminderAlerts(ctx context.Context) ([]*db.Alert, error) {
	return m.filterAlerts(func(a *db.Alert) bool { return !a.IsArchived && a.ReminderEnabled })
}

func (m *memStore) ListLiveAlerts(ctx context.Context, now time.Time) ([]*db.Alert, error) {
	return m.filterAlerts(func(a *db.Alert) bool {
		return !a.IsArchived &&
			!a.StartTime.After(now) &&
			(a.ExpiryTime == nil || a.ExpiryTime.After(now))
	})
}

func (m *memStore) ArchiveAlert(ctx context.Context, id int64) error {
	for _, a := range m.alerts {
		if a.ID == id && !a.IsArchived {
			a.IsArchived = true
			return nil
		}
	}
	return fmt.Errorf("alert %d: %w", id, db.ErrNotFound)
}

func (m *memStore) GetPreference(ctx context.Context, userID, alertID int64) (*db.UserAlertPreference, error) {
	p, ok := m.prefs[[2]int64{userID, alertID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) ListPreferencesByUser(ctx context.Context, userID int64) (map[int64]*db.UserAlertPreference, error) {
	out := make(map[int64]*db.UserAlertPreference)
	for key, p := range m.prefs {
		if key[0] == userID {
			p := p
			out[key[1]] = &p
		}
	}
	return out, nil
}

func (m *memStore) upsert(userID, alertID int64, apply func(*db.UserAlertPreference)) *db.UserAlertPreference {
	key := [2]int64{userID, alertID}
	p, ok := m.prefs[key]
	if !ok {
		m.nextPrefID++
		p = db.UserAlertPreference{ID: m.nextPrefID, UserID: userID, AlertID: alertID}
	}
	apply(&p)
	m.prefs[key] = p
	return &p
}

func (m *memStore) UpsertSnooze(ctx context.Context, userID, alertID int64, until time.Time) (*db.UserAlertPreference, error) {
	return m.upsert(userID, alertID, func(p *db.UserAlertPreference) { p.SnoozedUntil = &until }), nil
}

func (m *memStore) UpsertRead(ctx context.Context, userID, alertID int64, read bool) (*db.UserAlertPreference, error) {
	return m.upsert(userID, alertID, func(p *db.UserAlertPreference) { p.IsRead = read }), nil
}

func (m *memStore) LatestDelivery(ctx context.Context, userID, alertID int64) (*db.NotificationDelivery, error) {
	var latest *db.NotificationDelivery
	for i := range m.deliveries {
		d := m.deliveries[i]
		if d.UserID != userID || d.AlertID != alertID {
			continue
		}
		if latest == nil || !d.SentAt.Before(latest.SentAt) {
			latest = &d
		}
	}
	return latest, nil
}

var errInjected = errors.New("injected store failure")

func (m *memStore) InsertDelivery(ctx context.Context, d *db.NotificationDelivery) error {
	if m.failDeliveryAfter > 0 && m.insertedThisRun >= m.failDeliveryAfter {
		return errInjected
	}
	m.nextDeliveryID++
	d.ID = m.nextDeliveryID
	m.deliveries = append(m.deliveries, *d)
	m.insertedThisRun++
	return nil
}

func (m *memStore) Analytics(ctx context.Context) (*db.Analytics, error) {
	a := &db.Analytics{BySeverity: map[string]int64{}}
	for _, sev := range db.Severities {
		a.BySeverity[sev] = 0
	}
	for _, al := range m.alerts {
		a.TotalAlerts++
		a.BySeverity[al.Severity]++
	}
	a.Delivered = int64(len(m.deliveries))
	for _, p := range m.prefs {
		if p.IsRead {
			a.Read++
		}
		if p.SnoozedUntil != nil {
			a.Snoozed++
		}
	}
	return a, nil
}

// deliveriesFor returns the delivery rows for alertID grouped by user id.
func (m *memStore) deliveriesFor(alertID int64) map[int64]int {
	out := make(map[int64]int)
	for _, d := range m.deliveries {
		if d.AlertID == alertID {
			out[d.UserID]++
		}
	}
	return out
}

func userIDs(users []db.User) []int64 {
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
