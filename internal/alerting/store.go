// Package alerting implements alert targeting, reminder eligibility, delivery
// recording, the reminder sweep and the alert lifecycle operations.
package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/db"
)

var (
	// ErrNotFound is returned when an alert is missing or archived.
	ErrNotFound = db.ErrNotFound

	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated is returned when a caller cannot be identified.
	ErrUnauthenticated = auth.ErrUnauthenticated
)

// UserStore looks up users for audience resolution.
type UserStore interface {
	ListUsers(ctx context.Context) ([]db.User, error)
	ListUsersByTeams(ctx context.Context, teams []string) ([]db.User, error)
	ListUsersByIDs(ctx context.Context, ids []int64) ([]db.User, error)
}

// HistoryStore exposes the per-(user, alert) state the evaluator needs.
type HistoryStore interface {
	GetPreference(ctx context.Context, userID, alertID int64) (*db.UserAlertPreference, error)
	LatestDelivery(ctx context.Context, userID, alertID int64) (*db.NotificationDelivery, error)
}

// DeliveryStore appends delivery rows.
type DeliveryStore interface {
	InsertDelivery(ctx context.Context, d *db.NotificationDelivery) error
}

// Store is everything the alerting package reads or writes.
type Store interface {
	UserStore
	HistoryStore
	DeliveryStore

	GetUserByName(ctx context.Context, name string) (*db.User, error)

	CreateAlert(ctx context.Context, alert *db.Alert) error
	GetAlert(ctx context.Context, id int64) (*db.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]*db.Alert, error)
	ListReminderAlerts(ctx context.Context) ([]*db.Alert, error)
	ListLiveAlerts(ctx context.Context, now time.Time) ([]*db.Alert, error)
	ArchiveAlert(ctx context.Context, id int64) error

	ListPreferencesByUser(ctx context.Context, userID int64) (map[int64]*db.UserAlertPreference, error)
	UpsertSnooze(ctx context.Context, userID, alertID int64, until time.Time) (*db.UserAlertPreference, error)
	UpsertRead(ctx context.Context, userID, alertID int64, read bool) (*db.UserAlertPreference, error)

	Analytics(ctx context.Context) (*db.Analytics, error)
}

// TxStore is a Store that can scope a unit of work to one transaction.
// fn receives a Store bound to the transaction; returning an error rolls
// the whole unit back.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Postgres adapts a db.Repository to TxStore.
type Postgres struct {
	*db.Repository
}

var _ TxStore = Postgres{}

// NewPostgres wraps repo.
func NewPostgres(repo *db.Repository) Postgres {
	return Postgres{Repository: repo}
}

// InTx runs fn inside a database transaction.
func (p Postgres) InTx(ctx context.Context, fn func(tx Store) error) error {
	return p.Repository.InTx(ctx, func(tx *db.Repository) error {
		return fn(Postgres{Repository: tx})
	})
}
