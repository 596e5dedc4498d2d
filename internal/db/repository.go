package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for users, alerts, deliveries and
// preferences. A Repository is bound either to the pool or to a single
// transaction (see InTx).
type Repository struct {
	db     *DB
	q      Querier
	logger *zap.Logger
}

// NewRepository creates a repository bound to the connection pool
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		q:      db.Pool(),
		logger: logger,
	}
}

// NewRepositoryWithQuerier binds a repository to an arbitrary Querier.
// Repositories created this way cannot open their own transactions.
func NewRepositoryWithQuerier(q Querier, logger *zap.Logger) *Repository {
	return &Repository{q: q, logger: logger}
}

// InTx runs fn with a repository bound to a new transaction. The transaction
// commits only if fn returns nil; every other exit path rolls back.
// Calling InTx on a repository that is already transaction-bound runs fn in
// the existing transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Repository{q: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, name, team`

func scanUser(s scanner) (User, error) {
	var u User
	err := s.Scan(&u.ID, &u.Name, &u.Team)
	return u, err
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// ListUsers returns every user
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

// ListUsersByTeams returns users whose team label is one of teams
func (r *Repository) ListUsersByTeams(ctx context.Context, teams []string) ([]User, error) {
	return r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE team = ANY($1) ORDER BY id`, teams)
}

// ListUsersByIDs returns users whose id is one of ids
func (r *Repository) ListUsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	return r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, ids)
}

// GetUserByName looks a user up by its unique name
func (r *Repository) GetUserByName(ctx context.Context, name string) (*User, error) {
	u, err := scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

const alertColumns = `
	id, title, message, severity, start_time, expiry_time,
	reminder_enabled, audience_type, audience_ids, is_archived`

func scanAlert(s scanner) (*Alert, error) {
	var a Alert
	err := s.Scan(
		&a.ID,
		&a.Title,
		&a.Message,
		&a.Severity,
		&a.StartTime,
		&a.ExpiryTime,
		&a.ReminderEnabled,
		&a.AudienceType,
		&a.AudienceIDs,
		&a.IsArchived,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) queryAlerts(ctx context.Context, query string, args ...any) ([]*Alert, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return alerts, nil
}

// CreateAlert inserts a new alert and fills in its generated id
func (r *Repository) CreateAlert(ctx context.Context, alert *Alert) error {
	query := `
		INSERT INTO alerts (
			title, message, severity, start_time, expiry_time,
			reminder_enabled, audience_type, audience_ids, is_archived
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id
	`

	err := r.q.QueryRow(
		ctx,
		query,
		alert.Title,
		alert.Message,
		alert.Severity,
		alert.StartTime,
		alert.ExpiryTime,
		alert.ReminderEnabled,
		alert.AudienceType,
		alert.AudienceIDs,
		alert.IsArchived,
	).Scan(&alert.ID)

	if err != nil {
		r.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("severity", alert.Severity),
			zap.String("audience_type", alert.AudienceType),
		)
		return fmt.Errorf("insert alert: %w", err)
	}

	return nil
}

// GetAlert retrieves an alert by id, archived or not
func (r *Repository) GetAlert(ctx context.Context, id int64) (*Alert, error) {
	a, err := scanAlert(r.q.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return a, nil
}

// ListActiveAlerts returns every non-archived alert
func (r *Repository) ListActiveAlerts(ctx context.Context) ([]*Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE NOT is_archived
		ORDER BY id
	`)
}

// ListReminderAlerts returns non-archived alerts with reminders enabled
func (r *Repository) ListReminderAlerts(ctx context.Context) ([]*Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE NOT is_archived AND reminder_enabled
		ORDER BY id
	`)
}

// ListLiveAlerts returns non-archived alerts that have started and not yet
// expired at now
func (r *Repository) ListLiveAlerts(ctx context.Context, now time.Time) ([]*Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE NOT is_archived
		  AND start_time <= $1
		  AND (expiry_time IS NULL OR expiry_time > $1)
		ORDER BY start_time DESC, id DESC
	`, now)
}

// ArchiveAlert soft-deletes an alert. Archiving is one-way; a missing or
// already archived alert yields ErrNotFound.
func (r *Repository) ArchiveAlert(ctx context.Context, id int64) error {
	result, err := r.q.Exec(ctx,
		`UPDATE alerts SET is_archived = TRUE WHERE id = $1 AND NOT is_archived`, id)
	if err != nil {
		r.logger.Error("failed to archive alert",
			zap.Error(err),
			zap.Int64("alert_id", id),
		)
		return fmt.Errorf("archive alert: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}

	return nil
}

const preferenceColumns = `id, user_id, alert_id, is_read, snoozed_until`

func scanPreference(s scanner) (*UserAlertPreference, error) {
	var p UserAlertPreference
	err := s.Scan(&p.ID, &p.UserID, &p.AlertID, &p.IsRead, &p.SnoozedUntil)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPreference returns the (user, alert) preference row, or nil if the user
// never interacted with the alert
func (r *Repository) GetPreference(ctx context.Context, userID, alertID int64) (*UserAlertPreference, error) {
	p, err := scanPreference(r.q.QueryRow(ctx, `
		SELECT `+preferenceColumns+`
		FROM user_alert_preferences
		WHERE user_id = $1 AND alert_id = $2
	`, userID, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}
	return p, nil
}

// ListPreferencesByUser returns all of a user's preference rows keyed by alert id
func (r *Repository) ListPreferencesByUser(ctx context.Context, userID int64) (map[int64]*UserAlertPreference, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+preferenceColumns+`
		FROM user_alert_preferences
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[int64]*UserAlertPreference)
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[p.AlertID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return prefs, nil
}

// UpsertSnooze sets snoozed_until on the (user, alert) row, creating the row
// if needed. The UNIQUE (user_id, alert_id) constraint makes this a single
// atomic statement.
func (r *Repository) UpsertSnooze(ctx context.Context, userID, alertID int64, until time.Time) (*UserAlertPreference, error) {
	p, err := scanPreference(r.q.QueryRow(ctx, `
		INSERT INTO user_alert_preferences (user_id, alert_id, is_read, snoozed_until)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (user_id, alert_id)
		DO UPDATE SET snoozed_until = EXCLUDED.snoozed_until
		RETURNING `+preferenceColumns, userID, alertID, until))
	if err != nil {
		return nil, fmt.Errorf("upsert snooze: %w", err)
	}
	return p, nil
}

// UpsertRead sets is_read on the (user, alert) row, creating the row if needed
func (r *Repository) UpsertRead(ctx context.Context, userID, alertID int64, read bool) (*UserAlertPreference, error) {
	p, err := scanPreference(r.q.QueryRow(ctx, `
		INSERT INTO user_alert_preferences (user_id, alert_id, is_read)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, alert_id)
		DO UPDATE SET is_read = EXCLUDED.is_read
		RETURNING `+preferenceColumns, userID, alertID, read))
	if err != nil {
		return nil, fmt.Errorf("upsert read: %w", err)
	}
	return p, nil
}

// LatestDelivery returns the most recent delivery for (user, alert), or nil
// if the alert was never delivered to the user
func (r *Repository) LatestDelivery(ctx context.Context, userID, alertID int64) (*NotificationDelivery, error) {
	var d NotificationDelivery
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, alert_id, sent_at
		FROM notification_deliveries
		WHERE user_id = $1 AND alert_id = $2
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, userID, alertID).Scan(&d.ID, &d.UserID, &d.AlertID, &d.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest delivery: %w", err)
	}
	return &d, nil
}

// InsertDelivery appends a delivery row
func (r *Repository) InsertDelivery(ctx context.Context, d *NotificationDelivery) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO notification_deliveries (user_id, alert_id, sent_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, d.UserID, d.AlertID, d.SentAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Analytics computes aggregate counters
func (r *Repository) Analytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{BySeverity: make(map[string]int64, len(Severities))}
	for _, sev := range Severities {
		a.BySeverity[sev] = 0
	}

	err := r.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM alerts),
			(SELECT COUNT(*) FROM notification_deliveries),
			(SELECT COUNT(*) FROM user_alert_preferences WHERE is_read),
			(SELECT COUNT(*) FROM user_alert_preferences WHERE snoozed_until IS NOT NULL)
	`).Scan(&a.TotalAlerts, &a.Delivered, &a.Read, &a.Snoozed)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}

	rows, err := r.q.Query(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("query severity counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sev string
		var n int64
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		a.BySeverity[sev] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return a, nil
}
