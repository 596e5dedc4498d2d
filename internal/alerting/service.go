package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/sns"
)

// CreateAlertInput is an administrator's request to publish an alert.
type CreateAlertInput struct {
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Severity     string          `json:"severity"`
	AudienceType string          `json:"audience_type"`
	AudienceIDs  json.RawMessage `json:"audience_ids,omitempty"`
	ExpiryTime   *time.Time      `json:"expiry_time,omitempty"`
}

// UserAlert is an alert as seen by one user.
type UserAlert struct {
	db.Alert
	IsRead       bool       `json:"is_read"`
	SnoozedUntil *time.Time `json:"snoozed_until"`
}

// Config tunes the service.
type Config struct {
	// Location defines the calendar day a snooze lasts until. Nil means UTC.
	Location *time.Location
}

// Service implements the alert lifecycle.
type Service struct {
	store  TxStore
	events EventPublisher
	loc    *time.Location
	logger *zap.Logger
}

// NewService creates the lifecycle service. events may be nil.
func NewService(store TxStore, cfg Config, events EventPublisher, logger *zap.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		store:  store,
		events: events,
		loc:    loc,
		logger: logger,
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (in CreateAlertInput) validate(now time.Time) (Audience, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalidf("title is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, invalidf("message is required")
	}
	if !slices.Contains(db.Severities, in.Severity) {
		return nil, invalidf("severity must be one of %s", strings.Join(db.Severities, ", "))
	}

	audience, err := decodeAudience(in.AudienceType, in.AudienceIDs)
	if err != nil {
		return nil, invalidf("%v", err)
	}

	if in.ExpiryTime != nil && !in.ExpiryTime.After(now) {
		return nil, invalidf("expiry_time must be in the future")
	}

	return audience, nil
}

// CreateAlert validates and persists a new alert and records one initial
// delivery per targeted user. Alert and deliveries commit together.
func (s *Service) CreateAlert(ctx context.Context, in CreateAlertInput, now time.Time) (*db.Alert, error) {
	audience, err := in.validate(now)
	if err != nil {
		return nil, err
	}

	ids, err := encodeAudience(audience)
	if err != nil {
		return nil, fmt.Errorf("encode audience: %w", err)
	}

	alert := &db.Alert{
		Title:           in.Title,
		Message:         in.Message,
		Severity:        in.Severity,
		StartTime:       now,
		ExpiryTime:      in.ExpiryTime,
		ReminderEnabled: true,
		AudienceType:    audience.Kind(),
		AudienceIDs:     ids,
	}

	var recipients int
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateAlert(ctx, alert); err != nil {
			return err
		}

		users, err := Resolve(ctx, tx, audience)
		if err != nil {
			return err
		}

		for _, u := range users {
			if _, err := Record(ctx, tx, u.ID, alert.ID, now); err != nil {
				return err
			}
		}
		recipients = len(users)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	metrics.RecordAlertCreated(alert.Severity)
	metrics.RecordDeliveries(metrics.DeliveryInitial, recipients)

	s.logger.Info("alert created",
		zap.Int64("alert_id", alert.ID),
		zap.String("severity", alert.Severity),
		zap.String("audience_type", alert.AudienceType),
		zap.Int("recipients", recipients),
	)

	publishEvent(ctx, s.events, s.logger, sns.Event{
		Type:       sns.EventAlertCreated,
		AlertID:    alert.ID,
		Severity:   alert.Severity,
		Recipients: recipients,
		OccurredAt: now,
	})

	return alert, nil
}

// ListActiveAlerts returns every non-archived alert.
func (s *Service) ListActiveAlerts(ctx context.Context) ([]*db.Alert, error) {
	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return alerts, nil
}

// ArchiveAlert soft-deletes an alert. Archiving twice yields ErrNotFound.
func (s *Service) ArchiveAlert(ctx context.Context, id int64) error {
	if err := s.store.ArchiveAlert(ctx, id); err != nil {
		return err
	}

	metrics.RecordAlertArchived()
	s.logger.Info("alert archived", zap.Int64("alert_id", id))

	publishEvent(ctx, s.events, s.logger, sns.Event{
		Type:    sns.EventAlertArchived,
		AlertID: id,
	})

	return nil
}

// VisibleAlerts returns the alerts user currently sees: live at now and
// targeted at user, annotated with the user's read and snooze state.
func (s *Service) VisibleAlerts(ctx context.Context, user db.User, now time.Time) ([]UserAlert, error) {
	alerts, err := s.store.ListLiveAlerts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list live alerts: %w", err)
	}

	prefs, err := s.store.ListPreferencesByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	visible := make([]UserAlert, 0, len(alerts))
	for _, alert := range alerts {
		if !AudienceOf(alert).Includes(user) {
			continue
		}

		ua := UserAlert{Alert: *alert}
		if pref, ok := prefs[alert.ID]; ok {
			ua.IsRead = pref.IsRead
			ua.SnoozedUntil = pref.SnoozedUntil
		}
		visible = append(visible, ua)
	}

	return visible, nil
}

// EndOfDay returns 23:59:59 of now's calendar day in loc.
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}

// Snooze suppresses reminders of alertID for user until the end of the
// current day.
func (s *Service) Snooze(ctx context.Context, user db.User, alertID int64, now time.Time) (*db.UserAlertPreference, error) {
	if err := s.requireActive(ctx, alertID); err != nil {
		return nil, err
	}

	pref, err := s.store.UpsertSnooze(ctx, user.ID, alertID, EndOfDay(now, s.loc))
	if err != nil {
		return nil, fmt.Errorf("snooze alert %d: %w", alertID, err)
	}

	s.logger.Debug("alert snoozed",
		zap.Int64("alert_id", alertID),
		zap.Int64("user_id", user.ID),
		zap.Timep("snoozed_until", pref.SnoozedUntil),
	)

	return pref, nil
}

// MarkRead sets the read flag of alertID for user.
func (s *Service) MarkRead(ctx context.Context, user db.User, alertID int64, read bool) (*db.UserAlertPreference, error) {
	if err := s.requireActive(ctx, alertID); err != nil {
		return nil, err
	}

	pref, err := s.store.UpsertRead(ctx, user.ID, alertID, read)
	if err != nil {
		return nil, fmt.Errorf("mark alert %d read: %w", alertID, err)
	}

	return pref, nil
}

func (s *Service) requireActive(ctx context.Context, alertID int64) error {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.IsArchived {
		return fmt.Errorf("alert %d is archived: %w", alertID, ErrNotFound)
	}
	return nil
}

// Analytics returns aggregate counters.
func (s *Service) Analytics(ctx context.Context) (*db.Analytics, error) {
	a, err := s.store.Analytics(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	return a, nil
}

// Authenticate resolves a user by name. Unknown names are ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, name string) (*db.User, error) {
	if name == "" {
		return nil, ErrUnauthenticated
	}

	user, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
