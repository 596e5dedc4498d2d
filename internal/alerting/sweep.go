package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/sns"
)

// SweepResult summarises one committed sweep.
type SweepResult struct {
	RunID               uuid.UUID     `json:"run_id"`
	Now                 time.Time     `json:"now"`
	AlertsScanned       int           `json:"alerts_scanned"`
	RecipientsEvaluated int           `json:"recipients_evaluated"`
	Delivered           int           `json:"delivered"`
	Duration            time.Duration `json:"duration_ns"`
}

// Sweeper re-delivers reminder-enabled alerts whose cooldown has elapsed.
type Sweeper struct {
	store     TxStore
	evaluator *Evaluator
	events    EventPublisher
	logger    *zap.Logger
}

// NewSweeper creates a sweeper. events may be nil.
func NewSweeper(store TxStore, evaluator *Evaluator, events EventPublisher, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		evaluator: evaluator,
		events:    events,
		logger:    logger,
	}
}

// Run performs one sweep at now. All deliveries of the run are written in a
// single transaction; on any store failure nothing is written and the error
// is returned.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (*SweepResult, error) {
	started := time.Now()
	result := &SweepResult{RunID: uuid.New(), Now: now}

	err := s.store.InTx(ctx, func(tx Store) error {
		alerts, err := tx.ListReminderAlerts(ctx)
		if err != nil {
			return fmt.Errorf("list reminder alerts: %w", err)
		}

		for _, alert := range alerts {
			result.AlertsScanned++

			users, err := Resolve(ctx, tx, AudienceOf(alert))
			if err != nil {
				return fmt.Errorf("alert %d: %w", alert.ID, err)
			}

			for _, user := range users {
				result.RecipientsEvaluated++

				due, err := s.evaluator.Evaluate(ctx, tx, user.ID, alert, now)
				if err != nil {
					return fmt.Errorf("evaluate alert %d for user %d: %w", alert.ID, user.ID, err)
				}
				if !due {
					continue
				}

				if _, err := Record(ctx, tx, user.ID, alert.ID, now); err != nil {
					return err
				}
				result.Delivered++
			}
		}

		return nil
	})
	result.Duration = time.Since(started)

	if err != nil {
		metrics.RecordSweep(metrics.SweepFailed, result.Duration, 0)
		s.logger.Error("reminder sweep rolled back",
			zap.String("run_id", result.RunID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reminder sweep: %w", err)
	}

	metrics.RecordSweep(metrics.SweepSucceeded, result.Duration, result.Delivered)
	metrics.RecordDeliveries(metrics.DeliveryReminder, result.Delivered)

	s.logger.Info("reminder sweep completed",
		zap.String("run_id", result.RunID.String()),
		zap.Int("alerts_scanned", result.AlertsScanned),
		zap.Int("recipients_evaluated", result.RecipientsEvaluated),
		zap.Int("delivered", result.Delivered),
		zap.Duration("duration", result.Duration),
	)

	publishEvent(ctx, s.events, s.logger, sns.Event{
		Type:       sns.EventSweepCompleted,
		SweepRunID: result.RunID.String(),
		Scanned:    result.AlertsScanned,
		Delivered:  result.Delivered,
		OccurredAt: now,
	})

	return result, nil
}
