package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/sqs"
)

// Queue delivers sweep triggers; implemented by sqs.Consumer.
type Queue interface {
	ReceiveMessage(ctx context.Context) (*sqs.Message, string, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// retryVisibility is how long a failed trigger stays hidden before redelivery
const retryVisibility = 30

// Consume runs a sweep for every send_reminders trigger until ctx is cancelled.
func (w *Worker) Consume(ctx context.Context, queue Queue) {
	w.logger.Info("sweep trigger consumer started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep trigger consumer stopping")
			return
		default:
		}

		if !w.consumeOne(ctx, queue) {
			// back off after a receive error
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// consumeOne handles at most one trigger. It returns false when the queue
// could not be read.
func (w *Worker) consumeOne(ctx context.Context, queue Queue) bool {
	msg, receipt, err := queue.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		w.logger.Error("failed to receive sweep trigger", zap.Error(err))
		if receipt != "" {
			// undecodable body, redelivering it cannot help
			w.ack(ctx, queue, receipt)
			return true
		}
		return false
	}
	if msg == nil {
		return true
	}

	if msg.Task != sqs.TaskSendReminders {
		w.logger.Warn("dropping unknown task",
			zap.String("task", msg.Task),
			zap.String("trigger_id", msg.ID),
		)
		w.ack(ctx, queue, receipt)
		return true
	}

	result, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("triggered sweep failed",
			zap.String("trigger_id", msg.ID),
			zap.Error(err),
		)
		if err := queue.ChangeVisibility(ctx, receipt, retryVisibility); err != nil {
			w.logger.Warn("failed to reschedule sweep trigger", zap.Error(err))
		}
		return true
	}

	w.logger.Info("triggered sweep completed",
		zap.String("trigger_id", msg.ID),
		zap.String("requested_by", msg.RequestedBy),
		zap.Time("requested_at", msg.RequestedAt),
		zap.Int("delivered", result.Delivered),
	)
	w.ack(ctx, queue, receipt)
	return true
}

func (w *Worker) ack(ctx context.Context, queue Queue, receipt string) {
	if err := queue.DeleteMessage(ctx, receipt); err != nil {
		w.logger.Warn("failed to delete sweep trigger", zap.Error(err))
	}
}
