package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/sns"
)

// Publisher is the event publishing contract shared with alerting.
type Publisher interface {
	Publish(ctx context.Context, event sns.Event) (string, error)
}

// ProtectedPublisher wraps a Publisher with a CircuitBreaker so that an
// unavailable events topic fails fast instead of stalling every request that
// emits an event.
type ProtectedPublisher struct {
	publisher Publisher
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewProtectedPublisher wraps publisher with breaker.
func NewProtectedPublisher(publisher Publisher, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedPublisher {
	return &ProtectedPublisher{
		publisher: publisher,
		breaker:   breaker,
		logger:    logger,
	}
}

// Publish forwards event unless the circuit is open, in which case it
// returns ErrCircuitOpen without calling the wrapped publisher.
func (p *ProtectedPublisher) Publish(ctx context.Context, event sns.Event) (string, error) {
	var id string
	err := p.breaker.Execute(func() error {
		var err error
		id, err = p.publisher.Publish(ctx, event)
		return err
	})
	if err != nil {
		p.logger.Debug("event not published",
			zap.String("breaker", p.breaker.Name()),
			zap.String("type", string(event.Type)),
			zap.String("state", p.breaker.State().String()),
			zap.Error(err),
		)
		return "", err
	}
	return id, nil
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedPublisher) Breaker() *CircuitBreaker {
	return p.breaker
}
