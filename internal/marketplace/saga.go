package marketplace

import (
	"context"

	"go.uber.org/zap"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga records compensating actions for completed steps and runs them in
// reverse order when a later step fails. A disabled saga records nothing;
// it is used inside a database transaction, which rolls back on its own.
type saga struct {
	enabled bool
	steps   []compensation
	logger  *zap.Logger
}

func newSaga(enabled bool, logger *zap.Logger) *saga {
	return &saga{enabled: enabled, logger: logger}
}

func (s *saga) onFailure(name string, undo func(ctx context.Context) error) {
	if s.enabled {
		s.steps = append(s.steps, compensation{name: name, undo: undo})
	}
}

// abort compensates every completed step and returns cause.
func (s *saga) abort(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			s.logger.Error("Compensation failed",
				zap.String("step", step.name),
				zap.NamedError("cause", cause),
				zap.Error(err))
			continue
		}
		s.logger.Warn("Compensated purchase step", zap.String("step", step.name), zap.NamedError("cause", cause))
	}
	s.steps = nil
	return cause
}
