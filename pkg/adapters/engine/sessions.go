package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/retry"
)

// SessionOps lists and kills the sessions connected to one schema.
type SessionOps struct {
	List func(ctx context.Context) ([]string, error)
	Kill func(ctx context.Context, session string) error
}

// TerminateSessions kills every session connected to schema and checks again,
// retrying with SessionKillConfig until none are left. Failures to kill an
// individual session are logged and do not stop the attempt.
func TerminateSessions(ctx context.Context, logger *zap.Logger, schema string, ops SessionOps) error {
	err := retry.Do(ctx, retry.SessionKillConfig(), func() error {
		sessions, err := ops.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			return nil
		}

		for _, session := range sessions {
			if err := ops.Kill(ctx, session); err != nil {
				logger.Warn("Failed to terminate session",
					zap.String("schema", schema),
					zap.String("session", session),
					zap.String("error", logging.SanitizeError(err)))
			}
		}
		return fmt.Errorf("%d sessions still connected", len(sessions))
	})
	if err != nil {
		return WrapError("terminate sessions for "+schema, err)
	}
	return nil
}

// WrapError marks err as reported by the database server while keeping the
// driver message.
func WrapError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrPhysicalEngine, err)
}
