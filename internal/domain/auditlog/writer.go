package auditlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/apperr"
	"github.com/chokoronadal/wbhsms/internal/platform/db"
)

const defaultWriteTimeout = 3 * time.Second

// Recorder appends activity entries without ever failing the caller.
type Recorder interface {
	Record(ctx context.Context, actorID int64, actionType, description string)
}

// Writer is the best-effort activity log. Each entry is written on its own,
// outside any transaction the caller may hold, and survives caller
// cancellation for up to the write timeout.
type Writer struct {
	repo    Repository
	logger  zerolog.Logger
	timeout time.Duration
}

func NewWriter(repo Repository, logger zerolog.Logger) *Writer {
	return &Writer{repo: repo, logger: logger, timeout: defaultWriteTimeout}
}

func (w *Writer) Record(ctx context.Context, actorID int64, actionType, description string) {
	ctx, cancel := context.WithTimeout(db.WithoutTx(context.WithoutCancel(ctx)), w.timeout)
	defer cancel()

	e := &Entry{UserID: actorID, ActionType: actionType, Description: description}
	if err := w.repo.Insert(ctx, e); err != nil {
		w.logger.Error().
			Err(apperr.Wrap(apperr.ErrAuditWrite, err, "insert user_activity_logs")).
			Int64("actor_id", actorID).
			Str("action_type", actionType).
			Str("description", description).
			Msg("activity log entry dropped")
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, int64, string, string) {}
