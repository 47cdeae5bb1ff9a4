package queue

import (
	"context"
	"errors"

	"tg-inviter-bot/internal/domain"
)

// Tee пишет действие во все журналы. Ошибка одного журнала не мешает остальным.
type Tee []domain.ActionLog

// LogAction реализует domain.ActionLog.
func (t Tee) LogAction(ctx context.Context, action domain.Action) error {
	var errs []error
	for _, sink := range t {
		if sink == nil {
			continue
		}
		if err := sink.LogAction(ctx, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
