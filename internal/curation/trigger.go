package curation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TriggerAsync starts a manual run for configID and returns as soon as the
// run holds its lock. It rejects callers below the credit minimum with
// ErrInsufficientCredits and overlapping triggers with ErrRunInProgress.
// Runs share a bounded pool across configs.
func (o *Orchestrator) TriggerAsync(ctx context.Context, configID string) error {
	cfg, err := o.deps.Store.GetConfig(ctx, configID)
	if err != nil {
		return eris.Wrapf(err, "curation: load config %s", configID)
	}
	user, err := o.deps.Store.GetUser(ctx, cfg.UserID)
	if err != nil {
		return eris.Wrapf(err, "curation: load user %s", cfg.UserID)
	}
	if user.Credits.Total() < o.cfg.MinCredits {
		return eris.Wrapf(ErrInsufficientCredits, "have %d, need %d", user.Credits.Total(), o.cfg.MinCredits)
	}

	release, err := o.acquire(ctx, configID)
	if err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	o.async.Add(1)
	go func() {
		defer o.async.Done()
		defer release()

		if err := o.sem.Acquire(runCtx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		if err := o.runLocked(runCtx, configID); err != nil {
			zap.L().Error("curation: triggered run failed",
				zap.String("config_id", configID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until every triggered run has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "curation: wait for triggered runs")
	}
}
