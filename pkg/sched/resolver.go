package sched

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sbsched/sbs/pkg/store"
)

// resolve advances HOLD jobs based on their afterok predecessors, in
// ascending id order.
//
// A predecessor with no record in the store counts as satisfied: terminal
// jobs may be cleaned up once their dependents no longer need them, so a
// missing id is assumed to have succeeded and been removed. An ERROR
// predecessor cancels the dependent and is recorded as its cause; a
// CANCEL predecessor does the same when no predecessor errored. The
// cascade reaches grandchildren on subsequent ticks.
func (d *Dispatcher) resolve() bool {
	ids, err := d.store.ListIDs()
	if err != nil {
		d.logger.Warn("Failed to list jobs", zap.Error(err))
		return false
	}

	changed := false
	for _, id := range ids {
		state, err := d.store.ReadStatus(id)
		if err != nil || state != store.StateHold {
			continue
		}

		settings, err := d.store.ReadSettings(id)
		if err != nil {
			d.logger.Warn("Failed to read settings", zap.Int("job_id", id), zap.Error(err))
			continue
		}
		deps, err := settings.AfterOK()
		if err != nil {
			d.logger.Warn("Unparsable afterok, leaving job held",
				zap.Int("job_id", id), zap.Error(err))
			continue
		}

		erroredPred, cancelledPred, pending := 0, 0, false
		for _, pred := range deps {
			if !d.store.Exists(pred) {
				continue
			}
			predState, err := d.store.ReadStatus(pred)
			if err != nil {
				continue
			}
			switch predState {
			case store.StateError:
				if erroredPred == 0 {
					erroredPred = pred
				}
			case store.StateCancel:
				if cancelledPred == 0 {
					cancelledPred = pred
				}
			case store.StateSuccess:
			default:
				pending = true
			}
		}

		switch {
		case erroredPred != 0:
			d.cancelDependent(id, erroredPred, settings)
			changed = true
		case cancelledPred != 0:
			d.cancelDependent(id, cancelledPred, settings)
			changed = true
		case pending:
		default:
			if err := d.store.AppendStatus(id, store.StateQueued, time.Now()); err != nil {
				d.logger.Error("Failed to queue job", zap.Int("job_id", id), zap.Error(err))
				continue
			}
			d.logger.Info("Dependencies satisfied", zap.Int("job_id", id))
			changed = true
		}
	}
	return changed
}

// cancelDependent cancels a held job whose predecessor failed or was
// cancelled, recording the predecessor as the cause.
func (d *Dispatcher) cancelDependent(id, pred int, settings store.Settings) {
	if err := d.store.AppendSetting(id, store.SettingBecauseOf, fmt.Sprintf("%d", pred)); err != nil {
		d.logger.Error("Failed to record cancellation cause",
			zap.Int("job_id", id), zap.Error(err))
	}
	if err := d.store.AppendStatus(id, store.StateCancel, time.Now()); err != nil {
		d.logger.Error("Failed to cancel dependent job",
			zap.Int("job_id", id), zap.Error(err))
		return
	}
	d.logger.Info("Cancelled job on dependency failure",
		zap.Int("job_id", id), zap.Int("because_of", pred))

	if to := settings[store.SettingMail]; to != "" {
		subject := fmt.Sprintf("sbs job %d cancelled", id)
		body := fmt.Sprintf("Job %d (%s) was cancelled because job %d did not succeed.\n",
			id, settings[store.SettingName], pred)
		if err := d.notifier.Notify(to, subject, body); err != nil {
			d.logger.Debug("Mail notification failed", zap.Int("job_id", id), zap.Error(err))
		}
	}
}
