package engine

import (
	"context"
	"fmt"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/orchestrator"
)

// RescanReport counts what a rescan did.
type RescanReport struct {
	Checked            int `json:"checked"`
	Analyzed           int `json:"analyzed"`
	Failed             int `json:"failed"`
	RemindersTriggered int `json:"remindersTriggered"`
}

// Rescan runs the cadence policy over every eligible conversation with the
// configured threshold, then triggers due reminders. If the batch fails or
// panics the busy gauge and the debounce set are force-reset.
func (e *Engine) Rescan(ctx context.Context) (report RescanReport, err error) {
	e.busy.Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rescan panic: %v", r)
		}
		if err != nil {
			e.busy.Reset()
			e.debounce.Reset()
			e.logger.Error("rescan_failed", "error", err)
			return
		}
		e.busy.Dec()
	}()

	outcomes, err := e.sweep(ctx, e.threshold)
	report.Checked = len(outcomes)
	for _, o := range outcomes {
		switch o {
		case orchestrator.OutcomeAnalyzed:
			report.Analyzed++
		case orchestrator.OutcomeFailed:
			report.Failed++
		}
	}
	if err != nil {
		return report, fmt.Errorf("rescan conversations: %w", err)
	}

	report.RemindersTriggered, err = e.CheckDueReminders(ctx)
	if err != nil {
		return report, err
	}
	e.logger.Info("rescan_completed", "checked", report.Checked, "analyzed", report.Analyzed,
		"failed", report.Failed, "reminders_triggered", report.RemindersTriggered)
	return report, nil
}

// CheckDueReminders triggers every pending reminder whose due date has passed.
func (e *Engine) CheckDueReminders(ctx context.Context) (int, error) {
	var n int
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		var err error
		n, err = e.artifacts.TriggerDueReminders(ctx)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("trigger due reminders: %w", err)
	}
	if n > 0 {
		e.publish(domain.ChangeReminder, "")
		e.publish(domain.ChangeNotification, "")
	}
	return n, nil
}
