package decisions

import (
	"context"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

type ReminderTask struct {
	DecisionID   string    `json:"decisionId"`
	UserID       string    `json:"userId"`
	DecisionName string    `json:"decisionName"`
	Deadline     time.Time `json:"deadline"`
	ChannelRef   string    `json:"channelRef"`
	MessageRef   string    `json:"messageRef,omitempty"`
}

// Notifier delivers one reminder. Implementations must not retry; a failed
// reminder is picked up again by the next pass.
type Notifier interface {
	Remind(ctx context.Context, task ReminderTask) error
}

// LogNotifier only logs reminders. It is the default for local runs.
type LogNotifier struct{}

func (LogNotifier) Remind(_ context.Context, task ReminderTask) error {
	logging.Log.Infof("REMINDER: %s has not voted on %s '%s' (due %s)",
		task.UserID, task.DecisionID, task.DecisionName, task.Deadline.Format(storage.DeadlineLayout))
	return nil
}

type ReminderFailure struct {
	DecisionID string `json:"decisionId"`
	UserID     string `json:"userId"`
	Error      string `json:"error"`
}

type ReminderReport struct {
	DecisionsProcessed int               `json:"decisionsProcessed"`
	TotalRemindersSent int               `json:"totalRemindersSent"`
	TotalFailed        int               `json:"totalFailed"`
	PerDecisionErrors  map[string]string `json:"perDecisionErrors"`
	Failures           []ReminderFailure `json:"failures"`
}

// RunReminderPass nudges every missing voter on every active decision, soonest
// deadline first. Decisions that the lifecycle closes during the pass get no
// reminders. Dispatch failures are reported, never retried within the pass.
func (s *Service) RunReminderPass(ctx context.Context) (*ReminderReport, error) {
	active, err := s.store.ListActiveDecisions(ctx)
	if err != nil {
		return nil, storageErr("list active decisions", err)
	}

	report := &ReminderReport{
		PerDecisionErrors: map[string]string{},
		Failures:          []ReminderFailure{},
	}
	for _, d := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.DecisionsProcessed++

		status, _, err := s.ApplyLifecycle(ctx, d)
		if err != nil {
			report.PerDecisionErrors[d.ID] = err.Error()
			continue
		}
		if status != storage.StatusActive {
			continue
		}

		missing, err := s.store.GetMissingVoters(ctx, d.ID)
		if err != nil {
			report.PerDecisionErrors[d.ID] = storageErr("get missing voters", err).Error()
			continue
		}
		for _, v := range missing {
			task := ReminderTask{
				DecisionID:   d.ID,
				UserID:       v.UserID,
				DecisionName: d.Name,
				Deadline:     d.Deadline,
				ChannelRef:   d.ChannelRef,
				MessageRef:   d.MessageRef,
			}
			if err := s.notifier.Remind(ctx, task); err != nil {
				logging.Log.Warnf("REMINDER: failed to remind %s on %s: %v", v.UserID, d.ID, err)
				report.TotalFailed++
				report.Failures = append(report.Failures, ReminderFailure{DecisionID: d.ID, UserID: v.UserID, Error: err.Error()})
				continue
			}
			report.TotalRemindersSent++
		}
	}

	logging.Log.Infof("REMINDER: pass done, %d decisions, %d sent, %d failed",
		report.DecisionsProcessed, report.TotalRemindersSent, report.TotalFailed)
	return report, nil
}
