package decisions

import (
	"context"
	"errors"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/outcome"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

// deadlinePassed is true from the first day after the deadline date, in the
// service's zone. The deadline date itself is still open for voting.
func (s *Service) deadlinePassed(d *storage.Decision) bool {
	y, m, day := s.now().In(s.location).Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return today.After(storage.NormalizeDeadline(d.Deadline))
}

// nextStatus waits for full participation before closing a decision; only the
// deadline closes it early.
func (s *Service) nextStatus(d *storage.Decision, t *tally) storage.DecisionStatus {
	switch {
	case t.result.Passed && t.allVoted():
		return storage.StatusApproved
	case s.deadlinePassed(d):
		return storage.StatusExpired
	case t.allVoted():
		return storage.StatusRejected
	}
	return storage.StatusActive
}

// settle writes the status the tally calls for and returns the stored status.
// A concurrent writer may have closed the decision first, in which case its
// status wins.
func (s *Service) settle(ctx context.Context, d *storage.Decision, t *tally) (storage.DecisionStatus, error) {
	if d.Status != storage.StatusActive {
		return d.Status, nil
	}
	next := s.nextStatus(d, t)
	if next == storage.StatusActive {
		return next, nil
	}
	if err := s.store.UpdateDecisionStatus(ctx, d.ID, next); err != nil {
		return "", storageErr("update status", err)
	}

	stored, err := s.store.GetDecision(ctx, d.ID)
	if err != nil {
		return "", storageErr("get decision", err)
	}
	if stored.Status == next {
		logging.Log.Infof("LIFECYCLE: decision %s closed as %s (%s)", d.ID, next, t.result.Reason)
	}
	return stored.Status, nil
}

// ApplyLifecycle evaluates a decision and applies any status transition due.
func (s *Service) ApplyLifecycle(ctx context.Context, d *storage.Decision) (storage.DecisionStatus, outcome.Result, error) {
	t, err := s.tally(ctx, d)
	if err != nil {
		return "", outcome.Result{}, err
	}
	status, err := s.settle(ctx, d, t)
	if err != nil {
		return "", t.result, err
	}
	return status, t.result, nil
}

// CloseExpired runs the lifecycle over every active decision and returns how
// many of them were closed. A failure on one decision does not stop the rest.
func (s *Service) CloseExpired(ctx context.Context) (int, error) {
	active, err := s.store.ListActiveDecisions(ctx)
	if err != nil {
		return 0, storageErr("list active decisions", err)
	}

	closed := 0
	var errs []error
	for _, d := range active {
		status, _, err := s.ApplyLifecycle(ctx, d)
		if err != nil {
			logging.Log.Errorf("LIFECYCLE: failed to evaluate decision %s: %v", d.ID, err)
			errs = append(errs, err)
			continue
		}
		if status != storage.StatusActive {
			closed++
		}
	}
	return closed, errors.Join(errs...)
}
