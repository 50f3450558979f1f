package decisions

import (
	"context"
	"strings"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/outcome"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

type CastResult struct {
	DecisionID string                 `json:"decisionId"`
	Status     storage.DecisionStatus `json:"status"`
	Outcome    outcome.Result         `json:"outcome"`
	Missing    int                    `json:"missing"`
}

// CastVote records userID's vote on an active decision and re-evaluates it.
// A repeated vote replaces the earlier one.
func (s *Service) CastVote(ctx context.Context, decisionID, userID string, value storage.VoteValue) (*CastResult, error) {
	if !value.Valid() {
		return nil, &ValidationError{Field: "value", Reason: "must be one of yes, no, abstain"}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	d, err := s.activeDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if s.deadlinePassed(d) {
		status, _, err := s.ApplyLifecycle(ctx, d)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{DecisionID: decisionID, Status: status}
	}

	eligible, err := s.store.IsEligibleVoter(ctx, decisionID, userID)
	if err != nil {
		return nil, storageErr("check eligibility", err)
	}
	if !eligible {
		logging.Log.Warnf("VOTES: %s tried to vote on %s without being a required voter", userID, decisionID)
		return nil, &NotEligibleError{DecisionID: decisionID, UserID: userID}
	}

	if err := s.store.RecordVote(ctx, decisionID, userID, value); err != nil {
		return nil, storageErr("record vote", err)
	}
	logging.Log.Debugf("VOTES: %s voted %s on %s", userID, value, decisionID)

	t, err := s.tally(ctx, d)
	if err != nil {
		return nil, err
	}
	status, err := s.settle(ctx, d, t)
	if err != nil {
		return nil, err
	}
	return &CastResult{
		DecisionID: decisionID,
		Status:     status,
		Outcome:    t.result,
		Missing:    len(t.missing()),
	}, nil
}
