package storage

import (
	"context"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DecisionStorage is the capability set every backend provides for decisions,
// their registered voters and the votes cast on them.
//
// Reads of an unknown decision return ErrDecisionNotFound (single record) or an
// empty list. Updates of an unknown decision are no-ops.
type DecisionStorage interface {
	CreateDecision(ctx context.Context, decision *Decision) (string, error)
	AddVoters(ctx context.Context, decisionID string, userIDs []string) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
	GetVoters(ctx context.Context, decisionID string) ([]*Voter, error)
	RecordVote(ctx context.Context, decisionID, userID string, value VoteValue) error
	GetVotes(ctx context.Context, decisionID string) ([]*Vote, error)
	UpdateDecisionMessageRef(ctx context.Context, decisionID, ref string) error
	// UpdateDecisionStatus only applies to decisions that are still active.
	UpdateDecisionStatus(ctx context.Context, decisionID string, status DecisionStatus) error
	ListActiveDecisions(ctx context.Context) ([]*Decision, error)
	GetMissingVoters(ctx context.Context, decisionID string) ([]*Voter, error)
	GetVoteSummary(ctx context.Context, decisionID string) (*VoteSummary, error)
	IsEligibleVoter(ctx context.Context, decisionID, userID string) (bool, error)
}

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func newDecisionID() (string, error) {
	return gonanoid.Generate(idAlphabet, 21)
}

// prepareDecision fills the fields every backend assigns on creation.
func prepareDecision(decision *Decision, now time.Time) error {
	if !decision.SuccessPolicy.Valid() {
		return ErrInvalidPolicy
	}
	id, err := newDecisionID()
	if err != nil {
		return err
	}
	decision.ID = id
	decision.Status = StatusActive
	decision.Deadline = NormalizeDeadline(decision.Deadline)
	decision.CreatedAt = now
	decision.UpdatedAt = now
	return nil
}

func uniqueUserIDs(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// MissingVoters returns the voters without a vote on record.
func MissingVoters(voters []*Voter, votes []*Vote) []*Voter {
	voted := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		voted[v.UserID] = struct{}{}
	}
	missing := make([]*Voter, 0, len(voters))
	for _, v := range voters {
		if _, ok := voted[v.UserID]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

func summarize(votes []*Vote) *VoteSummary {
	s := &VoteSummary{Total: len(votes)}
	for _, v := range votes {
		switch v.Value {
		case VoteYes:
			s.Yes++
		case VoteNo:
			s.No++
		case VoteAbstain:
			s.Abstain++
		}
	}
	return s
}

// sortByDeadline orders soonest-due first; ties fall back to creation time.
func sortByDeadline(decisions []*Decision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		if !decisions[i].Deadline.Equal(decisions[j].Deadline) {
			return decisions[i].Deadline.Before(decisions[j].Deadline)
		}
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
}
