package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDeadline = time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

func quietLogs() {
	logging.Log = logrus.New()
	logging.Log.SetLevel(logrus.ErrorLevel)
}

func sampleDecision(deadline time.Time) *Decision {
	return &Decision{
		Name:          "Move standup to 10:00",
		Proposal:      "Standup moves to 10:00 starting next sprint.",
		SuccessPolicy: PolicySimpleMajority,
		Deadline:      deadline,
		ChannelRef:    "C42",
		CreatorRef:    "U0",
	}
}

func userIDs(voters []*Voter) []string {
	out := make([]string, 0, len(voters))
	for _, v := range voters {
		out = append(out, v.UserID)
	}
	return out
}

// runStorageSuite exercises the DecisionStorage contract against one backend.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) DecisionStorage) {
	ctx := context.Background()
	deadline := testDeadline

	t.Run("Create assigns id and active status", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)
		assert.Len(t, id, 21)

		d, err := s.GetDecision(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, d.Status)
		assert.Equal(t, "Move standup to 10:00", d.Name)
		assert.True(t, d.Deadline.Equal(deadline))
		assert.False(t, d.UpdatedAt.IsZero())
	})

	t.Run("Create rejects unknown policy", func(t *testing.T) {
		s := newStore(t)
		d := sampleDecision(deadline)
		d.SuccessPolicy = "plurality"
		_, err := s.CreateDecision(ctx, d)
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("Missing decision reads", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetDecision(ctx, "nope")
		assert.ErrorIs(t, err, ErrDecisionNotFound)

		voters, err := s.GetVoters(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, voters)

		eligible, err := s.IsEligibleVoter(ctx, "nope", "U1")
		require.NoError(t, err)
		assert.False(t, eligible)

		assert.NoError(t, s.UpdateDecisionMessageRef(ctx, "nope", "ts.1"))
		assert.NoError(t, s.UpdateDecisionStatus(ctx, "nope", StatusExpired))
		_, err = s.GetDecision(ctx, "nope")
		assert.ErrorIs(t, err, ErrDecisionNotFound)
	})

	t.Run("AddVoters skips already registered users", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)

		require.NoError(t, s.AddVoters(ctx, id, []string{"U1", "U2"}))
		require.NoError(t, s.AddVoters(ctx, id, []string{"U2", "U3", "U3"}))

		voters, err := s.GetVoters(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"U1", "U2", "U3"}, userIDs(voters))
		for _, v := range voters {
			assert.True(t, v.Required)
		}

		ok, err := s.IsEligibleVoter(ctx, id, "U3")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.IsEligibleVoter(ctx, id, "U4")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("AddVoters on missing decision", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.AddVoters(ctx, "nope", []string{"U1"}), ErrDecisionNotFound)
	})

	t.Run("RecordVote replaces earlier vote", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)

		require.NoError(t, s.RecordVote(ctx, id, "U1", VoteNo))
		first, err := s.GetVotes(ctx, id)
		require.NoError(t, err)
		require.Len(t, first, 1)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.RecordVote(ctx, id, "U1", VoteYes))
		second, err := s.GetVotes(ctx, id)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, VoteYes, second[0].Value)
		assert.True(t, second[0].VotedAt.After(first[0].VotedAt))

		assert.ErrorIs(t, s.RecordVote(ctx, id, "U1", "maybe"), ErrInvalidVoteValue)
	})

	t.Run("RecordVote with the same value refreshes voted-at", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)

		require.NoError(t, s.RecordVote(ctx, id, "U1", VoteYes))
		first, err := s.GetVotes(ctx, id)
		require.NoError(t, err)
		require.Len(t, first, 1)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.RecordVote(ctx, id, "U1", VoteYes))
		second, err := s.GetVotes(ctx, id)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, VoteYes, second[0].Value)
		assert.True(t, second[0].VotedAt.After(first[0].VotedAt))
	})

	t.Run("RecordVote on missing decision", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.RecordVote(ctx, "nope", "U1", VoteYes), ErrDecisionNotFound)

		votes, err := s.GetVotes(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, votes)
	})

	t.Run("Missing voters and summary", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)
		require.NoError(t, s.AddVoters(ctx, id, []string{"U1", "U2", "U3", "U4"}))

		missing, err := s.GetMissingVoters(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"U1", "U2", "U3", "U4"}, userIDs(missing))

		require.NoError(t, s.RecordVote(ctx, id, "U1", VoteYes))
		require.NoError(t, s.RecordVote(ctx, id, "U3", VoteAbstain))
		require.NoError(t, s.RecordVote(ctx, id, "U4", VoteNo))

		missing, err = s.GetMissingVoters(ctx, id)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"U2"}, userIDs(missing))

		summary, err := s.GetVoteSummary(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, VoteSummary{Total: 3, Yes: 1, No: 1, Abstain: 1}, *summary)
	})

	t.Run("Status only leaves active once", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)

		require.NoError(t, s.UpdateDecisionStatus(ctx, id, StatusRejected))
		require.NoError(t, s.UpdateDecisionStatus(ctx, id, StatusApproved))
		d, err := s.GetDecision(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, d.Status)

		assert.ErrorIs(t, s.UpdateDecisionStatus(ctx, id, "archived"), ErrInvalidStatus)
	})

	t.Run("Message ref update", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)
		require.NoError(t, s.UpdateDecisionMessageRef(ctx, id, "1712345678.000100"))

		d, err := s.GetDecision(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "1712345678.000100", d.MessageRef)
	})

	t.Run("Active decisions ordered by deadline", func(t *testing.T) {
		s := newStore(t)
		late, err := s.CreateDecision(ctx, sampleDecision(deadline.AddDate(0, 0, 9)))
		require.NoError(t, err)
		soon, err := s.CreateDecision(ctx, sampleDecision(deadline.AddDate(0, 0, 1)))
		require.NoError(t, err)
		closed, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)
		require.NoError(t, s.UpdateDecisionStatus(ctx, closed, StatusExpired))

		active, err := s.ListActiveDecisions(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(active))
		for _, d := range active {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{soon, late}, ids)
	})

	t.Run("Concurrent votes on one key leave a single row", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateDecision(ctx, sampleDecision(deadline))
		require.NoError(t, err)

		values := []VoteValue{VoteYes, VoteNo, VoteAbstain, VoteYes, VoteNo, VoteYes}
		var wg sync.WaitGroup
		for _, v := range values {
			wg.Add(1)
			go func(v VoteValue) {
				defer wg.Done()
				assert.NoError(t, s.RecordVote(ctx, id, "U1", v))
			}(v)
		}
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.RecordVote(ctx, id, fmt.Sprintf("V%d", i), VoteYes))
			}(i)
		}
		wg.Wait()

		votes, err := s.GetVotes(ctx, id)
		require.NoError(t, err)
		assert.Len(t, votes, 6)
		for _, v := range votes {
			assert.True(t, v.Value.Valid())
		}
	})
}
