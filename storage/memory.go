package storage

import (
	"context"
	"sync"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
)

var _ DecisionStorage = (*MemoryDecisionStorage)(nil)

// partition holds everything stored for one decision. Its mutex serializes
// writers to the same decision while other partitions stay independent.
type partition struct {
	mu       sync.RWMutex
	decision Decision
	voters   map[string]Voter
	votes    map[string]Vote
}

// MemoryDecisionStorage keeps decisions in process memory. It backs unit tests
// and local runs.
type MemoryDecisionStorage struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	now        func() time.Time
}

func NewMemoryDecisionStorage() *MemoryDecisionStorage {
	return &MemoryDecisionStorage{
		partitions: map[string]*partition{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryDecisionStorage) lookup(id string) *partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitions[id]
}

func (s *MemoryDecisionStorage) CreateDecision(ctx context.Context, decision *Decision) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := prepareDecision(decision, s.now()); err != nil {
		logging.Log.Warnf("DECISION: rejected create: %v", err)
		return "", err
	}

	p := &partition{
		decision: *decision,
		voters:   map[string]Voter{},
		votes:    map[string]Vote{},
	}
	p.decision.Voters = nil
	p.decision.Votes = nil

	s.mu.Lock()
	s.partitions[decision.ID] = p
	s.mu.Unlock()

	logging.Log.Infof("DECISION: created decision %s (%s)", decision.ID, decision.SuccessPolicy)
	return decision.ID, nil
}

func (s *MemoryDecisionStorage) AddVoters(ctx context.Context, decisionID string, userIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return ErrDecisionNotFound
	}

	now := s.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, id := range uniqueUserIDs(userIDs) {
		if _, ok := p.voters[id]; ok {
			continue
		}
		p.voters[id] = Voter{DecisionID: decisionID, UserID: id, Required: true, CreatedAt: now}
		added++
	}
	logging.Log.Debugf("VOTER: added %d voters to decision %s", added, decisionID)
	return nil
}

func (s *MemoryDecisionStorage) GetDecision(ctx context.Context, id string) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.lookup(id)
	if p == nil {
		return nil, ErrDecisionNotFound
	}
	p.mu.RLock()
	d := p.decision
	p.mu.RUnlock()
	return &d, nil
}

func (s *MemoryDecisionStorage) GetVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return []*Voter{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyVoters(p.voters), nil
}

func (s *MemoryDecisionStorage) RecordVote(ctx context.Context, decisionID, userID string, value VoteValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !value.Valid() {
		return ErrInvalidVoteValue
	}
	p := s.lookup(decisionID)
	if p == nil {
		return ErrDecisionNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.votes[userID] = Vote{DecisionID: decisionID, UserID: userID, Value: value, VotedAt: s.now()}
	return nil
}

func (s *MemoryDecisionStorage) GetVotes(ctx context.Context, decisionID string) ([]*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return []*Vote{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyVotes(p.votes), nil
}

func (s *MemoryDecisionStorage) UpdateDecisionMessageRef(ctx context.Context, decisionID, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decision.MessageRef = ref
	p.decision.UpdatedAt = s.now()
	return nil
}

func (s *MemoryDecisionStorage) UpdateDecisionStatus(ctx context.Context, decisionID string, status DecisionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}
	p := s.lookup(decisionID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decision.Status != StatusActive {
		logging.Log.Debugf("DECISION: %s already %s, ignoring transition to %s", decisionID, p.decision.Status, status)
		return nil
	}
	p.decision.Status = status
	p.decision.UpdatedAt = s.now()
	return nil
}

func (s *MemoryDecisionStorage) ListActiveDecisions(ctx context.Context) ([]*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	parts := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	active := make([]*Decision, 0, len(parts))
	for _, p := range parts {
		p.mu.RLock()
		if p.decision.Status == StatusActive {
			d := p.decision
			active = append(active, &d)
		}
		p.mu.RUnlock()
	}
	sortByDeadline(active)
	return active, nil
}

func (s *MemoryDecisionStorage) GetMissingVoters(ctx context.Context, decisionID string) ([]*Voter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return []*Voter{}, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return MissingVoters(copyVoters(p.voters), copyVotes(p.votes)), nil
}

func (s *MemoryDecisionStorage) GetVoteSummary(ctx context.Context, decisionID string) (*VoteSummary, error) {
	votes, err := s.GetVotes(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return summarize(votes), nil
}

func (s *MemoryDecisionStorage) IsEligibleVoter(ctx context.Context, decisionID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := s.lookup(decisionID)
	if p == nil {
		return false, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.voters[userID]
	return ok, nil
}

func copyVoters(in map[string]Voter) []*Voter {
	out := make([]*Voter, 0, len(in))
	for _, v := range in {
		v := v
		out = append(out, &v)
	}
	return out
}

func copyVotes(in map[string]Vote) []*Vote {
	out := make([]*Vote, 0, len(in))
	for _, v := range in {
		v := v
		out = append(out, &v)
	}
	return out
}
