// Package decisions captures votes, drives the decision lifecycle and selects
// reminders on top of a storage.DecisionStorage.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/outcome"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

type Service struct {
	store    storage.DecisionStorage
	notifier Notifier
	now      func() time.Time
	location *time.Location
}

type Option func(*Service)

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone in which deadline dates are compared.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(store storage.DecisionStorage, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: LogNotifier{},
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type NewDecision struct {
	Name          string
	Proposal      string
	SuccessPolicy storage.SuccessPolicy
	Deadline      time.Time
	ChannelRef    string
	CreatorRef    string
}

func (n NewDecision) validate() error {
	switch {
	case strings.TrimSpace(n.Name) == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case strings.TrimSpace(n.Proposal) == "":
		return &ValidationError{Field: "proposal", Reason: "must not be empty"}
	case !n.SuccessPolicy.Valid():
		return &ValidationError{Field: "successPolicy", Reason: "must be one of simple_majority, super_majority, unanimous"}
	case n.Deadline.IsZero():
		return &ValidationError{Field: "deadline", Reason: "must be set"}
	case n.ChannelRef == "":
		return &ValidationError{Field: "channelRef", Reason: "must not be empty"}
	case n.CreatorRef == "":
		return &ValidationError{Field: "creatorRef", Reason: "must not be empty"}
	}
	return nil
}

func (s *Service) CreateDecision(ctx context.Context, in NewDecision) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	id, err := s.store.CreateDecision(ctx, &storage.Decision{
		Name:          strings.TrimSpace(in.Name),
		Proposal:      in.Proposal,
		SuccessPolicy: in.SuccessPolicy,
		Deadline:      in.Deadline,
		ChannelRef:    in.ChannelRef,
		CreatorRef:    in.CreatorRef,
	})
	if errors.Is(err, storage.ErrInvalidPolicy) {
		return "", &ValidationError{Field: "successPolicy", Reason: err.Error()}
	}
	if err != nil {
		return "", storageErr("create decision", err)
	}
	logging.Log.Infof("DECISIONS: %s created decision %s '%s' due %s", in.CreatorRef, id, in.Name, in.Deadline.Format(storage.DeadlineLayout))
	return id, nil
}

// CreateDecisionWithVoters validates the decision and its voter list before
// anything is written, then stores both. An empty voter list creates the
// decision alone.
func (s *Service) CreateDecisionWithVoters(ctx context.Context, in NewDecision, userIDs []string) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	var voters []string
	if len(userIDs) > 0 {
		clean, err := cleanVoterIDs(userIDs)
		if err != nil {
			return "", err
		}
		voters = clean
	}

	id, err := s.CreateDecision(ctx, in)
	if err != nil || len(voters) == 0 {
		return id, err
	}
	if err := s.AddVoters(ctx, id, voters); err != nil {
		logging.Log.Errorf("DECISIONS: decision %s stored but its voters were not: %v", id, err)
		return id, err
	}
	return id, nil
}

// AddVoters registers required voters on an active decision. Users already
// registered are skipped.
func (s *Service) AddVoters(ctx context.Context, decisionID string, userIDs []string) error {
	clean, err := cleanVoterIDs(userIDs)
	if err != nil {
		return err
	}
	if _, err := s.activeDecision(ctx, decisionID); err != nil {
		return err
	}
	err = s.store.AddVoters(ctx, decisionID, clean)
	if errors.Is(err, storage.ErrDecisionNotFound) {
		return &InvalidStateError{DecisionID: decisionID}
	}
	if errors.Is(err, storage.ErrTooManyVoters) {
		return &ValidationError{Field: "userIds", Reason: err.Error()}
	}
	return storageErr("add voters", err)
}

// cleanVoterIDs trims and dedupes user ids. The result holds at least one id
// and at most storage.MaxVotersPerBatch.
func cleanVoterIDs(userIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(userIDs))
	clean := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil, &ValidationError{Field: "userIds", Reason: "at least one user id is required"}
	}
	if len(clean) > storage.MaxVotersPerBatch {
		return nil, &ValidationError{Field: "userIds", Reason: fmt.Sprintf("at most %d voters per request", storage.MaxVotersPerBatch)}
	}
	return clean, nil
}

func (s *Service) SetMessageRef(ctx context.Context, decisionID, ref string) error {
	if ref == "" {
		return &ValidationError{Field: "messageRef", Reason: "must not be empty"}
	}
	if _, err := s.getDecision(ctx, decisionID); err != nil {
		return err
	}
	return storageErr("update message ref", s.store.UpdateDecisionMessageRef(ctx, decisionID, ref))
}

func (s *Service) ListActive(ctx context.Context) ([]*storage.Decision, error) {
	decisions, err := s.store.ListActiveDecisions(ctx)
	if err != nil {
		return nil, storageErr("list active decisions", err)
	}
	return decisions, nil
}

// DecisionStats is the merged view used for status and summary displays.
type DecisionStats struct {
	Decision      *storage.Decision    `json:"decision"`
	Voters        []*storage.Voter     `json:"voters"`
	Votes         []*storage.Vote      `json:"votes"`
	Summary       *storage.VoteSummary `json:"summary"`
	Outcome       outcome.Result       `json:"outcome"`
	MissingVoters []*storage.Voter     `json:"missingVoters"`
}

func (s *Service) GetDecisionWithStats(ctx context.Context, decisionID string) (*DecisionStats, error) {
	decision, err := s.getDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	t, err := s.tally(ctx, decision)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.GetVoteSummary(ctx, decisionID)
	if err != nil {
		return nil, storageErr("get vote summary", err)
	}
	missing, err := s.store.GetMissingVoters(ctx, decisionID)
	if err != nil {
		return nil, storageErr("get missing voters", err)
	}
	return &DecisionStats{
		Decision:      decision,
		Voters:        t.voters,
		Votes:         t.votes,
		Summary:       summary,
		Outcome:       t.result,
		MissingVoters: missing,
	}, nil
}

func (s *Service) getDecision(ctx context.Context, id string) (*storage.Decision, error) {
	decision, err := s.store.GetDecision(ctx, id)
	if errors.Is(err, storage.ErrDecisionNotFound) {
		return nil, &InvalidStateError{DecisionID: id}
	}
	if err != nil {
		return nil, storageErr("get decision", err)
	}
	return decision, nil
}

func (s *Service) activeDecision(ctx context.Context, id string) (*storage.Decision, error) {
	decision, err := s.getDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision.Status != storage.StatusActive {
		return nil, &InvalidStateError{DecisionID: id, Status: decision.Status}
	}
	return decision, nil
}

// tally is a snapshot of a decision's voters and votes with its evaluated outcome.
type tally struct {
	voters []*storage.Voter
	votes  []*storage.Vote
	result outcome.Result
}

func (s *Service) tally(ctx context.Context, decision *storage.Decision) (*tally, error) {
	voters, err := s.store.GetVoters(ctx, decision.ID)
	if err != nil {
		return nil, storageErr("get voters", err)
	}
	votes, err := s.store.GetVotes(ctx, decision.ID)
	if err != nil {
		return nil, storageErr("get votes", err)
	}
	return &tally{
		voters: voters,
		votes:  votes,
		result: outcome.FromVotes(votes, decision.SuccessPolicy, len(voters)),
	}, nil
}

func (t *tally) missing() []*storage.Voter {
	return storage.MissingVoters(t.voters, t.votes)
}

// allVoted is true once every registered voter has a vote on record.
func (t *tally) allVoted() bool {
	return len(t.voters) > 0 && len(t.missing()) == 0
}
