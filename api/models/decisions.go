package models

import (
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

type CreateDecisionRequest struct {
	Name          string `json:"name"`
	Proposal      string `json:"proposal"`
	SuccessPolicy string `json:"successPolicy"`
	// Deadline is a calendar date, YYYY-MM-DD.
	Deadline   string   `json:"deadline"`
	ChannelRef string   `json:"channelRef"`
	CreatorRef string   `json:"creatorRef"`
	Voters     []string `json:"voters"`
}

// ToNewDecision parses the deadline. A malformed date is reported by the
// returned error; every other field is validated by the service.
func (r CreateDecisionRequest) ToNewDecision() (decisions.NewDecision, error) {
	var deadline time.Time
	if r.Deadline != "" {
		d, err := time.Parse(storage.DeadlineLayout, r.Deadline)
		if err != nil {
			return decisions.NewDecision{}, &decisions.ValidationError{Field: "deadline", Reason: "must be a date formatted YYYY-MM-DD"}
		}
		deadline = d
	}
	return decisions.NewDecision{
		Name:          r.Name,
		Proposal:      r.Proposal,
		SuccessPolicy: storage.SuccessPolicy(r.SuccessPolicy),
		Deadline:      deadline,
		ChannelRef:    r.ChannelRef,
		CreatorRef:    r.CreatorRef,
	}, nil
}

type CreateDecisionResponse struct {
	ID string `json:"id"`
}

type AddVotersRequest struct {
	UserIDs []string `json:"userIds"`
}

type UpdateMessageRefRequest struct {
	MessageRef string `json:"messageRef"`
}

type CastVoteRequest struct {
	UserID string `json:"userId"`
	Value  string `json:"value"`
}

type DecisionResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Proposal      string    `json:"proposal"`
	SuccessPolicy string    `json:"successPolicy"`
	Deadline      string    `json:"deadline"`
	ChannelRef    string    `json:"channelRef"`
	CreatorRef    string    `json:"creatorRef"`
	MessageRef    string    `json:"messageRef,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func TransformDecisionToResponse(d *storage.Decision) DecisionResponse {
	return DecisionResponse{
		ID:            d.ID,
		Name:          d.Name,
		Proposal:      d.Proposal,
		SuccessPolicy: string(d.SuccessPolicy),
		Deadline:      d.Deadline.Format(storage.DeadlineLayout),
		ChannelRef:    d.ChannelRef,
		CreatorRef:    d.CreatorRef,
		MessageRef:    d.MessageRef,
		Status:        string(d.Status),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type DecisionStatsResponse struct {
	Decision      DecisionResponse     `json:"decision"`
	Summary       *storage.VoteSummary `json:"summary"`
	Outcome       OutcomeResponse      `json:"outcome"`
	Voters        []string             `json:"voters"`
	MissingVoters []string             `json:"missingVoters"`
	Votes         []*storage.Vote      `json:"votes"`
}

type OutcomeResponse struct {
	Passed         bool    `json:"passed"`
	Percentage     float64 `json:"percentage"`
	RequiredVoters int     `json:"requiredVoters"`
	Reason         string  `json:"reason"`
}

func TransformStatsToResponse(s *decisions.DecisionStats) DecisionStatsResponse {
	return DecisionStatsResponse{
		Decision: TransformDecisionToResponse(s.Decision),
		Summary:  s.Summary,
		Outcome: OutcomeResponse{
			Passed:         s.Outcome.Passed,
			Percentage:     s.Outcome.Percentage,
			RequiredVoters: s.Outcome.RequiredVoters,
			Reason:         s.Outcome.Reason,
		},
		Voters:        voterIDs(s.Voters),
		MissingVoters: voterIDs(s.MissingVoters),
		Votes:         s.Votes,
	}
}

func voterIDs(voters []*storage.Voter) []string {
	ids := make([]string, 0, len(voters))
	for _, v := range voters {
		ids = append(ids, v.UserID)
	}
	return ids
}

type CloseExpiredResponse struct {
	Closed int      `json:"closed"`
	Errors []string `json:"errors,omitempty"`
}
