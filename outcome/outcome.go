// Package outcome decides whether a set of cast votes passes a success policy.
package outcome

import (
	"fmt"

	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

// superMajorityPercent is the share of required voters that must vote yes.
const superMajorityPercent = 66

type Result struct {
	Passed         bool    `json:"passed"`
	YesCount       int     `json:"yesCount"`
	NoCount        int     `json:"noCount"`
	AbstainCount   int     `json:"abstainCount"`
	TotalVotes     int     `json:"totalVotes"`
	RequiredVoters int     `json:"requiredVoters"`
	Percentage     float64 `json:"percentage"`
	Reason         string  `json:"reason"`
}

// Threshold returns the fraction of yes votes a policy needs, for display.
func Threshold(policy storage.SuccessPolicy) float64 {
	switch policy {
	case storage.PolicySimpleMajority:
		return 0.5
	case storage.PolicySuperMajority:
		return superMajorityPercent / 100.0
	case storage.PolicyUnanimous:
		return 1
	}
	return 0
}

// Evaluate tallies values and applies policy. requiredVoters is the number of
// registered voters on the decision, voted or not.
func Evaluate(values []storage.VoteValue, policy storage.SuccessPolicy, requiredVoters int) Result {
	r := Result{RequiredVoters: requiredVoters}
	for _, v := range values {
		switch v {
		case storage.VoteYes:
			r.YesCount++
		case storage.VoteNo:
			r.NoCount++
		case storage.VoteAbstain:
			r.AbstainCount++
		}
	}
	r.TotalVotes = r.YesCount + r.NoCount + r.AbstainCount

	switch policy {
	case storage.PolicySimpleMajority:
		r.Percentage = percent(r.YesCount, r.TotalVotes)
		r.Passed = r.TotalVotes > 0 && 2*r.YesCount > r.TotalVotes
		r.Reason = fmt.Sprintf("%d of %d votes cast are yes (%.1f%%), more than half required", r.YesCount, r.TotalVotes, r.Percentage)
	case storage.PolicySuperMajority:
		r.Percentage = percent(r.YesCount, requiredVoters)
		r.Passed = requiredVoters > 0 && r.YesCount*100 >= superMajorityPercent*requiredVoters
		r.Reason = fmt.Sprintf("%d of %d required voters voted yes (%.1f%%), %d%% required", r.YesCount, requiredVoters, r.Percentage, superMajorityPercent)
	case storage.PolicyUnanimous:
		r.Percentage = percent(r.YesCount, r.TotalVotes)
		r.Passed = r.NoCount == 0 && r.YesCount > 0
		switch {
		case r.NoCount > 0:
			r.Reason = fmt.Sprintf("%d no votes block unanimity", r.NoCount)
		case r.YesCount == 0:
			r.Reason = "no yes votes cast"
		default:
			r.Reason = fmt.Sprintf("%d yes, %d abstain, no objections", r.YesCount, r.AbstainCount)
		}
	default:
		r.Reason = fmt.Sprintf("unknown success policy %q", policy)
		return r
	}

	if requiredVoters == 0 || r.TotalVotes == 0 {
		r.Passed = false
		if r.TotalVotes == 0 {
			r.Reason = "no votes cast"
		} else {
			r.Reason = "no registered voters"
		}
	}
	return r
}

// FromVotes is Evaluate over stored vote rows.
func FromVotes(votes []*storage.Vote, policy storage.SuccessPolicy, requiredVoters int) Result {
	values := make([]storage.VoteValue, 0, len(votes))
	for _, v := range votes {
		values = append(values, v.Value)
	}
	return Evaluate(values, policy, requiredVoters)
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
