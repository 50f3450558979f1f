package storage

import "time"

type SuccessPolicy string

const (
	PolicySimpleMajority SuccessPolicy = "simple_majority"
	PolicySuperMajority  SuccessPolicy = "super_majority"
	PolicyUnanimous      SuccessPolicy = "unanimous"
)

var ValidPolicies = map[SuccessPolicy]string{
	PolicySimpleMajority: "Simple Majority",
	PolicySuperMajority:  "Super Majority",
	PolicyUnanimous:      "Unanimous",
}

func (p SuccessPolicy) Valid() bool {
	_, ok := ValidPolicies[p]
	return ok
}

type DecisionStatus string

const (
	StatusActive   DecisionStatus = "active"
	StatusApproved DecisionStatus = "approved"
	StatusRejected DecisionStatus = "rejected"
	StatusExpired  DecisionStatus = "expired"
)

func (s DecisionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

func (s DecisionStatus) Valid() bool {
	return s == StatusActive || s.Terminal()
}

type VoteValue string

const (
	VoteYes     VoteValue = "yes"
	VoteNo      VoteValue = "no"
	VoteAbstain VoteValue = "abstain"
)

func (v VoteValue) Valid() bool {
	return v == VoteYes || v == VoteNo || v == VoteAbstain
}

// DeadlineLayout is the calendar date format used on the wire.
const DeadlineLayout = "2006-01-02"

type Decision struct {
	ID            string         `dynamodbav:"PK" gorm:"primaryKey;size:64" json:"id"`
	Name          string         `dynamodbav:"Name" gorm:"size:255;not null" json:"name"`
	Proposal      string         `dynamodbav:"Proposal" gorm:"type:text" json:"proposal"`
	SuccessPolicy SuccessPolicy  `dynamodbav:"SuccessPolicy" gorm:"size:32;not null" json:"successPolicy"`
	Deadline      time.Time      `dynamodbav:"Deadline" gorm:"index;not null" json:"deadline"`
	ChannelRef    string         `dynamodbav:"ChannelRef" gorm:"size:128" json:"channelRef"`
	CreatorRef    string         `dynamodbav:"CreatorRef" gorm:"size:128" json:"creatorRef"`
	MessageRef    string         `dynamodbav:"MessageRef" gorm:"size:128" json:"messageRef,omitempty"`
	Status        DecisionStatus `dynamodbav:"Status" gorm:"size:16;index;not null" json:"status"`
	CreatedAt     time.Time      `dynamodbav:"CreatedAt" json:"createdAt"`
	UpdatedAt     time.Time      `dynamodbav:"UpdatedAt" json:"updatedAt"`

	Voters []Voter `dynamodbav:"-" gorm:"foreignKey:DecisionID;constraint:OnDelete:CASCADE" json:"-"`
	Votes  []Vote  `dynamodbav:"-" gorm:"foreignKey:DecisionID;constraint:OnDelete:CASCADE" json:"-"`
}

type Voter struct {
	DecisionID string    `dynamodbav:"PK" gorm:"primaryKey;size:64" json:"decisionId"`
	UserID     string    `dynamodbav:"SK" gorm:"primaryKey;size:128" json:"userId"`
	Required   bool      `dynamodbav:"Required" json:"required"`
	CreatedAt  time.Time `dynamodbav:"CreatedAt" json:"createdAt"`
}

type Vote struct {
	DecisionID string    `dynamodbav:"PK" gorm:"primaryKey;size:64" json:"decisionId"`
	UserID     string    `dynamodbav:"SK" gorm:"primaryKey;size:128" json:"userId"`
	Value      VoteValue `dynamodbav:"Value" gorm:"column:value;size:16;not null" json:"value"`
	VotedAt    time.Time `dynamodbav:"VotedAt" json:"votedAt"`
}

type VoteSummary struct {
	Total   int `json:"total"`
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
}

// NormalizeDeadline truncates t to its calendar date in UTC.
func NormalizeDeadline(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
