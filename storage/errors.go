package storage

import "errors"

var ErrDecisionNotFound = errors.New("decision not found in storage")
var ErrInvalidPolicy = errors.New("unrecognized success policy")
var ErrInvalidStatus = errors.New("unrecognized decision status")
var ErrInvalidVoteValue = errors.New("unrecognized vote value")
var ErrTooManyVoters = errors.New("too many voters in a single batch")

// MaxVotersPerBatch is the most voters a single AddVoters call may register.
const MaxVotersPerBatch = 100
