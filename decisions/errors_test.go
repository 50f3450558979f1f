package decisions

import (
	"errors"
	"testing"

	"github.com/alex-thorne/ConsensusBot-sub002/storage"
	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")
	err := storageErr("record vote", cause)

	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage record vote: connection reset", err.Error())
	assert.Nil(t, storageErr("noop", nil))

	assert.True(t, IsNotFound(&InvalidStateError{DecisionID: "D1"}))
	assert.False(t, IsNotFound(&InvalidStateError{DecisionID: "D1", Status: storage.StatusExpired}))
	assert.True(t, IsNotFound(storage.ErrDecisionNotFound))
	assert.Equal(t, "decision D1 is expired", (&InvalidStateError{DecisionID: "D1", Status: storage.StatusExpired}).Error())
}
