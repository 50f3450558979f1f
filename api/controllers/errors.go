package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/events"
	"github.com/alex-thorne/ConsensusBot-sub002/lock"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/gin-gonic/gin"
)

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(g *gin.Context, prefix string, err error) {
	var validation *decisions.ValidationError
	var notEligible *decisions.NotEligibleError
	var invalidState *decisions.InvalidStateError

	switch {
	case errors.As(err, &validation):
		logging.Log.Warnf("%s: rejected request: %v", prefix, err)
		g.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED", Field: validation.Field})
	case errors.As(err, &notEligible):
		logging.Log.Warnf("%s: %v", prefix, err)
		g.JSON(http.StatusForbidden, models.ErrorResponse{Error: err.Error(), Code: "NOT_ELIGIBLE"})
	case errors.As(err, &invalidState) && invalidState.NotFound():
		g.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.As(err, &invalidState):
		logging.Log.Infof("%s: %v", prefix, err)
		g.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: "INVALID_STATE"})
	case errors.Is(err, lock.ErrLocked):
		logging.Log.Infof("%s: %v", prefix, err)
		g.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: "LOCKED"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.Log.Warnf("%s: request abandoned: %v", prefix, err)
		g.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error(), Code: "CANCELLED"})
	default:
		logging.Log.Errorf("%s: %v", prefix, err)
		g.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), Code: "STORAGE_ERROR"})
	}
}

func badRequest(g *gin.Context, message string) {
	g.JSON(http.StatusBadRequest, models.ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}

// publish is best effort. A broker outage never fails a request whose write
// already succeeded.
func publish(g *gin.Context, p events.Publisher, event events.DecisionEvent) {
	if err := p.Publish(g.Request.Context(), event); err != nil {
		logging.Log.Warnf("EVENTS: failed to publish %s for %s: %v", event.Type, event.DecisionID, err)
	}
}
