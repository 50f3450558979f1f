package controllers

import (
	"net/http"

	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/api/transport"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/events"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
	"github.com/gin-gonic/gin"
)

type VoteController struct {
	service   *decisions.Service
	publisher events.Publisher
	apiToken  string
}

func NewVoteController(service *decisions.Service, publisher events.Publisher, apiToken string) *VoteController {
	return &VoteController{
		service:   service,
		publisher: publisher,
		apiToken:  apiToken,
	}
}

func (c *VoteController) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/api/decisions/:id/votes", transport.APITokenMiddleware(c.apiToken), c.castVote)
}

func (c *VoteController) castVote(g *gin.Context) {
	id := g.Param("id")
	var req models.CastVoteRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		badRequest(g, "invalid request body")
		return
	}

	result, err := c.service.CastVote(g.Request.Context(), id, req.UserID, storage.VoteValue(req.Value))
	if err != nil {
		writeError(g, "VOTE", err)
		return
	}

	cast := events.NewEvent(events.TypeVoteCast, id)
	cast.UserID = req.UserID
	cast.Value = req.Value
	cast.Status = string(result.Status)
	publish(g, c.publisher, cast)

	if result.Status.Terminal() {
		closed := events.NewEvent(events.TypeDecisionClosed, id)
		closed.Status = string(result.Status)
		publish(g, c.publisher, closed)
	}

	g.JSON(http.StatusOK, result)
}
