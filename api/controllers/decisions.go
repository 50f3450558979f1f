package controllers

import (
	"net/http"

	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/api/transport"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/events"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/gin-gonic/gin"
)

type DecisionController struct {
	service   *decisions.Service
	publisher events.Publisher
	apiToken  string
}

func NewDecisionController(service *decisions.Service, publisher events.Publisher, apiToken string) *DecisionController {
	return &DecisionController{
		service:   service,
		publisher: publisher,
		apiToken:  apiToken,
	}
}

func (c *DecisionController) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group("/api/decisions")
	guarded := transport.APITokenMiddleware(c.apiToken)

	group.GET("", c.listActive)
	group.GET("/:id", c.getDecision)
	group.GET("/:id/missing", c.getMissingVoters)
	group.POST("", guarded, c.createDecision)
	group.POST("/:id/voters", guarded, c.addVoters)
	group.PUT("/:id/message", guarded, c.updateMessageRef)
}

// createDecision stores a decision and, when the request names voters,
// registers them in the same call. Events go out only once both are stored.
func (c *DecisionController) createDecision(g *gin.Context) {
	var req models.CreateDecisionRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		badRequest(g, "invalid request body")
		return
	}
	in, err := req.ToNewDecision()
	if err != nil {
		writeError(g, "DECISIONS", err)
		return
	}

	id, err := c.service.CreateDecisionWithVoters(g.Request.Context(), in, req.Voters)
	if err != nil {
		writeError(g, "DECISIONS", err)
		return
	}

	publish(g, c.publisher, events.NewEvent(events.TypeDecisionCreated, id))
	if len(req.Voters) > 0 {
		publish(g, c.publisher, events.NewEvent(events.TypeVotersAdded, id))
	}
	g.JSON(http.StatusCreated, models.CreateDecisionResponse{ID: id})
}

func (c *DecisionController) addVoters(g *gin.Context) {
	id := g.Param("id")
	var req models.AddVotersRequest
	if err := g.ShouldBindJSON(&req); err != nil {
		badRequest(g, "invalid request body")
		return
	}
	if err := c.service.AddVoters(g.Request.Context(), id, req.UserIDs); err != nil {
		writeError(g, "DECISIONS", err)
		return
	}
	publish(g, c.publisher, events.NewEvent(events.TypeVotersAdded, id))

	logging.Log.Infof("DECISIONS: added %d voters to %s", len(req.UserIDs), id)
	g.JSON(http.StatusOK, gin.H{"decisionId": id})
}

func (c *DecisionController) updateMessageRef(g *gin.Context) {
	id := g.Param("id")
	var req models.UpdateMessageRefRequest
	if err := g.ShouldBindJSON(&req); err != nil || req.MessageRef == "" {
		badRequest(g, "invalid request, missing messageRef")
		return
	}
	if err := c.service.SetMessageRef(g.Request.Context(), id, req.MessageRef); err != nil {
		writeError(g, "DECISIONS", err)
		return
	}
	g.JSON(http.StatusOK, gin.H{"decisionId": id, "messageRef": req.MessageRef})
}

func (c *DecisionController) getDecision(g *gin.Context) {
	stats, err := c.service.GetDecisionWithStats(g.Request.Context(), g.Param("id"))
	if err != nil {
		writeError(g, "DECISIONS", err)
		return
	}
	g.JSON(http.StatusOK, models.TransformStatsToResponse(stats))
}

func (c *DecisionController) getMissingVoters(g *gin.Context) {
	stats, err := c.service.GetDecisionWithStats(g.Request.Context(), g.Param("id"))
	if err != nil {
		writeError(g, "DECISIONS", err)
		return
	}
	g.JSON(http.StatusOK, models.TransformStatsToResponse(stats).MissingVoters)
}

func (c *DecisionController) listActive(g *gin.Context) {
	active, err := c.service.ListActive(g.Request.Context())
	if err != nil {
		writeError(g, "DECISIONS", err)
		return
	}
	out := make([]models.DecisionResponse, 0, len(active))
	for _, d := range active {
		out = append(out, models.TransformDecisionToResponse(d))
	}
	logging.Log.Debugf("DECISIONS: listed %d active decisions", len(out))
	g.JSON(http.StatusOK, out)
}
