package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/api/transport"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/gin-gonic/gin"
)

// ReminderRunner runs the scheduled maintenance jobs. *decisions.Service
// satisfies it directly; the server wraps it with a distributed lock.
type ReminderRunner interface {
	RunReminderPass(ctx context.Context) (*decisions.ReminderReport, error)
	CloseExpired(ctx context.Context) (int, error)
}

type ReminderController struct {
	runner   ReminderRunner
	apiToken string
}

func NewReminderController(runner ReminderRunner, apiToken string) *ReminderController {
	return &ReminderController{
		runner:   runner,
		apiToken: apiToken,
	}
}

func (c *ReminderController) RegisterRoutes(engine *gin.Engine) {
	guarded := transport.APITokenMiddleware(c.apiToken)
	engine.POST("/api/reminders/run", guarded, c.runReminders)
	engine.POST("/api/maintenance/expire", guarded, c.closeExpired)
}

func (c *ReminderController) runReminders(g *gin.Context) {
	report, err := c.runner.RunReminderPass(g.Request.Context())
	if err != nil {
		writeError(g, "REMINDERS", err)
		return
	}
	logging.Log.Infof("REMINDERS: processed %d decisions, sent %d, failed %d",
		report.DecisionsProcessed, report.TotalRemindersSent, report.TotalFailed)
	g.JSON(http.StatusOK, report)
}

// closeExpired reports the decisions it closed together with any failures;
// it only fails outright when nothing could be closed.
func (c *ReminderController) closeExpired(g *gin.Context) {
	closed, err := c.runner.CloseExpired(g.Request.Context())
	if err != nil && closed == 0 {
		writeError(g, "MAINTENANCE", err)
		return
	}
	res := models.CloseExpiredResponse{Closed: closed}
	if err != nil {
		logging.Log.Warnf("MAINTENANCE: closed %d decisions with failures: %v", closed, err)
		res.Errors = strings.Split(err.Error(), "\n")
	}
	g.JSON(http.StatusOK, res)
}
