package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	testutils "github.com/alex-thorne/ConsensusBot-sub002/api/controllers/testing"
	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/lock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedRunner struct{}

func (lockedRunner) RunReminderPass(context.Context) (*decisions.ReminderReport, error) {
	return nil, lock.ErrLocked
}

func (lockedRunner) CloseExpired(context.Context) (int, error) {
	return 0, errors.New("dynamo unavailable")
}

func TestRunReminders(t *testing.T) {
	env := setupTestRouter(t)
	createDecision(t, env, createRequest("simple_majority", "U1", "U2"))
	dueToday := createRequest("simple_majority", "U3")
	dueToday.Deadline = "2026-03-10"
	createDecision(t, env, dueToday)

	res := testutils.PerformRequest(env.router, http.MethodPost, "/api/reminders/run", nil, authHeaders)
	require.Equal(t, http.StatusOK, res.Code)
	report, err := testutils.DecodeBody[decisions.ReminderReport](res)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DecisionsProcessed)
	assert.Equal(t, 3, report.TotalRemindersSent)
	assert.Zero(t, report.TotalFailed)

	res = testutils.PerformRequest(env.router, http.MethodPost, "/api/reminders/run", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCloseExpired(t *testing.T) {
	env := setupTestRouter(t)
	createDecision(t, env, createRequest("simple_majority", "U1"))
	env.clock.Set(time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC))

	res := testutils.PerformRequest(env.router, http.MethodPost, "/api/maintenance/expire", nil, authHeaders)
	require.Equal(t, http.StatusOK, res.Code)
	body, err := testutils.DecodeBody[map[string]int](res)
	require.NoError(t, err)
	assert.Equal(t, 1, body["closed"])

	list := testutils.PerformRequest(env.router, http.MethodGet, "/api/decisions", nil, nil)
	assert.JSONEq(t, "[]", list.Body.String())
}

type partialRunner struct{}

func (partialRunner) RunReminderPass(context.Context) (*decisions.ReminderReport, error) {
	return &decisions.ReminderReport{}, nil
}

func (partialRunner) CloseExpired(context.Context) (int, error) {
	return 2, errors.Join(errors.New("decision D3: throttled"), errors.New("decision D4: throttled"))
}

func TestCloseExpiredReportsPartialFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewReminderController(partialRunner{}, testToken).RegisterRoutes(r)

	res := testutils.PerformRequest(r, http.MethodPost, "/api/maintenance/expire", nil, authHeaders)
	require.Equal(t, http.StatusOK, res.Code)
	body, err := testutils.DecodeBody[models.CloseExpiredResponse](res)
	require.NoError(t, err)
	assert.Equal(t, 2, body.Closed)
	assert.Equal(t, []string{"decision D3: throttled", "decision D4: throttled"}, body.Errors)
}

func TestReminderRunnerFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewReminderController(lockedRunner{}, testToken).RegisterRoutes(r)

	res := testutils.PerformRequest(r, http.MethodPost, "/api/reminders/run", nil, authHeaders)
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Contains(t, res.Body.String(), "LOCKED")

	res = testutils.PerformRequest(r, http.MethodPost, "/api/maintenance/expire", nil, authHeaders)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
}
