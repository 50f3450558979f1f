package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	testutils "github.com/alex-thorne/ConsensusBot-sub002/api/controllers/testing"
	"github.com/alex-thorne/ConsensusBot-sub002/api/models"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/events"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

var authHeaders = map[string]string{"x-api-token": testToken}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DecisionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	router    *gin.Engine
	publisher *recordingPublisher
	clock     *testClock
	service   *decisions.Service
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	logging.Log = logrus.New()
	logging.Log.SetLevel(logrus.WarnLevel)

	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	service := decisions.NewService(storage.NewMemoryDecisionStorage(), decisions.WithClock(clock.Now))
	publisher := &recordingPublisher{}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewDecisionController(service, publisher, testToken).RegisterRoutes(r)
	NewVoteController(service, publisher, testToken).RegisterRoutes(r)
	NewReminderController(service, testToken).RegisterRoutes(r)

	return &testEnv{router: r, publisher: publisher, clock: clock, service: service}
}

func createRequest(policy string, voters ...string) models.CreateDecisionRequest {
	return models.CreateDecisionRequest{
		Name:          "Adopt Go",
		Proposal:      "Rewrite the bot in Go",
		SuccessPolicy: policy,
		Deadline:      "2026-03-20",
		ChannelRef:    "C123",
		CreatorRef:    "U000",
		Voters:        voters,
	}
}

func createDecision(t *testing.T, env *testEnv, req models.CreateDecisionRequest) string {
	t.Helper()
	res := testutils.PerformRequest(env.router, http.MethodPost, "/api/decisions", req, authHeaders)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	body, err := testutils.DecodeBody[models.CreateDecisionResponse](res)
	require.NoError(t, err)
	require.NotEmpty(t, body.ID)
	return body.ID
}

func castVote(env *testEnv, id, user, value string) *httptest.ResponseRecorder {
	return testutils.PerformRequest(env.router, http.MethodPost, "/api/decisions/"+id+"/votes",
		models.CastVoteRequest{UserID: user, Value: value}, authHeaders)
}
