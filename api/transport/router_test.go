package transport

import (
	"net/http"
	"testing"

	testutils "github.com/alex-thorne/ConsensusBot-sub002/api/controllers/testing"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter(token string) *gin.Engine {
	r := NewRouter(gin.TestMode, []string{"https://consensus.example"})
	r.POST("/guarded", APITokenMiddleware(token), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAPITokenMiddleware(t *testing.T) {
	t.Run("Valid token", func(t *testing.T) {
		res := testutils.PerformRequest(setupRouter("secret"), http.MethodPost, "/guarded", nil, map[string]string{APITokenHeader: "secret"})
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("Wrong token", func(t *testing.T) {
		res := testutils.PerformRequest(setupRouter("secret"), http.MethodPost, "/guarded", nil, map[string]string{APITokenHeader: "nope"})
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("Missing token", func(t *testing.T) {
		res := testutils.PerformRequest(setupRouter("secret"), http.MethodPost, "/guarded", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("No token configured", func(t *testing.T) {
		res := testutils.PerformRequest(setupRouter(""), http.MethodPost, "/guarded", nil, map[string]string{APITokenHeader: ""})
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})
}

func TestNoRouteHandler(t *testing.T) {
	res := testutils.PerformRequest(setupRouter("secret"), http.MethodGet, "/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Contains(t, res.Body.String(), "PAGE_NOT_FOUND")
}

func TestCORSMiddleware(t *testing.T) {
	res := testutils.PerformRequest(setupRouter("secret"), http.MethodOptions, "/guarded", nil, map[string]string{
		"Origin":                        "https://consensus.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, "https://consensus.example", res.Header().Get("Access-Control-Allow-Origin"))
}
