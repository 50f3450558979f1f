package transport

import (
	"net/http"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const APITokenHeader = "x-api-token"

func NewRouter(ginMode string, allowedOrigins []string) *gin.Engine {
	gin.SetMode(ginMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware(allowedOrigins))
	engine.NoRoute(NoRouteHandler())

	return engine
}

func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", APITokenHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = allowedOrigins
	}
	return cors.New(conf)
}

func NoRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logging.Log.Infof("No routed request received for:%s", c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{"code": "PAGE_NOT_FOUND", "error": "Page not found"})
	}
}

// APITokenMiddleware guards the mutating routes. Requests without the
// configured token are rejected, and so is every request when no token is
// configured.
func APITokenMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(APITokenHeader)

		if expected == "" || token != expected {
			logging.Log.Warnf("AUTH: Unauthorized access attempt to %s", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
