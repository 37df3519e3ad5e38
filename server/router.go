package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/blockpulse/blockpulse/controllers"
	"github.com/blockpulse/blockpulse/handlers"
)

func NewRouter(blockController *controllers.BlockController, hub *handlers.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.AllowCredentials = true
	cfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(cfg))

	blockController.RegisterRoutes(r)

	r.GET("/ws", func(c *gin.Context) {
		handlers.ServeWS(hub, c.Writer, c.Request)
	})

	return r
}
