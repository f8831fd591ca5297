// Package server exposes the REST and WebSocket surface the frontend
// consumes: workflow listings, state detail, plan content, deletion,
// terminal launching, stage-event ingestion, and the /ws/trigger stream.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentick/adw/internal/discovery"
	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/store"
	"github.com/agentick/adw/internal/terminal"
	"github.com/agentick/adw/internal/worktree"
	"github.com/agentick/adw/internal/ws"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	Store       *store.Store
	Discovery   *discovery.Discovery
	WS          *ws.Manager
	Worktrees   *worktree.Manager
	Launcher    *terminal.Launcher
	ProjectRoot string
	Log         *logger.Logger

	upgrader websocket.Upgrader
}

func New(st *store.Store, d *discovery.Discovery, wsman *ws.Manager, wt *worktree.Manager, launcher *terminal.Launcher, projectRoot string, log *logger.Logger) *Server {
	return &Server{
		Store:       st,
		Discovery:   d,
		WS:          wsman,
		Worktrees:   wt,
		Launcher:    launcher,
		ProjectRoot: projectRoot,
		Log:         log.With("component", "server"),
		upgrader: websocket.Upgrader{
			// The dashboard runs on a different localhost port.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", s.healthCheck)

	api := router.Group("/api")
	{
		api.GET("/adws/list", s.listADWs)
		api.GET("/adws/:adw_id", s.getADW)
		api.GET("/adws/:adw_id/plan", s.getPlan)
		api.DELETE("/adws/:adw_id", s.deleteADW)
		api.POST("/worktree/open/:adw_id", s.openWorktree)
		api.POST("/codebase/open/:adw_id", s.openCodebase)
		api.POST("/stage-event", s.stageEvent)
		api.POST("/agent-state-update", s.agentStateUpdate)
	}

	router.GET("/ws/trigger", s.wsTrigger)
	return router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "connections": s.WS.ConnectionCount()})
}
