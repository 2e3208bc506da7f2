// Package httpapi implements the kernel's external HTTP surface (spec §6):
// rooms/threads/messages, policy evaluation, approvals, runs and their
// claim-lease lifecycle, live event tail over SSE, and an events query
// endpoint. It wraps the same gin-gonic/gin router the teacher's
// cmd/tarsy/main.go and pkg/api/handlers.go use.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/approvals"
	"github.com/codeready-toolchain/agentkernel/pkg/claims"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/livetail"
	"github.com/codeready-toolchain/agentkernel/pkg/metrics"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
	"github.com/codeready-toolchain/agentkernel/pkg/rooms"
	"github.com/codeready-toolchain/agentkernel/pkg/runs"
	"github.com/codeready-toolchain/agentkernel/pkg/version"
)

// Server wires the write-side services, the policy gate, the event store
// and the live-tail hub into a gin router.
type Server struct {
	rooms     *rooms.Service
	approvals *approvals.Service
	runs      *runs.Service
	claims    *claims.Coordinator
	gate      *policy.Gate
	hub       *livetail.Hub
	events    *eventstore.Store
	log       *slog.Logger

	router *gin.Engine
	http   *http.Server
}

// Deps bundles the dependencies NewServer wires together.
type Deps struct {
	Rooms     *rooms.Service
	Approvals *approvals.Service
	Runs      *runs.Service
	Claims    *claims.Coordinator
	Gate      *policy.Gate
	Hub       *livetail.Hub
	Events    *eventstore.Store
	Log       *slog.Logger
}

func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		rooms:     deps.Rooms,
		approvals: deps.Approvals,
		runs:      deps.Runs,
		claims:    deps.Claims,
		gate:      deps.Gate,
		hub:       deps.Hub,
		events:    deps.Events,
		log:       log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeaders())
	router.Use(metrics.GinMiddleware())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.Use(schemaVersionGate())
	{
		v1.POST("/rooms", s.createRoom)
		v1.GET("/rooms", s.listRooms)
		v1.GET("/rooms/:roomId", s.getRoom)
		v1.POST("/rooms/:roomId/threads", s.createThread)
		v1.GET("/rooms/:roomId/threads", s.listThreads)
		v1.POST("/rooms/:roomId/messages", s.postMessage)
		v1.GET("/rooms/:roomId/messages", s.listMessages)
		v1.GET("/rooms/:roomId/stream", s.streamRoom)

		v1.POST("/policy/evaluate", s.evaluatePolicy)

		v1.POST("/approvals", s.requestApproval)
		v1.GET("/approvals", s.listApprovals)
		v1.GET("/approvals/:approvalId", s.getApproval)
		v1.POST("/approvals/:approvalId/decide", s.decideApproval)

		v1.POST("/runs", s.createRun)
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:runId", s.getRun)
		v1.POST("/runs/:runId/start", s.startRun)
		v1.POST("/runs/:runId/steps", s.addRunStep)
		v1.POST("/runs/:runId/tool-calls", s.addRunToolCall)
		v1.POST("/runs/:runId/artifacts", s.addRunArtifact)
		v1.POST("/runs/:runId/complete", s.completeRun)
		v1.POST("/runs/:runId/fail", s.failRun)
		v1.POST("/runs/claim", s.claimRuns)
		v1.POST("/runs/:runId/heartbeat", s.heartbeatRun)
		v1.POST("/runs/:runId/release", s.releaseRun)

		v1.GET("/events", s.queryEvents)
		v1.GET("/events/:eventId", s.getEvent)
	}

	s.router = router
	return s
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "schema_version": CurrentSchemaVersion, "version": version.Full()})
}

// Router exposes the underlying gin engine, chiefly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server on addr until Shutdown is called. It blocks
// and returns http.ErrServerClosed on a clean shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("httpapi: listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}
