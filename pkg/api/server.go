// Package api exposes the control plane's HTTP(v1) surface: projection
// CRUD, the policy/egress decision endpoints, approval and learning
// lifecycles, and the per-room SSE event stream. Handlers are thin —
// they bind and validate a request, open one Unit-of-Work, call into
// the owning package (store/policy/egress/learning/scorecard), and
// translate the result to JSON.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/database"
	"github.com/agentctl/sentryd/pkg/egress"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/learning"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/scorecard"
	"github.com/agentctl/sentryd/pkg/store"
)

// Server wires every control-plane component into a gin router.
type Server struct {
	db         *sqlx.DB
	store      *store.Store
	log        *eventlog.Log
	broker     *broker.Broker
	egressCtrl *egress.Controller
	learner    *learning.Pipeline
	policyCfg  policy.Config
	scoreFunc  scorecard.ScoreFunc

	promotionLoopEnabled bool

	router *gin.Engine
	srv    *http.Server
}

// Deps bundles the components a Server needs. All fields are required
// except ScoreFunc, which defaults to scorecard.Default.
type Deps struct {
	DB         *sqlx.DB
	Store      *store.Store
	Log        *eventlog.Log
	Broker     *broker.Broker
	EgressCtrl *egress.Controller
	Learner    *learning.Pipeline
	PolicyCfg  policy.Config
	ScoreFunc  scorecard.ScoreFunc

	PromotionLoopEnabled bool
}

// New builds a Server and registers its routes. Call Start to serve.
func New(deps Deps) (*Server, error) {
	if deps.DB == nil || deps.Store == nil || deps.Log == nil || deps.Broker == nil || deps.EgressCtrl == nil || deps.Learner == nil {
		return nil, fmt.Errorf("api.New: missing required dependency")
	}
	scoreFunc := deps.ScoreFunc
	if scoreFunc == nil {
		scoreFunc = scorecard.Default
	}

	s := &Server{
		db:         deps.DB,
		store:      deps.Store,
		log:        deps.Log,
		broker:     deps.Broker,
		egressCtrl: deps.EgressCtrl,
		learner:    deps.Learner,
		policyCfg:  deps.PolicyCfg,
		scoreFunc:  scoreFunc,

		promotionLoopEnabled: deps.PromotionLoopEnabled,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger)
	s.router = router
	s.setupRoutes()

	return s, nil
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	slog.Info("http request",
		"method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "duration_ms", time.Since(start).Milliseconds())
}

func (s *Server) setupRoutes() {
	s.router.GET("/v1/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1", requireWorkspace)

	v1.POST("/principals/legacy/ensure", s.handleEnsurePrincipal)

	v1.POST("/agents", s.handleRegisterAgent)
	v1.POST("/agents/:id/skills/import", s.handleImportSkills)
	v1.POST("/agents/:id/skills/review-pending", s.handleReviewPendingSkills)
	v1.GET("/agents/:id/snapshots", s.handleListSnapshots)

	v1.POST("/rooms", s.handleCreateRoom)
	v1.POST("/rooms/:id/threads", s.handleCreateThread)
	v1.POST("/threads/:id/messages", s.handleCreateMessage)

	v1.POST("/runs", s.handleCreateRun)
	v1.POST("/runs/:id/start", s.handleStartRun)
	v1.POST("/runs/:id/complete", s.handleCompleteRun)

	v1.POST("/runs/:id/steps", s.handleCreateStep)
	v1.POST("/steps/:id/artifacts", s.handleCreateArtifact)
	v1.GET("/artifacts", s.handleListArtifacts)
	v1.GET("/artifacts/:id", s.handleGetArtifact)

	v1.POST("/policy/evaluate", s.handleEvaluatePolicy)

	v1.POST("/approvals", s.handleCreateApproval)
	v1.POST("/approvals/:id/decide", s.handleDecideApproval)

	v1.POST("/egress/requests", s.handleEgressRequest)

	v1.POST("/scorecards", s.handleCreateScorecard)
	v1.GET("/scorecards/:id", s.handleGetScorecard)
	v1.POST("/lessons", s.handleCreateLesson)

	v1.GET("/streams/rooms/:room_id", s.handleRoomStream)
}

func (s *Server) handleHealth(c *gin.Context) {
	status, err := database.Health(c.Request.Context(), s.db.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Start serves on addr until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Router exposes the underlying gin engine, used by tests with
// httptest.NewServer / net/http/httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}
