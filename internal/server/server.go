// Package server exposes the risk engine over HTTP: the committed snapshot,
// what-if simulations and max-safe queries for the UI layer.
package server

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/portfolio"
	"github.com/Aidin1998/lendex/internal/risk"
)

// Server represents the lendex API server
type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	session *portfolio.Session
	sim     *risk.Simulator
	solver  *risk.Solver
}

// NewServer creates the API server over one portfolio session
func NewServer(logger *zap.Logger, calc *risk.Calculator, session *portfolio.Session) *Server {
	server := &Server{
		logger:  logger,
		session: session,
		sim:     risk.NewSimulator(calc),
		solver:  risk.NewSolver(calc),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
		api.GET("/health", s.healthCheck)

		pf := api.Group("/portfolio")
		{
			pf.GET("/risk", s.getPortfolioRisk)
			pf.POST("/refresh", s.refreshPortfolio)
		}

		sim := api.Group("/simulate")
		{
			sim.POST("/borrow", s.simulateBorrow)
			sim.POST("/withdraw", s.simulateWithdraw)
		}

		limits := api.Group("/limits")
		{
			limits.GET("/borrow", s.maxSafeBorrow)
			limits.GET("/withdraw", s.maxSafeWithdrawal)
		}
	}
}
