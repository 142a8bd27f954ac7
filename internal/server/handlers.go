package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/lendex/internal/portfolio"
	"github.com/Aidin1998/lendex/internal/risk"
	"github.com/Aidin1998/lendex/pkg/metrics"
)

type simulateRequest struct {
	CoinType string          `json:"coin_type"`
	Amount   decimal.Decimal `json:"amount"`
}

type riskResponse struct {
	Account   string                    `json:"account"`
	Metrics   risk.PortfolioRiskMetrics `json:"metrics"`
	Stale     bool                      `json:"stale"`
	Timestamp time.Time                 `json:"timestamp"`
	Seq       uint64                    `json:"seq"`
}

type simulateResponse struct {
	Metrics risk.PortfolioRiskMetrics `json:"metrics"`
	Safe    bool                      `json:"safe"`
	Stale   bool                      `json:"stale"`
}

type limitResponse struct {
	CoinType  string          `json:"coin_type"`
	Amount    decimal.Decimal `json:"amount"`
	Threshold decimal.Decimal `json:"threshold"`
}

func (s *Server) healthCheck(c *gin.Context) {
	_, ok := s.session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"has_snapshot": ok,
	})
}

func (s *Server) getPortfolioRisk(c *gin.Context) {
	snap, ok := s.session.Snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot committed yet"})
		return
	}
	c.JSON(http.StatusOK, s.riskResponse(snap))
}

func (s *Server) refreshPortfolio(c *gin.Context) {
	if err := s.session.Refresh(c.Request.Context()); err != nil {
		// last-good data stays available, surfaced with its stale flag
		s.respondError(c, err)
		return
	}
	snap, _ := s.session.Snapshot()
	c.JSON(http.StatusOK, s.riskResponse(snap))
}

func (s *Server) simulateBorrow(c *gin.Context) {
	req, snap, ok := s.bindSimulateRequest(c)
	if !ok {
		return
	}

	template, err := s.session.BorrowTemplate(c.Request.Context(), risk.CoinType(req.CoinType))
	if err != nil {
		s.respondError(c, err)
		return
	}
	template.Amount = req.Amount

	m, err := s.sim.SimulateBorrow(snap.Deposits, snap.Borrows, template)
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics.Simulations.WithLabelValues("borrow").Inc()

	c.JSON(http.StatusOK, simulateResponse{
		Metrics: m,
		Safe:    s.isSafe(m),
		Stale:   snap.Stale,
	})
}

func (s *Server) simulateWithdraw(c *gin.Context) {
	req, snap, ok := s.bindSimulateRequest(c)
	if !ok {
		return
	}

	m, err := s.sim.SimulateWithdraw(snap.Deposits, snap.Borrows, risk.CoinType(req.CoinType), req.Amount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics.Simulations.WithLabelValues("withdraw").Inc()

	c.JSON(http.StatusOK, simulateResponse{
		Metrics: m,
		Safe:    s.isSafe(m),
		Stale:   snap.Stale,
	})
}

func (s *Server) maxSafeBorrow(c *gin.Context) {
	coinType, threshold, snap, ok := s.bindLimitQuery(c)
	if !ok {
		return
	}

	template, err := s.session.BorrowTemplate(c.Request.Context(), coinType)
	if err != nil {
		s.respondError(c, err)
		return
	}

	amount, err := s.solver.MaxSafeBorrow(snap.Deposits, snap.Borrows, template, threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, limitResponse{
		CoinType:  string(coinType),
		Amount:    amount,
		Threshold: threshold,
	})
}

func (s *Server) maxSafeWithdrawal(c *gin.Context) {
	coinType, threshold, snap, ok := s.bindLimitQuery(c)
	if !ok {
		return
	}

	amount, err := s.solver.MaxSafeWithdrawal(snap.Deposits, snap.Borrows, coinType, threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, limitResponse{
		CoinType:  string(coinType),
		Amount:    amount,
		Threshold: threshold,
	})
}

func (s *Server) riskResponse(snap portfolio.Snapshot) riskResponse {
	return riskResponse{
		Account:   s.session.Account(),
		Metrics:   snap.Metrics,
		Stale:     snap.Stale,
		Timestamp: snap.Timestamp,
		Seq:       snap.Seq,
	}
}

// isSafe applies the session's safety threshold to a simulated result
func (s *Server) isSafe(m risk.PortfolioRiskMetrics) bool {
	if m.IsLiquidatable || !m.IsHealthy {
		return false
	}
	return !m.HasDebt() || m.HealthFactor.GreaterThanOrEqual(s.session.SafetyThreshold())
}

func (s *Server) bindSimulateRequest(c *gin.Context) (simulateRequest, portfolio.Snapshot, bool) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return simulateRequest{}, portfolio.Snapshot{}, false
	}
	if req.CoinType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin_type is required"})
		return simulateRequest{}, portfolio.Snapshot{}, false
	}
	snap, ok := s.session.Snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot committed yet"})
		return simulateRequest{}, portfolio.Snapshot{}, false
	}
	return req, snap, true
}

func (s *Server) bindLimitQuery(c *gin.Context) (risk.CoinType, decimal.Decimal, portfolio.Snapshot, bool) {
	coinType := c.Query("coin_type")
	if coinType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coin_type is required"})
		return "", decimal.Zero, portfolio.Snapshot{}, false
	}

	threshold := s.session.SafetyThreshold()
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a positive decimal"})
			return "", decimal.Zero, portfolio.Snapshot{}, false
		}
		threshold = parsed
	}

	snap, ok := s.session.Snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot committed yet"})
		return "", decimal.Zero, portfolio.Snapshot{}, false
	}
	return risk.CoinType(coinType), threshold, snap, true
}

// respondError maps the typed calculation-boundary errors onto HTTP statuses
// so the UI layer can render targeted guidance
func (s *Server) respondError(c *gin.Context, err error) {
	var inputErr *risk.InputError
	if errors.As(err, &inputErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Error(), "field": inputErr.Field})
		return
	}
	var unsafeErr *risk.UnsafeOperationError
	if errors.As(err, &unsafeErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         unsafeErr.Error(),
			"health_factor": unsafeErr.HealthFactor,
			"threshold":     unsafeErr.Threshold,
		})
		return
	}
	var compErr *risk.ComputationError
	if errors.As(err, &compErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": compErr.Error(), "coin_type": string(compErr.CoinType)})
		return
	}
	var unavail *risk.DataUnavailableError
	if errors.As(err, &unavail) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavail.Error(), "source": unavail.Source})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
