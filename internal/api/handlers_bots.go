package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"trading-platform/internal/database"
	"trading-platform/internal/evaluator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// manualEvaluationPriority puts user-triggered runs ahead of scheduled
// ticks in the coordinator's pending queue
const manualEvaluationPriority = 10

type botRequest struct {
	CredentialID       string  `json:"credentialId" binding:"required"`
	StrategyID         string  `json:"strategyId" binding:"required"`
	Name               string  `json:"name" binding:"required"`
	Symbol             string  `json:"symbol" binding:"required"`
	Timeframe          string  `json:"timeframe" binding:"required"`
	Quantity           float64 `json:"quantity"`
	MaxOpenTrades      int     `json:"maxOpenTrades"`
	MinIntervalMinutes int     `json:"minIntervalMinutes"`
	AIEnabled          bool    `json:"aiEnabled"`
}

func (s *Server) handleListBots(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bots, err := s.repo.GetBotsByUser(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list bots")
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) handleCreateBot(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !s.ownsReferences(c, userID, req.CredentialID, req.StrategyID) {
		return
	}

	bot := &database.Bot{
		ID:                 uuid.New().String(),
		UserID:             userID,
		CredentialID:       req.CredentialID,
		StrategyID:         req.StrategyID,
		Name:               req.Name,
		Symbol:             req.Symbol,
		Timeframe:          req.Timeframe,
		Quantity:           req.Quantity,
		MaxOpenTrades:      req.MaxOpenTrades,
		MinIntervalMinutes: req.MinIntervalMinutes,
		AIEnabled:          req.AIEnabled,
	}
	if err := s.repo.CreateBot(c.Request.Context(), bot); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to create bot")
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) handleGetBot(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleUpdateBot(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !s.ownsReferences(c, userID, req.CredentialID, req.StrategyID) {
		return
	}

	bot.CredentialID = req.CredentialID
	bot.StrategyID = req.StrategyID
	bot.Name = req.Name
	bot.Symbol = req.Symbol
	bot.Timeframe = req.Timeframe
	bot.Quantity = req.Quantity
	bot.MaxOpenTrades = req.MaxOpenTrades
	bot.MinIntervalMinutes = req.MinIntervalMinutes
	bot.AIEnabled = req.AIEnabled
	if err := s.repo.UpdateBot(c.Request.Context(), bot); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to update bot")
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	open, err := s.repo.GetOpenTradesByBot(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to check open trades")
		return
	}
	if len(open) > 0 {
		errorResponse(c, http.StatusBadRequest, "BOT_HAS_OPEN_TRADES",
			"bot cannot be deleted while it has open positions")
		return
	}
	if err := s.repo.DeleteBot(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "NOT_FOUND", "bot not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to delete bot")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleToggleBotActive(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}
	if err := s.repo.SetBotActive(c.Request.Context(), bot.ID, userID, !bot.IsActive); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to toggle bot")
		return
	}
	bot.IsActive = !bot.IsActive
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleToggleBotAI(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}
	bot.AIEnabled = !bot.AIEnabled
	if err := s.repo.UpdateBot(c.Request.Context(), bot); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to toggle AI trading")
		return
	}
	c.JSON(http.StatusOK, bot)
}

// handleRunEvaluation triggers a one-off evaluation outside the
// scheduler. A coordinator refusal is reported as 202: the tick was
// accepted but queued behind the credential's running bot.
func (s *Server) handleRunEvaluation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}

	result, err := s.evaluate(c.Request.Context(), bot.ID, manualEvaluationPriority)
	if errors.Is(err, evaluator.ErrQueued) {
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "EVALUATION_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluationId": result.EvaluationID,
		"decision":     result.Decision,
		"reason":       result.Reason,
		"tradeId":      result.TradeID,
	})
}

func (s *Server) handleGetEvaluations(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	evals, err := s.repo.GetEvaluationsByBot(c.Request.Context(), bot.ID, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list evaluations")
		return
	}
	c.JSON(http.StatusOK, evals)
}

func (s *Server) handleGetBotTrades(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}

	limit, offset := 50, 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	trades, err := s.repo.GetTradeHistoryByBot(c.Request.Context(), bot.ID, limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list trades")
		return
	}
	c.JSON(http.StatusOK, trades)
}

// handleGetBotPerformance serves the bot's hourly PnL snapshots
func (s *Server) handleGetBotPerformance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bot, ok := s.loadOwnedBot(c, userID)
	if !ok {
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}
	since := time.Now().AddDate(0, 0, -days)
	snaps, err := s.repo.GetPerformanceSnapshots(c.Request.Context(), bot.ID, since)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load performance snapshots")
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (s *Server) loadOwnedBot(c *gin.Context, userID string) (*database.Bot, bool) {
	bot, err := s.repo.GetBotByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "bot not found")
		return nil, false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load bot")
		return nil, false
	}
	if bot.UserID != userID {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "bot not found")
		return nil, false
	}
	return bot, true
}

// ownsReferences verifies the credential and strategy a bot points at
// belong to the caller
func (s *Server) ownsReferences(c *gin.Context, userID, credentialID, strategyID string) bool {
	cred, err := s.repo.GetCredentialByID(c.Request.Context(), credentialID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && cred.UserID != userID) {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "credential not found")
		return false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load credential")
		return false
	}
	strat, err := s.repo.GetStrategyByID(c.Request.Context(), strategyID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && strat.UserID != userID) {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "strategy not found")
		return false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load strategy")
		return false
	}
	return true
}
