package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"trading-platform/internal/database"
	"trading-platform/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type strategyRequest struct {
	Name                string `json:"name" binding:"required"`
	RulesText           string `json:"rulesText" binding:"required"`
	Timeframe           string `json:"timeframe"`
	ConfidenceThreshold int    `json:"confidenceThreshold"`
}

// parseRules runs the rule parser and serialises its output for storage
func parseRules(rulesText, timeframe string) ([]byte, []byte, error) {
	ruleSet, err := strategy.Parse(rulesText, timeframe)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := json.Marshal(ruleSet)
	if err != nil {
		return nil, nil, err
	}
	risk, err := json.Marshal(ruleSet.Risk)
	if err != nil {
		return nil, nil, err
	}
	return parsed, risk, nil
}

func (s *Server) handleListStrategies(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	strategies, err := s.repo.GetStrategiesByUser(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list strategies")
		return
	}
	c.JSON(http.StatusOK, strategies)
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "name and rulesText are required")
		return
	}

	parsed, risk, err := parseRules(req.RulesText, req.Timeframe)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_RULES", err.Error())
		return
	}

	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 100 {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "confidenceThreshold must be 0..100")
		return
	}
	version := strategy.ParserVersion
	strat := &database.Strategy{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Name:                req.Name,
		RulesText:           req.RulesText,
		ParsedRules:         parsed,
		ParserVersion:       &version,
		RiskDefaults:        risk,
		ConfidenceThreshold: req.ConfidenceThreshold,
	}
	if err := s.repo.CreateStrategy(c.Request.Context(), strat); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to create strategy")
		return
	}
	c.JSON(http.StatusCreated, strat)
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	strat, ok := s.loadOwnedStrategy(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, strat)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	strat, ok := s.loadOwnedStrategy(c, userID)
	if !ok {
		return
	}

	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "name and rulesText are required")
		return
	}

	parsed, risk, err := parseRules(req.RulesText, req.Timeframe)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_RULES", err.Error())
		return
	}

	version := strategy.ParserVersion
	strat.Name = req.Name
	strat.RulesText = req.RulesText
	strat.ParsedRules = parsed
	strat.ParserVersion = &version
	strat.RiskDefaults = risk
	if req.ConfidenceThreshold > 0 && req.ConfidenceThreshold <= 100 {
		strat.ConfidenceThreshold = req.ConfidenceThreshold
	}
	if err := s.repo.UpdateStrategy(c.Request.Context(), strat); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to update strategy")
		return
	}

	// The monitor caches parsed rules per strategy
	if s.monitor != nil {
		s.monitor.InvalidateRules(strat.ID)
	}
	c.JSON(http.StatusOK, strat)
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := s.repo.DeleteStrategy(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "NOT_FOUND", "strategy not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to delete strategy")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDuplicateStrategy copies a strategy, re-parsing its rules so the
// copy always carries the current parser version.
func (s *Server) handleDuplicateStrategy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	src, ok := s.loadOwnedStrategy(c, userID)
	if !ok {
		return
	}

	parsed, risk, err := parseRules(src.RulesText, "")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_RULES", err.Error())
		return
	}

	version := strategy.ParserVersion
	dup := &database.Strategy{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Name:                src.Name + " (copy)",
		RulesText:           src.RulesText,
		ParsedRules:         parsed,
		ParserVersion:       &version,
		RiskDefaults:        risk,
		ConfidenceThreshold: src.ConfidenceThreshold,
	}
	if err := s.repo.CreateStrategy(c.Request.Context(), dup); err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to duplicate strategy")
		return
	}
	c.JSON(http.StatusCreated, dup)
}

func (s *Server) loadOwnedStrategy(c *gin.Context, userID string) (*database.Strategy, bool) {
	strat, err := s.repo.GetStrategyByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "strategy not found")
		return nil, false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load strategy")
		return nil, false
	}
	if strat.UserID != userID {
		// Ownership is not leaked: a foreign id reads as missing
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "strategy not found")
		return nil, false
	}
	return strat, true
}
