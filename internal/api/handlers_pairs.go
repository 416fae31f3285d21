package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"trading-platform/internal/database"

	"github.com/gin-gonic/gin"
)

// Pair catalogue endpoints read through the cache: the catalogue only
// changes on reseed, so a 1h TTL is generous.

func (s *Server) handleListPairs(c *gin.Context) {
	s.servePairs(c, "all", func() ([]*database.TradingPair, error) {
		return s.repo.GetTradingPairs(c.Request.Context())
	})
}

func (s *Server) handlePopularPairs(c *gin.Context) {
	s.servePairs(c, "popular", func() ([]*database.TradingPair, error) {
		return s.repo.GetPopularTradingPairs(c.Request.Context())
	})
}

func (s *Server) handlePairsByCategory(c *gin.Context) {
	category := strings.ToLower(c.Param("category"))
	switch category {
	case "crypto", "forex", "indices", "stocks", "commodities":
	default:
		errorResponse(c, http.StatusBadRequest, "INVALID_CATEGORY", "unknown category")
		return
	}
	s.servePairs(c, category, func() ([]*database.TradingPair, error) {
		return s.repo.GetTradingPairsByCategory(c.Request.Context(), category)
	})
}

// brokerCategories maps a broker kind to the asset categories it trades
var brokerCategories = map[string][]string{
	"capital":  {"crypto", "forex", "indices", "stocks", "commodities"},
	"binance":  {"crypto"},
	"coinbase": {"crypto"},
	"custom":   {"crypto", "forex", "indices", "stocks", "commodities"},
}

func (s *Server) handlePairsByBroker(c *gin.Context) {
	kind := strings.ToLower(c.Param("broker"))
	categories, ok := brokerCategories[kind]
	if !ok {
		errorResponse(c, http.StatusBadRequest, "INVALID_BROKER", "unknown broker kind")
		return
	}
	s.servePairs(c, "broker:"+kind, func() ([]*database.TradingPair, error) {
		var pairs []*database.TradingPair
		for _, category := range categories {
			batch, err := s.repo.GetTradingPairsByCategory(c.Request.Context(), category)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, batch...)
		}
		return pairs, nil
	})
}

// handleSearchPairs is never cached: terms are unbounded
func (s *Server) handleSearchPairs(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if len(term) < 2 {
		errorResponse(c, http.StatusBadRequest, "INVALID_QUERY", "query must be at least 2 characters")
		return
	}
	pairs, err := s.repo.SearchTradingPairs(c.Request.Context(), term)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to search pairs")
		return
	}
	c.JSON(http.StatusOK, pairs)
}

func (s *Server) servePairs(c *gin.Context, cacheKey string, load func() ([]*database.TradingPair, error)) {
	if payload, ok := s.cacheSvc.GetPairList(c.Request.Context(), cacheKey); ok {
		c.Data(http.StatusOK, "application/json", payload)
		return
	}

	pairs, err := load()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list pairs")
		return
	}
	if payload, err := json.Marshal(pairs); err == nil {
		s.cacheSvc.SetPairList(c.Request.Context(), cacheKey, payload)
	}
	c.JSON(http.StatusOK, pairs)
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	trades, err := s.repo.GetOpenTradesByUser(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list open trades")
		return
	}
	c.JSON(http.StatusOK, trades)
}
