package api

import (
	"errors"
	"net/http"

	"trading-platform/internal/database"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required")
		return
	}

	user, pair, err := s.authService.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		authError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "tokens": pair})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required")
		return
	}

	user, pair, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		authError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "tokens": pair})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "refreshToken is required")
		return
	}

	pair, err := s.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		authError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair})
}

func (s *Server) handleMe(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	user, err := s.repo.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load user")
		return
	}
	c.JSON(http.StatusOK, user)
}
