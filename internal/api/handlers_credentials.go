package api

import (
	"errors"
	"net/http"

	"trading-platform/internal/credentials"
	"trading-platform/internal/database"

	"github.com/gin-gonic/gin"
)

type credentialRequest struct {
	Name       string              `json:"name" binding:"required"`
	BrokerKind string              `json:"brokerKind" binding:"required"`
	Payload    credentials.Payload `json:"payload" binding:"required"`
	IsDemo     bool                `json:"isDemo"`
}

type credentialUpdateRequest struct {
	Name    string              `json:"name"`
	Payload credentials.Payload `json:"payload"` // nil keeps the stored secret
}

func (s *Server) handleListCredentials(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	creds, err := s.repo.GetCredentialsByUser(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to list credentials")
		return
	}
	// EncryptedPayload is json:"-" so secrets never leave the server
	c.JSON(http.StatusOK, creds)
}

func (s *Server) handleCreateCredential(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "name, brokerKind and payload are required")
		return
	}

	cred, err := s.creds.Create(c.Request.Context(), userID, req.Name, req.BrokerKind, req.Payload, req.IsDemo)
	if err != nil {
		if errors.Is(err, credentials.ErrUnknownBrokerKind) || errors.Is(err, credentials.ErrMissingFields) {
			errorResponse(c, http.StatusBadRequest, "INVALID_CREDENTIAL", err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to create credential")
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (s *Server) handleUpdateCredential(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	cred, ok := s.loadOwnedCredential(c, userID)
	if !ok {
		return
	}
	var req credentialUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if req.Name != "" {
		cred.Name = req.Name
	}
	if err := s.creds.Update(c.Request.Context(), cred, req.Payload); err != nil {
		if errors.Is(err, credentials.ErrMissingFields) {
			errorResponse(c, http.StatusBadRequest, "INVALID_CREDENTIAL", err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to update credential")
		return
	}
	c.JSON(http.StatusOK, cred)
}

func (s *Server) handleDeleteCredential(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := s.creds.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "NOT_FOUND", "credential not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to delete credential")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleVerifyCredential decrypts the stored payload and re-checks its
// shape against the broker kind. It does not call the broker.
func (s *Server) handleVerifyCredential(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	cred, ok := s.loadOwnedCredential(c, userID)
	if !ok {
		return
	}

	if err := s.creds.Verify(c.Request.Context(), cred.ID); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (s *Server) loadOwnedCredential(c *gin.Context, userID string) (*database.BrokerCredential, bool) {
	cred, err := s.repo.GetCredentialByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "credential not found")
		return nil, false
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "failed to load credential")
		return nil, false
	}
	if cred.UserID != userID {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "credential not found")
		return nil, false
	}
	return cred, true
}
