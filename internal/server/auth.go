package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tasktree/internal/auth"
	"tasktree/internal/storage/sqlite"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// handleRegister creates a new account.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}

	user, err := s.store.CreateUser(c.Request.Context(), req.Name, req.Email, hash)
	if err != nil {
		if errors.Is(err, sqlite.ErrEmailTaken) {
			s.respondError(c, http.StatusUnprocessableEntity, err)
			return
		}
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"message": "user registered successfully", "user": user})
}

// handleLogin verifies credentials and issues a bearer token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	user, err := s.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, sqlite.ErrUserNotFound) {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "the provided credentials are incorrect"})
		return
	}

	plain, digest := auth.NewToken()
	if err := s.store.InsertToken(c.Request.Context(), user.ID, digest); err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"access_token": plain, "token_type": "Bearer"})
}

// handleLogout revokes the token used on this request.
func (s *Server) handleLogout(c *gin.Context) {
	digest := c.MustGet(ctxToken).(string)
	if err := s.store.DeleteToken(c.Request.Context(), digest); err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "logged out successfully"})
}

// handleMe returns the authenticated account.
func (s *Server) handleMe(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{"user": currentUser(c)})
}
