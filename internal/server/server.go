package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tasktree/internal/auth"
	"tasktree/internal/models"
	"tasktree/internal/storage/sqlite"
	"tasktree/internal/task"
)

// Context keys set by the auth middleware.
const (
	ctxUser  = "user"
	ctxToken = "token"
)

// Server provides the HTTP handlers for the task API.
type Server struct {
	engine *gin.Engine
	store  *sqlite.Store
	tasks  *task.Service
	logger *slog.Logger
}

// New constructs the HTTP server with routes and middleware configured.
func New(store *sqlite.Store, tasks *task.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz"))

	srv := &Server{
		engine: router,
		store:  store,
		tasks:  tasks,
		logger: logger,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires the public and authenticated API groups.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)
		api.POST("/register", s.handleRegister)
		api.POST("/login", s.handleLogin)

		authed := api.Group("", s.authRequired)
		{
			authed.POST("/logout", s.handleLogout)
			authed.GET("/me", s.handleMe)

			tasks := authed.Group("/tasks")
			{
				tasks.GET("", s.handleListTasks)
				tasks.POST("", s.handleCreateTask)
				tasks.GET(":id", s.handleGetTask)
				tasks.PUT(":id", s.handleUpdateTask)
				tasks.DELETE(":id", s.handleDeleteTask)
				tasks.POST(":id/complete", s.handleCompleteTask)
			}
		}
	}
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authRequired resolves the bearer token to an account and aborts with 401
// when it is missing or unknown. Handlers read the owner from the context
// and pass it explicitly into the engine.
func (s *Server) authRequired(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, prefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	digest := auth.HashToken(strings.TrimPrefix(header, prefix))
	user, err := s.store.GetUserByToken(c.Request.Context(), digest)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set(ctxUser, user)
	c.Set(ctxToken, digest)
	c.Next()
}

// currentUser returns the account the middleware resolved.
func currentUser(c *gin.Context) models.User {
	return c.MustGet(ctxUser).(models.User)
}

// parseID converts a path parameter to int64 with error handling.
func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identifier"})
		return 0, false
	}
	return id, true
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// businessStatus maps engine outcomes to HTTP codes. Anything outside the
// engine's taxonomy is an infrastructure failure.
func businessStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrValidation),
		errors.Is(err, task.ErrParentNotFound),
		errors.Is(err, task.ErrParentCompleted),
		errors.Is(err, task.ErrSelfParent),
		errors.Is(err, task.ErrIncompleteSubtasks),
		errors.Is(err, task.ErrAlreadyCompleted),
		errors.Is(err, task.ErrCannotDeleteCompleted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
