package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tasktree/internal/models"
	"tasktree/internal/task"
)

type listTasksRequest struct {
	Priority    *int   `form:"priority" binding:"omitempty,min=1,max=5"`
	Status      string `form:"status" binding:"omitempty,oneof=todo done"`
	Title       string `form:"title"`
	Description string `form:"description"`
	DueDate     string `form:"due_date"`
	CompletedAt string `form:"completed_at"`
	Sort        string `form:"sort"`
}

type createTaskRequest struct {
	Title       string       `json:"title" binding:"required"`
	Description string       `json:"description"`
	Priority    *int         `json:"priority" binding:"omitempty,min=1,max=5"`
	ParentID    *int64       `json:"parent_id"`
	DueDate     *models.Date `json:"due_date"`
}

type updateTaskRequest struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	Status      *string      `json:"status" binding:"omitempty,oneof=todo done"`
	Priority    *int         `json:"priority" binding:"omitempty,min=1,max=5"`
	ParentID    *int64       `json:"parent_id"`
	DueDate     *models.Date `json:"due_date"`
	CompletedAt *time.Time   `json:"completed_at"`
}

// handleListTasks returns the owner's tasks filtered and sorted per the
// query string. Unknown sort fields are dropped, not rejected.
func (s *Server) handleListTasks(c *gin.Context) {
	var req listTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	var filter task.Filter
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		filter.Priority = &p
	}
	if req.Status != "" {
		st := models.Status(req.Status)
		filter.Status = &st
	}
	filter.Title = req.Title
	filter.Description = req.Description
	if req.DueDate != "" {
		d, err := models.ParseDate(req.DueDate)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, err)
			return
		}
		filter.DueDate = &d
	}
	if req.CompletedAt != "" {
		d, err := models.ParseDate(req.CompletedAt)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, err)
			return
		}
		filter.CompletedAt = &d
	}

	tasks, err := s.tasks.List(c.Request.Context(), currentUser(c).ID, filter, task.ParseSort(req.Sort))
	if err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleCreateTask inserts a new task, optionally under a parent.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	in := task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		ParentID:    req.ParentID,
		DueDate:     req.DueDate,
	}
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		in.Priority = &p
	}

	created, err := s.tasks.Create(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"task": created})
}

// handleGetTask fetches a single task.
func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	t, err := s.tasks.Get(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": t})
}

// handleUpdateTask applies a partial update; absent fields keep their
// current values.
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}

	patch := task.Patch{
		Title:       req.Title,
		Description: req.Description,
		ParentID:    req.ParentID,
		DueDate:     req.DueDate,
		CompletedAt: req.CompletedAt,
	}
	if req.Status != nil {
		st := models.Status(*req.Status)
		patch.Status = &st
	}
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		patch.Priority = &p
	}

	updated, err := s.tasks.Update(c.Request.Context(), currentUser(c).ID, id, patch)
	if err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": updated})
}

// handleDeleteTask removes a task that is not completed.
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.tasks.Delete(c.Request.Context(), currentUser(c).ID, id); err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusNoContent, nil)
}

// handleCompleteTask runs the locked todo -> done transition.
func (s *Server) handleCompleteTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	t, err := s.tasks.Complete(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		s.respondError(c, businessStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": t})
}
