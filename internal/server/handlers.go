package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/tripsync-go/internal/models"
	"github.com/raphaelgruber/tripsync-go/internal/service"
)

type startJobRequest struct {
	Kind string `json:"kind" binding:"required"`
}

type toggleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"kinds":   s.jobs.Kinds(),
	})
}

func (s *Server) startJob(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := s.jobs.StartJob(c.Request.Context(), c.Param("tripId"), req.Kind)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) listJobs(c *gin.Context) {
	jobs, err := s.jobs.ListJobs(c.Request.Context(), c.Param("tripId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.GetJobStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.jobs.CancelJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) syncStep(c *gin.Context) {
	res, err := s.jobs.SyncStep(c.Request.Context(), c.Param("stepId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) setLodgingActive(c *gin.Context) {
	s.toggle(c, s.jobs.SetLodgingActive)
}

func (s *Server) setActivityActive(c *gin.Context) {
	s.toggle(c, s.jobs.SetActivityActive)
}

func (s *Server) toggle(c *gin.Context, set func(ctx context.Context, id string, active, sync bool) (*service.ToggleResult, error)) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sync, err := strconv.ParseBool(c.DefaultQuery("sync", "false"))
	if err != nil {
		badRequest(c, errors.New("sync must be a boolean"))
		return
	}
	res, err := set(c.Request.Context(), c.Param("id"), *req.Active, sync)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeError maps service errors onto status codes. A conflicting job id is returned so the
// caller can poll the job that is already running.
func (s *Server) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var conflict *models.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "existing_job_id": conflict.ExistingJobID})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
