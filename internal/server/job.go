package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/fieldops/internal/job/domain"
)

func (s *Server) ListJobs(c *gin.Context) {
	var req jobdomain.ListJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.jobSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateJob(c *gin.Context) {
	var req jobdomain.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) GetJobByID(c *gin.Context) {
	job, err := s.jobSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) UpdateJobStatus(c *gin.Context) {
	var req jobdomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) RescheduleJob(c *gin.Context) {
	var req jobdomain.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.Reschedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) AssignJob(c *gin.Context) {
	var req jobdomain.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.Assign(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) AddJobNote(c *gin.Context) {
	var req jobdomain.AddNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	note, err := s.jobSvc.AddNote(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"note": note})
}

func (s *Server) ListJobNotes(c *gin.Context) {
	notes, err := s.jobSvc.ListNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func (s *Server) LinkJobEquipment(c *gin.Context) {
	var req jobdomain.LinkEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.LinkEquipment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func isJobValidationError(err error) bool {
	return errors.Is(err, jobdomain.ErrInvalidTitle) ||
		errors.Is(err, jobdomain.ErrInvalidStatus) ||
		errors.Is(err, jobdomain.ErrInvalidID) ||
		errors.Is(err, jobdomain.ErrInvalidCustomer) ||
		errors.Is(err, jobdomain.ErrInvalidEquipment) ||
		errors.Is(err, jobdomain.ErrInvalidNote) ||
		errors.Is(err, jobdomain.ErrInvalidSchedule) ||
		errors.Is(err, jobdomain.ErrInvalidDuration) ||
		errors.Is(err, jobdomain.ErrInvalidAssignee)
}

func isJobNotFoundError(err error) bool {
	return errors.Is(err, jobdomain.ErrNotFound)
}
