package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	equipmentdomain "github.com/smallbiznis/fieldops/internal/equipment/domain"
)

func (s *Server) ListEquipment(c *gin.Context) {
	var req equipmentdomain.ListEquipmentRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.equipmentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateEquipment(c *gin.Context) {
	var req equipmentdomain.CreateEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.equipmentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"equipment": item})
}

func (s *Server) GetEquipmentByID(c *gin.Context) {
	item, err := s.equipmentSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equipment": item})
}

func (s *Server) UpdateEquipment(c *gin.Context) {
	var req equipmentdomain.UpdateEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.equipmentSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equipment": item})
}

func (s *Server) DeleteEquipment(c *gin.Context) {
	if err := s.equipmentSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func isEquipmentValidationError(err error) bool {
	return errors.Is(err, equipmentdomain.ErrMakeOrModelRequired) ||
		errors.Is(err, equipmentdomain.ErrFieldTooLong) ||
		errors.Is(err, equipmentdomain.ErrInvalidCustomer) ||
		errors.Is(err, equipmentdomain.ErrInvalidID)
}

func isEquipmentNotFoundError(err error) bool {
	return errors.Is(err, equipmentdomain.ErrNotFound)
}
