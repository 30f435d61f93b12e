package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
)

func (s *Server) ListCustomers(c *gin.Context) {
	var req customerdomain.ListCustomerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req customerdomain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customer, err := s.customerSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"customer": customer})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	customer, err := s.customerSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer})
}

func (s *Server) UpdateCustomer(c *gin.Context) {
	var req customerdomain.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customer, err := s.customerSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer})
}

func isCustomerValidationError(err error) bool {
	return errors.Is(err, customerdomain.ErrInvalidName) ||
		errors.Is(err, customerdomain.ErrInvalidEmail) ||
		errors.Is(err, customerdomain.ErrInvalidPhone) ||
		errors.Is(err, customerdomain.ErrInvalidAddress) ||
		errors.Is(err, customerdomain.ErrInvalidID)
}

func isCustomerNotFoundError(err error) bool {
	return errors.Is(err, customerdomain.ErrNotFound)
}
