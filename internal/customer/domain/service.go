package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/fieldops/pkg/db/pagination"
)

type ListCustomerRequest struct {
	pagination.Page
	Query string `form:"q"`
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// UpdateCustomerRequest changes only the fields that are set. An empty
// string clears an optional field.
type UpdateCustomerRequest struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	List(ctx context.Context, req ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	Update(ctx context.Context, id string, req UpdateCustomerRequest) (Customer, error)
}

var (
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidPhone   = errors.New("invalid_phone")
	ErrInvalidAddress = errors.New("invalid_address")
	ErrInvalidID      = errors.New("invalid_id")
	ErrNotFound       = errors.New("customer_not_found")
)
