package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/fieldops/pkg/db/pagination"
)

type CreateEquipmentRequest struct {
	CustomerID   string `json:"customer_id"`
	Code         string `json:"equipment_code"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	Notes        string `json:"notes"`
}

// UpdateEquipmentRequest changes only the fields that are set. An empty
// string clears an optional field; make and model cannot both end up empty.
type UpdateEquipmentRequest struct {
	CustomerID   *string `json:"customer_id"`
	Code         *string `json:"equipment_code"`
	Make         *string `json:"make"`
	Model        *string `json:"model"`
	SerialNumber *string `json:"serial_number"`
	Notes        *string `json:"notes"`
}

type ListEquipmentRequest struct {
	pagination.Page
	Query      string `form:"q"`
	CustomerID string `form:"customer_id"`
}

type ListEquipmentResponse struct {
	pagination.PageInfo
	Equipment []Equipment `json:"equipment"`
}

type Service interface {
	Create(ctx context.Context, req CreateEquipmentRequest) (Equipment, error)
	List(ctx context.Context, req ListEquipmentRequest) (ListEquipmentResponse, error)
	GetByID(ctx context.Context, id string) (Equipment, error)
	Update(ctx context.Context, id string, req UpdateEquipmentRequest) (Equipment, error)
	// Delete refuses equipment still linked to a job.
	Delete(ctx context.Context, id string) error
}

var (
	ErrMakeOrModelRequired = errors.New("make_or_model_required")
	ErrFieldTooLong        = errors.New("field_too_long")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrNotFound            = errors.New("equipment_not_found")
	ErrInUse               = errors.New("equipment_in_use")
)
