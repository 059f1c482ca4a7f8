package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	List(ctx context.Context, req ListOrganizationsRequest) (ListOrganizationsResponse, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*OrganizationResponse, error)
	Archive(ctx context.Context, id string) error
}

type CreateOrganizationRequest struct {
	Name     string         `json:"name"`
	PlanTier string         `json:"plan_tier"`
	Metadata map[string]any `json:"metadata"`
}

type ChangePlanRequest struct {
	OrganizationID string `json:"-"`
	PlanTier       string `json:"plan_tier"`
}

type ListOrganizationsRequest struct {
	PlanTier  string `form:"plan_tier"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListOrganizationsResponse struct {
	Organizations []OrganizationResponse `json:"organizations"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type OrganizationResponse struct {
	ID                      string         `json:"id"`
	Name                    string         `json:"name"`
	Slug                    string         `json:"slug"`
	PlanTier                string         `json:"plan_tier"`
	BaseAllocationMinutes   float64        `json:"base_allocation_minutes"`
	PurchasedOverageMinutes float64        `json:"purchased_overage_minutes"`
	PeriodStart             *time.Time     `json:"period_start,omitempty"`
	PeriodEnd               *time.Time     `json:"period_end,omitempty"`
	ArchivedAt              *time.Time     `json:"archived_at,omitempty"`
	Metadata                map[string]any `json:"metadata,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
}

func NewOrganizationResponse(org Organization) OrganizationResponse {
	return OrganizationResponse{
		ID:                      org.ID.String(),
		Name:                    org.Name,
		Slug:                    org.Slug,
		PlanTier:                org.PlanTier,
		BaseAllocationMinutes:   org.BaseAllocationMinutes,
		PurchasedOverageMinutes: org.PurchasedOverageMinutes,
		PeriodStart:             org.PeriodStart,
		PeriodEnd:               org.PeriodEnd,
		ArchivedAt:              org.ArchivedAt,
		Metadata:                org.Metadata,
		CreatedAt:               org.CreatedAt,
	}
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidPlanTier      = errors.New("invalid_plan_tier")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrOrganizationArchived = errors.New("organization_archived")
	ErrSlugTaken            = errors.New("slug_taken")
)
