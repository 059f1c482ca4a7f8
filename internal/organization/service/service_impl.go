package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	"github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/pkg/db"
	"github.com/smallbiznis/callquota/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Policies *config.PolicyHolder
	Clock    clock.Clock
	Cache    cache.UsageCache `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	policies *config.PolicyHolder
	clock    clock.Clock
	cache    cache.UsageCache
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &service{
		db:       p.DB,
		log:      p.Log.Named("organization.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		policies: p.Policies,
		clock:    clk,
		cache:    p.Cache,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	policies := s.policies.Get()
	tier := strings.ToLower(strings.TrimSpace(req.PlanTier))
	if tier == "" {
		tier = policies.DefaultTier
	}
	plan, ok := policies.Plan(tier)
	if !ok {
		return nil, domain.ErrInvalidPlanTier
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:                    s.genID.Generate(),
		Name:                  name,
		Slug:                  slug.Make(name),
		PlanTier:              tier,
		BaseAllocationMinutes: plan.BaseAllocationMinutes,
		Metadata:              metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err := s.repo.CreateOrganization(ctx, org)
	if db.IsDuplicateKeyErr(err) {
		// same name as an existing account; disambiguate with the id
		org.Slug = slug.Make(name + " " + org.ID.Base36())
		err = s.repo.CreateOrganization(ctx, org)
	}
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSlugTaken
		}
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("plan_tier", tier),
		zap.Float64("base_allocation_minutes", plan.BaseAllocationMinutes),
	)

	resp := domain.NewOrganizationResponse(org)
	return &resp, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	org, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := domain.NewOrganizationResponse(*org)
	return &resp, nil
}

func (s *service) List(ctx context.Context, req domain.ListOrganizationsRequest) (domain.ListOrganizationsResponse, error) {
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()

	filter := domain.ListFilter{
		Limit:    limit + 1,
		PlanTier: strings.ToLower(strings.TrimSpace(req.PlanTier)),
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListOrganizationsResponse{}, domain.ErrInvalidPageToken
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListOrganizationsResponse{}, domain.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}

	orgs, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.ListOrganizationsResponse{}, err
	}

	orgs, info, err := pagination.BuildCursorPage(orgs, limit, func(org domain.Organization) pagination.Cursor {
		return pagination.Cursor{ID: org.ID.String(), RecordedAt: org.CreatedAt.UTC().Format(time.RFC3339)}
	})
	if err != nil {
		return domain.ListOrganizationsResponse{}, err
	}

	resp := domain.ListOrganizationsResponse{
		Organizations: make([]domain.OrganizationResponse, 0, len(orgs)),
		NextPageToken: info.NextPageToken,
	}
	for _, org := range orgs {
		resp.Organizations = append(resp.Organizations, domain.NewOrganizationResponse(org))
	}
	return resp, nil
}

// ChangePlan swaps the base allocation. Usage and purchased overage are kept.
func (s *service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (*domain.OrganizationResponse, error) {
	org, err := s.load(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org.IsArchived() {
		return nil, domain.ErrOrganizationArchived
	}

	tier := strings.ToLower(strings.TrimSpace(req.PlanTier))
	plan, ok := s.policies.Get().Plan(tier)
	if !ok {
		return nil, domain.ErrInvalidPlanTier
	}

	updated, err := s.repo.UpdatePlan(ctx, org.ID, tier, plan.BaseAllocationMinutes, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrOrganizationArchived
	}
	s.invalidate(org.ID)

	s.log.Info("organization plan changed",
		zap.String("org_id", org.ID.String()),
		zap.String("from", org.PlanTier),
		zap.String("to", tier),
	)

	org.PlanTier = tier
	org.BaseAllocationMinutes = plan.BaseAllocationMinutes
	resp := domain.NewOrganizationResponse(*org)
	return &resp, nil
}

// Archive soft-archives the account. Accounts are never deleted.
func (s *service) Archive(ctx context.Context, id string) error {
	org, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.repo.Archive(ctx, org.ID, s.clock.Now()); err != nil {
		return err
	}
	s.invalidate(org.ID)
	return nil
}

func (s *service) load(ctx context.Context, id string) (*domain.Organization, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	org, err := s.repo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return org, nil
}

func (s *service) invalidate(orgID snowflake.ID) {
	if s.cache != nil {
		s.cache.Invalidate(orgID.String())
	}
}
