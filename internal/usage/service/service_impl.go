package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyLength = 255

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     usagedomain.Repository
	Clock    clock.Clock
	Policies *config.PolicyHolder `optional:"true"`
	Cache    cache.UsageCache     `optional:"true"`
	Metrics  *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	repo     usagedomain.Repository
	clock    clock.Clock
	policies *config.PolicyHolder
	cache    cache.UsageCache
	metrics  *obsmetrics.Metrics

	// cacheMu guards cacheGen, which counts invalidations per account so a
	// summary built before a write is never stored after it.
	cacheMu  sync.Mutex
	cacheGen map[snowflake.ID]uint64
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		policies: p.Policies,
		cache:    p.Cache,
		metrics:  p.Metrics,
		cacheGen: make(map[snowflake.ID]uint64),
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return ctxlogger.WithContext(ctx, s.log)
}

func (s *Service) thresholds() usagedomain.Thresholds {
	if s.policies == nil {
		return usagedomain.DefaultThresholds
	}
	t := s.policies.Get().Thresholds
	return usagedomain.Thresholds{Warning: t.Warning, Critical: t.Critical}
}

// loadOrganization reads the account row. Read failures are reported as
// ErrUsageUnavailable so callers fail closed.
func (s *Service) loadOrganization(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	org, err := s.repo.FindOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usagedomain.ErrUsageUnavailable, err)
	}
	if org == nil {
		return nil, usagedomain.ErrOrganizationNotFound
	}
	return org, nil
}

func (s *Service) invalidate(orgID snowflake.ID) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cacheGen[orgID]++
	s.cacheMu.Unlock()
	s.cache.Invalidate(orgID.String())
}

func (s *Service) cacheGeneration(orgID snowflake.ID) uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen[orgID]
}

// storeSummary caches summary unless the account was invalidated after gen
// was read.
func (s *Service) storeSummary(orgID snowflake.ID, gen uint64, summary usagedomain.UsageSummary) bool {
	if s.cache == nil {
		return false
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen[orgID] != gen {
		return false
	}
	s.cache.Set(orgID.String(), summary)
	return true
}

func parseOrgID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, usagedomain.ErrInvalidOrganization
	}
	return id, nil
}

func validMinutes(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func periodOf(org *orgdomain.Organization) usagedomain.Period {
	if !org.HasPeriod() {
		return usagedomain.Period{}
	}
	return usagedomain.Period{Start: org.PeriodStart.UTC(), End: org.PeriodEnd.UTC()}
}

func isNotFound(err error) bool {
	return errors.Is(err, usagedomain.ErrOrganizationNotFound)
}
