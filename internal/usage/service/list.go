package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/smallbiznis/callquota/pkg/db/pagination"
)

func (s *Service) ListEvents(ctx context.Context, req usagedomain.ListEventsRequest) (usagedomain.ListEventsResponse, error) {
	orgID, err := parseOrgID(req.OrganizationID)
	if err != nil {
		return usagedomain.ListEventsResponse{}, err
	}
	if req.Start != nil && req.End != nil && !req.End.After(*req.Start) {
		return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPeriod
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()

	filter := usagedomain.EventFilter{
		OrgID:     orgID,
		EventType: req.EventType,
		Start:     req.Start,
		End:       req.End,
		Limit:     limit + 1,
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		afterTime, err := time.Parse(time.RFC3339Nano, cursor.RecordedAt)
		if err != nil {
			return usagedomain.ListEventsResponse{}, usagedomain.ErrInvalidPageToken
		}
		filter.AfterID = afterID
		filter.AfterTime = &afterTime
	}

	events, err := s.repo.ListEvents(ctx, filter)
	if err != nil {
		return usagedomain.ListEventsResponse{}, err
	}

	events, info, err := pagination.BuildCursorPage(events, limit, func(e usagedomain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), RecordedAt: e.RecordedAt.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		return usagedomain.ListEventsResponse{}, err
	}
	if events == nil {
		events = []usagedomain.UsageEvent{}
	}
	return usagedomain.ListEventsResponse{PageInfo: info, Events: events}, nil
}
