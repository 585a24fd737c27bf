package api

import (
	"net/http"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"
)

type EventFilter struct {
	Pagination
	OrgId     *int   `schema:"org_id"`
	ProjectId *int   `schema:"project_id"`
	TaskId    *int   `schema:"task_id"`
	JobId     *int   `schema:"job_id"`
	UserId    *int   `schema:"user_id"`
	Scope     string `schema:"scope"`
	From      string `schema:"from"`
	To        string `schema:"to"`
}

var eventListing = listing{
	sortable: map[string]string{"timestamp": "timestamp", "scope": "scope"},
}

func parseTimeParam(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "%s: Datetime has wrong format. Use RFC 3339.", name)
	}
	return &t, nil
}

func (s *BackendService) ListEvents(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[EventFilter](r)
	if err != nil {
		return nil, err
	}
	from, err := parseTimeParam("from", filter.From)
	if err != nil {
		return nil, err
	}
	to, err := parseTimeParam("to", filter.To)
	if err != nil {
		return nil, err
	}
	if filter.Sort == "" {
		filter.Sort = "-timestamp"
	}

	query := s.db.WithContext(r.Context())
	if filter.OrgId == nil {
		filter.OrgId = currentOrgId(r)
	}
	query = filterEq(query, "org_id", filter.OrgId)
	query = filterEq(query, "project_id", filter.ProjectId)
	query = filterEq(query, "task_id", filter.TaskId)
	query = filterEq(query, "job_id", filter.JobId)
	query = filterEq(query, "user_id", filter.UserId)
	if filter.Scope != "" {
		query = query.Where("scope = ?", filter.Scope)
	}
	if from != nil {
		query = query.Where("timestamp >= ?", from.UTC())
	}
	if to != nil {
		query = query.Where("timestamp <= ?", to.UTC())
	}

	return paginate(r, query, filter.Pagination, eventListing, func(e database.Event) (api.Event, error) {
		return events.FromModel(e), nil
	})
}

// LogClientEvents records a batch of events reported by a client. The echoed
// batch carries the identity fields filled in by the server.
func (s *BackendService) LogClientEvents(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ClientEventsRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := s.eventContext(r)
	batch := make([]api.Event, 0, len(req.Events))
	for _, event := range req.Events {
		if event.Scope == "" {
			return nil, CodedErrorf(http.StatusBadRequest, "events: scope is required for every event")
		}
		batch = append(batch, events.FromClient(event, ctx))
	}
	s.emitter.Emit(r.Context(), batch...)

	return api.ClientEventsResponse{Events: batch, Timestamp: req.Timestamp}, nil
}

// StreamEvents relays live events from redis until the client disconnects.
// Events are limited to the organization of the request when one is set.
func (s *BackendService) StreamEvents(r *http.Request) (StreamResponse, error) {
	if s.stream == nil {
		return nil, CodedErrorf(http.StatusNotFound, "event streaming is not configured")
	}

	sub, err := s.stream.Subscribe(r.Context())
	if err != nil {
		return nil, err
	}
	orgId := currentOrgId(r)

	return func(yield func(any, error) bool) {
		defer sub.Close()
		for {
			select {
			case <-r.Context().Done():
				return
			case err, ok := <-sub.Errors():
				if !ok {
					return
				}
				if !yield(nil, err) {
					return
				}
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if orgId != nil && (event.OrgId == nil || *event.OrgId != *orgId) {
					continue
				}
				if !yield(event, nil) {
					return
				}
			}
		}
	}, nil
}
