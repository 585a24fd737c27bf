package api_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "annotation-backend/internal/api"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEvents(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/events", "alice", api.ClientEventsRequest{
		Events: []api.Event{
			{Scope: "load:job", JobId: ptr(4), UserName: ptr("mallory"), Source: "server"},
			{Scope: "click:element"},
		},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	response := decode[api.ClientEventsResponse](t, rec)
	require.Len(t, response.Events, 2)
	for _, e := range response.Events {
		assert.Equal(t, events.SourceClient, e.Source)
		require.NotNil(t, e.UserName)
		assert.Equal(t, "alice", *e.UserName)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"load:job", "click:element"}, s.sink.scopes())

	rec = s.do(t, http.MethodPost, "/api/events", "alice", api.ClientEventsRequest{Events: []api.Event{{}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEvents(t *testing.T) {
	s := newTestServer(t, nil)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.Store(s.db, []api.Event{
		{Scope: "create:task", Source: events.SourceServer, Timestamp: base, TaskId: ptr(1), UserId: ptr(1)},
		{Scope: "update:task", Source: events.SourceServer, Timestamp: base.Add(time.Hour), TaskId: ptr(1), UserId: ptr(2)},
		{Scope: "create:job", Source: events.SourceServer, Timestamp: base.Add(2 * time.Hour), TaskId: ptr(2), JobId: ptr(7)},
	}))

	list := func(query string) []api.Event {
		rec := s.do(t, http.MethodGet, "/api/events?"+query, "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[api.Page[api.Event]](t, rec).Results
	}

	all := list("")
	require.Len(t, all, 3)
	assert.Equal(t, "create:job", all[0].Scope, "newest first")

	assert.Len(t, list("task_id=1"), 2)
	assert.Len(t, list("job_id=7"), 1)
	assert.Len(t, list("user_id=2"), 1)
	assert.Len(t, list("scope=create:task"), 1)
	assert.Len(t, list("from=2024-05-01T12:30:00Z"), 2)
	assert.Len(t, list("from=2024-05-01T12:30:00Z&to=2024-05-01T13:30:00Z"), 1)

	rec := s.do(t, http.MethodGet, "/api/events?from=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamEventsNotConfigured(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/events/stream", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	stream := events.NewRedisSink(rdb, "")
	db := createDB(t)
	service := backend.NewBackendService(db, events.NewEmitter(stream), nil, stream, "test")
	router := chi.NewRouter()
	service.AddRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set(backend.UserHeader, "alice")

	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/x-ndjson", res.Header.Get("Content-Type"))

	s := &testServer{db: db, router: router}
	rec := s.do(t, http.MethodPost, "/api/projects", "alice", api.CreateProjectRequest{Name: "streamed"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	line, err := bufio.NewReader(res.Body).ReadBytes('\n')
	require.NoError(t, err)

	var msg struct {
		Data api.Event `json:"data"`
		Code int       `json:"code"`
	}
	require.NoError(t, json.Unmarshal(line, &msg))
	assert.Equal(t, http.StatusOK, msg.Code)
	assert.Equal(t, "create:project", msg.Data.Scope)
	assert.Equal(t, "streamed", *msg.Data.ObjName)
}
