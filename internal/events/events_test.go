package events_test

import (
	"encoding/json"
	"testing"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func payloadOf(t *testing.T, event api.Event) map[string]any {
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(event.Payload, &out))
	return out
}

func testContext() events.Context {
	ctx := events.Context{ProjectId: ptr(3)}
	ctx = ctx.WithUser(&database.User{Id: 5, Username: "admin", Email: "admin@example.com"})
	return ctx.WithOrganization(&database.Organization{Id: 2, Slug: "org"})
}

func TestCleanup(t *testing.T) {
	cleaned := events.Cleanup(map[string]any{
		"id":          1,
		"name":        "p",
		"url":         "/api/projects/1",
		"tasks":       map[string]any{"count": 0, "url": "/api/tasks?project_id=1"},
		"bug_tracker": "",
		"owner":       map[string]any{"id": 5, "username": "admin", "url": "/api/users/5"},
	})

	assert.Equal(t, map[string]any{
		"bug_tracker": "",
		"owner":       map[string]any{"id": 5, "username": "admin"},
	}, cleaned)
}

func TestCreate(t *testing.T) {
	project := api.Project{
		Id:     1,
		Name:   "project",
		Status: database.StatusAnnotation,
		Owner:  &api.BasicUser{Id: 5, Username: "admin"},
	}

	event, err := events.Create(events.ResourceProject, project.Id, &project.Name, project, testContext())
	require.NoError(t, err)

	assert.Equal(t, "create:project", event.Scope)
	assert.Equal(t, events.SourceServer, event.Source)
	assert.Equal(t, 1, *event.ObjId)
	assert.Equal(t, "project", *event.ObjName)
	assert.Equal(t, 3, *event.ProjectId)
	assert.Equal(t, 5, *event.UserId)
	assert.Equal(t, "admin", *event.UserName)
	assert.Equal(t, "org", *event.OrgSlug)
	assert.False(t, event.Timestamp.IsZero())

	payload := payloadOf(t, event)
	assert.NotContains(t, payload, "id")
	assert.NotContains(t, payload, "name")
	assert.NotContains(t, payload, "tasks")
	assert.NotContains(t, payload, "organization")
	assert.Equal(t, database.StatusAnnotation, payload["status"])
}

func TestUpdate(t *testing.T) {
	old := map[string]any{
		"id":       1,
		"name":     "before",
		"assignee": nil,
		"labels":   map[string]any{"count": 1},
		"status":   "annotation",
	}
	updated := map[string]any{
		"id":       1,
		"name":     "after",
		"assignee": map[string]any{"id": 7, "username": "worker", "url": "/api/users/7"},
		"labels":   map[string]any{"count": 2},
		"status":   "annotation",
	}

	evs, err := events.Update(events.ResourceProject, old, updated, testContext())
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assignee, name := evs[0], evs[1]

	assert.Equal(t, "update:project", assignee.Scope)
	assert.Equal(t, "assignee", *assignee.ObjName)
	assert.Equal(t, 7, *assignee.ObjId)
	assert.Contains(t, *assignee.ObjVal, `"username":"worker"`)
	assert.Equal(t, map[string]any{"old_value": nil}, payloadOf(t, assignee))

	assert.Equal(t, "name", *name.ObjName)
	assert.Equal(t, "after", *name.ObjVal)
	assert.Nil(t, name.ObjId)
	assert.Equal(t, map[string]any{"old_value": "before"}, payloadOf(t, name))

	assert.Equal(t, assignee.Timestamp, name.Timestamp)
}

func TestUpdateNoChanges(t *testing.T) {
	rep := map[string]any{"id": 1, "name": "same"}
	evs, err := events.Update(events.ResourceTask, rep, rep, events.Context{})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestDelete(t *testing.T) {
	event := events.Delete(events.ResourceComment, 4, ptr("hello"), testContext())
	assert.Equal(t, "delete:comment", event.Scope)
	assert.Equal(t, 4, *event.ObjId)
	assert.Equal(t, "hello", *event.ObjName)
	assert.Empty(t, event.Payload)
}

func TestAnnotations(t *testing.T) {
	data := api.LabeledData{
		Tags: []api.LabeledImage{
			{Id: ptr(1), Frame: 0, LabelId: 10},
			{Id: ptr(2), Frame: 1, LabelId: 11, Attributes: []api.AttributeVal{{SpecId: 1, Value: "x"}}},
		},
		Shapes: []api.LabeledShape{
			{Id: ptr(3), Type: database.ShapeRectangle, Frame: 0, LabelId: 10, Points: []float64{0, 0, 1, 1}},
			{Id: ptr(4), Type: database.ShapePolygon, Frame: 0, LabelId: 10, Points: []float64{0, 0, 1, 1, 2, 0}},
			{Id: ptr(5), Type: database.ShapeRectangle, Frame: 2, LabelId: 11, Points: []float64{0, 0, 1, 1}},
		},
		Tracks: []api.LabeledTrack{
			{
				Id: ptr(6), Frame: 0, LabelId: 10,
				Shapes: []api.TrackedShape{
					{Id: ptr(7), Type: database.ShapePoints, Frame: 0, Points: []float64{1, 1}},
					{Id: ptr(8), Type: database.ShapePoints, Frame: 5, Points: []float64{2, 2}},
				},
			},
		},
	}

	evs, err := events.Annotations(events.ActionCreate, data, events.Context{JobId: ptr(9)})
	require.NoError(t, err)
	require.Len(t, evs, 4)

	assert.Equal(t, "create:tags", evs[0].Scope)
	assert.Equal(t, 2, *evs[0].Count)
	assert.Nil(t, evs[0].ObjName)
	var tags []map[string]any
	require.NoError(t, json.Unmarshal(evs[0].Payload, &tags))
	assert.Equal(t, []any{}, tags[0]["attributes"])
	assert.Equal(t, float64(11), tags[1]["label_id"])

	assert.Equal(t, "create:shapes", evs[1].Scope)
	assert.Equal(t, database.ShapeRectangle, *evs[1].ObjName)
	assert.Equal(t, 2, *evs[1].Count)

	assert.Equal(t, database.ShapePolygon, *evs[2].ObjName)
	assert.Equal(t, 1, *evs[2].Count)

	assert.Equal(t, "create:tracks", evs[3].Scope)
	assert.Equal(t, database.ShapePoints, *evs[3].ObjName)
	var tracks []map[string]any
	require.NoError(t, json.Unmarshal(evs[3].Payload, &tracks))
	require.Len(t, tracks, 1)
	assert.Len(t, tracks[0]["shapes"], 2)
	assert.NotContains(t, tracks[0]["shapes"].([]any)[0], "points")

	for _, e := range evs {
		assert.Equal(t, 9, *e.JobId)
	}
}

func TestException(t *testing.T) {
	event, err := events.Exception(events.ExceptionPayload{
		Basename: ptr("projects"),
		Action:   ptr("create"),
		Request: &events.ExceptionRequest{
			URL:         "/api/projects",
			QueryParams: map[string][]string{},
			ContentType: "application/json",
			Method:      "POST",
		},
		Message:    "All label names must be unique",
		Stack:      "stack",
		StatusCode: 400,
	}, testContext())
	require.NoError(t, err)

	assert.Equal(t, events.ScopeException, event.Scope)
	assert.Equal(t, 1, *event.Count)
	payload := payloadOf(t, event)
	assert.Equal(t, "projects", payload["basename"])
	assert.Equal(t, float64(400), payload["status_code"])
	assert.Equal(t, "POST", payload["request"].(map[string]any)["method"])
}

func TestFromClient(t *testing.T) {
	event := events.FromClient(api.Event{Scope: "click:element", Source: "server", UserId: ptr(100)}, testContext())
	assert.Equal(t, events.SourceClient, event.Source)
	assert.Equal(t, 5, *event.UserId)
	assert.Equal(t, 2, *event.OrgId)
	assert.False(t, event.Timestamp.IsZero())
}
