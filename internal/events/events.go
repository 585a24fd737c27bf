package events

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"
)

const (
	SourceServer = "server"
	SourceClient = "client"

	ScopeException = "send:exception"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Resources that emit lifecycle events.
const (
	ResourceOrganization = "organization"
	ResourceMembership   = "membership"
	ResourceInvitation   = "invitation"
	ResourceUser         = "user"
	ResourceProject      = "project"
	ResourceTask         = "task"
	ResourceJob          = "job"
	ResourceLabel        = "label"
	ResourceIssue        = "issue"
	ResourceComment      = "comment"
	ResourceCloudStorage = "cloudstorage"
)

func Scope(action, resource string) string {
	return action + ":" + resource
}

// Context carries the ids an event is attributed to.
type Context struct {
	OrgId     *int
	OrgSlug   *string
	ProjectId *int
	TaskId    *int
	JobId     *int
	UserId    *int
	UserName  *string
	UserEmail *string
}

func (c Context) WithUser(user *database.User) Context {
	if user == nil {
		c.UserId, c.UserName, c.UserEmail = nil, nil, nil
		return c
	}
	id, name, email := user.Id, user.Username, user.Email
	c.UserId, c.UserName, c.UserEmail = &id, &name, &email
	return c
}

func (c Context) WithOrganization(org *database.Organization) Context {
	if org == nil {
		c.OrgId, c.OrgSlug = nil, nil
		return c
	}
	id, slug := org.Id, org.Slug
	c.OrgId, c.OrgSlug = &id, &slug
	return c
}

func (c Context) newEvent(scope string, timestamp time.Time) api.Event {
	return api.Event{
		Scope:     scope,
		Source:    SourceServer,
		Timestamp: timestamp,
		ProjectId: c.ProjectId,
		TaskId:    c.TaskId,
		JobId:     c.JobId,
		UserId:    c.UserId,
		UserName:  c.UserName,
		UserEmail: c.UserEmail,
		OrgId:     c.OrgId,
		OrgSlug:   c.OrgSlug,
	}
}

var now = func() time.Time {
	return time.Now().UTC()
}

var cleanupFields = map[string]struct{}{
	"slug": {}, "id": {}, "name": {}, "username": {}, "display_name": {}, "message": {},
	"organization": {}, "project": {}, "size": {}, "task": {}, "tasks": {}, "job": {},
	"jobs": {}, "comments": {}, "url": {}, "issues": {}, "attributes": {},
}

func toMap(representation any) (map[string]any, error) {
	data, err := json.Marshal(representation)
	if err != nil {
		return nil, fmt.Errorf("error rendering representation: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("representation is not an object: %w", err)
	}
	return out, nil
}

func withoutURL(value any) any {
	nested, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(nested))
	for k, v := range nested {
		if k != "url" {
			out[k] = v
		}
	}
	return out
}

// Cleanup drops identifying and related collection keys from a rendered
// representation, and "url" from nested objects.
func Cleanup(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, skip := cleanupFields[k]; skip {
			continue
		}
		out[k] = withoutURL(v)
	}
	return out
}

func marshalPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error rendering event payload: %w", err)
	}
	return data, nil
}

// Create builds the create event for a resource from its read representation.
func Create(resource string, id int, objName *string, representation any, ctx Context) (api.Event, error) {
	rendered, err := toMap(representation)
	if err != nil {
		return api.Event{}, err
	}
	payload, err := marshalPayload(Cleanup(rendered))
	if err != nil {
		return api.Event{}, err
	}

	event := ctx.newEvent(Scope(ActionCreate, resource), now())
	event.ObjId = &id
	event.ObjName = objName
	event.Payload = payload
	return event, nil
}

func Delete(resource string, id int, objName *string, ctx Context) api.Event {
	event := ctx.newEvent(Scope(ActionDelete, resource), now())
	event.ObjId = &id
	event.ObjName = objName
	return event
}

var ignoredDiffFields = map[string]struct{}{
	"labels": {},
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func objectId(value any) *int {
	nested, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	id, ok := nested["id"].(float64)
	if !ok {
		return nil
	}
	v := int(id)
	return &v
}

// Update compares the old and new representations of a resource and returns
// one event per changed property. All events share a timestamp.
func Update(resource string, old, new any, ctx Context) ([]api.Event, error) {
	oldData, err := toMap(old)
	if err != nil {
		return nil, err
	}
	newData, err := toMap(new)
	if err != nil {
		return nil, err
	}

	timestamp := now()
	var events []api.Event
	for _, prop := range slices.Sorted(maps.Keys(newData)) {
		if _, skip := ignoredDiffFields[prop]; skip {
			continue
		}
		value := newData[prop]
		oldValue := oldData[prop]
		if reflect.DeepEqual(oldValue, value) {
			continue
		}

		payload, err := marshalPayload(map[string]any{"old_value": withoutURL(oldValue)})
		if err != nil {
			return nil, err
		}

		name := prop
		val := stringify(value)
		event := ctx.newEvent(Scope(ActionUpdate, resource), timestamp)
		event.ObjName = &name
		event.ObjVal = &val
		event.ObjId = objectId(value)
		event.Payload = payload
		events = append(events, event)
	}
	return events, nil
}

// ExceptionRequest describes the failing request of a send:exception event.
type ExceptionRequest struct {
	URL         string              `json:"url"`
	QueryParams map[string][]string `json:"query_params"`
	ContentType string              `json:"content_type"`
	Method      string              `json:"method"`
}

type ExceptionPayload struct {
	Basename   *string           `json:"basename,omitempty"`
	Action     *string           `json:"action,omitempty"`
	Request    *ExceptionRequest `json:"request,omitempty"`
	Message    string            `json:"message"`
	Stack      string            `json:"stack"`
	StatusCode int               `json:"status_code,omitempty"`
}

func Exception(payload ExceptionPayload, ctx Context) (api.Event, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return api.Event{}, err
	}
	count := 1
	event := ctx.newEvent(ScopeException, now())
	event.Count = &count
	event.Payload = data
	return event, nil
}

// FromClient normalizes an event sent by a client: the source is forced and
// identity fields come from the request context.
func FromClient(event api.Event, ctx Context) api.Event {
	event.Source = SourceClient
	event.UserId, event.UserName, event.UserEmail = ctx.UserId, ctx.UserName, ctx.UserEmail
	event.OrgId, event.OrgSlug = ctx.OrgId, ctx.OrgSlug
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	return event
}
