package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	backend "annotation-backend/internal/api"
	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type recordingSink struct {
	mu     sync.Mutex
	events []api.Event
}

func (s *recordingSink) Name() string {
	return "recording"
}

func (s *recordingSink) Send(ctx context.Context, batch []api.Event, rendered []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *recordingSink) scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Scope)
	}
	return out
}

func (s *recordingSink) withScope(scope string) []api.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []api.Event
	for _, e := range s.events {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}

type testServer struct {
	db     *gorm.DB
	sink   *recordingSink
	router chi.Router
}

func newTestServer(t *testing.T, storages cloudstorage.Factory, create ...any) *testServer {
	db := createDB(t, create...)
	sink := &recordingSink{}

	service := backend.NewBackendService(db, events.NewEmitter(sink), storages, nil, "test")
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testServer{db: db, sink: sink, router: router}
}

// do sends a request as user. An empty user makes an anonymous request.
func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(backend.UserHeader, user)
	}
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "response body: %s", rec.Body.String())
	return out
}

func ptr[T any](v T) *T {
	return &v
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func path(parts ...any) string {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			b.WriteString("/" + strconv.Itoa(v))
		case string:
			b.WriteString(v)
		}
	}
	return b.String()
}

func TestHealthAndAbout(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/server/about", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	about := decode[api.ServerAbout](t, rec)
	assert.Equal(t, "test", about.Version)
}

func TestUsers(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("AnonymousSelf", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/users/self", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	var alice api.User
	t.Run("SelfProvisionsUser", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/users/self", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		alice = decode[api.User](t, rec)
		assert.Equal(t, "alice", alice.Username)
		assert.True(t, alice.IsActive)
	})

	s.do(t, http.MethodGet, "/api/users/self", "bob", nil)

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/users?sort=username", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[api.Page[api.User]](t, rec)
		require.Equal(t, 2, page.Count)
		assert.Equal(t, "alice", page.Results[0].Username)
		assert.Equal(t, "bob", page.Results[1].Username)
	})

	t.Run("PatchName", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/users", alice.Id), "alice", map[string]any{"first_name": "Alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Alice", decode[api.User](t, rec).FirstName)
		assert.Len(t, s.sink.withScope("update:user"), 1)
	})

	t.Run("PatchPrivilegedField", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/users", alice.Id), "alice", map[string]any{"is_staff": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "You do not have permissions to access some of these fields: {'is_staff'}")
	})

	t.Run("PatchUnknownField", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/users", alice.Id), "alice", map[string]any{"nickname": "al"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Got unknown fields: {'nickname'}")
	})

	t.Run("PatchDuplicateUsername", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/users", alice.Id), "alice", map[string]any{"username": "bob"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, path("/api/users", alice.Id), "bob", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodGet, path("/api/users", alice.Id), "bob", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Len(t, s.sink.withScope("delete:user"), 1)
	})
}

func TestOrganizations(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/api/users/self", "bob", nil)

	var org api.Organization
	t.Run("Create", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/organizations", "alice", api.CreateOrganizationRequest{Slug: "acme"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		org = decode[api.Organization](t, rec)
		assert.Equal(t, "acme", org.Slug)
		assert.Equal(t, "acme", org.Name)
		require.NotNil(t, org.Owner)
		assert.Equal(t, "alice", org.Owner.Username)
		assert.Len(t, s.sink.withScope("create:organization"), 1)
	})

	t.Run("DuplicateSlug", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/organizations", "alice", api.CreateOrganizationRequest{Slug: "acme"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidSlug", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/organizations", "alice", api.CreateOrganizationRequest{Slug: "not a slug"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("OwnerMembership", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/memberships?org=acme", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[api.Page[api.Membership]](t, rec)
		require.Equal(t, 1, page.Count)
		assert.Equal(t, "owner", page.Results[0].Role)
		assert.True(t, page.Results[0].IsActive)

		rec = s.do(t, http.MethodPatch, path("/api/memberships", page.Results[0].Id), "alice", api.PatchMembershipRequest{Role: "worker"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodDelete, path("/api/memberships", page.Results[0].Id), "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InviteAndAccept", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/invitations", "alice", api.CreateInvitationRequest{Role: "worker", Username: "bob"})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "an organization context is required")

		rec = s.do(t, http.MethodPost, "/api/invitations?org=acme", "alice", api.CreateInvitationRequest{Role: "worker", Username: "bob"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		invitation := decode[api.Invitation](t, rec)
		assert.Len(t, invitation.Key, 64)

		rec = s.do(t, http.MethodPost, "/api/invitations?org=acme", "alice", api.CreateInvitationRequest{Role: "worker", Username: "bob"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPatch, "/api/invitations/"+invitation.Key, "bob", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPatch, "/api/invitations/"+invitation.Key+"?accepted=true", "bob", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = s.do(t, http.MethodGet, "/api/memberships?org=acme&role=worker", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[api.Page[api.Membership]](t, rec)
		require.Equal(t, 1, page.Count)
		assert.True(t, page.Results[0].IsActive)
		assert.Equal(t, "bob", page.Results[0].User.Username)
	})

	t.Run("UnknownOrganization", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/projects?org=missing", "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, path("/api/organizations", org.Id), "alice", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		var count int64
		require.NoError(t, s.db.Model(&database.Membership{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestExceptionEvents(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/projects/100", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	exceptions := s.sink.withScope("send:exception")
	require.Len(t, exceptions, 1)

	var payload events.ExceptionPayload
	require.NoError(t, json.Unmarshal(exceptions[0].Payload, &payload))
	require.NotNil(t, payload.Basename)
	assert.Equal(t, "projects", *payload.Basename)
	assert.Equal(t, "retrieve", *payload.Action)
	assert.Equal(t, http.StatusNotFound, payload.StatusCode)
	require.NotNil(t, exceptions[0].UserName)
	assert.Equal(t, "alice", *exceptions[0].UserName)
}
