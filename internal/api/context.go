package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"

	"gorm.io/gorm"
)

const (
	UserHeader         = "X-Forwarded-User"
	EmailHeader        = "X-Forwarded-Email"
	OrganizationHeader = "X-Organization"
)

type contextKey int

const (
	identityKey contextKey = iota
	errorRecordKey
)

type identity struct {
	user *database.User
	org  *database.Organization
}

func currentIdentity(r *http.Request) identity {
	if id, ok := r.Context().Value(identityKey).(identity); ok {
		return id
	}
	return identity{}
}

func currentUser(r *http.Request) *database.User {
	return currentIdentity(r).user
}

func currentOrg(r *http.Request) *database.Organization {
	return currentIdentity(r).org
}

func currentUserId(r *http.Request) *int {
	if user := currentUser(r); user != nil {
		return ptr(user.Id)
	}
	return nil
}

func currentOrgId(r *http.Request) *int {
	if org := currentOrg(r); org != nil {
		return ptr(org.Id)
	}
	return nil
}

func (s *BackendService) resolveOrganization(r *http.Request) (*database.Organization, error) {
	query := r.URL.Query()

	var org database.Organization
	var err error
	switch {
	case query.Get("org") != "":
		err = s.db.WithContext(r.Context()).Where("slug = ?", query.Get("org")).First(&org).Error
	case query.Get("org_id") != "":
		id, convErr := strconv.Atoi(query.Get("org_id"))
		if convErr != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid org_id '%s'", query.Get("org_id"))
		}
		err = s.db.WithContext(r.Context()).First(&org, "id = ?", id).Error
	case r.Header.Get(OrganizationHeader) != "":
		err = s.db.WithContext(r.Context()).Where("slug = ?", r.Header.Get(OrganizationHeader)).First(&org).Error
	default:
		return nil, nil
	}

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "organization not found")
		}
		return nil, err
	}
	return &org, nil
}

// identify resolves the user forwarded by the authenticating proxy and the
// organization the request is made in.
func (s *BackendService) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id identity

		if username := strings.TrimSpace(r.Header.Get(UserHeader)); username != "" {
			user, err := database.GetOrCreateUser(r.Context(), s.db, username, r.Header.Get(EmailHeader))
			if err != nil {
				writeError(w, r, err)
				return
			}
			id.user = user
		}

		org, err := s.resolveOrganization(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		id.org = org

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

type errorRecord struct {
	err   error
	code  int
	stack string
	id    identity
}

func recordError(r *http.Request, err error, code int) {
	if rec, ok := r.Context().Value(errorRecordKey).(*errorRecord); ok && rec.err == nil {
		rec.err = err
		rec.code = code
		rec.stack = string(debug.Stack())
		rec.id = currentIdentity(r)
	}
}

func requestAction(r *http.Request) string {
	switch r.Method {
	case http.MethodPost:
		return "create"
	case http.MethodPatch:
		return "partial_update"
	case http.MethodPut:
		return "update"
	case http.MethodDelete:
		return "destroy"
	default:
		return "retrieve"
	}
}

func requestBasename(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	path = strings.TrimPrefix(path, "api/")
	basename, _, _ := strings.Cut(path, "/")
	return basename
}

// reportExceptions emits a send:exception event for every request answered
// with an error.
func (s *BackendService) reportExceptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &errorRecord{}
		r = r.WithContext(context.WithValue(r.Context(), errorRecordKey, rec))

		next.ServeHTTP(w, r)

		if rec.err == nil {
			return
		}

		basename, action := requestBasename(r), requestAction(r)
		event, err := events.Exception(events.ExceptionPayload{
			Basename: &basename,
			Action:   &action,
			Request: &events.ExceptionRequest{
				URL:         r.URL.RequestURI(),
				QueryParams: r.URL.Query(),
				ContentType: r.Header.Get("Content-Type"),
				Method:      r.Method,
			},
			Message:    rec.err.Error(),
			Stack:      rec.stack,
			StatusCode: rec.code,
		}, events.Context{}.WithUser(rec.id.user).WithOrganization(rec.id.org))
		if err != nil {
			slog.Error("error building exception event", "error", err)
			return
		}
		s.emitter.Emit(r.Context(), event)
	})
}
