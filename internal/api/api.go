package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	db       *gorm.DB
	emitter  *events.Emitter
	storages cloudstorage.Factory
	stream   *events.RedisSink
	version  string
}

// NewBackendService wires the REST handlers. stream may be nil, in which case
// the live event stream endpoint reports 404.
func NewBackendService(db *gorm.DB, emitter *events.Emitter, storages cloudstorage.Factory, stream *events.RedisSink, version string) *BackendService {
	if storages == nil {
		storages = cloudstorage.NewStorage
	}
	return &BackendService{db: db, emitter: emitter, storages: storages, stream: stream, version: version}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.reportExceptions)
		r.Use(s.identify)

		r.Get("/server/about", RestHandler(s.About))

		r.Route("/users", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListUsers))
			r.Get("/self", RestHandler(s.GetSelf))
			r.Get("/{user_id}", RestHandler(s.GetUser))
			r.Patch("/{user_id}", RestHandler(s.PatchUser))
			r.Delete("/{user_id}", RestDeleteHandler(s.DeleteUser))
		})

		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListOrganizations))
			r.Post("/", RestCreateHandler(s.CreateOrganization))
			r.Get("/{org_id}", RestHandler(s.GetOrganization))
			r.Patch("/{org_id}", RestHandler(s.PatchOrganization))
			r.Delete("/{org_id}", RestDeleteHandler(s.DeleteOrganization))
		})

		r.Route("/memberships", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListMemberships))
			r.Get("/{membership_id}", RestHandler(s.GetMembership))
			r.Patch("/{membership_id}", RestHandler(s.PatchMembership))
			r.Delete("/{membership_id}", RestDeleteHandler(s.DeleteMembership))
		})

		r.Route("/invitations", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListInvitations))
			r.Post("/", RestCreateHandler(s.CreateInvitation))
			r.Get("/{key}", RestHandler(s.GetInvitation))
			r.Patch("/{key}", RestHandler(s.AcceptInvitation))
			r.Delete("/{key}", RestDeleteHandler(s.DeleteInvitation))
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListProjects))
			r.Post("/", RestCreateHandler(s.CreateProject))
			r.Get("/{project_id}", RestHandler(s.GetProject))
			r.Patch("/{project_id}", RestHandler(s.PatchProject))
			r.Delete("/{project_id}", RestDeleteHandler(s.DeleteProject))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListTasks))
			r.Post("/", RestCreateHandler(s.CreateTask))
			r.Get("/{task_id}", RestHandler(s.GetTask))
			r.Patch("/{task_id}", RestHandler(s.PatchTask))
			r.Delete("/{task_id}", RestDeleteHandler(s.DeleteTask))
			r.Post("/{task_id}/data", RestCreateHandler(s.AttachTaskData))
			r.Get("/{task_id}/data/meta", RestHandler(s.GetTaskDataMeta))
			r.Patch("/{task_id}/data/meta", RestHandler(s.PatchTaskDataMeta))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListJobs))
			r.Get("/{job_id}", RestHandler(s.GetJob))
			r.Patch("/{job_id}", RestHandler(s.PatchJob))
			r.Get("/{job_id}/annotations", RestHandler(s.GetAnnotations))
			r.Put("/{job_id}/annotations", RestHandler(s.PutAnnotations))
			r.Patch("/{job_id}/annotations", RestHandler(s.PatchAnnotations))
			r.Delete("/{job_id}/annotations", RestDeleteHandler(s.DeleteAnnotations))
		})

		r.Route("/labels", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListLabels))
			r.Get("/{label_id}", RestHandler(s.GetLabel))
			r.Patch("/{label_id}", RestHandler(s.PatchLabel))
			r.Delete("/{label_id}", RestDeleteHandler(s.DeleteLabel))
		})

		r.Route("/cloudstorages", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListCloudStorages))
			r.Post("/", RestCreateHandler(s.CreateCloudStorage))
			r.Get("/{storage_id}", RestHandler(s.GetCloudStorage))
			r.Patch("/{storage_id}", RestHandler(s.PatchCloudStorage))
			r.Delete("/{storage_id}", RestDeleteHandler(s.DeleteCloudStorage))
			r.Get("/{storage_id}/status", RestHandler(s.GetCloudStorageStatus))
			r.Get("/{storage_id}/content", RestHandler(s.GetCloudStorageContent))
		})

		r.Route("/issues", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListIssues))
			r.Post("/", RestCreateHandler(s.CreateIssue))
			r.Get("/{issue_id}", RestHandler(s.GetIssue))
			r.Patch("/{issue_id}", RestHandler(s.PatchIssue))
			r.Delete("/{issue_id}", RestDeleteHandler(s.DeleteIssue))
		})

		r.Route("/comments", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListComments))
			r.Post("/", RestCreateHandler(s.CreateComment))
			r.Get("/{comment_id}", RestHandler(s.GetComment))
			r.Patch("/{comment_id}", RestHandler(s.PatchComment))
			r.Delete("/{comment_id}", RestDeleteHandler(s.DeleteComment))
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", RestHandler(s.ListEvents))
			r.Post("/", RestCreateHandler(s.LogClientEvents))
			r.Get("/stream", RestStreamHandler(s.StreamEvents))
		})
	})
}

func (s *BackendService) About(r *http.Request) (any, error) {
	return api.ServerAbout{
		Name:        "Annotation backend",
		Description: "REST API for collaborative image and video annotation",
		Version:     s.version,
	}, nil
}

func (s *BackendService) eventContext(r *http.Request) events.Context {
	return events.Context{}.WithUser(currentUser(r)).WithOrganization(currentOrg(r))
}

// objectContext attributes an event to the organization, project, task and job
// an object belongs to rather than to the request's organization.
func (s *BackendService) objectContext(r *http.Request, orgId, projectId, taskId, jobId *int) events.Context {
	ctx := events.Context{}.WithUser(currentUser(r))
	if orgId != nil {
		var org database.Organization
		if err := s.db.WithContext(r.Context()).First(&org, "id = ?", *orgId).Error; err == nil {
			ctx = ctx.WithOrganization(&org)
		} else {
			ctx.OrgId = orgId
		}
	}
	ctx.ProjectId, ctx.TaskId, ctx.JobId = projectId, taskId, jobId
	return ctx
}

func (s *BackendService) emitCreated(r *http.Request, resource string, id int, objName *string, representation any, ctx events.Context) {
	event, err := events.Create(resource, id, objName, representation, ctx)
	if err != nil {
		slog.Error("error building create event", "resource", resource, "id", id, "error", err)
		return
	}
	s.emitter.Emit(r.Context(), event)
}

func (s *BackendService) emitUpdated(r *http.Request, resource string, old, new any, ctx events.Context) {
	updates, err := events.Update(resource, old, new, ctx)
	if err != nil {
		slog.Error("error building update events", "resource", resource, "error", err)
		return
	}
	s.emitter.Emit(r.Context(), updates...)
}

func (s *BackendService) emitDeleted(r *http.Request, resource string, id int, objName *string, ctx events.Context) {
	s.emitter.Emit(r.Context(), events.Delete(resource, id, objName, ctx))
}

func (s *BackendService) transaction(r *http.Request, fn func(txn *gorm.DB) error) error {
	return s.db.WithContext(r.Context()).Transaction(fn)
}

func collectionUrl(resource, filter string, id int) string {
	return fmt.Sprintf("/api/%s?%s=%d", resource, filter, id)
}
