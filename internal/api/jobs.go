package api

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

var (
	jobStages = []string{database.StageAnnotation, database.StageValidation, database.StageAcceptance}
	jobStates = []string{database.StateNew, database.StateInProgress, database.StateRejected, database.StateCompleted}
)

type JobFilter struct {
	Pagination
	TaskId    *int   `schema:"task_id"`
	ProjectId *int   `schema:"project_id"`
	Stage     string `schema:"stage"`
	State     string `schema:"state"`
	Assignee  string `schema:"assignee"`
	Dimension string `schema:"dimension"`
}

var jobListing = listing{
	sortable: map[string]string{"id": "id", "stage": "stage", "state": "state", "updated_date": "updated_date"},
}

// jobsOfTasks restricts a job query to the jobs of the tasks selected by tasks.
func jobsOfTasks(query, tasks *gorm.DB) *gorm.DB {
	segments := query.Session(&gorm.Session{NewDB: true}).Model(&database.Segment{}).Select("id").Where("task_id IN (?)", tasks)
	return query.Where("segment_id IN (?)", segments)
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[JobFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range jobPreloads {
		query = query.Preload(p)
	}
	if filter.TaskId != nil {
		query = query.Where("segment_id IN (?)", txn.Model(&database.Segment{}).Select("id").Where("task_id = ?", *filter.TaskId))
	}

	tasks := txn.Model(&database.Task{}).Select("id")
	restrictTasks := false
	if filter.ProjectId != nil {
		tasks, restrictTasks = tasks.Where("project_id = ?", *filter.ProjectId), true
	}
	if filter.Dimension != "" {
		tasks, restrictTasks = tasks.Where("dimension = ?", filter.Dimension), true
	}
	if orgId := currentOrgId(r); orgId != nil {
		tasks, restrictTasks = tasks.Where("organization_id = ?", *orgId), true
	}
	if restrictTasks {
		query = jobsOfTasks(query, tasks)
	}

	if filter.Stage != "" {
		query = query.Where("stage = ?", filter.Stage)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	query = filterUser(query, "assignee_id", filter.Assignee)

	return paginate(r, query, filter.Pagination, jobListing, func(j database.Job) (api.Job, error) {
		return convertJob(txn, j)
	})
}

func loadJob(txn *gorm.DB, jobId int) (database.Job, error) {
	return loadById[database.Job](txn, "job", jobId, append(slices.Clone(jobPreloads), "Segment.Task.Owner")...)
}

// jobContext attributes events about a job to the owner of its task.
func (s *BackendService) jobContext(r *http.Request, job database.Job) events.Context {
	task := job.Segment.Task
	ctx := s.objectContext(r, task.OrganizationId, task.ProjectId, &task.Id, &job.Id)
	return ctx.WithUser(task.Owner)
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamInt(r, "job_id")
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	job, err := loadJob(txn, jobId)
	if err != nil {
		return nil, err
	}
	return convertJob(txn, job)
}

func (s *BackendService) PatchJob(r *http.Request) (any, error) {
	jobId, err := URLParamInt(r, "job_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PatchJobRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Stage != nil && !slices.Contains(jobStages, *req.Stage) {
		return nil, CodedErrorf(http.StatusBadRequest, "stage: \"%s\" is not a valid choice.", *req.Stage)
	}
	if req.State != nil && !slices.Contains(jobStates, *req.State) {
		return nil, CodedErrorf(http.StatusBadRequest, "state: \"%s\" is not a valid choice.", *req.State)
	}

	var job database.Job
	var old, result api.Job
	err = s.transaction(r, func(txn *gorm.DB) error {
		if job, err = loadJob(txn, jobId); err != nil {
			return err
		}
		if old, err = convertJob(txn, job); err != nil {
			return err
		}

		updates := map[string]any{"updated_date": time.Now().UTC()}
		if req.Assignee != nil {
			if err := checkUserExists(txn, "assignee", req.Assignee); err != nil {
				return err
			}
			updates["assignee_id"] = *req.Assignee
		}
		if req.State != nil {
			updates["state"] = *req.State
		}
		if req.Stage != nil {
			state := ""
			if req.State != nil {
				state = *req.State
			}
			updates["stage"] = *req.Stage
			updates["status"] = database.JobStatus(*req.Stage, state)
			if *req.Stage != job.Stage && req.State == nil {
				updates["state"] = database.StateNew
			}
		}

		if err := txn.Model(&database.Job{Id: job.Id}).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating job %d: %w", job.Id, err)
		}
		if err := database.UpdateTaskStatus(r.Context(), txn, job.Segment.TaskId); err != nil {
			return err
		}

		if job, err = loadJob(txn, jobId); err != nil {
			return err
		}
		result, err = convertJob(txn, job)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceJob, old, result, s.jobContext(r, job))
	return result, nil
}
