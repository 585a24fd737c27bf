package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/labels"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaskFilter struct {
	Pagination
	Id        *int   `schema:"id"`
	Name      string `schema:"name"`
	Owner     string `schema:"owner"`
	Assignee  string `schema:"assignee"`
	Status    string `schema:"status"`
	Mode      string `schema:"mode"`
	Dimension string `schema:"dimension"`
	Subset    string `schema:"subset"`
	ProjectId *int   `schema:"project_id"`
}

var taskListing = listing{
	sortable: map[string]string{
		"id": "id", "name": "name", "status": "status", "mode": "mode", "dimension": "dimension",
		"subset": "subset", "project_id": "project_id", "created_date": "created_date", "updated_date": "updated_date",
	},
	search: "name",
}

func (s *BackendService) ListTasks(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[TaskFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range taskPreloads {
		query = query.Preload(p)
	}
	query = filterEq(query, "id", filter.Id)
	query = filterEq(query, "project_id", filter.ProjectId)
	query = filterEq(query, "organization_id", currentOrgId(r))
	query = filterLike(query, "name", filter.Name)
	query = filterUser(query, "owner_id", filter.Owner)
	query = filterUser(query, "assignee_id", filter.Assignee)
	for column, value := range map[string]string{
		"status": filter.Status, "mode": filter.Mode, "dimension": filter.Dimension, "subset": filter.Subset,
	} {
		if value != "" {
			query = query.Where(column+" = ?", value)
		}
	}

	return paginate(r, query, filter.Pagination, taskListing, func(t database.Task) (api.Task, error) {
		return convertTask(txn, t)
	})
}

func loadTask(txn *gorm.DB, taskId int) (database.Task, error) {
	return loadById[database.Task](txn, "task", taskId, taskPreloads...)
}

func (s *BackendService) GetTask(r *http.Request) (any, error) {
	taskId, err := URLParamInt(r, "task_id")
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	task, err := loadTask(txn, taskId)
	if err != nil {
		return nil, err
	}
	return convertTask(txn, task)
}

func sameOrganization(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func validateSubset(subset string) error {
	if len(subset) > 64 {
		return CodedErrorf(http.StatusBadRequest, "subset: ensure this field has no more than 64 characters")
	}
	return nil
}

func (s *BackendService) CreateTask(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateTaskRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Name == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "name: This field is required.")
	}
	switch {
	case len(req.Labels) == 0 && req.ProjectId == nil:
		return nil, CodedErrorf(http.StatusBadRequest, "Label set or project_id must be present")
	case len(req.Labels) > 0 && req.ProjectId != nil:
		return nil, CodedErrorf(http.StatusBadRequest, "Project must have only one of Label set or project_id")
	}
	if err := validateLabelSpecs(req.Labels); err != nil {
		return nil, err
	}
	if err := validateSubset(req.Subset); err != nil {
		return nil, err
	}
	if req.SegmentSize < 0 || (req.Overlap != nil && *req.Overlap < 0) {
		return nil, CodedErrorf(http.StatusBadRequest, "segment_size and overlap must not be negative")
	}

	orgId := currentOrgId(r)
	ownerId := req.OwnerId
	if ownerId == nil {
		ownerId = currentUserId(r)
	}

	var result api.Task
	err = s.transaction(r, func(txn *gorm.DB) error {
		if req.ProjectId != nil {
			var project database.Project
			if err := txn.First(&project, "id = ?", *req.ProjectId).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return CodedErrorf(http.StatusBadRequest, "The specified project #%d does not exist.", *req.ProjectId)
				}
				return fmt.Errorf("error loading project %d: %w", *req.ProjectId, err)
			}
			if !sameOrganization(project.OrganizationId, orgId) {
				return CodedErrorf(http.StatusBadRequest, "The task and its project should be in the same organization.")
			}
		}
		if err := checkUserExists(txn, "owner_id", ownerId); err != nil {
			return err
		}
		if err := checkUserExists(txn, "assignee_id", req.AssigneeId); err != nil {
			return err
		}

		sourceStorageId, err := createRelatedStorage(txn, req.SourceStorage)
		if err != nil {
			return err
		}
		targetStorageId, err := createRelatedStorage(txn, req.TargetStorage)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		task := database.Task{
			Name:            req.Name,
			ProjectId:       req.ProjectId,
			OwnerId:         ownerId,
			AssigneeId:      req.AssigneeId,
			BugTracker:      req.BugTracker,
			CreatedDate:     now,
			UpdatedDate:     now,
			Overlap:         req.Overlap,
			SegmentSize:     req.SegmentSize,
			Status:          database.StatusAnnotation,
			Dimension:       database.Dimension2D,
			Subset:          req.Subset,
			OrganizationId:  orgId,
			SourceStorageId: sourceStorageId,
			TargetStorageId: targetStorageId,
		}
		if err := txn.Create(&task).Error; err != nil {
			return fmt.Errorf("error creating task: %w", err)
		}

		if err := labels.CreateLabels(txn, req.Labels, labels.ForTask(task.Id), nil); err != nil {
			return err
		}

		if task, err = loadTask(txn, task.Id); err != nil {
			return err
		}
		result, err = convertTask(txn, task)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitCreated(r, events.ResourceTask, result.Id, &result.Name, result,
		s.objectContext(r, result.Organization, result.ProjectId, &result.Id, nil))
	return result, nil
}

func (s *BackendService) moveTask(txn *gorm.DB, task *database.Task, projectId int, specs []api.LabelSpec) error {
	if err := labels.RemapForMove(txn, *task, projectId, specs); err != nil {
		return err
	}
	slog.Info("task moved to project", "task_id", task.Id, "project_id", projectId)
	task.ProjectId = &projectId
	task.Project = nil
	return nil
}

func (s *BackendService) PatchTask(r *http.Request) (any, error) {
	taskId, err := URLParamInt(r, "task_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PatchTaskRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateLabelSpecs(req.Labels); err != nil {
		return nil, err
	}

	var old, result api.Task
	err = s.transaction(r, func(txn *gorm.DB) error {
		task, err := loadTask(txn, taskId)
		if err != nil {
			return err
		}
		if old, err = convertTask(txn, task); err != nil {
			return err
		}

		if req.Name != nil {
			if *req.Name == "" {
				return CodedErrorf(http.StatusBadRequest, "name: This field may not be blank.")
			}
			task.Name = *req.Name
		}
		if req.OwnerId != nil {
			if err := checkUserExists(txn, "owner_id", req.OwnerId); err != nil {
				return err
			}
			task.OwnerId = req.OwnerId
		}
		if req.AssigneeId != nil {
			if err := checkUserExists(txn, "assignee_id", req.AssigneeId); err != nil {
				return err
			}
			task.AssigneeId = req.AssigneeId
		}
		if req.BugTracker != nil {
			task.BugTracker = *req.BugTracker
		}
		if req.Subset != nil {
			if err := validateSubset(*req.Subset); err != nil {
				return err
			}
			task.Subset = *req.Subset
		}

		moving := req.ProjectId != nil && (task.ProjectId == nil || *task.ProjectId != *req.ProjectId)
		if moving {
			if err := labels.ValidateMove(txn, task, *req.ProjectId, req.Labels); err != nil {
				return err
			}
		}

		if task.ProjectId == nil {
			if err := labels.UpdateLabels(txn, req.Labels, labels.ForTask(task.Id), nil); err != nil {
				return err
			}
		}

		if moving {
			if err := s.moveTask(txn, &task, *req.ProjectId, req.Labels); err != nil {
				return err
			}
		}

		if task.SourceStorageId, err = updateRelatedStorage(txn, task.SourceStorageId, req.SourceStorage); err != nil {
			return err
		}
		if task.TargetStorageId, err = updateRelatedStorage(txn, task.TargetStorageId, req.TargetStorage); err != nil {
			return err
		}

		task.UpdatedDate = time.Now().UTC()
		if err := txn.Omit(clause.Associations).Save(&task).Error; err != nil {
			return fmt.Errorf("error updating task %d: %w", task.Id, err)
		}

		if task, err = loadTask(txn, task.Id); err != nil {
			return err
		}
		result, err = convertTask(txn, task)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceTask, old, result, s.objectContext(r, result.Organization, result.ProjectId, &result.Id, nil))
	return result, nil
}

// deleteTaskTree removes a task together with its jobs, annotations, issues,
// labels, data and storages.
func deleteTaskTree(txn *gorm.DB, task database.Task) error {
	jobIds, err := database.TaskJobIds(txn, task.Id)
	if err != nil {
		return err
	}
	if err := database.DeleteJobAnnotations(txn, jobIds); err != nil {
		return err
	}
	if len(jobIds) > 0 {
		issues := txn.Model(&database.Issue{}).Select("id").Where("job_id IN ?", jobIds)
		if err := txn.Where("issue_id IN (?)", issues).Delete(&database.Comment{}).Error; err != nil {
			return fmt.Errorf("error deleting comments of task %d: %w", task.Id, err)
		}
		if err := txn.Where("job_id IN ?", jobIds).Delete(&database.Issue{}).Error; err != nil {
			return fmt.Errorf("error deleting issues of task %d: %w", task.Id, err)
		}
		if err := txn.Where("id IN ?", jobIds).Delete(&database.Job{}).Error; err != nil {
			return fmt.Errorf("error deleting jobs of task %d: %w", task.Id, err)
		}
	}
	if err := txn.Where("task_id = ?", task.Id).Delete(&database.Segment{}).Error; err != nil {
		return fmt.Errorf("error deleting segments of task %d: %w", task.Id, err)
	}
	if err := labels.DeleteAll(txn, labels.ForTask(task.Id)); err != nil {
		return err
	}
	if err := txn.Delete(&database.Task{}, task.Id).Error; err != nil {
		return fmt.Errorf("error deleting task %d: %w", task.Id, err)
	}
	if task.DataId != nil {
		if err := txn.Delete(&database.Data{}, *task.DataId).Error; err != nil {
			return fmt.Errorf("error deleting data of task %d: %w", task.Id, err)
		}
	}
	return deleteStorages(txn, task.SourceStorageId, task.TargetStorageId)
}

func (s *BackendService) DeleteTask(r *http.Request) (any, error) {
	taskId, err := URLParamInt(r, "task_id")
	if err != nil {
		return nil, err
	}

	var task database.Task
	err = s.transaction(r, func(txn *gorm.DB) error {
		if task, err = loadTask(txn, taskId); err != nil {
			return err
		}
		return deleteTaskTree(txn, task)
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceTask, task.Id, &task.Name,
		s.objectContext(r, task.OrganizationId, task.ProjectId, &task.Id, nil))
	return nil, nil
}
