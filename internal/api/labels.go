package api

import (
	"fmt"
	"net/http"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/labels"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

type LabelFilter struct {
	Pagination
	ProjectId *int   `schema:"project_id"`
	TaskId    *int   `schema:"task_id"`
	JobId     *int   `schema:"job_id"`
	ParentId  *int   `schema:"parent_id"`
	Name      string `schema:"name"`
	Type      string `schema:"type"`
}

var labelListing = listing{
	sortable: map[string]string{"id": "id", "name": "name", "type": "type", "parent_id": "parent_id"},
	search:   "name",
}

// labelOwner resolves the label set a task uses: its project's when it has one.
func labelOwner(txn *gorm.DB, taskId int) (labels.Parent, error) {
	task, err := loadById[database.Task](txn, "task", taskId)
	if err != nil {
		return labels.Parent{}, err
	}
	if task.ProjectId != nil {
		return labels.ForProject(*task.ProjectId), nil
	}
	return labels.ForTask(task.Id), nil
}

func (s *BackendService) ListLabels(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[LabelFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range labelPreloads {
		query = query.Preload(p)
	}

	switch {
	case filter.JobId != nil:
		job, err := loadById[database.Job](txn, "job", *filter.JobId, "Segment")
		if err != nil {
			return nil, err
		}
		owner, err := labelOwner(txn, job.Segment.TaskId)
		if err != nil {
			return nil, err
		}
		query = owner.Scope(query)
	case filter.TaskId != nil:
		owner, err := labelOwner(txn, *filter.TaskId)
		if err != nil {
			return nil, err
		}
		query = owner.Scope(query)
	case filter.ProjectId != nil:
		query = query.Where("project_id = ?", *filter.ProjectId)
	}

	if orgId := currentOrgId(r); orgId != nil {
		projects := txn.Model(&database.Project{}).Select("id").Where("organization_id = ?", *orgId)
		tasks := txn.Model(&database.Task{}).Select("id").Where("organization_id = ?", *orgId)
		query = query.Where("project_id IN (?) OR task_id IN (?)", projects, tasks)
	}

	if filter.ParentId != nil {
		query = query.Where("parent_id = ?", *filter.ParentId)
	} else {
		query = query.Where("parent_id IS NULL")
	}
	query = filterLike(query, "name", filter.Name)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	return paginate(r, query, filter.Pagination, labelListing, func(l database.Label) (api.Label, error) {
		return convertLabel(l), nil
	})
}

func loadLabel(txn *gorm.DB, labelId int) (database.Label, error) {
	return loadById[database.Label](txn, "label", labelId, labelPreloads...)
}

func (s *BackendService) GetLabel(r *http.Request) (any, error) {
	labelId, err := URLParamInt(r, "label_id")
	if err != nil {
		return nil, err
	}
	label, err := loadLabel(s.db.WithContext(r.Context()), labelId)
	if err != nil {
		return nil, err
	}
	return convertLabel(label), nil
}

func labelParent(label database.Label) labels.Parent {
	if label.ProjectId != nil {
		return labels.ForProject(*label.ProjectId)
	}
	return labels.ForTask(*label.TaskId)
}

func (s *BackendService) labelContext(r *http.Request, label database.Label) events.Context {
	txn := s.db.WithContext(r.Context())
	var orgId *int
	if label.ProjectId != nil {
		var project database.Project
		if err := txn.First(&project, "id = ?", *label.ProjectId).Error; err == nil {
			orgId = project.OrganizationId
		}
	} else if label.TaskId != nil {
		var task database.Task
		if err := txn.First(&task, "id = ?", *label.TaskId).Error; err == nil {
			orgId = task.OrganizationId
		}
	}
	return s.objectContext(r, orgId, label.ProjectId, label.TaskId, nil)
}

// PatchLabel updates a single label through the label set it belongs to.
func (s *BackendService) PatchLabel(r *http.Request) (any, error) {
	labelId, err := URLParamInt(r, "label_id")
	if err != nil {
		return nil, err
	}

	spec, err := ParseRequest[api.LabelSpec](r)
	if err != nil {
		return nil, err
	}
	spec.Id = &labelId
	if err := labels.ValidateSpec(spec, true); err != nil {
		return nil, err
	}

	var old, updated database.Label
	err = s.transaction(r, func(txn *gorm.DB) error {
		if old, err = loadLabel(txn, labelId); err != nil {
			return err
		}

		var parentLabel *database.Label
		if old.ParentId != nil {
			parent, err := loadById[database.Label](txn, "label", *old.ParentId)
			if err != nil {
				return err
			}
			parentLabel = &parent
		}

		if err := labels.UpdateLabels(txn, []api.LabelSpec{spec}, labelParent(old), parentLabel); err != nil {
			return err
		}

		updated, err = loadLabel(txn, labelId)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := convertLabel(updated)
	s.emitUpdated(r, events.ResourceLabel, convertLabel(old), result, s.labelContext(r, updated))
	return result, nil
}

func (s *BackendService) DeleteLabel(r *http.Request) (any, error) {
	labelId, err := URLParamInt(r, "label_id")
	if err != nil {
		return nil, err
	}

	var label database.Label
	err = s.transaction(r, func(txn *gorm.DB) error {
		if label, err = loadById[database.Label](txn, "label", labelId); err != nil {
			return err
		}
		if err := labels.DeleteLabel(txn, labelId); err != nil {
			return fmt.Errorf("error deleting label %d: %w", labelId, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceLabel, label.Id, &label.Name, s.labelContext(r, label))
	return nil, nil
}
