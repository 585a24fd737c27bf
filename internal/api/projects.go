package api

import (
	"fmt"
	"net/http"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/labels"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProjectFilter struct {
	Pagination
	Id       *int   `schema:"id"`
	Name     string `schema:"name"`
	Owner    string `schema:"owner"`
	Assignee string `schema:"assignee"`
	Status   string `schema:"status"`
}

var projectListing = listing{
	sortable: map[string]string{
		"id": "id", "name": "name", "status": "status",
		"created_date": "created_date", "updated_date": "updated_date",
	},
	search: "name",
}

func (s *BackendService) ListProjects(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[ProjectFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range projectPreloads {
		query = query.Preload(p)
	}
	query = filterEq(query, "id", filter.Id)
	query = filterEq(query, "organization_id", currentOrgId(r))
	query = filterLike(query, "name", filter.Name)
	query = filterUser(query, "owner_id", filter.Owner)
	query = filterUser(query, "assignee_id", filter.Assignee)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	return paginate(r, query, filter.Pagination, projectListing, func(p database.Project) (api.Project, error) {
		return convertProject(txn, p)
	})
}

func loadProject(txn *gorm.DB, projectId int) (database.Project, error) {
	return loadById[database.Project](txn, "project", projectId, projectPreloads...)
}

func (s *BackendService) GetProject(r *http.Request) (any, error) {
	projectId, err := URLParamInt(r, "project_id")
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	project, err := loadProject(txn, projectId)
	if err != nil {
		return nil, err
	}
	return convertProject(txn, project)
}

func validateLabelSpecs(specs []api.LabelSpec) error {
	for _, spec := range specs {
		if err := labels.ValidateSpec(spec, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *BackendService) CreateProject(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateProjectRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Name == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "name: This field is required.")
	}
	if err := validateLabelSpecs(req.Labels); err != nil {
		return nil, err
	}

	ownerId := req.OwnerId
	if ownerId == nil {
		ownerId = currentUserId(r)
	}

	var result api.Project
	err = s.transaction(r, func(txn *gorm.DB) error {
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
		project := database.Project{
			Name:            req.Name,
			OwnerId:         ownerId,
			AssigneeId:      req.AssigneeId,
			BugTracker:      req.BugTracker,
			CreatedDate:     now,
			UpdatedDate:     now,
			Status:          database.StatusAnnotation,
			OrganizationId:  currentOrgId(r),
			SourceStorageId: sourceStorageId,
			TargetStorageId: targetStorageId,
		}
		if err := txn.Create(&project).Error; err != nil {
			return fmt.Errorf("error creating project: %w", err)
		}

		if err := labels.CreateLabels(txn, req.Labels, labels.ForProject(project.Id), nil); err != nil {
			return err
		}

		project, err = loadProject(txn, project.Id)
		if err != nil {
			return err
		}
		result, err = convertProject(txn, project)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitCreated(r, events.ResourceProject, result.Id, &result.Name, result,
		s.objectContext(r, result.Organization, &result.Id, nil, nil))
	return result, nil
}

func (s *BackendService) PatchProject(r *http.Request) (any, error) {
	projectId, err := URLParamInt(r, "project_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PatchProjectRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateLabelSpecs(req.Labels); err != nil {
		return nil, err
	}

	var old, result api.Project
	err = s.transaction(r, func(txn *gorm.DB) error {
		project, err := loadProject(txn, projectId)
		if err != nil {
			return err
		}
		if old, err = convertProject(txn, project); err != nil {
			return err
		}

		if req.Name != nil {
			if *req.Name == "" {
				return CodedErrorf(http.StatusBadRequest, "name: This field may not be blank.")
			}
			project.Name = *req.Name
		}
		if req.OwnerId != nil {
			if err := checkUserExists(txn, "owner_id", req.OwnerId); err != nil {
				return err
			}
			project.OwnerId = req.OwnerId
		}
		if req.AssigneeId != nil {
			if err := checkUserExists(txn, "assignee_id", req.AssigneeId); err != nil {
				return err
			}
			project.AssigneeId = req.AssigneeId
		}
		if req.BugTracker != nil {
			project.BugTracker = *req.BugTracker
		}

		if err := labels.UpdateLabels(txn, req.Labels, labels.ForProject(project.Id), nil); err != nil {
			return err
		}

		if project.SourceStorageId, err = updateRelatedStorage(txn, project.SourceStorageId, req.SourceStorage); err != nil {
			return err
		}
		if project.TargetStorageId, err = updateRelatedStorage(txn, project.TargetStorageId, req.TargetStorage); err != nil {
			return err
		}

		project.UpdatedDate = time.Now().UTC()
		if err := txn.Omit(clause.Associations).Save(&project).Error; err != nil {
			return fmt.Errorf("error updating project %d: %w", project.Id, err)
		}

		if project, err = loadProject(txn, project.Id); err != nil {
			return err
		}
		result, err = convertProject(txn, project)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceProject, old, result, s.objectContext(r, result.Organization, &result.Id, nil, nil))
	return result, nil
}

func (s *BackendService) DeleteProject(r *http.Request) (any, error) {
	projectId, err := URLParamInt(r, "project_id")
	if err != nil {
		return nil, err
	}

	var project database.Project
	err = s.transaction(r, func(txn *gorm.DB) error {
		if project, err = loadProject(txn, projectId); err != nil {
			return err
		}

		var tasks []database.Task
		if err := txn.Where("project_id = ?", projectId).Find(&tasks).Error; err != nil {
			return fmt.Errorf("error loading tasks of project %d: %w", projectId, err)
		}
		for _, task := range tasks {
			if err := deleteTaskTree(txn, task); err != nil {
				return err
			}
		}

		if err := labels.DeleteAll(txn, labels.ForProject(projectId)); err != nil {
			return err
		}
		if err := txn.Delete(&database.Project{}, projectId).Error; err != nil {
			return fmt.Errorf("error deleting project %d: %w", projectId, err)
		}
		return deleteStorages(txn, project.SourceStorageId, project.TargetStorageId)
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceProject, project.Id, &project.Name,
		s.objectContext(r, project.OrganizationId, &project.Id, nil, nil))
	return nil, nil
}
