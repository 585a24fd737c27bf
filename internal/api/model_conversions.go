package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	projectPreloads = []string{"Owner", "Assignee", "SourceStorage", "TargetStorage"}
	taskPreloads    = []string{"Owner", "Assignee", "Data", "SourceStorage", "TargetStorage"}
	jobPreloads     = []string{"Assignee", "Segment.Task.Data"}
	labelPreloads   = []string{"Attributes", "Sublabels", "Sublabels.Attributes", "Skeleton"}
	issuePreloads   = []string{"Owner", "Assignee"}
)

func fromJSON[T any](data datatypes.JSON) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("error decoding stored json: %w", err)
	}
	return out, nil
}

func toJSON(value any) (datatypes.JSON, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("error encoding json column: %w", err)
	}
	return datatypes.JSON(data), nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func convertBasicUser(u *database.User) *api.BasicUser {
	if u == nil {
		return nil
	}
	return &api.BasicUser{Id: u.Id, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func convertUser(u database.User) api.User {
	return api.User{
		Id:          u.Id,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
		DateJoined:  u.DateJoined,
		LastLogin:   nullTime(u.LastLogin),
	}
}

func convertStorage(s *database.Storage) *api.Storage {
	if s == nil {
		return nil
	}
	return &api.Storage{Id: s.Id, Location: s.Location, CloudStorageId: s.CloudStorageId}
}

func convertOrganization(o database.Organization) (api.Organization, error) {
	contact, err := fromJSON[map[string]any](o.Contact)
	if err != nil {
		return api.Organization{}, err
	}
	if contact == nil {
		contact = map[string]any{}
	}
	return api.Organization{
		Id:          o.Id,
		Slug:        o.Slug,
		Name:        o.Name,
		Description: o.Description,
		Contact:     contact,
		Owner:       convertBasicUser(o.Owner),
		CreatedDate: o.CreatedDate,
		UpdatedDate: o.UpdatedDate,
	}, nil
}

func convertMembership(m database.Membership, invitation *string) api.Membership {
	return api.Membership{
		Id:           m.Id,
		User:         convertBasicUser(m.User),
		Organization: m.OrganizationId,
		IsActive:     m.IsActive,
		JoinedDate:   nullTime(m.JoinedDate),
		Role:         m.Role,
		Invitation:   invitation,
	}
}

func convertInvitation(i database.Invitation) api.Invitation {
	inv := api.Invitation{
		Key:         i.Key,
		CreatedDate: i.CreatedDate,
		Owner:       convertBasicUser(i.Owner),
	}
	if i.Membership != nil {
		inv.Role = i.Membership.Role
		inv.Organization = i.Membership.OrganizationId
		inv.User = convertBasicUser(i.Membership.User)
	}
	return inv
}

func splitValues(values string) []string {
	if values == "" {
		return []string{}
	}
	return strings.Split(values, "\n")
}

func convertAttributes(specs []database.AttributeSpec) []api.Attribute {
	attributes := make([]api.Attribute, 0, len(specs))
	for _, a := range specs {
		attributes = append(attributes, api.Attribute{
			Id:           a.Id,
			Name:         a.Name,
			Mutable:      a.Mutable,
			InputType:    a.InputType,
			DefaultValue: a.DefaultValue,
			Values:       splitValues(a.Values),
		})
	}
	return attributes
}

func convertLabel(l database.Label) api.Label {
	sublabels := make([]api.Sublabel, 0, len(l.Sublabels))
	for _, sub := range l.Sublabels {
		sublabels = append(sublabels, api.Sublabel{
			Id:         sub.Id,
			Name:       sub.Name,
			Color:      sub.Color,
			Attributes: convertAttributes(sub.Attributes),
			Type:       sub.Type,
			HasParent:  sub.ParentId != nil,
		})
	}

	label := api.Label{
		Id:         l.Id,
		Name:       l.Name,
		Color:      l.Color,
		Attributes: convertAttributes(l.Attributes),
		Type:       l.Type,
		Sublabels:  sublabels,
		ProjectId:  l.ProjectId,
		TaskId:     l.TaskId,
		ParentId:   l.ParentId,
		HasParent:  l.ParentId != nil,
	}
	if l.Type == database.LabelSkeleton && l.Skeleton != nil {
		label.Svg = l.Skeleton.Svg
	}
	return label
}

func countRows(query *gorm.DB) (int, error) {
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("error counting related rows: %w", err)
	}
	return int(count), nil
}

func topLabelCount(txn *gorm.DB, column string, id int) (int, error) {
	return countRows(txn.Model(&database.Label{}).Where(column+" = ? AND parent_id IS NULL", id))
}

func convertProject(txn *gorm.DB, p database.Project) (api.Project, error) {
	taskCount, err := countRows(txn.Model(&database.Task{}).Where("project_id = ?", p.Id))
	if err != nil {
		return api.Project{}, err
	}
	labelCount, err := topLabelCount(txn, "project_id", p.Id)
	if err != nil {
		return api.Project{}, err
	}

	subsets := []string{}
	if err := txn.Model(&database.Task{}).Where("project_id = ? AND subset <> ''", p.Id).
		Distinct().Order("subset").Pluck("subset", &subsets).Error; err != nil {
		return api.Project{}, fmt.Errorf("error loading task subsets of project %d: %w", p.Id, err)
	}

	var dimension *string
	var first database.Task
	err = txn.Where("project_id = ?", p.Id).Order("id").Limit(1).Find(&first).Error
	if err != nil {
		return api.Project{}, fmt.Errorf("error loading tasks of project %d: %w", p.Id, err)
	}
	if first.Id != 0 {
		dimension = &first.Dimension
	}

	return api.Project{
		Id:            p.Id,
		Name:          p.Name,
		Owner:         convertBasicUser(p.Owner),
		Assignee:      convertBasicUser(p.Assignee),
		BugTracker:    p.BugTracker,
		TaskSubsets:   subsets,
		CreatedDate:   p.CreatedDate,
		UpdatedDate:   p.UpdatedDate,
		Status:        p.Status,
		Dimension:     dimension,
		Organization:  p.OrganizationId,
		TargetStorage: convertStorage(p.TargetStorage),
		SourceStorage: convertStorage(p.SourceStorage),
		Tasks:         api.Collection{Count: taskCount, Url: collectionUrl("tasks", "project_id", p.Id)},
		Labels:        api.Collection{Count: labelCount, Url: collectionUrl("labels", "project_id", p.Id)},
	}, nil
}

func convertTask(txn *gorm.DB, t database.Task) (api.Task, error) {
	var jobs struct {
		Count     int
		Completed int
	}
	err := txn.Model(&database.Job{}).
		Select("COUNT(*) AS count, COALESCE(SUM(CASE WHEN jobs.stage = ? AND jobs.state = ? THEN 1 ELSE 0 END), 0) AS completed",
			database.StageAcceptance, database.StateCompleted).
		Joins("JOIN segments ON segments.id = jobs.segment_id").
		Where("segments.task_id = ?", t.Id).
		Scan(&jobs).Error
	if err != nil {
		return api.Task{}, fmt.Errorf("error counting jobs of task %d: %w", t.Id, err)
	}

	var labelCount int
	if t.ProjectId != nil {
		labelCount, err = topLabelCount(txn, "project_id", *t.ProjectId)
	} else {
		labelCount, err = topLabelCount(txn, "task_id", t.Id)
	}
	if err != nil {
		return api.Task{}, err
	}

	task := api.Task{
		Id:            t.Id,
		Name:          t.Name,
		ProjectId:     t.ProjectId,
		Mode:          t.Mode,
		Owner:         convertBasicUser(t.Owner),
		Assignee:      convertBasicUser(t.Assignee),
		BugTracker:    t.BugTracker,
		CreatedDate:   t.CreatedDate,
		UpdatedDate:   t.UpdatedDate,
		Overlap:       t.Overlap,
		SegmentSize:   t.SegmentSize,
		Status:        t.Status,
		Data:          t.DataId,
		Dimension:     t.Dimension,
		Subset:        t.Subset,
		Organization:  t.OrganizationId,
		TargetStorage: convertStorage(t.TargetStorage),
		SourceStorage: convertStorage(t.SourceStorage),
		Jobs:          api.JobsSummary{Count: jobs.Count, Completed: jobs.Completed, Url: collectionUrl("jobs", "task_id", t.Id)},
		Labels:        api.Collection{Count: labelCount, Url: collectionUrl("labels", "task_id", t.Id)},
	}
	if t.Data != nil {
		task.DataChunkSize = t.Data.ChunkSize
		task.DataCompressedChunkType = t.Data.CompressedChunkType
		task.DataOriginalChunkType = t.Data.OriginalChunkType
		task.Size = t.Data.Size
		task.ImageQuality = t.Data.ImageQuality
	}
	return task, nil
}

func convertJob(txn *gorm.DB, j database.Job) (api.Job, error) {
	issueCount, err := countRows(txn.Model(&database.Issue{}).Where("job_id = ?", j.Id))
	if err != nil {
		return api.Job{}, err
	}

	job := api.Job{
		Id:          j.Id,
		Assignee:    convertBasicUser(j.Assignee),
		Status:      j.Status,
		Stage:       j.Stage,
		State:       j.State,
		UpdatedDate: j.UpdatedDate,
		Issues:      api.Collection{Count: issueCount, Url: collectionUrl("issues", "job_id", j.Id)},
	}

	if j.Segment != nil {
		job.StartFrame, job.StopFrame = j.Segment.StartFrame, j.Segment.StopFrame
		if task := j.Segment.Task; task != nil {
			job.TaskId = task.Id
			job.ProjectId = task.ProjectId
			job.Dimension = task.Dimension
			job.BugTracker = task.BugTracker
			job.Mode = task.Mode
			if task.Data != nil {
				job.DataChunkSize = task.Data.ChunkSize
				job.DataCompressedChunkType = task.Data.CompressedChunkType
			}

			var labelCount int
			if task.ProjectId != nil {
				labelCount, err = topLabelCount(txn, "project_id", *task.ProjectId)
			} else {
				labelCount, err = topLabelCount(txn, "task_id", task.Id)
			}
			if err != nil {
				return api.Job{}, err
			}
			job.Labels = api.Collection{Count: labelCount, Url: collectionUrl("labels", "job_id", j.Id)}
		}
	}
	return job, nil
}

func convertIssue(txn *gorm.DB, i database.Issue) (api.Issue, error) {
	commentCount, err := countRows(txn.Model(&database.Comment{}).Where("issue_id = ?", i.Id))
	if err != nil {
		return api.Issue{}, err
	}
	position, err := fromJSON[[]float64](i.Position)
	if err != nil {
		return api.Issue{}, err
	}
	return api.Issue{
		Id:          i.Id,
		Frame:       i.Frame,
		Position:    position,
		Job:         i.JobId,
		Owner:       convertBasicUser(i.Owner),
		Assignee:    convertBasicUser(i.Assignee),
		CreatedDate: i.CreatedDate,
		UpdatedDate: nullTime(i.UpdatedDate),
		Resolved:    i.Resolved,
		Comments:    api.Collection{Count: commentCount, Url: collectionUrl("comments", "issue_id", i.Id)},
	}, nil
}

func convertComment(c database.Comment) api.Comment {
	return api.Comment{
		Id:          c.Id,
		Issue:       c.IssueId,
		Owner:       convertBasicUser(c.Owner),
		Message:     c.Message,
		CreatedDate: c.CreatedDate,
		UpdatedDate: c.UpdatedDate,
	}
}

func convertCloudStorage(c database.CloudStorage) api.CloudStorage {
	manifests := make([]string, 0, len(c.Manifests))
	for _, m := range c.Manifests {
		manifests = append(manifests, m.Filename)
	}
	return api.CloudStorage{
		Id:                 c.Id,
		ProviderType:       c.ProviderType,
		Resource:           c.Resource,
		DisplayName:        c.DisplayName,
		Owner:              convertBasicUser(c.Owner),
		CredentialsType:    c.CredentialsType,
		SpecificAttributes: c.SpecificAttributes,
		Description:        c.Description,
		Manifests:          manifests,
		Organization:       c.OrganizationId,
		CreatedDate:        c.CreatedDate,
		UpdatedDate:        c.UpdatedDate,
	}
}
