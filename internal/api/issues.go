package api

import (
	"cmp"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IssueFilter struct {
	Pagination
	JobId     *int   `schema:"job_id"`
	TaskId    *int   `schema:"task_id"`
	ProjectId *int   `schema:"project_id"`
	Frame     *int   `schema:"frame_id"`
	Resolved  *bool  `schema:"resolved"`
	Owner     string `schema:"owner"`
	Assignee  string `schema:"assignee"`
}

var issueListing = listing{
	sortable: map[string]string{
		"id": "id", "frame_id": "frame", "job_id": "job_id", "resolved": "resolved",
		"created_date": "created_date", "updated_date": "updated_date",
	},
}

// issuesOfTasks restricts an issue query to the jobs of the selected tasks.
func issuesOfTasks(query, tasks *gorm.DB) *gorm.DB {
	base := query.Session(&gorm.Session{NewDB: true})
	segments := base.Model(&database.Segment{}).Select("id").Where("task_id IN (?)", tasks)
	jobs := base.Model(&database.Job{}).Select("id").Where("segment_id IN (?)", segments)
	return query.Where("job_id IN (?)", jobs)
}

func (s *BackendService) ListIssues(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[IssueFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range issuePreloads {
		query = query.Preload(p)
	}
	query = filterEq(query, "job_id", filter.JobId)
	query = filterEq(query, "frame", filter.Frame)
	query = filterEq(query, "resolved", filter.Resolved)
	query = filterUser(query, "owner_id", filter.Owner)
	query = filterUser(query, "assignee_id", filter.Assignee)

	tasks := txn.Model(&database.Task{}).Select("id")
	restrictTasks := false
	if filter.TaskId != nil {
		tasks, restrictTasks = tasks.Where("id = ?", *filter.TaskId), true
	}
	if filter.ProjectId != nil {
		tasks, restrictTasks = tasks.Where("project_id = ?", *filter.ProjectId), true
	}
	if orgId := currentOrgId(r); orgId != nil {
		tasks, restrictTasks = tasks.Where("organization_id = ?", *orgId), true
	}
	if restrictTasks {
		query = issuesOfTasks(query, tasks)
	}

	return paginate(r, query, filter.Pagination, issueListing, func(i database.Issue) (api.Issue, error) {
		return convertIssue(txn, i)
	})
}

// issueContext attributes events about an issue or its comments to the job
// the issue was raised on.
func (s *BackendService) issueContext(r *http.Request, txn *gorm.DB, jobId int) events.Context {
	job, err := loadJob(txn, jobId)
	if err != nil {
		return s.eventContext(r)
	}
	task := job.Segment.Task
	return s.objectContext(r, task.OrganizationId, task.ProjectId, &task.Id, &job.Id)
}

func (s *BackendService) loadIssue(r *http.Request, txn *gorm.DB) (database.Issue, error) {
	issueId, err := URLParamInt(r, "issue_id")
	if err != nil {
		return database.Issue{}, err
	}
	return loadById[database.Issue](txn, "issue", issueId, issuePreloads...)
}

func (s *BackendService) GetIssue(r *http.Request) (any, error) {
	txn := s.db.WithContext(r.Context())
	issue, err := s.loadIssue(r, txn)
	if err != nil {
		return nil, err
	}
	return convertIssue(txn, issue)
}

func validatePosition(position []float64) error {
	if len(position) == 0 {
		return CodedErrorf(http.StatusBadRequest, "position: This list may not be empty.")
	}
	return nil
}

func (s *BackendService) CreateIssue(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateIssueRequest](r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "message: This field is required.")
	}
	if err := validatePosition(req.Position); err != nil {
		return nil, err
	}

	var result api.Issue
	var issue database.Issue
	err = s.transaction(r, func(txn *gorm.DB) error {
		job, err := loadJob(txn, req.Job)
		if err != nil {
			return CodedErrorf(http.StatusBadRequest, "job: Invalid pk \"%d\" - object does not exist.", req.Job)
		}
		if segment := job.Segment; req.Frame < segment.StartFrame || req.Frame > segment.StopFrame {
			return CodedErrorf(http.StatusBadRequest, "frame: The frame %d is out of the job range [%d, %d]", req.Frame, segment.StartFrame, segment.StopFrame)
		}
		if err := checkUserExists(txn, "assignee_id", req.AssigneeId); err != nil {
			return err
		}

		position, err := toJSON(req.Position)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		issue = database.Issue{
			Frame:       req.Frame,
			Position:    position,
			JobId:       job.Id,
			OwnerId:     currentUserId(r),
			AssigneeId:  req.AssigneeId,
			CreatedDate: now,
			Resolved:    req.Resolved,
		}
		if err := txn.Create(&issue).Error; err != nil {
			return fmt.Errorf("error creating issue: %w", err)
		}

		comment := database.Comment{
			IssueId:     issue.Id,
			OwnerId:     currentUserId(r),
			Message:     req.Message,
			CreatedDate: now,
			UpdatedDate: now,
		}
		if err := txn.Create(&comment).Error; err != nil {
			return fmt.Errorf("error creating first comment of issue %d: %w", issue.Id, err)
		}

		if issue, err = loadById[database.Issue](txn, "issue", issue.Id, issuePreloads...); err != nil {
			return err
		}
		result, err = convertIssue(txn, issue)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitCreated(r, events.ResourceIssue, issue.Id, nil, result, s.issueContext(r, s.db.WithContext(r.Context()), issue.JobId))
	return result, nil
}

// PatchIssue changes the assignee and the resolved flag. Frame, position and
// job are fixed at creation and ignored here.
func (s *BackendService) PatchIssue(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PatchIssueRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Message != nil {
		return nil, CodedErrorf(http.StatusForbidden, "Please use the COMMENT API to change the issue message.")
	}

	var old, result api.Issue
	var issue database.Issue
	err = s.transaction(r, func(txn *gorm.DB) error {
		var err error
		if issue, err = s.loadIssue(r, txn); err != nil {
			return err
		}
		if old, err = convertIssue(txn, issue); err != nil {
			return err
		}

		if req.AssigneeId != nil {
			if err := checkUserExists(txn, "assignee_id", req.AssigneeId); err != nil {
				return err
			}
			issue.AssigneeId = req.AssigneeId
		}
		if req.Resolved != nil {
			issue.Resolved = *req.Resolved
		}
		issue.UpdatedDate = sql.NullTime{Time: time.Now().UTC(), Valid: true}

		if err := txn.Omit(clause.Associations).Save(&issue).Error; err != nil {
			return fmt.Errorf("error updating issue %d: %w", issue.Id, err)
		}
		if issue, err = loadById[database.Issue](txn, "issue", issue.Id, issuePreloads...); err != nil {
			return err
		}
		result, err = convertIssue(txn, issue)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceIssue, old, result, s.issueContext(r, s.db.WithContext(r.Context()), issue.JobId))
	return result, nil
}

func (s *BackendService) DeleteIssue(r *http.Request) (any, error) {
	var issue database.Issue
	err := s.transaction(r, func(txn *gorm.DB) error {
		var err error
		if issue, err = s.loadIssue(r, txn); err != nil {
			return err
		}
		if err := txn.Where("issue_id = ?", issue.Id).Delete(&database.Comment{}).Error; err != nil {
			return fmt.Errorf("error deleting comments of issue %d: %w", issue.Id, err)
		}
		if err := txn.Delete(&database.Issue{}, issue.Id).Error; err != nil {
			return fmt.Errorf("error deleting issue %d: %w", issue.Id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceIssue, issue.Id, nil, s.issueContext(r, s.db.WithContext(r.Context()), issue.JobId))
	return nil, nil
}

type CommentFilter struct {
	Pagination
	IssueId *int   `schema:"issue_id"`
	JobId   *int   `schema:"job_id"`
	Frame   *int   `schema:"frame_id"`
	Owner   string `schema:"owner"`
}

var commentListing = listing{
	sortable: map[string]string{"id": "id", "issue_id": "issue_id", "created_date": "created_date", "updated_date": "updated_date"},
	search:   "message",
}

func (s *BackendService) ListComments(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[CommentFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn.Preload("Owner")
	query = filterEq(query, "issue_id", filter.IssueId)
	query = filterUser(query, "owner_id", filter.Owner)

	if filter.JobId != nil || filter.Frame != nil || currentOrgId(r) != nil {
		issues := filterEq(filterEq(txn.Model(&database.Issue{}).Select("id"), "job_id", filter.JobId), "frame", filter.Frame)
		if orgId := currentOrgId(r); orgId != nil {
			issues = issuesOfTasks(issues, txn.Model(&database.Task{}).Select("id").Where("organization_id = ?", *orgId))
		}
		query = query.Where("issue_id IN (?)", issues)
	}

	return paginate(r, query, filter.Pagination, commentListing, func(c database.Comment) (api.Comment, error) {
		return convertComment(c), nil
	})
}

func (s *BackendService) loadComment(r *http.Request, txn *gorm.DB) (database.Comment, error) {
	commentId, err := URLParamInt(r, "comment_id")
	if err != nil {
		return database.Comment{}, err
	}
	return loadById[database.Comment](txn, "comment", commentId, "Owner", "Issue")
}

func (s *BackendService) GetComment(r *http.Request) (any, error) {
	comment, err := s.loadComment(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}
	return convertComment(comment), nil
}

func (s *BackendService) CreateComment(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateCommentRequest](r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "message: This field may not be blank.")
	}

	txn := s.db.WithContext(r.Context())
	issue, err := loadById[database.Issue](txn, "issue", req.Issue)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "issue: Invalid pk \"%d\" - object does not exist.", req.Issue)
	}

	now := time.Now().UTC()
	comment := database.Comment{
		IssueId:     issue.Id,
		OwnerId:     currentUserId(r),
		Message:     req.Message,
		CreatedDate: now,
		UpdatedDate: now,
	}
	if err := txn.Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("error creating comment: %w", err)
	}

	comment.Owner = currentUser(r)
	result := convertComment(comment)
	s.emitCreated(r, events.ResourceComment, comment.Id, &comment.Message, result, s.issueContext(r, txn, issue.JobId))
	return result, nil
}

func (s *BackendService) PatchComment(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PatchCommentRequest](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	comment, err := s.loadComment(r, txn)
	if err != nil {
		return nil, err
	}
	old := convertComment(comment)

	comment.Message = cmp.Or(req.Message, comment.Message)
	comment.UpdatedDate = time.Now().UTC()
	if err := txn.Omit(clause.Associations).Save(&comment).Error; err != nil {
		return nil, fmt.Errorf("error updating comment %d: %w", comment.Id, err)
	}

	result := convertComment(comment)
	s.emitUpdated(r, events.ResourceComment, old, result, s.issueContext(r, txn, comment.Issue.JobId))
	return result, nil
}

func (s *BackendService) DeleteComment(r *http.Request) (any, error) {
	txn := s.db.WithContext(r.Context())
	comment, err := s.loadComment(r, txn)
	if err != nil {
		return nil, err
	}
	if err := txn.Delete(&database.Comment{}, comment.Id).Error; err != nil {
		return nil, fmt.Errorf("error deleting comment %d: %w", comment.Id, err)
	}
	s.emitDeleted(r, events.ResourceComment, comment.Id, &comment.Message, s.issueContext(r, txn, comment.Issue.JobId))
	return nil, nil
}
