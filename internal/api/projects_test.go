package api_test

import (
	"net/http"
	"testing"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createProject(t *testing.T, s *testServer, name string, labelNames ...string) api.Project {
	specs := make([]api.LabelSpec, 0, len(labelNames))
	for _, l := range labelNames {
		specs = append(specs, api.LabelSpec{Name: l})
	}
	rec := s.do(t, http.MethodPost, "/api/projects", "alice", api.CreateProjectRequest{Name: name, Labels: specs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.Project](t, rec)
}

func createTask(t *testing.T, s *testServer, req api.CreateTaskRequest) api.Task {
	rec := s.do(t, http.MethodPost, "/api/tasks", "alice", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.Task](t, rec)
}

func attachData(t *testing.T, s *testServer, taskId int, files ...string) api.Task {
	rec := s.do(t, http.MethodPost, path("/api/tasks", taskId, "/data"), "alice", api.DataRequest{
		ImageQuality: ptr(70),
		ClientFiles:  files,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.Task](t, rec)
}

func listLabels(t *testing.T, s *testServer, query string) []api.Label {
	rec := s.do(t, http.MethodGet, "/api/labels?page_size=100&"+query, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.Page[api.Label]](t, rec).Results
}

func labelNames(labels []api.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

func TestProjects(t *testing.T) {
	s := newTestServer(t, nil)

	project := createProject(t, s, "Vehicles", "car", "person")
	assert.Equal(t, 2, project.Labels.Count)
	require.NotNil(t, project.Owner)
	assert.Equal(t, "alice", project.Owner.Username)
	assert.Equal(t, database.StatusAnnotation, project.Status)
	assert.Len(t, s.sink.withScope("create:project"), 1)

	t.Run("RequiresName", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/projects", "alice", api.CreateProjectRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DuplicateLabelNames", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/projects", "alice", api.CreateProjectRequest{
			Name:   "dup",
			Labels: []api.LabelSpec{{Name: "car"}, {Name: "car"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ListLabels", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"car", "person"}, labelNames(listLabels(t, s, "project_id="+itoa(project.Id))))
	})

	t.Run("PatchAddsLabel", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/projects", project.Id), "alice", api.PatchProjectRequest{
			Name:   ptr("Traffic"),
			Labels: []api.LabelSpec{{Name: "bike"}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		patched := decode[api.Project](t, rec)
		assert.Equal(t, "Traffic", patched.Name)
		assert.Equal(t, 3, patched.Labels.Count)

		updates := s.sink.withScope("update:project")
		require.NotEmpty(t, updates)
		assert.Equal(t, "name", *updates[0].ObjName)
	})

	t.Run("List", func(t *testing.T) {
		createProject(t, s, "Animals", "cat")
		rec := s.do(t, http.MethodGet, "/api/projects?sort=-name", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[api.Page[api.Project]](t, rec)
		require.Equal(t, 2, page.Count)
		assert.Equal(t, "Traffic", page.Results[0].Name)

		rec = s.do(t, http.MethodGet, "/api/projects?sort=unknown", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DeleteRemovesTasks", func(t *testing.T) {
		task := createTask(t, s, api.CreateTaskRequest{Name: "t1", ProjectId: &project.Id})
		attachData(t, s, task.Id, "a.jpg", "b.jpg")

		rec := s.do(t, http.MethodDelete, path("/api/projects", project.Id), "alice", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodGet, path("/api/tasks", task.Id), "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var jobs int64
		require.NoError(t, s.db.Model(&database.Job{}).Count(&jobs).Error)
		assert.Zero(t, jobs)
		assert.Empty(t, listLabels(t, s, "project_id="+itoa(project.Id)))
	})
}

func TestCreateTaskRules(t *testing.T) {
	s := newTestServer(t, nil)
	project := createProject(t, s, "p", "car")

	rec := s.do(t, http.MethodPost, "/api/tasks", "alice", api.CreateTaskRequest{Name: "t"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Label set or project_id must be present")

	rec = s.do(t, http.MethodPost, "/api/tasks", "alice", api.CreateTaskRequest{
		Name: "t", ProjectId: &project.Id, Labels: []api.LabelSpec{{Name: "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Project must have only one of Label set or project_id")

	rec = s.do(t, http.MethodPost, "/api/tasks", "alice", api.CreateTaskRequest{Name: "t", ProjectId: ptr(999)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	task := createTask(t, s, api.CreateTaskRequest{Name: "t", ProjectId: &project.Id})
	assert.Equal(t, 1, task.Labels.Count)
	assert.Equal(t, "car", labelNames(listLabels(t, s, "task_id="+itoa(task.Id)))[0])
}

func TestTaskData(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s, api.CreateTaskRequest{
		Name:        "frames",
		Labels:      []api.LabelSpec{{Name: "car"}},
		SegmentSize: 2,
	})

	t.Run("RequiresImageQuality", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, path("/api/tasks", task.Id, "/data"), "alice", api.DataRequest{ClientFiles: []string{"a.jpg"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Attach", func(t *testing.T) {
		attached := attachData(t, s, task.Id, "img10.jpg", "img2.jpg", "img1.jpg", "img3.jpg", "img4.jpg")
		assert.Equal(t, 5, attached.Size)
		assert.Equal(t, 3, attached.Jobs.Count)
		assert.Equal(t, database.ModeAnnotation, attached.Mode)
		require.NotNil(t, attached.Data)
	})

	t.Run("AttachTwice", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, path("/api/tasks", task.Id, "/data"), "alice", api.DataRequest{
			ImageQuality: ptr(70), ClientFiles: []string{"x.jpg"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Meta", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, path("/api/tasks", task.Id, "/data/meta"), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		meta := decode[api.DataMeta](t, rec)
		assert.Equal(t, 5, meta.Size)
		assert.Equal(t, 0, meta.StartFrame)
		assert.Equal(t, 4, meta.StopFrame)
		require.Len(t, meta.Frames, 5)
		assert.Equal(t, "img1.jpg", meta.Frames[0].Name)
		assert.Equal(t, "img10.jpg", meta.Frames[1].Name)
	})

	t.Run("DeletedFrames", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/tasks", task.Id, "/data/meta"), "alice", api.PatchDataMetaRequest{DeletedFrames: []int{3, 1, 3}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []int{1, 3}, decode[api.DataMeta](t, rec).DeletedFrames)

		rec = s.do(t, http.MethodPatch, path("/api/tasks", task.Id, "/data/meta"), "alice", api.PatchDataMetaRequest{DeletedFrames: []int{5}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Jobs", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/jobs?sort=id&task_id="+itoa(task.Id), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		jobs := decode[api.Page[api.Job]](t, rec).Results
		require.Len(t, jobs, 3)
		assert.Equal(t, 0, jobs[0].StartFrame)
		assert.Equal(t, 1, jobs[0].StopFrame)
		assert.Equal(t, 4, jobs[2].StartFrame)
		assert.Equal(t, 4, jobs[2].StopFrame)
	})
}

func TestJobFileMapping(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s, api.CreateTaskRequest{Name: "mapped", Labels: []api.LabelSpec{{Name: "car"}}})

	rec := s.do(t, http.MethodPost, path("/api/tasks", task.Id, "/data"), "alice", api.DataRequest{
		ImageQuality:   ptr(50),
		JobFileMapping: [][]string{{"b.jpg", "a.jpg"}, {"b.jpg"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot be used multiple times")

	rec = s.do(t, http.MethodPost, path("/api/tasks", task.Id, "/data"), "alice", api.DataRequest{
		ImageQuality:   ptr(50),
		JobFileMapping: [][]string{{"b.jpg", "a.jpg"}, {"c.jpg"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[api.Task](t, rec).Jobs.Count)

	rec = s.do(t, http.MethodGet, path("/api/tasks", task.Id, "/data/meta"), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[api.DataMeta](t, rec)
	require.Len(t, meta.Frames, 3)
	assert.Equal(t, "b.jpg", meta.Frames[0].Name)
}

func TestJobStages(t *testing.T) {
	s := newTestServer(t, nil)
	task := createTask(t, s, api.CreateTaskRequest{Name: "t", Labels: []api.LabelSpec{{Name: "car"}}})
	attachData(t, s, task.Id, "a.jpg")

	rec := s.do(t, http.MethodGet, "/api/jobs?task_id="+itoa(task.Id), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[api.Page[api.Job]](t, rec).Results[0]
	assert.Equal(t, database.StageAnnotation, job.Stage)
	assert.Equal(t, database.StateNew, job.State)

	t.Run("InvalidStage", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/jobs", job.Id), "alice", api.PatchJobRequest{Stage: ptr("review")})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("StateChange", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/jobs", job.Id), "alice", api.PatchJobRequest{State: ptr(database.StateInProgress)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, database.StateInProgress, decode[api.Job](t, rec).State)
	})

	t.Run("StageChangeResetsState", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/jobs", job.Id), "alice", api.PatchJobRequest{Stage: ptr(database.StageValidation)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		patched := decode[api.Job](t, rec)
		assert.Equal(t, database.StateNew, patched.State)
		assert.Equal(t, database.StatusValidation, patched.Status)
	})

	t.Run("CompletedAcceptance", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/jobs", job.Id), "alice", api.PatchJobRequest{
			Stage: ptr(database.StageAcceptance), State: ptr(database.StateCompleted),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, database.StatusCompleted, decode[api.Job](t, rec).Status)

		rec = s.do(t, http.MethodGet, path("/api/tasks", task.Id), "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		updated := decode[api.Task](t, rec)
		assert.Equal(t, database.StatusCompleted, updated.Status)
		assert.Equal(t, 1, updated.Jobs.Completed)
	})

	t.Run("EventsAttributedToTaskOwner", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, path("/api/jobs", job.Id), "bob", api.PatchJobRequest{State: ptr(database.StateRejected)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		updates := s.sink.withScope("update:job")
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		require.NotNil(t, last.UserName)
		assert.Equal(t, "alice", *last.UserName)
		assert.Equal(t, &job.Id, last.JobId)
	})
}
