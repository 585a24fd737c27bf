package labels_test

import (
	"testing"

	"annotation-backend/internal/database"
	"annotation-backend/internal/labels"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func moveFixtures() []any {
	return []any{
		&database.Project{Id: 1, Name: "source"},
		&database.Project{Id: 2, Name: "target"},
		&database.Label{Id: 1, ProjectId: ptr(2), Name: "car"},
		&database.Label{Id: 2, ProjectId: ptr(2), Name: "pose", Type: database.LabelSkeleton},
		&database.Label{Id: 3, ProjectId: ptr(2), Name: "nose", ParentId: ptr(2)},
		&database.Label{Id: 4, ProjectId: ptr(2), Name: "bus"},

		&database.Task{Id: 1, Name: "own labels"},
		&database.Segment{Id: 1, TaskId: 1, StartFrame: 0, StopFrame: 4},
		&database.Job{Id: 1, SegmentId: 1},
		&database.Label{Id: 10, TaskId: ptr(1), Name: "car"},
		&database.Label{Id: 11, TaskId: ptr(1), Name: "pose", Type: database.LabelSkeleton},
		&database.Label{Id: 12, TaskId: ptr(1), Name: "nose", ParentId: ptr(11)},
		&database.AttributeSpec{Id: 1, LabelId: 10, Name: "model"},
		&database.LabeledShape{Id: 1, JobId: 1, LabelId: 10, Type: database.ShapeRectangle, Attributes: datatypes.JSON(`[{"spec_id":1,"value":"x"}]`)},
		&database.LabeledShape{Id: 2, JobId: 1, LabelId: 12, Type: database.ShapePoints},
		&database.LabeledImage{Id: 1, JobId: 1, LabelId: 10},

		&database.Label{Id: 20, ProjectId: ptr(1), Name: "automobile"},
		&database.Task{Id: 2, Name: "in project", ProjectId: ptr(1)},
		&database.Segment{Id: 2, TaskId: 2, StartFrame: 0, StopFrame: 4},
		&database.Job{Id: 2, SegmentId: 2},
		&database.LabeledTrack{Id: 1, JobId: 2, LabelId: 20},
	}
}

func TestValidateMove(t *testing.T) {
	db := createDB(t, moveFixtures()...)

	var ownLabels, inProject database.Task
	require.NoError(t, db.First(&ownLabels, 1).Error)
	require.NoError(t, db.First(&inProject, 2).Error)

	assert.NoError(t, labels.ValidateMove(db, ownLabels, 2, nil))

	err := labels.ValidateMove(db, ownLabels, 99, nil)
	require.ErrorIs(t, err, labels.ErrInvalid)
	assert.Equal(t, "Cannot find project with ID 99", err.Error())

	err = labels.ValidateMove(db, inProject, 2, nil)
	require.ErrorIs(t, err, labels.ErrInvalid)
	assert.Equal(t, "All task or project label names must be mapped to the target project", err.Error())

	assert.NoError(t, labels.ValidateMove(db, inProject, 2, []api.LabelSpec{{Id: ptr(20), Name: "car"}}))

	require.NoError(t, db.Create(&database.Label{Id: 5, ProjectId: ptr(2), Name: "eye", ParentId: ptr(2)}).Error)
	err = labels.ValidateMove(db, ownLabels, 2, nil)
	assert.ErrorIs(t, err, labels.ErrInvalid)
}

func TestValidateMoveDimension(t *testing.T) {
	db := createDB(t, moveFixtures()...)
	require.NoError(t, db.Create(&database.Task{Id: 3, Name: "3d", ProjectId: ptr(2), Dimension: database.Dimension3D}).Error)

	var task database.Task
	require.NoError(t, db.First(&task, 1).Error)

	err := labels.ValidateMove(db, task, 2, nil)
	require.ErrorIs(t, err, labels.ErrInvalid)
	assert.Contains(t, err.Error(), "Dimension (2d)")
}

func TestRemapForMoveFromTaskLabels(t *testing.T) {
	db := createDB(t, moveFixtures()...)

	var task database.Task
	require.NoError(t, db.First(&task, 1).Error)

	require.NoError(t, db.Transaction(func(txn *gorm.DB) error {
		return labels.RemapForMove(txn, task, 2, nil)
	}))

	var shapes []database.LabeledShape
	require.NoError(t, db.Order("id").Find(&shapes).Error)
	require.Len(t, shapes, 2)
	assert.Equal(t, 1, shapes[0].LabelId)
	assert.JSONEq(t, `[]`, string(shapes[0].Attributes))
	assert.Equal(t, 3, shapes[1].LabelId)

	var image database.LabeledImage
	require.NoError(t, db.First(&image, 1).Error)
	assert.Equal(t, 1, image.LabelId)

	var count int64
	require.NoError(t, db.Model(&database.Label{}).Where("task_id = ?", 1).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&database.AttributeSpec{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRemapForMoveBetweenProjects(t *testing.T) {
	db := createDB(t, moveFixtures()...)

	var task database.Task
	require.NoError(t, db.First(&task, 2).Error)

	require.NoError(t, db.Transaction(func(txn *gorm.DB) error {
		return labels.RemapForMove(txn, task, 2, []api.LabelSpec{{Id: ptr(20), Name: "bus"}})
	}))

	var track database.LabeledTrack
	require.NoError(t, db.First(&track, 1).Error)
	assert.Equal(t, 4, track.LabelId)

	var count int64
	require.NoError(t, db.Model(&database.Label{}).Where("project_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
