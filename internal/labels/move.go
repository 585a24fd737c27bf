package labels

import (
	"errors"
	"fmt"
	"maps"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type namedLabel struct {
	database.Label
	parentName string
}

func loadNamed(txn *gorm.DB, parent Parent) ([]namedLabel, error) {
	var rows []database.Label
	if err := parent.Scope(txn).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error loading labels: %w", err)
	}

	names := make(map[int]string, len(rows))
	for _, l := range rows {
		names[l.Id] = l.Name
	}

	out := make([]namedLabel, 0, len(rows))
	for _, l := range rows {
		nl := namedLabel{Label: l}
		if l.ParentId != nil {
			nl.parentName = names[*l.ParentId]
		}
		out = append(out, nl)
	}
	return out, nil
}

func specFor(specs []api.LabelSpec, id int) *api.LabelSpec {
	for i := range specs {
		if specs[i].Id != nil && *specs[i].Id == id {
			return &specs[i]
		}
	}
	return nil
}

func groupNames(labels []namedLabel, rename func(namedLabel) string) (map[string]struct{}, map[string]map[string]struct{}) {
	top := map[string]struct{}{}
	nested := map[string]map[string]struct{}{}
	for _, l := range labels {
		name := rename(l)
		if l.ParentId == nil {
			top[name] = struct{}{}
			continue
		}
		if nested[l.parentName] == nil {
			nested[l.parentName] = map[string]struct{}{}
		}
		nested[l.parentName][name] = struct{}{}
	}
	return top, nested
}

func sourceParent(task database.Task) Parent {
	if task.ProjectId != nil {
		return ForProject(*task.ProjectId)
	}
	return ForTask(task.Id)
}

// ValidateMove checks that every label the task currently uses can be mapped
// by name onto the labels of the target project. specs are the label renames
// sent with the move.
func ValidateMove(txn *gorm.DB, task database.Task, targetProjectId int, specs []api.LabelSpec) error {
	var target database.Project
	if err := txn.First(&target, "id = ?", targetProjectId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalidf("Cannot find project with ID %d", targetProjectId)
		}
		return fmt.Errorf("error loading project %d: %w", targetProjectId, err)
	}

	current, err := loadNamed(txn, sourceParent(task))
	if err != nil {
		return err
	}
	newTop, newNested := groupNames(current, func(l namedLabel) string {
		if spec := specFor(specs, l.Id); spec != nil && spec.Name != "" {
			return spec.Name
		}
		return l.Name
	})

	targetLabels, err := loadNamed(txn, ForProject(targetProjectId))
	if err != nil {
		return err
	}
	targetTop, targetNested := groupNames(targetLabels, func(l namedLabel) string { return l.Name })

	for name := range newTop {
		if _, ok := targetTop[name]; !ok {
			return invalidf("All task or project label names must be mapped to the target project")
		}
	}
	for parentName, names := range newNested {
		if !maps.Equal(names, targetNested[parentName]) {
			return invalidf("All task or project label names must be mapped to the target project")
		}
	}

	var first database.Task
	err = txn.Where("project_id = ? AND id <> ?", targetProjectId, task.Id).Order("id").First(&first).Error
	if err == nil && first.Dimension != task.Dimension {
		return invalidf("Dimension (%s) of the task must be the same as other tasks in project (%s)", task.Dimension, first.Dimension)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("error loading tasks of project %d: %w", targetProjectId, err)
	}

	return nil
}

func findTargetLabel(targets []namedLabel, name, parentName string, nested bool) *namedLabel {
	for i, t := range targets {
		if t.Name != name {
			continue
		}
		if nested && (t.ParentId == nil || t.parentName != parentName) {
			continue
		}
		if !nested && t.ParentId != nil {
			continue
		}
		return &targets[i]
	}
	return nil
}

var emptyAttributes = datatypes.JSON("[]")

func relabelAnnotations(txn *gorm.DB, jobIds []int, oldId, newId int) error {
	if len(jobIds) == 0 {
		return nil
	}

	tracks := txn.Model(&database.LabeledTrack{}).Select("id").Where("job_id IN ? AND label_id = ?", jobIds, oldId)
	if err := txn.Model(&database.TrackedShape{}).Where("track_id IN (?)", tracks).
		Update("attributes", emptyAttributes).Error; err != nil {
		return fmt.Errorf("error clearing tracked shape attributes: %w", err)
	}

	for _, model := range []any{&database.LabeledTrack{}, &database.LabeledShape{}, &database.LabeledImage{}} {
		err := txn.Model(model).
			Where("job_id IN ? AND label_id = ?", jobIds, oldId).
			Updates(map[string]any{"label_id": newId, "attributes": emptyAttributes}).Error
		if err != nil {
			return fmt.Errorf("error relabeling annotations from label %d to %d: %w", oldId, newId, err)
		}
	}
	return nil
}

// RemapForMove rewrites the labels of the task's annotations onto the target
// project's labels with the same names. Attribute values are dropped. When the
// task had its own labels they are deleted afterwards.
func RemapForMove(txn *gorm.DB, task database.Task, targetProjectId int, specs []api.LabelSpec) error {
	logger := ForTask(task.Id).logger()

	jobIds, err := database.TaskJobIds(txn, task.Id)
	if err != nil {
		return err
	}

	targets, err := loadNamed(txn, ForProject(targetProjectId))
	if err != nil {
		return err
	}

	fromTask := task.ProjectId == nil
	current, err := loadNamed(txn, sourceParent(task))
	if err != nil {
		return err
	}

	for _, old := range current {
		name := old.Name
		if !fromTask {
			if spec := specFor(specs, old.Id); spec != nil && spec.Name != "" {
				name = spec.Name
			}
		}

		target := findTargetLabel(targets, name, old.parentName, old.ParentId != nil)
		if target == nil {
			return invalidf("Target project does not have label with name \"%s\"", name)
		}

		if fromTask {
			if err := txn.Where("label_id = ?", old.Id).Delete(&database.AttributeSpec{}).Error; err != nil {
				return fmt.Errorf("error deleting attributes of label %d: %w", old.Id, err)
			}
		}

		if err := relabelAnnotations(txn, jobIds, old.Id, target.Id); err != nil {
			return err
		}
		logger.Info("annotations remapped for project move", "old_label_id", old.Id, "new_label_id", target.Id, "project_id", targetProjectId)
	}

	if fromTask {
		if err := DeleteAll(txn, ForTask(task.Id)); err != nil {
			return err
		}
	}
	return nil
}
