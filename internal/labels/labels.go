package labels

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

var (
	ErrInvalid  = errors.New("invalid label")
	ErrNotFound = errors.New("label not found")
)

type labelError struct {
	kind error
	msg  string
}

func (e *labelError) Error() string {
	return e.msg
}

func (e *labelError) Unwrap() error {
	return e.kind
}

func invalidf(format string, args ...any) error {
	return &labelError{kind: ErrInvalid, msg: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &labelError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

var Types = []string{
	database.LabelAny, database.LabelCuboid, database.LabelEllipse, database.LabelMask,
	database.LabelPoints, database.LabelPolygon, database.LabelPolyline,
	database.LabelRectangle, database.LabelSkeleton, database.LabelTag,
}

var InputTypes = []string{
	database.InputCheckbox, database.InputRadio, database.InputNumber,
	database.InputText, database.InputSelect,
}

// Parent is the project or task a label set belongs to. Exactly one id is set.
type Parent struct {
	ProjectId *int
	TaskId    *int
}

func ForProject(id int) Parent {
	return Parent{ProjectId: &id}
}

func ForTask(id int) Parent {
	return Parent{TaskId: &id}
}

func (p Parent) Scope(txn *gorm.DB) *gorm.DB {
	if p.ProjectId != nil {
		return txn.Where("project_id = ?", *p.ProjectId)
	}
	return txn.Where("task_id = ?", *p.TaskId)
}

func (p Parent) logger() *slog.Logger {
	if p.ProjectId != nil {
		return slog.With("project_id", *p.ProjectId)
	}
	return slog.With("task_id", *p.TaskId)
}

// ValidateSpec checks a write spec. local is set when the spec comes from the
// label's own endpoint rather than from its project or task.
func ValidateSpec(spec api.LabelSpec, local bool) error {
	if local && spec.Deleted {
		return invalidf("Labels cannot be deleted by updating in this endpoint. Please use the DELETE method instead.")
	}
	if spec.Deleted && spec.Id == nil {
		return invalidf("Deleted label must have an ID")
	}
	if spec.Type != "" && !slices.Contains(Types, spec.Type) {
		return invalidf("\"%s\" is not a valid label type", spec.Type)
	}
	for _, attr := range spec.Attributes {
		if attr.Name == "" {
			return invalidf("attribute name must not be empty")
		}
		if attr.InputType != "" && !slices.Contains(InputTypes, attr.InputType) {
			return invalidf("\"%s\" is not a valid attribute input type", attr.InputType)
		}
	}
	for _, sub := range spec.Sublabels {
		if err := ValidateSpec(sub, local); err != nil {
			return err
		}
	}
	return nil
}

func checkUniqueName(txn *gorm.DB, parent Parent, label *database.Label) error {
	query := parent.Scope(txn.Model(&database.Label{})).Where("name = ?", label.Name)
	if label.ParentId != nil {
		query = query.Where("parent_id = ?", *label.ParentId)
	} else {
		query = query.Where("parent_id IS NULL")
	}
	if label.Id != 0 {
		query = query.Where("id <> ?", label.Id)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("error checking label name uniqueness: %w", err)
	}
	if count > 0 {
		return invalidf("All label names must be unique")
	}
	return nil
}

func saveLabel(txn *gorm.DB, parent Parent, label *database.Label) error {
	if label.Name == "" {
		return invalidf("label name must not be empty")
	}
	if err := checkUniqueName(txn, parent, label); err != nil {
		return err
	}
	if err := txn.Save(label).Error; err != nil {
		return fmt.Errorf("error saving label: %w", err)
	}
	return nil
}

func newAttribute(labelId int, spec api.AttributeSpec) database.AttributeSpec {
	attr := database.AttributeSpec{
		LabelId:   labelId,
		Name:      spec.Name,
		InputType: spec.InputType,
		Values:    strings.Join(spec.Values, "\n"),
	}
	if spec.Mutable != nil {
		attr.Mutable = *spec.Mutable
	}
	if spec.DefaultValue != nil {
		attr.DefaultValue = *spec.DefaultValue
	}
	return attr
}

func rewriteSkeletonSvg(txn *gorm.DB, root database.Label, svg string) (string, error) {
	var sublabels []database.Label
	if err := txn.Where("parent_id = ?", root.Id).Order("id").Find(&sublabels).Error; err != nil {
		return "", fmt.Errorf("error loading skeleton sublabels: %w", err)
	}
	for _, sub := range sublabels {
		svg = strings.ReplaceAll(svg,
			fmt.Sprintf(`data-label-name="%s"`, sub.Name),
			fmt.Sprintf(`data-label-id="%d"`, sub.Id),
		)
	}
	return svg, nil
}

func createSkeleton(txn *gorm.DB, root database.Label, svg string) error {
	svg, err := rewriteSkeletonSvg(txn, root, svg)
	if err != nil {
		return err
	}
	skeleton := database.Skeleton{RootId: root.Id, Svg: svg}
	if err := txn.Create(&skeleton).Error; err != nil {
		return fmt.Errorf("error creating skeleton: %w", err)
	}
	return nil
}

// CreateLabels creates a fresh label tree under parent. Ids in the specs are
// ignored. Generated colors avoid the colors already assigned in this batch.
func CreateLabels(txn *gorm.DB, specs []api.LabelSpec, parent Parent, parentLabel *database.Label) error {
	logger := parent.logger()

	colors := make([]string, 0, len(specs))

	for _, spec := range specs {
		if spec.Name == "" {
			return invalidf("label name must not be empty")
		}

		color := spec.Color
		if color == "" {
			color = LabelColor(spec.Name, colors)
		}
		colors = append(colors, color)

		labelType := spec.Type
		if labelType == "" {
			labelType = database.LabelAny
		}

		label := database.Label{
			ProjectId: parent.ProjectId,
			TaskId:    parent.TaskId,
			Name:      spec.Name,
			Color:     color,
			Type:      labelType,
		}
		if parentLabel != nil {
			label.ParentId = &parentLabel.Id
		}

		if err := saveLabel(txn, parent, &label); err != nil {
			return err
		}
		logger.Info("label created", "label_id", label.Id, "name", label.Name, "sublabels", len(spec.Sublabels))

		if err := CreateLabels(txn, spec.Sublabels, parent, &label); err != nil {
			return err
		}

		if label.Type == database.LabelSkeleton {
			if err := createSkeleton(txn, label, spec.Svg); err != nil {
				return err
			}
			logger.Info("skeleton created", "label_id", label.Id)
		}

		for _, attrSpec := range spec.Attributes {
			attr := newAttribute(label.Id, attrSpec)
			if err := txn.Create(&attr).Error; err != nil {
				return fmt.Errorf("error creating attribute %q: %w", attrSpec.Name, err)
			}
		}
	}

	return nil
}

// UpdateLabel applies one spec. It returns nil when the spec deleted the label.
func UpdateLabel(txn *gorm.DB, spec api.LabelSpec, parent Parent, parentLabel *database.Label) (*database.Label, error) {
	logger := parent.logger()

	var label database.Label
	if spec.Id != nil {
		if err := parent.Scope(txn).First(&label, "id = ?", *spec.Id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, notFoundf("Not found label with id #%d to change", *spec.Id)
			}
			return nil, fmt.Errorf("error loading label %d: %w", *spec.Id, err)
		}

		updatedType := spec.Type
		if updatedType == "" {
			updatedType = label.Type
		}
		if label.Type == database.LabelSkeleton || updatedType == database.LabelSkeleton {
			if updatedType != label.Type {
				logger.Warn("label type change from or to skeleton is not allowed, keeping type",
					"label_id", label.Id, "name", label.Name, "type", label.Type, "requested_type", updatedType)
			}
		} else {
			label.Type = updatedType
		}

		if spec.Name != "" {
			label.Name = spec.Name
		}
	} else {
		if spec.Name == "" {
			return nil, invalidf("label name must not be empty")
		}
		label = database.Label{
			ProjectId: parent.ProjectId,
			TaskId:    parent.TaskId,
			Name:      spec.Name,
			Type:      spec.Type,
		}
		if label.Type == "" {
			label.Type = database.LabelAny
		}
		if parentLabel != nil {
			label.ParentId = &parentLabel.Id
		}
	}

	if spec.Deleted {
		if err := DeleteLabel(txn, label.Id); err != nil {
			return nil, err
		}
		logger.Info("label deleted", "label_id", label.Id, "name", label.Name)
		return nil, nil
	}

	if spec.Color == "" {
		var otherColors []string
		query := parent.Scope(txn.Model(&database.Label{}))
		if label.Id != 0 {
			query = query.Where("id <> ?", label.Id)
		}
		if err := query.Order("id").Pluck("color", &otherColors).Error; err != nil {
			return nil, fmt.Errorf("error loading label colors: %w", err)
		}
		label.Color = LabelColor(label.Name, otherColors)
	} else {
		label.Color = spec.Color
	}

	created := label.Id == 0
	if err := saveLabel(txn, parent, &label); err != nil {
		return nil, err
	}
	if created {
		logger.Info("label created", "label_id", label.Id, "name", label.Name)
	} else {
		logger.Info("label updated", "label_id", label.Id, "name", label.Name)
	}

	for _, attrSpec := range spec.Attributes {
		var attr database.AttributeSpec
		err := txn.Where("label_id = ? AND name = ?", label.Id, attrSpec.Name).First(&attr).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			attr = newAttribute(label.Id, attrSpec)
			if err := txn.Create(&attr).Error; err != nil {
				return nil, fmt.Errorf("error creating attribute %q: %w", attrSpec.Name, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error loading attribute %q: %w", attrSpec.Name, err)
		}

		if attrSpec.DefaultValue != nil {
			attr.DefaultValue = *attrSpec.DefaultValue
		}
		if attrSpec.Mutable != nil {
			attr.Mutable = *attrSpec.Mutable
		}
		if attrSpec.InputType != "" {
			attr.InputType = attrSpec.InputType
		}
		if attrSpec.Values != nil {
			attr.Values = strings.Join(attrSpec.Values, "\n")
		}
		if err := txn.Save(&attr).Error; err != nil {
			return nil, fmt.Errorf("error updating attribute %q: %w", attrSpec.Name, err)
		}
	}

	return &label, nil
}

// UpdateLabels reconciles a list of specs against the stored tree, recursing
// into sublabels of every label that survives.
func UpdateLabels(txn *gorm.DB, specs []api.LabelSpec, parent Parent, parentLabel *database.Label) error {
	for _, spec := range specs {
		label, err := UpdateLabel(txn, spec, parent, parentLabel)
		if err != nil {
			return err
		}
		if spec.Deleted {
			continue
		}

		if err := UpdateLabels(txn, spec.Sublabels, parent, label); err != nil {
			return err
		}

		if spec.Id == nil && label.Type == database.LabelSkeleton {
			if err := createSkeleton(txn, *label, spec.Svg); err != nil {
				return err
			}
			parent.logger().Info("skeleton created", "label_id", label.Id)
		}
	}
	return nil
}

// DeleteLabel removes a label with its sublabels, skeleton, attribute specs
// and every annotation that uses it.
func DeleteLabel(txn *gorm.DB, labelId int) error {
	var children []int
	if err := txn.Model(&database.Label{}).Where("parent_id = ?", labelId).Pluck("id", &children).Error; err != nil {
		return fmt.Errorf("error loading sublabels of label %d: %w", labelId, err)
	}
	for _, child := range children {
		if err := DeleteLabel(txn, child); err != nil {
			return err
		}
	}

	tracks := txn.Model(&database.LabeledTrack{}).Select("id").Where("label_id = ?", labelId)
	if err := txn.Where("track_id IN (?)", tracks).Delete(&database.TrackedShape{}).Error; err != nil {
		return fmt.Errorf("error deleting tracked shapes of label %d: %w", labelId, err)
	}

	for _, model := range []any{&database.LabeledTrack{}, &database.LabeledShape{}, &database.LabeledImage{}, &database.AttributeSpec{}} {
		if err := txn.Where("label_id = ?", labelId).Delete(model).Error; err != nil {
			return fmt.Errorf("error deleting dependents of label %d: %w", labelId, err)
		}
	}

	if err := txn.Where("root_id = ?", labelId).Delete(&database.Skeleton{}).Error; err != nil {
		return fmt.Errorf("error deleting skeleton of label %d: %w", labelId, err)
	}

	if err := txn.Delete(&database.Label{}, labelId).Error; err != nil {
		return fmt.Errorf("error deleting label %d: %w", labelId, err)
	}
	return nil
}

// DeleteAll removes every label of parent.
func DeleteAll(txn *gorm.DB, parent Parent) error {
	var ids []int
	if err := parent.Scope(txn.Model(&database.Label{})).Where("parent_id IS NULL").Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("error listing labels: %w", err)
	}
	for _, id := range ids {
		if err := DeleteLabel(txn, id); err != nil {
			return err
		}
	}
	return nil
}
