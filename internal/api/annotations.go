package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const annotationSourceManual = "manual"

var annotationSources = []string{"manual", "auto", "semi-auto", "file", "consensus"}

// annotationScope is what annotations of a job may refer to.
type annotationScope struct {
	jobId      int
	startFrame int
	stopFrame  int
	labelIds   []int
}

func (s *BackendService) loadAnnotationScope(txn *gorm.DB, job database.Job) (annotationScope, error) {
	task := job.Segment.Task
	query := txn.Model(&database.Label{})
	if task.ProjectId != nil {
		query = query.Where("project_id = ?", *task.ProjectId)
	} else {
		query = query.Where("task_id = ?", task.Id)
	}

	var labelIds []int
	if err := query.Pluck("id", &labelIds).Error; err != nil {
		return annotationScope{}, fmt.Errorf("error loading labels of job %d: %w", job.Id, err)
	}
	return annotationScope{
		jobId:      job.Id,
		startFrame: job.Segment.StartFrame,
		stopFrame:  job.Segment.StopFrame,
		labelIds:   labelIds,
	}, nil
}

func (a annotationScope) checkFrame(frame int) error {
	if frame < a.startFrame || frame > a.stopFrame {
		return CodedErrorf(http.StatusBadRequest, "The frame #%d is out of the job range [%d, %d]", frame, a.startFrame, a.stopFrame)
	}
	return nil
}

func (a annotationScope) checkLabel(labelId int) error {
	if !slices.Contains(a.labelIds, labelId) {
		return CodedErrorf(http.StatusBadRequest, "label_id: label #%d does not belong to the job", labelId)
	}
	return nil
}

func checkSource(source string) error {
	if source != "" && !slices.Contains(annotationSources, source) {
		return CodedErrorf(http.StatusBadRequest, "source: \"%s\" is not a valid choice.", source)
	}
	return nil
}

func checkShapeGeometry(shapeType string, rotation float64) error {
	if !slices.Contains(database.ShapeTypes, shapeType) {
		return CodedErrorf(http.StatusBadRequest, "type: \"%s\" is not a valid choice.", shapeType)
	}
	if rotation < 0 || rotation > 360 {
		return CodedErrorf(http.StatusBadRequest, "rotation: Ensure this value is between 0 and 360.")
	}
	return nil
}

func (a annotationScope) validateShape(shape api.LabeledShape) error {
	if err := checkShapeGeometry(shape.Type, shape.Rotation); err != nil {
		return err
	}
	if err := a.checkFrame(shape.Frame); err != nil {
		return err
	}
	if err := a.checkLabel(shape.LabelId); err != nil {
		return err
	}
	if err := checkSource(shape.Source); err != nil {
		return err
	}
	for _, element := range shape.Elements {
		if err := a.validateShape(element); err != nil {
			return err
		}
	}
	return nil
}

func (a annotationScope) validateTrack(track api.LabeledTrack) error {
	if err := a.checkFrame(track.Frame); err != nil {
		return err
	}
	if err := a.checkLabel(track.LabelId); err != nil {
		return err
	}
	if err := checkSource(track.Source); err != nil {
		return err
	}
	for _, shape := range track.Shapes {
		if err := checkShapeGeometry(shape.Type, shape.Rotation); err != nil {
			return err
		}
		if err := a.checkFrame(shape.Frame); err != nil {
			return err
		}
	}
	for _, element := range track.Elements {
		if err := a.validateTrack(element); err != nil {
			return err
		}
	}
	return nil
}

func (a annotationScope) validate(data api.LabeledData) error {
	for _, tag := range data.Tags {
		if err := a.checkFrame(tag.Frame); err != nil {
			return err
		}
		if err := a.checkLabel(tag.LabelId); err != nil {
			return err
		}
		if err := checkSource(tag.Source); err != nil {
			return err
		}
	}
	for _, shape := range data.Shapes {
		if err := a.validateShape(shape); err != nil {
			return err
		}
	}
	for _, track := range data.Tracks {
		if err := a.validateTrack(track); err != nil {
			return err
		}
	}
	return nil
}

func attributesOrEmpty(attrs []api.AttributeVal) []api.AttributeVal {
	if attrs == nil {
		return []api.AttributeVal{}
	}
	return attrs
}

func pointsOrEmpty(points []float64) []float64 {
	if points == nil {
		return []float64{}
	}
	return points
}

func sourceOrManual(source string) string {
	if source == "" {
		return annotationSourceManual
	}
	return source
}

// annotationWriter stores LabeledData rows for one job. Ids from the request
// are kept when keepIds is set.
type annotationWriter struct {
	txn     *gorm.DB
	jobId   int
	keepIds bool
}

func (w annotationWriter) id(id *int) int {
	if w.keepIds && id != nil {
		return *id
	}
	return 0
}

func (w annotationWriter) writeTags(tags []api.LabeledImage) error {
	for i := range tags {
		tag := &tags[i]
		attrs, err := toJSON(attributesOrEmpty(tag.Attributes))
		if err != nil {
			return err
		}
		row := database.LabeledImage{
			Id:         w.id(tag.Id),
			JobId:      w.jobId,
			LabelId:    tag.LabelId,
			Frame:      tag.Frame,
			Group:      tag.Group,
			Source:     sourceOrManual(tag.Source),
			Attributes: attrs,
		}
		if err := w.txn.Create(&row).Error; err != nil {
			return fmt.Errorf("error creating tag: %w", err)
		}
		tag.Id, tag.Source, tag.Attributes = ptr(row.Id), row.Source, attributesOrEmpty(tag.Attributes)
	}
	return nil
}

func (w annotationWriter) writeShapes(shapes []api.LabeledShape, parentId *int) error {
	for i := range shapes {
		shape := &shapes[i]
		points, err := toJSON(pointsOrEmpty(shape.Points))
		if err != nil {
			return err
		}
		attrs, err := toJSON(attributesOrEmpty(shape.Attributes))
		if err != nil {
			return err
		}
		row := database.LabeledShape{
			Id:         w.id(shape.Id),
			JobId:      w.jobId,
			LabelId:    shape.LabelId,
			ParentId:   parentId,
			Frame:      shape.Frame,
			Group:      shape.Group,
			Source:     sourceOrManual(shape.Source),
			Type:       shape.Type,
			Occluded:   shape.Occluded,
			Outside:    shape.Outside,
			ZOrder:     shape.ZOrder,
			Rotation:   shape.Rotation,
			Points:     points,
			Attributes: attrs,
		}
		if err := w.txn.Create(&row).Error; err != nil {
			return fmt.Errorf("error creating shape: %w", err)
		}
		shape.Id, shape.Source = ptr(row.Id), row.Source
		shape.Points, shape.Attributes = pointsOrEmpty(shape.Points), attributesOrEmpty(shape.Attributes)

		if err := w.writeShapes(shape.Elements, &row.Id); err != nil {
			return err
		}
	}
	return nil
}

func (w annotationWriter) writeTracks(tracks []api.LabeledTrack, parentId *int) error {
	for i := range tracks {
		track := &tracks[i]
		attrs, err := toJSON(attributesOrEmpty(track.Attributes))
		if err != nil {
			return err
		}
		row := database.LabeledTrack{
			Id:         w.id(track.Id),
			JobId:      w.jobId,
			LabelId:    track.LabelId,
			ParentId:   parentId,
			Frame:      track.Frame,
			Group:      track.Group,
			Source:     sourceOrManual(track.Source),
			Attributes: attrs,
		}
		if err := w.txn.Create(&row).Error; err != nil {
			return fmt.Errorf("error creating track: %w", err)
		}
		track.Id, track.Source, track.Attributes = ptr(row.Id), row.Source, attributesOrEmpty(track.Attributes)

		for j := range track.Shapes {
			shape := &track.Shapes[j]
			points, err := toJSON(pointsOrEmpty(shape.Points))
			if err != nil {
				return err
			}
			shapeAttrs, err := toJSON(attributesOrEmpty(shape.Attributes))
			if err != nil {
				return err
			}
			tracked := database.TrackedShape{
				Id:         w.id(shape.Id),
				TrackId:    row.Id,
				Frame:      shape.Frame,
				Type:       shape.Type,
				Occluded:   shape.Occluded,
				Outside:    shape.Outside,
				ZOrder:     shape.ZOrder,
				Rotation:   shape.Rotation,
				Points:     points,
				Attributes: shapeAttrs,
			}
			if err := w.txn.Create(&tracked).Error; err != nil {
				return fmt.Errorf("error creating tracked shape: %w", err)
			}
			shape.Id = ptr(tracked.Id)
			shape.Points, shape.Attributes = pointsOrEmpty(shape.Points), attributesOrEmpty(shape.Attributes)
		}

		if err := w.writeTracks(track.Elements, &row.Id); err != nil {
			return err
		}
	}
	return nil
}

func (w annotationWriter) write(data *api.LabeledData) error {
	if err := w.writeTags(data.Tags); err != nil {
		return err
	}
	if err := w.writeShapes(data.Shapes, nil); err != nil {
		return err
	}
	return w.writeTracks(data.Tracks, nil)
}

func collectShapeIds(shapes []api.LabeledShape, ids []int) []int {
	for _, shape := range shapes {
		if shape.Id != nil {
			ids = append(ids, *shape.Id)
		}
		ids = collectShapeIds(shape.Elements, ids)
	}
	return ids
}

func collectTrackIds(tracks []api.LabeledTrack, ids []int) []int {
	for _, track := range tracks {
		if track.Id != nil {
			ids = append(ids, *track.Id)
		}
		ids = collectTrackIds(track.Elements, ids)
	}
	return ids
}

// deleteAnnotations removes the annotations of data referenced by id,
// including the elements and tracked shapes they own.
func deleteAnnotations(txn *gorm.DB, jobId int, data api.LabeledData) error {
	var tagIds []int
	for _, tag := range data.Tags {
		if tag.Id != nil {
			tagIds = append(tagIds, *tag.Id)
		}
	}
	if len(tagIds) > 0 {
		if err := txn.Where("job_id = ? AND id IN ?", jobId, tagIds).Delete(&database.LabeledImage{}).Error; err != nil {
			return fmt.Errorf("error deleting tags: %w", err)
		}
	}

	if shapeIds := collectShapeIds(data.Shapes, nil); len(shapeIds) > 0 {
		if err := txn.Where("job_id = ? AND parent_id IN ?", jobId, shapeIds).Delete(&database.LabeledShape{}).Error; err != nil {
			return fmt.Errorf("error deleting shape elements: %w", err)
		}
		if err := txn.Where("job_id = ? AND id IN ?", jobId, shapeIds).Delete(&database.LabeledShape{}).Error; err != nil {
			return fmt.Errorf("error deleting shapes: %w", err)
		}
	}

	if trackIds := collectTrackIds(data.Tracks, nil); len(trackIds) > 0 {
		owned := txn.Model(&database.LabeledTrack{}).Select("id").
			Where("job_id = ? AND (id IN ? OR parent_id IN ?)", jobId, trackIds, trackIds)
		if err := txn.Where("track_id IN (?)", owned).Delete(&database.TrackedShape{}).Error; err != nil {
			return fmt.Errorf("error deleting tracked shapes: %w", err)
		}
		if err := txn.Where("job_id = ? AND parent_id IN ?", jobId, trackIds).Delete(&database.LabeledTrack{}).Error; err != nil {
			return fmt.Errorf("error deleting track elements: %w", err)
		}
		if err := txn.Where("job_id = ? AND id IN ?", jobId, trackIds).Delete(&database.LabeledTrack{}).Error; err != nil {
			return fmt.Errorf("error deleting tracks: %w", err)
		}
	}
	return nil
}

func decodeAttributes(data datatypes.JSON) ([]api.AttributeVal, error) {
	attrs, err := fromJSON[[]api.AttributeVal](data)
	return attributesOrEmpty(attrs), err
}

func convertShape(row database.LabeledShape) (api.LabeledShape, error) {
	points, err := fromJSON[[]float64](row.Points)
	if err != nil {
		return api.LabeledShape{}, err
	}
	attrs, err := decodeAttributes(row.Attributes)
	if err != nil {
		return api.LabeledShape{}, err
	}
	return api.LabeledShape{
		Id:         ptr(row.Id),
		Type:       row.Type,
		Occluded:   row.Occluded,
		Outside:    row.Outside,
		ZOrder:     row.ZOrder,
		Rotation:   row.Rotation,
		Points:     pointsOrEmpty(points),
		Frame:      row.Frame,
		LabelId:    row.LabelId,
		Group:      row.Group,
		Source:     row.Source,
		Attributes: attrs,
	}, nil
}

func convertTrack(row database.LabeledTrack) (api.LabeledTrack, error) {
	attrs, err := decodeAttributes(row.Attributes)
	if err != nil {
		return api.LabeledTrack{}, err
	}
	track := api.LabeledTrack{
		Id:         ptr(row.Id),
		Frame:      row.Frame,
		LabelId:    row.LabelId,
		Group:      row.Group,
		Source:     row.Source,
		Attributes: attrs,
		Shapes:     make([]api.TrackedShape, 0, len(row.Shapes)),
	}
	for _, s := range row.Shapes {
		points, err := fromJSON[[]float64](s.Points)
		if err != nil {
			return api.LabeledTrack{}, err
		}
		shapeAttrs, err := decodeAttributes(s.Attributes)
		if err != nil {
			return api.LabeledTrack{}, err
		}
		track.Shapes = append(track.Shapes, api.TrackedShape{
			Id:         ptr(s.Id),
			Type:       s.Type,
			Occluded:   s.Occluded,
			Outside:    s.Outside,
			ZOrder:     s.ZOrder,
			Rotation:   s.Rotation,
			Points:     pointsOrEmpty(points),
			Frame:      s.Frame,
			Attributes: shapeAttrs,
		})
	}
	return track, nil
}

// loadAnnotations reads every annotation of a job, nesting elements under
// their parents.
func loadAnnotations(txn *gorm.DB, jobId int) (api.LabeledData, error) {
	data := api.LabeledData{Tags: []api.LabeledImage{}, Shapes: []api.LabeledShape{}, Tracks: []api.LabeledTrack{}}

	var tags []database.LabeledImage
	if err := txn.Where("job_id = ?", jobId).Order("id").Find(&tags).Error; err != nil {
		return data, fmt.Errorf("error loading tags of job %d: %w", jobId, err)
	}
	for _, tag := range tags {
		attrs, err := decodeAttributes(tag.Attributes)
		if err != nil {
			return data, err
		}
		data.Tags = append(data.Tags, api.LabeledImage{
			Id: ptr(tag.Id), Frame: tag.Frame, LabelId: tag.LabelId, Group: tag.Group, Source: tag.Source, Attributes: attrs,
		})
	}

	var shapes []database.LabeledShape
	if err := txn.Where("job_id = ?", jobId).Order("id").Find(&shapes).Error; err != nil {
		return data, fmt.Errorf("error loading shapes of job %d: %w", jobId, err)
	}
	shapeElements := map[int][]api.LabeledShape{}
	for _, row := range shapes {
		if row.ParentId == nil {
			continue
		}
		shape, err := convertShape(row)
		if err != nil {
			return data, err
		}
		shapeElements[*row.ParentId] = append(shapeElements[*row.ParentId], shape)
	}
	for _, row := range shapes {
		if row.ParentId != nil {
			continue
		}
		shape, err := convertShape(row)
		if err != nil {
			return data, err
		}
		shape.Elements = shapeElements[row.Id]
		data.Shapes = append(data.Shapes, shape)
	}

	var tracks []database.LabeledTrack
	err := txn.Where("job_id = ?", jobId).
		Preload("Shapes", func(db *gorm.DB) *gorm.DB { return db.Order("frame, id") }).
		Order("id").Find(&tracks).Error
	if err != nil {
		return data, fmt.Errorf("error loading tracks of job %d: %w", jobId, err)
	}
	trackElements := map[int][]api.LabeledTrack{}
	for _, row := range tracks {
		if row.ParentId == nil {
			continue
		}
		track, err := convertTrack(row)
		if err != nil {
			return data, err
		}
		trackElements[*row.ParentId] = append(trackElements[*row.ParentId], track)
	}
	for _, row := range tracks {
		if row.ParentId != nil {
			continue
		}
		track, err := convertTrack(row)
		if err != nil {
			return data, err
		}
		track.Elements = trackElements[row.Id]
		data.Tracks = append(data.Tracks, track)
	}

	return data, nil
}

func (s *BackendService) GetAnnotations(r *http.Request) (any, error) {
	jobId, err := URLParamInt(r, "job_id")
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	if _, err := loadById[database.Job](txn, "job", jobId); err != nil {
		return nil, err
	}
	return loadAnnotations(txn, jobId)
}

func (s *BackendService) emitAnnotations(r *http.Request, action string, job database.Job, data api.LabeledData) {
	batch, err := events.Annotations(action, data, s.jobContext(r, job))
	if err != nil {
		slog.Error("error building annotation events", "job_id", job.Id, "action", action, "error", err)
		return
	}
	s.emitter.Emit(r.Context(), batch...)
}

// changeAnnotations validates data against the job and applies change inside
// a transaction.
func (s *BackendService) changeAnnotations(r *http.Request, data *api.LabeledData, change func(txn *gorm.DB, job database.Job) error) (database.Job, error) {
	jobId, err := URLParamInt(r, "job_id")
	if err != nil {
		return database.Job{}, err
	}

	var job database.Job
	err = s.transaction(r, func(txn *gorm.DB) error {
		if job, err = loadJob(txn, jobId); err != nil {
			return err
		}
		if data != nil {
			scope, err := s.loadAnnotationScope(txn, job)
			if err != nil {
				return err
			}
			if err := scope.validate(*data); err != nil {
				return err
			}
		}
		if err := change(txn, job); err != nil {
			return err
		}
		return txn.Model(&database.Job{Id: job.Id}).Update("updated_date", time.Now().UTC()).Error
	})
	return job, err
}

// PutAnnotations replaces every annotation of a job.
func (s *BackendService) PutAnnotations(r *http.Request) (any, error) {
	data, err := ParseRequest[api.LabeledData](r)
	if err != nil {
		return nil, err
	}

	job, err := s.changeAnnotations(r, &data, func(txn *gorm.DB, job database.Job) error {
		if err := database.DeleteJobAnnotations(txn, []int{job.Id}); err != nil {
			return err
		}
		return annotationWriter{txn: txn, jobId: job.Id}.write(&data)
	})
	if err != nil {
		return nil, err
	}

	s.emitAnnotations(r, events.ActionUpdate, job, data)
	return data, nil
}

func (s *BackendService) PatchAnnotations(r *http.Request) (any, error) {
	action := r.URL.Query().Get("action")
	if !slices.Contains([]string{events.ActionCreate, events.ActionUpdate, events.ActionDelete}, action) {
		return nil, CodedErrorf(http.StatusBadRequest, "Please specify a correct 'action' for the request")
	}

	data, err := ParseRequest[api.LabeledData](r)
	if err != nil {
		return nil, err
	}

	toValidate := &data
	if action == events.ActionDelete {
		toValidate = nil
	}

	job, err := s.changeAnnotations(r, toValidate, func(txn *gorm.DB, job database.Job) error {
		switch action {
		case events.ActionCreate:
			return annotationWriter{txn: txn, jobId: job.Id}.write(&data)
		case events.ActionUpdate:
			if err := deleteAnnotations(txn, job.Id, data); err != nil {
				return err
			}
			return annotationWriter{txn: txn, jobId: job.Id, keepIds: true}.write(&data)
		default:
			return deleteAnnotations(txn, job.Id, data)
		}
	})
	if err != nil {
		return nil, err
	}

	s.emitAnnotations(r, action, job, data)
	return data, nil
}

func (s *BackendService) DeleteAnnotations(r *http.Request) (any, error) {
	var removed api.LabeledData
	job, err := s.changeAnnotations(r, nil, func(txn *gorm.DB, job database.Job) error {
		var err error
		if removed, err = loadAnnotations(txn, job.Id); err != nil {
			return err
		}
		return database.DeleteJobAnnotations(txn, []int{job.Id})
	})
	if err != nil {
		return nil, err
	}

	s.emitAnnotations(r, events.ActionDelete, job, removed)
	return nil, nil
}
