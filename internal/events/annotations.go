package events

import (
	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"
)

type shapeSummary struct {
	Id         *int               `json:"id"`
	Frame      int                `json:"frame"`
	Attributes []api.AttributeVal `json:"attributes"`
	LabelId    int                `json:"label_id,omitempty"`
}

type trackSummary struct {
	shapeSummary
	Shapes []shapeSummary `json:"shapes"`
}

func attributesOrEmpty(attrs []api.AttributeVal) []api.AttributeVal {
	if attrs == nil {
		return []api.AttributeVal{}
	}
	return attrs
}

func summarize(id *int, frame int, attrs []api.AttributeVal, labelId int) shapeSummary {
	return shapeSummary{Id: id, Frame: frame, Attributes: attributesOrEmpty(attrs), LabelId: labelId}
}

func annotationEvent(scope string, objName *string, items any, count int, ctx Context) (api.Event, error) {
	payload, err := marshalPayload(items)
	if err != nil {
		return api.Event{}, err
	}
	event := ctx.newEvent(scope, now())
	event.ObjName = objName
	event.Count = &count
	event.Payload = payload
	return event, nil
}

// Annotations builds the events for an annotation mutation on a job. Tags
// produce a single event. Shapes and tracks produce one event per shape type.
func Annotations(action string, data api.LabeledData, ctx Context) ([]api.Event, error) {
	var out []api.Event

	if len(data.Tags) > 0 {
		tags := make([]shapeSummary, 0, len(data.Tags))
		for _, tag := range data.Tags {
			tags = append(tags, summarize(tag.Id, tag.Frame, tag.Attributes, tag.LabelId))
		}
		event, err := annotationEvent(Scope(action, "tags"), nil, tags, len(tags), ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}

	shapesByType := map[string][]shapeSummary{}
	for _, shape := range data.Shapes {
		shapesByType[shape.Type] = append(shapesByType[shape.Type],
			summarize(shape.Id, shape.Frame, shape.Attributes, shape.LabelId))
	}
	for _, shapeType := range database.ShapeTypes {
		shapes := shapesByType[shapeType]
		if len(shapes) == 0 {
			continue
		}
		name := shapeType
		event, err := annotationEvent(Scope(action, "shapes"), &name, shapes, len(shapes), ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}

	tracksByType := map[string][]trackSummary{}
	for _, track := range data.Tracks {
		if len(track.Shapes) == 0 {
			continue
		}
		summary := trackSummary{
			shapeSummary: summarize(track.Id, track.Frame, track.Attributes, track.LabelId),
			Shapes:       make([]shapeSummary, 0, len(track.Shapes)),
		}
		for _, shape := range track.Shapes {
			summary.Shapes = append(summary.Shapes, summarize(shape.Id, shape.Frame, shape.Attributes, 0))
		}
		trackType := track.Shapes[0].Type
		tracksByType[trackType] = append(tracksByType[trackType], summary)
	}
	for _, shapeType := range database.ShapeTypes {
		tracks := tracksByType[shapeType]
		if len(tracks) == 0 {
			continue
		}
		name := shapeType
		event, err := annotationEvent(Scope(action, "tracks"), &name, tracks, len(tracks), ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}

	return out, nil
}
