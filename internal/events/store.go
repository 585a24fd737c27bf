package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"annotation-backend/internal/database"
	"annotation-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func ToModel(event api.Event) database.Event {
	var payload datatypes.JSON
	if len(event.Payload) > 0 {
		payload = datatypes.JSON(event.Payload)
	}
	return database.Event{
		Id:        uuid.New(),
		Scope:     event.Scope,
		ObjName:   nullString(event.ObjName),
		ObjId:     event.ObjId,
		ObjVal:    nullString(event.ObjVal),
		Source:    event.Source,
		Timestamp: event.Timestamp.UTC(),
		Count:     event.Count,
		Duration:  event.Duration,
		ProjectId: event.ProjectId,
		TaskId:    event.TaskId,
		JobId:     event.JobId,
		UserId:    event.UserId,
		UserName:  nullString(event.UserName),
		UserEmail: nullString(event.UserEmail),
		OrgId:     event.OrgId,
		OrgSlug:   nullString(event.OrgSlug),
		Payload:   payload,
	}
}

func FromModel(event database.Event) api.Event {
	var payload json.RawMessage
	if len(event.Payload) > 0 {
		payload = json.RawMessage(event.Payload)
	}
	return api.Event{
		Scope:     event.Scope,
		ObjName:   stringPtr(event.ObjName),
		ObjId:     event.ObjId,
		ObjVal:    stringPtr(event.ObjVal),
		Source:    event.Source,
		Timestamp: event.Timestamp,
		Count:     event.Count,
		Duration:  event.Duration,
		ProjectId: event.ProjectId,
		TaskId:    event.TaskId,
		JobId:     event.JobId,
		UserId:    event.UserId,
		UserName:  stringPtr(event.UserName),
		UserEmail: stringPtr(event.UserEmail),
		OrgId:     event.OrgId,
		OrgSlug:   stringPtr(event.OrgSlug),
		Payload:   payload,
	}
}

// Store persists a batch of events in one insert.
func Store(db *gorm.DB, batch []api.Event) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]database.Event, 0, len(batch))
	for _, event := range batch {
		rows = append(rows, ToModel(event))
	}
	if err := db.CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("error storing %d events: %w", len(rows), err)
	}
	return nil
}
