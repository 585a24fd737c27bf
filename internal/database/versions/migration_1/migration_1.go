package migration_1

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Event struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Scope     string    `gorm:"size:64;index;not null"`
	ObjName   sql.NullString
	ObjId     *int
	ObjVal    sql.NullString
	Source    string    `gorm:"size:16"`
	Timestamp time.Time `gorm:"index"`
	Count     *int
	Duration  int `gorm:"default:0"`

	ProjectId *int `gorm:"index"`
	TaskId    *int `gorm:"index"`
	JobId     *int `gorm:"index"`
	UserId    *int `gorm:"index"`
	UserName  sql.NullString
	UserEmail sql.NullString
	OrgId     *int `gorm:"index"`
	OrgSlug   sql.NullString

	Payload datatypes.JSON
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("Migration1 failed: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Event{}); err != nil {
		return fmt.Errorf("Rollback1 failed: %w", err)
	}
	return nil
}
