package database

import (
	"log"
	"log/slog"

	"annotation-backend/internal/database/versions/migration_0"
	"annotation-backend/internal/database/versions/migration_1"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run by the migrator when no previous migration is detected, so the
		// latest schema is created directly instead of replaying every version.

		log.Println("clean database detected, running full schema initialization")

		if IsSqlite(db) {
			// Sqlite does not enforce foreign keys unless asked to.
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}

		return db.AutoMigrate(
			&User{}, &Organization{}, &Membership{}, &Invitation{}, &Storage{},
			&Project{}, &Data{}, &Task{}, &Segment{}, &Job{},
			&Label{}, &Skeleton{}, &AttributeSpec{},
			&LabeledImage{}, &LabeledShape{}, &LabeledTrack{}, &TrackedShape{},
			&Issue{}, &Comment{}, &CloudStorage{}, &Manifest{}, &Event{},
		)
	})

	return migrator
}

func IsSqlite(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return name == "sqlite" || name == "sqlite3"
}
