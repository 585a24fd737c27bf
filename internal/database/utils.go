package database

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func NewDatabase(databaseURL string) (*gorm.DB, error) {
	log.Println("Connecting to database...")

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unable to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("Database connection established.")
	return db, nil
}

// GetOrCreateUser returns the user with the given username, creating it on
// first sight.
func GetOrCreateUser(ctx context.Context, txn *gorm.DB, username, email string) (*User, error) {
	var user User
	result := txn.WithContext(ctx).Where("username = ?", username).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("error loading user %q: %w", username, result.Error)
	}
	if result.RowsAffected > 0 {
		return &user, nil
	}

	user = User{Username: username, Email: email, IsActive: true, DateJoined: time.Now().UTC()}
	if err := txn.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("error creating user %q: %w", username, err)
	}
	slog.Info("user provisioned", "user_id", user.Id, "username", username)
	return &user, nil
}

// JobStatus derives the status of a job from its stage and state.
func JobStatus(stage, state string) string {
	switch {
	case stage == StageAnnotation:
		return StatusAnnotation
	case stage == StageAcceptance && state == StateCompleted:
		return StatusCompleted
	default:
		return StatusValidation
	}
}

// UpdateTaskStatus recomputes the status of a task from the statuses of its
// jobs. A task without jobs is left unchanged.
func UpdateTaskStatus(ctx context.Context, txn *gorm.DB, taskId int) error {
	var statuses []string
	err := txn.WithContext(ctx).Model(&Job{}).
		Joins("JOIN segments ON segments.id = jobs.segment_id").
		Where("segments.task_id = ?", taskId).
		Pluck("jobs.status", &statuses).Error
	if err != nil {
		return fmt.Errorf("error loading job statuses of task %d: %w", taskId, err)
	}
	if len(statuses) == 0 {
		return nil
	}

	status := StatusCompleted
	for _, s := range statuses {
		if s == StatusValidation {
			status = StatusValidation
			break
		}
		if s != StatusCompleted {
			status = StatusAnnotation
		}
	}

	err = txn.WithContext(ctx).Model(&Task{Id: taskId}).Updates(map[string]any{
		"status":       status,
		"updated_date": time.Now().UTC(),
	}).Error
	if err != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", status, "error", err)
		return fmt.Errorf("error updating status of task %d: %w", taskId, err)
	}
	return nil
}

// TaskJobIds lists the ids of all jobs of a task.
func TaskJobIds(txn *gorm.DB, taskId int) ([]int, error) {
	var ids []int
	err := txn.Model(&Job{}).
		Joins("JOIN segments ON segments.id = jobs.segment_id").
		Where("segments.task_id = ?", taskId).
		Order("jobs.id").
		Pluck("jobs.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("error listing jobs of task %d: %w", taskId, err)
	}
	return ids, nil
}

// DeleteJobAnnotations removes every annotation stored for the given jobs.
func DeleteJobAnnotations(txn *gorm.DB, jobIds []int) error {
	if len(jobIds) == 0 {
		return nil
	}
	tracks := txn.Model(&LabeledTrack{}).Select("id").Where("job_id IN ?", jobIds)
	if err := txn.Where("track_id IN (?)", tracks).Delete(&TrackedShape{}).Error; err != nil {
		return fmt.Errorf("error deleting tracked shapes: %w", err)
	}
	for _, model := range []any{&LabeledTrack{}, &LabeledShape{}, &LabeledImage{}} {
		if err := txn.Where("job_id IN ?", jobIds).Delete(model).Error; err != nil {
			return fmt.Errorf("error deleting annotations: %w", err)
		}
	}
	return nil
}
