package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (r *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, storageErr("get job", err)
	}
	return &j, nil
}

func (r *JobStore) GetByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, storageErr("get job by key", err)
	}
	return &j, nil
}

// CreateOrGetExisting creates job, or returns the job already holding its idempotency key.
// created reports whether job was inserted.
func (r *JobStore) CreateOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}
	if job.IdempotencyKey == nil {
		return nil, false, storageErr("create job", err)
	}

	existing, getErr := r.GetByIdempotencyKey(ctx, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrNotFound) {
		return nil, false, storageErr("create job", err)
	}
	return nil, false, getErr
}

// MarkRunning moves a queued or previously failed job to running. Succeeded jobs are left alone.
func (r *JobStore) MarkRunning(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobQueued, JobFailed}).
		Update("status", JobRunning).Error; err != nil {
		return storageErr("mark job running", err)
	}
	return nil
}

func (r *JobStore) MarkSucceeded(ctx context.Context, id string, resultMsgID string) error {
	if err := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": resultMsgID,
			"error":             nil,
		}).Error; err != nil {
		return storageErr("mark job succeeded", err)
	}
	return nil
}

func (r *JobStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if err := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error; err != nil {
		return storageErr("mark job failed", err)
	}
	return nil
}
