package gpt

import (
	"context"
	"strconv"

	"gorm.io/gorm"
)

func formatInt64(n int64) string { return strconv.FormatInt(n, 10) }

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate creates the orchestration tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Session{},
		&Decoding{},
		&Inference{},
		&Commit{},
		&Reset{},
		&SessionHash{},
		&DestroyJob{},
	)
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetLiveSession returns the session unless it is soft-deleted.
func (r *Repo) GetLiveSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession returns the session regardless of soft-deletion.
func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SoftDeleteSession marks the session deleted. Already-deleted rows
// are left untouched.
func (r *Repo) SoftDeleteSession(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", r.db.NowFunc()).Error
}

func (r *Repo) InsertDecoding(ctx context.Context, d *Decoding) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) InsertInference(ctx context.Context, i *Inference) error {
	return r.db.WithContext(ctx).Create(i).Error
}

func (r *Repo) InsertCommit(ctx context.Context, c *Commit) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) InsertReset(ctx context.Context, rs *Reset) error {
	return r.db.WithContext(ctx).Create(rs).Error
}

// IsHashWhitelisted reports whether the SHA-256 prompt digest is
// approved for session dumping.
func (r *Repo) IsHashWhitelisted(ctx context.Context, hash string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&SessionHash{}).
		Where("hash = ?", hash).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repo) AddSessionHash(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Create(&SessionHash{Hash: hash}).Error
}

func (r *Repo) CreateDestroyJob(ctx context.Context, job *DestroyJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetDestroyJob(ctx context.Context, id string) (*DestroyJob, error) {
	var j DestroyJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkDestroyJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&DestroyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": DestroyJobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkDestroyJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&DestroyJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": DestroyJobFailed,
			"error":  errMsg,
		}).Error
}
