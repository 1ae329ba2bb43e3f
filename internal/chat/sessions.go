package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context) (*Session, error) {
	t := now()
	sess := &Session{
		SessionID:      uuid.NewString(),
		CreatedAt:      t,
		LastActivityAt: t,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, storageErr("create session", err)
	}
	return sess, nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageErr("get session", err)
	}
	return &sess, nil
}

// Touch moves last_activity_at forward to at. Older or equal timestamps are ignored.
func (s *SessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	at = normalizeTime(at)
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND last_activity_at < ?", sessionID, at).
		Update("last_activity_at", at).Error
	if err != nil {
		return storageErr("touch session", err)
	}
	return nil
}

// List returns every session, most recently active first.
func (s *SessionStore) List(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := s.db.WithContext(ctx).
		Order("last_activity_at DESC").
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, storageErr("list sessions", err)
	}
	if out == nil {
		out = []Session{}
	}
	return out, nil
}
